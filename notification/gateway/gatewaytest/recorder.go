// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gatewaytest implements in-memory gateways for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/gateway"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// Sent is a recorded push delivery.
type Sent struct {
	Target  gateway.Target
	Content message.Content
}

// TopicSent is a recorded topic broadcast.
type TopicSent struct {
	Topic   string
	Content message.Content
}

// Recorder is a gateway.Gateway that records deliveries.
type Recorder struct {
	mu sync.Mutex

	sent   []Sent
	topics []TopicSent
	calls  int

	failing      map[string]error
	unregistered map[string]bool
	unavailable  error
}

var _ gateway.Gateway = (*Recorder)(nil)

// NewRecorder returns a new recorder where every delivery succeeds.
func NewRecorder() *Recorder {
	return &Recorder{
		failing:      map[string]error{},
		unregistered: map[string]bool{},
	}
}

// Fail makes deliveries to token fail with err.
func (r *Recorder) Fail(token string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[token] = err
}

// Unregister makes the provider report token as unregistered.
func (r *Recorder) Unregister(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered[token] = true
}

// SetUnavailable makes every call fail with err, nil restores the gateway.
func (r *Recorder) SetUnavailable(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = err
}

// SendToTokens implements gateway.Gateway.
func (r *Recorder) SendToTokens(ctx context.Context, targets []gateway.Target, content message.Content) (gateway.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.unavailable != nil {
		return gateway.BatchResult{}, notifyerr.Delivery.Wrap(r.unavailable)
	}

	var result gateway.BatchResult
	for i, target := range targets {
		switch {
		case r.unregistered[target.Token]:
			result.FailureCount++
			result.Results = append(result.Results, gateway.TokenResult{
				Target:       target,
				Err:          gateway.Error.New("registration token not registered"),
				Unregistered: true,
			})
		case r.failing[target.Token] != nil:
			result.FailureCount++
			result.Results = append(result.Results, gateway.TokenResult{
				Target: target,
				Err:    r.failing[target.Token],
			})
		default:
			result.SuccessCount++
			result.Results = append(result.Results, gateway.TokenResult{
				Target:    target,
				MessageID: fmt.Sprintf("msg-%d-%d", r.calls, i),
			})
			r.sent = append(r.sent, Sent{Target: target, Content: content})
		}
	}
	return result, nil
}

// SendToTopic implements gateway.Gateway.
func (r *Recorder) SendToTopic(ctx context.Context, topic string, content message.Content) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.unavailable != nil {
		return "", notifyerr.Delivery.Wrap(r.unavailable)
	}
	r.topics = append(r.topics, TopicSent{Topic: topic, Content: content})
	return fmt.Sprintf("topic-%d", r.calls), nil
}

// Sent returns the recorded deliveries.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// SentTo returns the recorded deliveries to a token id.
func (r *Recorder) SentTo(tokenID uuid.UUID) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []Sent
	for _, s := range r.sent {
		if s.Target.TokenID == tokenID {
			list = append(list, s)
		}
	}
	return list
}

// Topics returns the recorded topic broadcasts.
func (r *Recorder) Topics() []TopicSent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TopicSent(nil), r.topics...)
}

// Calls returns the number of gateway calls.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// ChannelRecorder is a gateway.ChannelSender that records deliveries.
type ChannelRecorder struct {
	channel message.Channel

	mu   sync.Mutex
	sent map[string][]message.Content
	err  error
}

var _ gateway.ChannelSender = (*ChannelRecorder)(nil)

// NewChannelRecorder returns a sender for channel.
func NewChannelRecorder(channel message.Channel) *ChannelRecorder {
	return &ChannelRecorder{channel: channel, sent: map[string][]message.Content{}}
}

// Channel implements gateway.ChannelSender.
func (r *ChannelRecorder) Channel() message.Channel { return r.channel }

// SetError makes every delivery fail with err.
func (r *ChannelRecorder) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Send implements gateway.ChannelSender.
func (r *ChannelRecorder) Send(ctx context.Context, address string, content message.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent[address] = append(r.sent[address], content)
	return nil
}

// SentTo returns what was delivered to address.
func (r *ChannelRecorder) SentTo(address string) []message.Content {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Content(nil), r.sent[address]...)
}

// Directory is an in-memory gateway.Directory.
type Directory struct {
	mu        sync.Mutex
	addresses map[directoryKey]string
}

type directoryKey struct {
	user, company uuid.UUID
	channel       message.Channel
}

var _ gateway.Directory = (*Directory)(nil)

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{addresses: map[directoryKey]string{}}
}

// Set stores the address of the user on the channel.
func (d *Directory) Set(userID, companyID uuid.UUID, channel message.Channel, address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses[directoryKey{userID, companyID, channel}] = address
}

// Address implements gateway.Directory.
func (d *Directory) Address(ctx context.Context, userID, companyID uuid.UUID, channel message.Channel) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	address, ok := d.addresses[directoryKey{userID, companyID, channel}]
	if !ok {
		return "", notifyerr.NotFound.New("no %s address", channel)
	}
	return address, nil
}
