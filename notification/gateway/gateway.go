// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gateway sends rendered notifications through external providers.
// Senders report every failure and never retry, retrying is decided by the
// dispatcher.
package gateway

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/devices"
	"github.com/StorXNetwork/StorXNotify/notification/message"
)

var mon = monkit.Package()

// Error is the default gateway error class.
var Error = errs.Class("gateway")

// Target is a device token to deliver to.
type Target struct {
	TokenID  uuid.UUID
	Token    string
	Platform devices.Platform
}

// TokenResult is the outcome of delivering to a single target.
type TokenResult struct {
	Target    Target
	MessageID string
	Err       error
	// Unregistered is set when the provider reported the token as invalid or
	// no longer registered.
	Unregistered bool
}

// BatchResult is the outcome of delivering to a set of targets. Results are
// in the order of the targets.
type BatchResult struct {
	SuccessCount int
	FailureCount int
	Results      []TokenResult
}

// Unregistered returns the targets the provider reported as unregistered.
func (result BatchResult) Unregistered() []Target {
	var targets []Target
	for _, r := range result.Results {
		if r.Unregistered {
			targets = append(targets, r.Target)
		}
	}
	return targets
}

// Gateway delivers push notifications.
type Gateway interface {
	// SendToTokens delivers the content to every target. A failure for one
	// target does not stop delivery to the others. An error is returned only
	// when the provider could not be used at all.
	SendToTokens(ctx context.Context, targets []Target, content message.Content) (BatchResult, error)

	// SendToTopic broadcasts the content to the subscribers of a topic.
	SendToTopic(ctx context.Context, topic string, content message.Content) (messageID string, err error)
}

// ChannelSender delivers to a user address on a non-push channel.
type ChannelSender interface {
	// Channel returns the channel served by the sender.
	Channel() message.Channel
	// Send delivers the content to the address.
	Send(ctx context.Context, address string, content message.Content) error
}

// Directory looks up the address of a user on a channel, e.g. an email
// address or a webhook url. It returns a NotFound error when the user has no
// address for the channel.
type Directory interface {
	Address(ctx context.Context, userID, companyID uuid.UUID, channel message.Channel) (string, error)
}
