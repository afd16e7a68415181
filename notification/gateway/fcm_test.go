// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"

	"github.com/StorXNetwork/StorXNotify/notification/devices"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

type fakeMessaging struct {
	mu      sync.Mutex
	batches [][]*messaging.Message
	topics  []*messaging.Message

	fail    map[string]error
	sendErr error
}

func (fake *fakeMessaging) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.sendErr != nil {
		return "", fake.sendErr
	}
	fake.topics = append(fake.topics, msg)
	return "topic-msg", nil
}

func (fake *fakeMessaging) SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.sendErr != nil {
		return nil, fake.sendErr
	}
	fake.batches = append(fake.batches, messages)

	response := &messaging.BatchResponse{}
	for i, msg := range messages {
		if err, ok := fake.fail[msg.Token]; ok {
			response.FailureCount++
			response.Responses = append(response.Responses, &messaging.SendResponse{Error: err})
			continue
		}
		response.SuccessCount++
		response.Responses = append(response.Responses, &messaging.SendResponse{
			Success:   true,
			MessageID: fmt.Sprintf("msg-%d", i),
		})
	}
	return response, nil
}

func targets(n int, platform devices.Platform) []Target {
	list := make([]Target, n)
	for i := range list {
		list[i] = Target{
			TokenID:  testrand.UUID(),
			Token:    fmt.Sprintf("token-%d", i),
			Platform: platform,
		}
	}
	return list
}

func TestFCMSendToTokensChunks(t *testing.T) {
	ctx := testcontext.New(t)

	fake := &fakeMessaging{}
	fcm := newFCM(zaptest.NewLogger(t), fake, FCMConfig{BatchSize: 2})

	result, err := fcm.SendToTokens(ctx, targets(5, devices.PlatformAndroid), message.Content{Title: "t", Body: "b"})
	require.NoError(t, err)
	require.Equal(t, 5, result.SuccessCount)
	require.Zero(t, result.FailureCount)
	require.Len(t, result.Results, 5)

	require.Len(t, fake.batches, 3)
	require.Len(t, fake.batches[0], 2)
	require.Len(t, fake.batches[2], 1)
}

func TestFCMSendToTokensPartialFailure(t *testing.T) {
	ctx := testcontext.New(t)

	list := targets(3, devices.PlatformIOS)
	fake := &fakeMessaging{fail: map[string]error{
		list[1].Token: errors.New("unavailable"),
	}}
	fcm := newFCM(zaptest.NewLogger(t), fake, FCMConfig{})

	result, err := fcm.SendToTokens(ctx, list, message.Content{Title: "t", Body: "b", Priority: message.PriorityUrgent})
	require.NoError(t, err)
	require.Equal(t, 2, result.SuccessCount)
	require.Equal(t, 1, result.FailureCount)
	require.Error(t, result.Results[1].Err)
	require.False(t, result.Results[1].Unregistered)
	require.Equal(t, list[1].TokenID, result.Results[1].Target.TokenID)
	require.Empty(t, result.Unregistered())

	sent := fake.batches[0][0]
	require.NotNil(t, sent.APNS)
	require.Nil(t, sent.Android)
	require.Equal(t, "10", sent.APNS.Headers["apns-priority"])
}

func TestFCMUnavailable(t *testing.T) {
	ctx := testcontext.New(t)

	fake := &fakeMessaging{sendErr: errors.New("connection refused")}
	fcm := newFCM(zaptest.NewLogger(t), fake, FCMConfig{})

	_, err := fcm.SendToTokens(ctx, targets(2, devices.PlatformWeb), message.Content{Title: "t", Body: "b"})
	require.Error(t, err)
	require.True(t, notifyerr.Delivery.Has(err))

	_, err = fcm.SendToTopic(ctx, "news", message.Content{Title: "t", Body: "b"})
	require.Error(t, err)
	require.True(t, notifyerr.Delivery.Has(err))
}

func TestFCMSendToTopic(t *testing.T) {
	ctx := testcontext.New(t)

	fake := &fakeMessaging{}
	fcm := newFCM(zaptest.NewLogger(t), fake, FCMConfig{RateLimit: 10})

	id, err := fcm.SendToTopic(ctx, "news", message.Content{Title: "t", Body: "b"})
	require.NoError(t, err)
	require.Equal(t, "topic-msg", id)
	require.Len(t, fake.topics, 1)
	require.Equal(t, "news", fake.topics[0].Topic)
	require.Empty(t, fake.topics[0].Token)
	require.NotNil(t, fake.topics[0].Android)
	require.NotNil(t, fake.topics[0].APNS)
	require.NotNil(t, fake.topics[0].Webpush)
}

func TestBuildMessage(t *testing.T) {
	content := message.Content{
		Title:       "title",
		Body:        "body",
		Priority:    message.PriorityHigh,
		Icon:        "https://example.test/icon.png",
		ClickAction: "https://example.test/open",
		Data:        map[string]string{"k": "v"},
	}

	android := buildMessage(Target{Token: "a", Platform: devices.PlatformAndroid}, content)
	require.Equal(t, "high", android.Android.Priority)
	require.Nil(t, android.APNS)
	require.Nil(t, android.Webpush)
	require.Equal(t, "https://example.test/icon.png", android.Notification.ImageURL)
	require.Equal(t, "v", android.Data["k"])

	web := buildMessage(Target{Token: "w", Platform: devices.PlatformWeb}, content)
	require.Equal(t, "https://example.test/open", web.Webpush.FCMOptions.Link)

	content.ClickAction = "/relative"
	content.Priority = message.PriorityLow
	web = buildMessage(Target{Token: "w", Platform: devices.PlatformWeb}, content)
	require.Nil(t, web.Webpush.FCMOptions)

	ios := buildMessage(Target{Token: "i", Platform: devices.PlatformIOS}, content)
	require.Equal(t, "5", ios.APNS.Headers["apns-priority"])
}
