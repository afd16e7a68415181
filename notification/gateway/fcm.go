// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"context"
	"math"
	"os"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/StorXNetwork/StorXNotify/notification/devices"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// maxFCMBatch is the maximum number of messages in one FCM batch request.
const maxFCMBatch = 500

// FCMConfig contains FCM configuration.
type FCMConfig struct {
	Enabled         bool    `help:"enable FCM push notifications" default:"false"`
	ProjectID       string  `help:"Firebase project ID" default:""`
	CredentialsPath string  `help:"path to Firebase service account credentials JSON" default:""`
	CredentialsJSON string  `help:"Firebase credentials as JSON string (alternative to path)" default:""`
	RateLimit       float64 `help:"maximum number of messages per second, zero disables the limit" default:"500"`
	BatchSize       int     `help:"number of messages per FCM batch request" default:"500"`
}

// messagingClient is the part of the FCM client used by the gateway.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// FCM delivers push notifications through Firebase Cloud Messaging.
type FCM struct {
	log     *zap.Logger
	client  messagingClient
	limiter *rate.Limiter
	config  FCMConfig
}

var _ Gateway = (*FCM)(nil)

// NewFCM creates a new FCM gateway.
func NewFCM(ctx context.Context, log *zap.Logger, config FCMConfig) (*FCM, error) {
	opts, err := createFirebaseOptions(config)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID: config.ProjectID,
	}, opts...)
	if err != nil {
		return nil, Error.New("failed to initialize Firebase app: %v", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, Error.New("failed to create FCM messaging client: %v", err)
	}

	log.Info("FCM gateway initialized", zap.String("project_id", config.ProjectID))
	return newFCM(log, client, config), nil
}

func newFCM(log *zap.Logger, client messagingClient, config FCMConfig) *FCM {
	if config.BatchSize <= 0 || config.BatchSize > maxFCMBatch {
		config.BatchSize = maxFCMBatch
	}

	limit := rate.Inf
	burst := config.BatchSize
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
		if b := int(math.Ceil(config.RateLimit)); b > burst {
			burst = b
		}
	}

	return &FCM{
		log:     log,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		config:  config,
	}
}

// createFirebaseOptions creates Firebase client options based on config.
func createFirebaseOptions(config FCMConfig) ([]option.ClientOption, error) {
	switch {
	case config.CredentialsPath != "":
		return []option.ClientOption{option.WithCredentialsFile(config.CredentialsPath)}, nil
	case config.CredentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(config.CredentialsJSON))}, nil
	case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		return []option.ClientOption{}, nil // Use default credentials
	default:
		return nil, Error.New("Firebase credentials not provided")
	}
}

// SendToTokens implements Gateway.
func (fcm *FCM) SendToTokens(ctx context.Context, targets []Target, content message.Content) (_ BatchResult, err error) {
	defer mon.Task()(&ctx)(&err)

	result := BatchResult{Results: make([]TokenResult, 0, len(targets))}

	for start := 0; start < len(targets); start += fcm.config.BatchSize {
		end := start + fcm.config.BatchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[start:end]

		if err := fcm.limiter.WaitN(ctx, len(batch)); err != nil {
			return result, notifyerr.Delivery.Wrap(err)
		}

		messages := make([]*messaging.Message, 0, len(batch))
		for _, target := range batch {
			messages = append(messages, buildMessage(target, content))
		}

		response, err := fcm.client.SendEach(ctx, messages)
		if err != nil {
			// the whole request failed, nothing in this batch was delivered
			mon.Counter("fcm_batch_failures").Inc(1)
			if result.SuccessCount > 0 {
				fcm.appendFailed(&result, batch, err)
				continue
			}
			return result, notifyerr.Delivery.New("fcm unavailable: %v", err)
		}

		for i, target := range batch {
			if i >= len(response.Responses) {
				fcm.appendFailed(&result, batch[i:], Error.New("missing response"))
				break
			}
			resp := response.Responses[i]
			if resp.Success {
				result.SuccessCount++
				result.Results = append(result.Results, TokenResult{Target: target, MessageID: resp.MessageID})
				continue
			}

			result.FailureCount++
			unregistered := messaging.IsRegistrationTokenNotRegistered(resp.Error) || messaging.IsInvalidArgument(resp.Error)
			result.Results = append(result.Results, TokenResult{
				Target:       target,
				Err:          resp.Error,
				Unregistered: unregistered,
			})
			fcm.log.Debug("failed to send notification",
				zap.Stringer("token_id", target.TokenID),
				zap.Bool("unregistered", unregistered),
				zap.Error(resp.Error))
		}
	}

	mon.Counter("fcm_messages_sent").Inc(int64(result.SuccessCount))
	mon.Counter("fcm_messages_failed").Inc(int64(result.FailureCount))
	return result, nil
}

func (fcm *FCM) appendFailed(result *BatchResult, targets []Target, err error) {
	for _, target := range targets {
		result.FailureCount++
		result.Results = append(result.Results, TokenResult{Target: target, Err: err})
	}
}

// SendToTopic implements Gateway.
func (fcm *FCM) SendToTopic(ctx context.Context, topic string, content message.Content) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := fcm.limiter.Wait(ctx); err != nil {
		return "", notifyerr.Delivery.Wrap(err)
	}

	msg := buildMessage(Target{}, content)
	msg.Topic = topic

	messageID, err := fcm.client.Send(ctx, msg)
	if err != nil {
		return "", notifyerr.Delivery.New("topic %q: %v", topic, err)
	}
	return messageID, nil
}

// buildMessage builds the FCM message for the target platform. An empty
// platform configures every platform, which is used for topics.
func buildMessage(target Target, content message.Content) *messaging.Message {
	msg := &messaging.Message{
		Token: target.Token,
		Notification: &messaging.Notification{
			Title:    content.Title,
			Body:     content.Body,
			ImageURL: imageURL(content.Icon),
		},
		Data: content.Data,
	}

	urgent := content.Priority == message.PriorityHigh || content.Priority == message.PriorityUrgent

	if target.Platform == "" || target.Platform == devices.PlatformAndroid {
		android := &messaging.AndroidConfig{
			Priority: "normal",
			Notification: &messaging.AndroidNotification{
				Sound:       content.Sound,
				ClickAction: content.ClickAction,
			},
		}
		if urgent {
			android.Priority = "high"
		}
		msg.Android = android
	}

	if target.Platform == "" || target.Platform == devices.PlatformIOS {
		apns := &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "5"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: content.Sound, Category: content.ClickAction},
			},
		}
		if urgent {
			apns.Headers["apns-priority"] = "10"
		}
		msg.APNS = apns
	}

	if target.Platform == "" || target.Platform == devices.PlatformWeb {
		webpush := &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: content.Title,
				Body:  content.Body,
				Icon:  content.Icon,
			},
		}
		if strings.HasPrefix(content.ClickAction, "https://") {
			webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: content.ClickAction}
		}
		if urgent {
			webpush.Headers = map[string]string{"Urgency": "high"}
		}
		msg.Webpush = webpush
	}

	return msg
}

// imageURL returns the icon when it is an absolute url.
func imageURL(icon string) string {
	if strings.HasPrefix(icon, "https://") || strings.HasPrefix(icon, "http://") {
		return icon
	}
	return ""
}
