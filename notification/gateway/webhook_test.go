// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

func TestWebhookSend(t *testing.T) {
	ctx := testcontext.New(t)

	var received WebhookPayload
	var signature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		signature = r.Header.Get(SignatureHeader)
		if r.Header.Get(SignatureHeader) != Sign([]byte("secret"), body) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.Unmarshal(body, &received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender, err := NewWebhookSender(zaptest.NewLogger(t), WebhookConfig{Timeout: time.Second, Secret: "secret"})
	require.NoError(t, err)
	require.Equal(t, message.ChannelWebhook, sender.Channel())

	err = sender.Send(ctx, server.URL, message.Content{
		Title:    "Backup finished",
		Body:     "done",
		Priority: message.PriorityNormal,
		Data:     map[string]string{"bucket": "photos"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, signature)
	require.Equal(t, "Backup finished", received.Title)
	require.Equal(t, "normal", received.Priority)
	require.Equal(t, "photos", received.Data["bucket"])
}

func TestWebhookNoRetry(t *testing.T) {
	ctx := testcontext.New(t)

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sender, err := NewWebhookSender(zaptest.NewLogger(t), WebhookConfig{Timeout: time.Second})
	require.NoError(t, err)

	err = sender.Send(ctx, server.URL, message.Content{Title: "t", Body: "b"})
	require.Error(t, err)
	require.True(t, notifyerr.Delivery.Has(err))
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestWebhookMissingPublicKey(t *testing.T) {
	ctx := testcontext.New(t)

	_, err := NewWebhookSender(zaptest.NewLogger(t), WebhookConfig{PublicKey: ctx.File("missing.pem")})
	require.Error(t, err)
	require.True(t, notifyerr.Configuration.Has(err))
}
