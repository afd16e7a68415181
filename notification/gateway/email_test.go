// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	mail "gopkg.in/mail.v2"

	"storj.io/common/testcontext"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

type fakeDialer struct {
	sent []*mail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*mail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestEmailSender(t *testing.T) {
	ctx := testcontext.New(t)

	_, err := NewEmailSender(zaptest.NewLogger(t), EmailConfig{})
	require.True(t, notifyerr.Configuration.Has(err))

	sender, err := NewEmailSender(zaptest.NewLogger(t), EmailConfig{Host: "smtp.example.test", From: "noreply@example.test"})
	require.NoError(t, err)
	require.Equal(t, message.ChannelEmail, sender.Channel())

	fake := &fakeDialer{}
	sender.dialer = fake

	err = sender.Send(ctx, "user@example.test", message.Content{Title: "Quota", Body: "you are at <90%>"})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	require.Equal(t, []string{"user@example.test"}, fake.sent[0].GetHeader("To"))
	require.Equal(t, []string{"Quota"}, fake.sent[0].GetHeader("Subject"))

	var buf bytes.Buffer
	_, err = fake.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "&lt;90%&gt;")

	fake.err = errors.New("connection reset")
	err = sender.Send(ctx, "user@example.test", message.Content{Title: "Quota", Body: "b"})
	require.True(t, notifyerr.Delivery.Has(err))
}
