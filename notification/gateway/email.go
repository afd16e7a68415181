// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"context"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"
	mail "gopkg.in/mail.v2"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// EmailConfig contains SMTP configuration.
type EmailConfig struct {
	Enabled  bool          `help:"enable email notifications" default:"false"`
	Host     string        `help:"SMTP server host" default:""`
	Port     int           `help:"SMTP server port" default:"587"`
	Username string        `help:"SMTP username" default:""`
	Password string        `help:"SMTP password" default:""`
	From     string        `help:"sender address of notification emails" default:""`
	FromName string        `help:"sender name of notification emails" default:"StorX"`
	Timeout  time.Duration `help:"timeout for SMTP connections" default:"10s"`
}

// dialer is the part of the SMTP dialer used by the sender.
type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	log    *zap.Logger
	dialer dialer
	config EmailConfig
}

var _ ChannelSender = (*EmailSender)(nil)

// NewEmailSender creates a new email sender.
func NewEmailSender(log *zap.Logger, config EmailConfig) (*EmailSender, error) {
	if config.Host == "" || config.From == "" {
		return nil, notifyerr.Configuration.New("email host and sender address are required")
	}

	d := mail.NewDialer(config.Host, config.Port, config.Username, config.Password)
	d.Timeout = config.Timeout

	return &EmailSender{
		log:    log,
		dialer: d,
		config: config,
	}, nil
}

// Channel implements ChannelSender.
func (sender *EmailSender) Channel() message.Channel { return message.ChannelEmail }

// Send implements ChannelSender.
func (sender *EmailSender) Send(ctx context.Context, address string, content message.Content) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetAddressHeader("From", sender.config.From, sender.config.FromName)
	m.SetHeader("To", address)
	m.SetHeader("Subject", content.Title)
	if content.Priority == message.PriorityHigh || content.Priority == message.PriorityUrgent {
		m.SetHeader("X-Priority", "1")
	}
	m.SetBody("text/plain", content.Body)
	m.AddAlternative("text/html", htmlBody(content))

	if err := sender.dialer.DialAndSend(m); err != nil {
		mon.Counter("email_send_failed").Inc(1)
		return notifyerr.Delivery.New("smtp: %v", err)
	}

	mon.Counter("email_sent").Inc(1)
	sender.log.Debug("email sent", zap.String("subject", content.Title))
	return nil
}

func htmlBody(content message.Content) string {
	var b strings.Builder
	b.WriteString("<p>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(content.Body), "\n", "<br>"))
	b.WriteString("</p>")
	if strings.HasPrefix(content.ClickAction, "https://") {
		b.WriteString(`<p><a href="`)
		b.WriteString(html.EscapeString(content.ClickAction))
		b.WriteString(`">Open</a></p>`)
	}
	return b.String()
}
