// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// WebhookConfig contains webhook delivery configuration.
type WebhookConfig struct {
	Enabled   bool          `help:"enable webhook notifications" default:"false"`
	Timeout   time.Duration `help:"timeout for webhook HTTP requests" default:"30s"`
	Secret    string        `help:"secret used to sign webhook payloads, empty disables signing" default:""`
	PublicKey string        `help:"path to RSA public key file for encrypting webhook payloads, empty sends plain JSON" default:""`
}

// SignatureHeader carries the hex encoded HMAC-SHA256 of the request body.
const SignatureHeader = "X-StorX-Signature"

// WebhookPayload is the body posted to webhook endpoints.
type WebhookPayload struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Priority string            `json:"priority"`
	Link     string            `json:"link,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// WebhookSender posts notifications to user configured endpoints.
type WebhookSender struct {
	log       *zap.Logger
	client    *http.Client
	secret    []byte
	publicKey *rsa.PublicKey
	now       func() time.Time
}

var _ ChannelSender = (*WebhookSender)(nil)

// NewWebhookSender creates a new webhook sender.
func NewWebhookSender(log *zap.Logger, config WebhookConfig) (*WebhookSender, error) {
	sender := &WebhookSender{
		log: log,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		secret: []byte(config.Secret),
		now:    time.Now,
	}

	if config.PublicKey != "" {
		publicKey, err := loadPublicKey(config.PublicKey)
		if err != nil {
			return nil, notifyerr.Configuration.New("failed to load public key from %s: %v", config.PublicKey, err)
		}
		sender.publicKey = publicKey
	}

	return sender, nil
}

// loadPublicKey loads an RSA public key from a PEM file.
func loadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, Error.New("failed to decode PEM block")
	}

	var pub interface{}
	switch block.Type {
	case "PUBLIC KEY":
		pub, err = x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, Error.New("unsupported key type: %s", block.Type)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, Error.New("not an RSA public key")
	}
	return rsaPub, nil
}

// Channel implements ChannelSender.
func (w *WebhookSender) Channel() message.Channel { return message.ChannelWebhook }

// Send implements ChannelSender. The endpoint is attempted once.
func (w *WebhookSender) Send(ctx context.Context, url string, content message.Content) (err error) {
	defer mon.Task()(&ctx)(&err)

	payload, err := json.Marshal(WebhookPayload{
		Title:    content.Title,
		Body:     content.Body,
		Priority: string(content.Priority),
		Link:     content.ClickAction,
		Data:     content.Data,
		SentAt:   w.now().UTC(),
	})
	if err != nil {
		return Error.Wrap(err)
	}

	contentType := "application/json"
	if w.publicKey != nil {
		payload, err = w.encryptPayload(payload)
		if err != nil {
			mon.Counter("webhook_encrypt_error").Inc(1)
			return Error.Wrap(err)
		}
		contentType = "application/octet-stream"
	}

	if err := w.sendRequest(ctx, url, contentType, payload); err != nil {
		mon.Counter("webhook_failed_total",
			monkit.NewSeriesTag("priority", string(content.Priority)),
		).Inc(1)
		return notifyerr.Delivery.Wrap(err)
	}

	mon.Counter("webhook_sent_total",
		monkit.NewSeriesTag("priority", string(content.Priority)),
	).Inc(1)
	return nil
}

// encryptPayload encrypts the payload using hybrid encryption (RSA + AES).
func (w *WebhookSender) encryptPayload(plaintext []byte) ([]byte, error) {
	aesKey := make([]byte, 32)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, Error.Wrap(err)
	}

	encryptedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, w.publicKey, aesKey, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, Error.Wrap(err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(fmt.Sprintf("%s:%s",
		base64.URLEncoding.EncodeToString(encryptedKey),
		base64.URLEncoding.EncodeToString(sealed),
	)), nil
}

// Sign returns the signature of body for the secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (w *WebhookSender) sendRequest(ctx context.Context, url, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Error.Wrap(err)
	}

	req.Header.Set("Content-Type", contentType)
	if w.publicKey != nil {
		req.Header.Set("X-Encryption", "RSA-AES")
	}
	if len(w.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			w.log.Warn("failed to close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Error.New("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
