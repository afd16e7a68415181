// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package notification

import (
	"time"

	"storj.io/common/debug"

	"github.com/StorXNetwork/StorXNotify/notification/client"
	"github.com/StorXNetwork/StorXNotify/notification/devices"
	"github.com/StorXNetwork/StorXNotify/notification/dispatcher"
	"github.com/StorXNetwork/StorXNotify/notification/gateway"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
	"github.com/StorXNetwork/StorXNotify/notification/preferences"
	"github.com/StorXNetwork/StorXNotify/notification/records"
	"github.com/StorXNetwork/StorXNotify/notification/redisqueue"
)

// Ledger backends.
const (
	LedgerRedis = "redis"
	LedgerBolt  = "bolt"
)

// LedgerConfig contains configuration for the delivery ledger.
type LedgerConfig struct {
	Backend string        `help:"where delivered targets are remembered (redis or bolt)" default:"redis"`
	Address string        `help:"redis url of the ledger, empty uses the queue address" default:""`
	Path    string        `help:"path of the bolt database when the backend is bolt" default:"ledger.db"`
	TTL     time.Duration `help:"how long ledger entries are kept in redis" default:"168h"`
}

// Config contains configuration for the notification service process.
type Config struct {
	Database string `help:"notification database connection string" default:"postgres://"`

	Devices     devices.Config
	Preferences preferences.Config
	Records     records.Config

	Dispatcher dispatcher.Config
	Queue      redisqueue.Config
	Ledger     LedgerConfig
	Cleanup    client.CleanupConfig

	FCM     gateway.FCMConfig
	Email   gateway.EmailConfig
	Webhook gateway.WebhookConfig

	Debug debug.Config
}

// Validate checks for settings the process cannot start with.
func (config *Config) Validate() error {
	switch config.Ledger.Backend {
	case LedgerRedis:
	case LedgerBolt:
		if config.Ledger.Path == "" {
			return notifyerr.Configuration.New("bolt ledger requires a path")
		}
	default:
		return notifyerr.Configuration.New("unknown ledger backend %q", config.Ledger.Backend)
	}

	if len(config.Preferences.DefaultChannels) == 0 {
		return notifyerr.Configuration.New("at least one default channel is required")
	}
	if config.Dispatcher.Workers <= 0 {
		return notifyerr.Configuration.New("dispatcher needs at least one worker")
	}
	if config.Dispatcher.JobTimeout <= 0 {
		return notifyerr.Configuration.New("dispatcher job timeout must be positive")
	}
	if config.Dispatcher.JobTimeout >= config.Queue.Lease {
		// a job still running when its lease expires is handed to another worker
		return notifyerr.Configuration.New("dispatcher job timeout %s must be shorter than the queue lease %s",
			config.Dispatcher.JobTimeout, config.Queue.Lease)
	}
	if config.Dispatcher.MaxDeliveryRetries < 0 {
		return notifyerr.Configuration.New("max delivery retries cannot be negative")
	}
	if config.Cleanup.Interval <= 0 {
		return notifyerr.Configuration.New("cleanup interval must be positive")
	}
	if config.Cleanup.MaxAgeDays <= 0 {
		return notifyerr.Configuration.New("cleanup max age must be positive")
	}
	return nil
}
