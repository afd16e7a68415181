// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package notification wires the notification services into a single
// process.
package notification

import (
	"context"
	"errors"
	"net"
	"runtime/pprof"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/debug"
	"storj.io/common/version"

	"github.com/StorXNetwork/StorXNotify/notification/client"
	"github.com/StorXNetwork/StorXNotify/notification/devices"
	"github.com/StorXNetwork/StorXNotify/notification/dispatcher"
	"github.com/StorXNetwork/StorXNotify/notification/gateway"
	"github.com/StorXNetwork/StorXNotify/notification/preferences"
	"github.com/StorXNetwork/StorXNotify/notification/records"
	"github.com/StorXNetwork/StorXNotify/notification/redisqueue"
	"github.com/StorXNetwork/StorXNotify/notification/templates"
	"github.com/StorXNetwork/StorXNotify/private/kvstore"
	"github.com/StorXNetwork/StorXNotify/private/kvstore/boltdb"
	"github.com/StorXNetwork/StorXNotify/private/kvstore/redis"
	"github.com/StorXNetwork/StorXNotify/private/lifecycle"
)

var mon = monkit.Package()

// Error is the default notification peer error class.
var Error = errs.Class("notification")

// ledgerBucket is the bolt bucket of the delivery ledger.
const ledgerBucket = "ledger"

// Peer is the notification service process.
//
// architecture: Peer
type Peer struct {
	Log *zap.Logger
	DB  DB

	Servers  *lifecycle.Group
	Services *lifecycle.Group

	Debug struct {
		Listener net.Listener
		Server   *debug.Server
	}

	Queue  *redisqueue.Queue
	Ledger struct {
		Store  kvstore.Store
		Ledger *dispatcher.Ledger
	}

	Gateway struct {
		FCM     *gateway.FCM
		Email   *gateway.EmailSender
		Webhook *gateway.WebhookSender
	}

	Devices     *devices.Service
	Templates   *templates.Service
	Preferences *preferences.Service
	Records     *records.Service

	Dispatcher struct {
		Processor *dispatcher.Processor
		Worker    *dispatcher.Worker
	}

	Chores struct {
		Expiry  *records.ExpiryChore
		Cleanup *client.CleanupChore
	}

	Client *client.Client
}

// NewPeer creates a new notification peer on an open database.
func NewPeer(ctx context.Context, log *zap.Logger, db DB, config *Config) (_ *Peer, err error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	peer := &Peer{
		Log: log,
		DB:  db,

		Servers:  lifecycle.NewGroup(log.Named("servers")),
		Services: lifecycle.NewGroup(log.Named("services")),
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, peer.Close())
		}
	}()

	peer.Log.Info("Version info",
		zap.Stringer("Version", version.Build.Version.Version),
		zap.String("Commit Hash", version.Build.CommitHash),
		zap.Stringer("Build Timestamp", version.Build.Timestamp),
		zap.Bool("Release Build", version.Build.Release),
	)

	{ // setup debug
		if config.Debug.Addr != "" {
			peer.Debug.Listener, err = net.Listen("tcp", config.Debug.Addr)
			if err != nil {
				withoutStack := errors.New(err.Error())
				peer.Log.Warn("failed to start debug endpoints", zap.Error(withoutStack))
				err = nil
			}
		}
		debugConfig := config.Debug
		debugConfig.ControlTitle = "Notifier"
		peer.Debug.Server = debug.NewServerWithAtomicLevel(log.Named("debug"), peer.Debug.Listener, monkit.Default, debugConfig, nil)
		peer.Servers.Add(lifecycle.Item{
			Name:  "debug",
			Run:   peer.Debug.Server.Run,
			Close: peer.Debug.Server.Close,
		})
	}

	{ // setup queue
		peer.Queue, err = redisqueue.Open(ctx, log.Named("queue"), config.Queue)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		peer.Services.Add(lifecycle.Item{
			Name:  "queue",
			Close: peer.Queue.Close,
		})
	}

	{ // setup delivery ledger
		switch config.Ledger.Backend {
		case LedgerBolt:
			peer.Ledger.Store, err = boltdb.New(config.Ledger.Path, ledgerBucket)
		default:
			address := config.Ledger.Address
			if address == "" {
				address = config.Queue.Address
			}
			var options *goredis.Options
			options, err = goredis.ParseURL(address)
			if err == nil {
				peer.Ledger.Store, err = redis.NewClient(ctx, goredis.NewClient(options), config.Queue.Prefix+":", config.Ledger.TTL)
			}
		}
		if err != nil {
			return nil, Error.Wrap(err)
		}
		peer.Ledger.Ledger = dispatcher.NewLedger(peer.Ledger.Store)
		peer.Services.Add(lifecycle.Item{
			Name:  "ledger",
			Close: peer.Ledger.Store.Close,
		})
	}

	{ // setup gateways
		if config.FCM.Enabled {
			peer.Gateway.FCM, err = gateway.NewFCM(ctx, log.Named("gateway:fcm"), config.FCM)
			if err != nil {
				return nil, Error.Wrap(err)
			}
		} else {
			peer.Log.Info("push notifications disabled")
		}
		if config.Email.Enabled {
			peer.Gateway.Email, err = gateway.NewEmailSender(log.Named("gateway:email"), config.Email)
			if err != nil {
				return nil, Error.Wrap(err)
			}
		}
		if config.Webhook.Enabled {
			peer.Gateway.Webhook, err = gateway.NewWebhookSender(log.Named("gateway:webhook"), config.Webhook)
			if err != nil {
				return nil, Error.Wrap(err)
			}
		}
	}

	{ // setup services
		peer.Devices = devices.NewService(log.Named("devices"), db.DeviceTokens(), config.Devices)
		peer.Templates = templates.NewService(log.Named("templates"), db.Templates())
		peer.Preferences = preferences.NewService(log.Named("preferences"), db.Preferences(), config.Preferences)
		peer.Records = records.NewService(log.Named("records"), db.Notifications())
	}

	{ // setup dispatcher
		deps := dispatcher.Dependencies{
			Queue:       peer.Queue,
			Schedules:   db.Schedules(),
			Templates:   peer.Templates,
			Devices:     peer.Devices,
			Preferences: peer.Preferences,
			Records:     db.Notifications(),
			Ledger:      peer.Ledger.Ledger,
			Directory:   db.Contacts(),
		}
		// a nil *FCM must not end up in the interface
		if peer.Gateway.FCM != nil {
			deps.Gateway = peer.Gateway.FCM
		}
		if peer.Gateway.Email != nil {
			deps.Senders = append(deps.Senders, peer.Gateway.Email)
		}
		if peer.Gateway.Webhook != nil {
			deps.Senders = append(deps.Senders, peer.Gateway.Webhook)
		}

		peer.Dispatcher.Processor = dispatcher.NewProcessor(log.Named("dispatcher"), deps, config.Dispatcher)
		peer.Dispatcher.Worker = dispatcher.NewWorker(log.Named("dispatcher:worker"), peer.Queue, peer.Dispatcher.Processor, config.Dispatcher)
		peer.Services.Add(lifecycle.Item{
			Name:  "dispatcher:worker",
			Run:   peer.Dispatcher.Worker.Run,
			Close: peer.Dispatcher.Worker.Close,
		})
	}

	{ // setup chores
		peer.Chores.Expiry = records.NewExpiryChore(log.Named("records:expiry"), db.Notifications(), config.Records)
		if config.Records.ExpiryInterval > 0 {
			peer.Services.Add(lifecycle.Item{
				Name:  "records:expiry",
				Run:   peer.Chores.Expiry.Run,
				Close: peer.Chores.Expiry.Close,
			})
		}

		peer.Chores.Cleanup = client.NewCleanupChore(log.Named("client:cleanup"), peer.Queue, config.Cleanup)
		peer.Services.Add(lifecycle.Item{
			Name:  "client:cleanup",
			Run:   peer.Chores.Cleanup.Run,
			Close: peer.Chores.Cleanup.Close,
		})
	}

	peer.Client = client.New(log.Named("client"), peer.Queue, db.Schedules(), peer.Templates, db.Notifications())

	return peer, nil
}

// Run runs the notification peer until ctx is canceled or a service fails.
func (peer *Peer) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)

	pprof.Do(ctx, pprof.Labels("subsystem", "notifier"), func(ctx context.Context) {
		peer.Servers.Run(ctx, group)
		peer.Services.Run(ctx, group)

		pprof.Do(ctx, pprof.Labels("name", "subsystem-wait"), func(ctx context.Context) {
			err = group.Wait()
		})
	})

	if err != nil {
		mon.Counter("notifier_run_failures").Inc(1)
	}
	return err
}

// Close closes all the resources of the peer. The database is owned by the
// caller.
func (peer *Peer) Close() error {
	err := errs.Combine(
		peer.Servers.Close(),
		peer.Services.Close(),
	)
	if err != nil {
		mon.Counter("notifier_close_failures").Inc(1)
	}
	return err
}
