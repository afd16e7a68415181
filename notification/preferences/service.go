// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package preferences decides which channels a user accepts notifications on.
package preferences

import (
	"context"
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

var mon = monkit.Package()

// Error is the default preferences error class.
var Error = errs.Class("preferences")

// Service loads and stores user preferences.
type Service struct {
	log    *zap.Logger
	db     DB
	config Config
}

// NewService creates a new preferences service.
func NewService(log *zap.Logger, db DB, config Config) *Service {
	return &Service{log: log, db: db, config: config}
}

// For returns the stored preferences of the user or the defaults when the
// user has none.
func (service *Service) For(ctx context.Context, userID uuid.UUID) (_ Preferences, err error) {
	defer mon.Task()(&ctx)(&err)

	prefs, err := service.db.Get(ctx, userID)
	if err != nil {
		if notifyerr.NotFound.Has(err) {
			service.log.Debug("using default preferences", zap.Stringer("user_id", userID))
			return Defaults(userID, service.config.DefaultChannels), nil
		}
		return Preferences{}, Error.Wrap(err)
	}
	return prefs, nil
}

// Save validates and stores the preferences.
func (service *Service) Save(ctx context.Context, prefs Preferences) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := Validate(prefs); err != nil {
		return err
	}
	return Error.Wrap(service.db.Upsert(ctx, prefs))
}

// Reset removes the stored preferences so that defaults apply again.
func (service *Service) Reset(ctx context.Context, userID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = service.db.Delete(ctx, userID)
	if notifyerr.NotFound.Has(err) {
		return nil
	}
	return Error.Wrap(err)
}

// Validate checks that every channel, priority and frequency is known.
func Validate(prefs Preferences) error {
	if prefs.UserID.IsZero() {
		return notifyerr.Validation.New("user id is required")
	}
	for channel := range prefs.Channels {
		if _, err := message.ParseChannel(string(channel)); err != nil {
			return err
		}
	}
	for priority := range prefs.Priorities {
		if priority == "" {
			return notifyerr.Validation.New("empty priority")
		}
		if _, err := message.ParsePriority(string(priority)); err != nil {
			return err
		}
	}
	for category, channels := range prefs.CategoryRouting {
		if strings.TrimSpace(category) == "" {
			return notifyerr.Validation.New("empty category in routing")
		}
		for _, channel := range channels {
			if _, err := message.ParseChannel(string(channel)); err != nil {
				return err
			}
		}
	}
	for channel, frequency := range prefs.Frequency {
		if _, err := message.ParseChannel(string(channel)); err != nil {
			return err
		}
		switch frequency {
		case FrequencyImmediate, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		default:
			return notifyerr.Validation.New("unknown frequency %q for %s", frequency, channel)
		}
	}
	return ValidateQuietHours(prefs.QuietHours)
}
