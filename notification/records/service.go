// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package records keeps the history of notifications sent to users.
package records

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

var mon = monkit.Package()

// Error is the default records error class.
var Error = errs.Class("records")

// Config contains configuration for notification records.
type Config struct {
	TTL            time.Duration `help:"how long notifications stay visible before they expire, zero disables expiry" default:"720h"`
	DeleteAfter    time.Duration `help:"how long expired notifications stay archived before they are deleted" default:"720h"`
	ExpiryInterval time.Duration `help:"how often expired notifications are swept" default:"1h"`
	ExpiryBatch    int           `help:"number of expired notifications handled per query" default:"500"`
}

// Service applies user actions to notification records.
type Service struct {
	log *zap.Logger
	db  DB

	nowFn func() time.Time
}

// NewService creates a new records service.
func NewService(log *zap.Logger, db DB) *Service {
	return &Service{log: log, db: db, nowFn: time.Now}
}

// TestSetNow replaces the clock of the service.
func (service *Service) TestSetNow(now func() time.Time) {
	service.nowFn = now
}

// List returns the notifications of the user, newest first. Deleted
// notifications are only returned when the filter asks for them.
func (service *Service) List(ctx context.Context, userID uuid.UUID, filter ListFilter) (_ []Notification, err error) {
	defer mon.Task()(&ctx)(&err)

	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	list, err := service.db.List(ctx, userID, filter)
	return list, Error.Wrap(err)
}

// CountUnread returns the number of unread notifications of the user.
func (service *Service) CountUnread(ctx context.Context, userID uuid.UUID) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	count, err := service.db.CountUnread(ctx, userID)
	return count, Error.Wrap(err)
}

// MarkRead marks the notification as read.
func (service *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return service.transition(ctx, userID, id, StatusRead)
}

// Archive archives the notification.
func (service *Service) Archive(ctx context.Context, userID, id uuid.UUID) error {
	return service.transition(ctx, userID, id, StatusArchived)
}

// Delete deletes the notification.
func (service *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return service.transition(ctx, userID, id, StatusDeleted)
}

// transition moves a notification owned by the user to the target status.
// Repeating a transition is a no-op, moving backwards is a conflict.
func (service *Service) transition(ctx context.Context, userID, id uuid.UUID, to Status) (err error) {
	defer mon.Task()(&ctx)(&err)

	notification, err := service.db.Get(ctx, id)
	if err != nil {
		if notifyerr.NotFound.Has(err) {
			return err
		}
		return Error.Wrap(err)
	}
	if notification.UserID != userID {
		return notifyerr.NotFound.New("notification %s", id)
	}

	if notification.Status == to {
		return nil
	}
	if !CanTransition(notification.Status, to) {
		return ErrStatusConflict.New("%s to %s", notification.Status, to)
	}

	err = service.db.UpdateStatus(ctx, id, notification.Status, to, service.nowFn().UTC())
	if err != nil {
		if ErrStatusConflict.Has(err) {
			return err
		}
		return Error.Wrap(err)
	}
	return nil
}
