// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package records

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/common/sync2"
)

// ExpiryChore archives expired notifications and deletes archived ones whose
// expiry is more than DeleteAfter ago. It never moves a notification back.
//
// architecture: Chore
type ExpiryChore struct {
	log    *zap.Logger
	db     DB
	config Config
	nowFn  func() time.Time

	Loop *sync2.Cycle
}

// NewExpiryChore creates a new expiry chore.
func NewExpiryChore(log *zap.Logger, db DB, config Config) *ExpiryChore {
	if config.ExpiryBatch <= 0 {
		config.ExpiryBatch = 500
	}
	return &ExpiryChore{
		log:    log,
		db:     db,
		config: config,
		nowFn:  time.Now,
		Loop:   sync2.NewCycle(config.ExpiryInterval),
	}
}

// TestSetNow replaces the clock of the chore.
func (chore *ExpiryChore) TestSetNow(now func() time.Time) {
	chore.nowFn = now
}

// Run starts the chore.
func (chore *ExpiryChore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return chore.Loop.Run(ctx, func(ctx context.Context) error {
		archived, deleted, err := chore.Sweep(ctx)
		if err != nil {
			chore.log.Error("expiry sweep failed", zap.Error(err))
			return nil
		}
		if archived > 0 || deleted > 0 {
			chore.log.Info("expired notifications swept",
				zap.Int("archived", archived),
				zap.Int("deleted", deleted))
		}
		return nil
	})
}

// Sweep runs a single pass.
func (chore *ExpiryChore) Sweep(ctx context.Context) (archived, deleted int, err error) {
	defer mon.Task()(&ctx)(&err)

	now := chore.nowFn().UTC()

	archived, err = chore.move(ctx, []Status{StatusUnread, StatusRead}, StatusArchived, now, now)
	if err != nil {
		return archived, 0, err
	}

	deleted, err = chore.move(ctx, []Status{StatusArchived}, StatusDeleted, now.Add(-chore.config.DeleteAfter), now)

	mon.IntVal("notifications_expired_archived").Observe(int64(archived))
	mon.IntVal("notifications_expired_deleted").Observe(int64(deleted))
	return archived, deleted, err
}

// move transitions notifications in one of the statuses that expired before
// the cutoff to the target status, page by page.
func (chore *ExpiryChore) move(ctx context.Context, from []Status, to Status, cutoff, now time.Time) (moved int, err error) {
	for {
		page, err := chore.db.ListExpired(ctx, from, cutoff, chore.config.ExpiryBatch)
		if err != nil {
			return moved, Error.Wrap(err)
		}

		progress := false
		for _, notification := range page {
			if !CanTransition(notification.Status, to) {
				continue
			}
			err := chore.db.UpdateStatus(ctx, notification.ID, notification.Status, to, now)
			if err != nil {
				// the user changed the status meanwhile
				if ErrStatusConflict.Has(err) {
					continue
				}
				return moved, Error.Wrap(err)
			}
			moved++
			progress = true
		}

		if !progress || len(page) < chore.config.ExpiryBatch {
			return moved, nil
		}
	}
}

// Close stops the chore.
func (chore *ExpiryChore) Close() error {
	chore.Loop.Close()
	return nil
}
