// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storj.io/common/sync2"

	"github.com/StorXNetwork/StorXNotify/notification/jobs"
)

// CleanupConfig contains configuration for the token cleanup chore.
type CleanupConfig struct {
	Interval   time.Duration `help:"how often a sweep of inactive device tokens is enqueued" default:"24h"`
	MaxAgeDays int           `help:"inactive device tokens last used more than this many days ago are removed" default:"30"`
}

// CleanupChore periodically enqueues a Cleanup job. The job id is derived
// from the interval, so peers running the chore at the same time enqueue a
// single job.
//
// architecture: Chore
type CleanupChore struct {
	log    *zap.Logger
	queue  jobs.Queue
	config CleanupConfig
	nowFn  func() time.Time

	Loop *sync2.Cycle
}

// NewCleanupChore creates a new cleanup chore.
func NewCleanupChore(log *zap.Logger, queue jobs.Queue, config CleanupConfig) *CleanupChore {
	return &CleanupChore{
		log:    log,
		queue:  queue,
		config: config,
		nowFn:  time.Now,
		Loop:   sync2.NewCycle(config.Interval),
	}
}

// TestSetNow replaces the clock of the chore.
func (chore *CleanupChore) TestSetNow(now func() time.Time) {
	chore.nowFn = now
}

// Run starts the chore.
func (chore *CleanupChore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return chore.Loop.Run(ctx, func(ctx context.Context) error {
		if _, err := chore.Enqueue(ctx); err != nil {
			chore.log.Error("failed to enqueue token cleanup", zap.Error(err))
		}
		return nil
	})
}

// Enqueue enqueues the cleanup job of the current interval.
func (chore *CleanupChore) Enqueue(ctx context.Context) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	slot := chore.nowFn().UTC()
	if chore.config.Interval > 0 {
		slot = slot.Truncate(chore.config.Interval)
	}

	job, err := jobs.NewWithID(fmt.Sprintf("cleanup:%d", slot.Unix()), &jobs.Cleanup{MaxAgeDays: chore.config.MaxAgeDays})
	if err != nil {
		return "", err
	}
	if err := chore.queue.Enqueue(ctx, job, jobs.EnqueueOptions{}); err != nil {
		return "", Error.Wrap(err)
	}

	chore.log.Debug("token cleanup enqueued", zap.String("job_id", job.ID), zap.Int("max_age_days", chore.config.MaxAgeDays))
	return job.ID, nil
}

// Close stops the chore.
func (chore *CleanupChore) Close() error {
	chore.Loop.Close()
	return nil
}
