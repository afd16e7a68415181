// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package jobs

import (
	"context"
	"time"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/schedule"
)

// Schedule owns a chain of repeating jobs. Deactivating it stops the chain.
type Schedule struct {
	ID        uuid.UUID
	Name      string
	Kind      Kind
	Repeat    schedule.Repeat
	Anchor    time.Time
	NextRunAt *time.Time
	LastRunAt *time.Time
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleDB defines database operations for schedules.
//
// architecture: Database
type ScheduleDB interface {
	// Create inserts a new schedule.
	Create(ctx context.Context, schedule Schedule) error

	// Get retrieves a schedule by ID.
	Get(ctx context.Context, id uuid.UUID) (Schedule, error)

	// SetActive sets the active flag of a schedule.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error

	// RecordRun stores the last run time and the next planned run, a nil
	// next run means the chain ended.
	RecordRun(ctx context.Context, id uuid.UUID, lastRun time.Time, nextRun *time.Time) error

	// ListActive retrieves active schedules ordered by next run.
	ListActive(ctx context.Context, limit int) ([]Schedule, error)
}
