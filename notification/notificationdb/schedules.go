// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package notificationdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/jobs"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// ensures that schedules implements jobs.ScheduleDB.
var _ jobs.ScheduleDB = (*schedules)(nil)

// ErrSchedules represents errors from the notification_schedules database.
var ErrSchedules = errs.Class("notificationschedules")

type schedules struct {
	db *notificationDB
}

const scheduleColumns = `id, name, kind, repeat, anchor, next_run_at, last_run_at, active, created_at, updated_at`

type scheduleRow struct {
	ID        []byte     `db:"id"`
	Name      string     `db:"name"`
	Kind      string     `db:"kind"`
	Repeat    string     `db:"repeat"`
	Anchor    time.Time  `db:"anchor"`
	NextRunAt *time.Time `db:"next_run_at"`
	LastRunAt *time.Time `db:"last_run_at"`
	Active    bool       `db:"active"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// Create inserts a new schedule.
func (s *schedules) Create(ctx context.Context, schedule jobs.Schedule) (err error) {
	defer mon.Task()(&ctx)(&err)

	repeat, err := json.Marshal(schedule.Repeat)
	if err != nil {
		return ErrSchedules.Wrap(err)
	}

	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = schedule.CreatedAt
	}

	_, err = s.db.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO notification_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), schedule.ID[:], schedule.Name, string(schedule.Kind), string(repeat), schedule.Anchor.UTC(),
		utcPtr(schedule.NextRunAt), utcPtr(schedule.LastRunAt), schedule.Active,
		schedule.CreatedAt.UTC(), schedule.UpdatedAt.UTC())
	return ErrSchedules.Wrap(err)
}

// Get retrieves a schedule by ID.
func (s *schedules) Get(ctx context.Context, id uuid.UUID) (_ jobs.Schedule, err error) {
	defer mon.Task()(&ctx)(&err)

	var row scheduleRow
	err = s.db.db.GetContext(ctx, &row, s.db.rebind(`SELECT `+scheduleColumns+` FROM notification_schedules WHERE id = ?`), id[:])
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Schedule{}, notifyerr.NotFound.New("schedule %s", id)
	}
	if err != nil {
		return jobs.Schedule{}, ErrSchedules.Wrap(err)
	}
	return scheduleFromRow(row)
}

// SetActive sets the active flag of a schedule.
func (s *schedules) SetActive(ctx context.Context, id uuid.UUID, active bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := s.db.db.ExecContext(ctx, s.db.rebind(`
		UPDATE notification_schedules SET active = ?, updated_at = ? WHERE id = ?
	`), active, time.Now().UTC(), id[:])
	if err != nil {
		return ErrSchedules.Wrap(err)
	}
	return s.expectRow(result, id)
}

// RecordRun stores the last run and the next planned run. A nil next run
// deactivates the schedule.
func (s *schedules) RecordRun(ctx context.Context, id uuid.UUID, lastRun time.Time, nextRun *time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := s.db.db.ExecContext(ctx, s.db.rebind(`
		UPDATE notification_schedules
		SET last_run_at = ?, next_run_at = ?, active = (active AND ?), updated_at = ?
		WHERE id = ?
	`), lastRun.UTC(), utcPtr(nextRun), nextRun != nil, time.Now().UTC(), id[:])
	if err != nil {
		return ErrSchedules.Wrap(err)
	}
	return s.expectRow(result, id)
}

// ListActive retrieves active schedules ordered by next run.
func (s *schedules) ListActive(ctx context.Context, limit int) (_ []jobs.Schedule, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []scheduleRow
	err = s.db.db.SelectContext(ctx, &rows, s.db.rebind(`
		SELECT `+scheduleColumns+` FROM notification_schedules
		WHERE active = ?
		ORDER BY next_run_at, id
		LIMIT ?
	`), true, limit)
	if err != nil {
		return nil, ErrSchedules.Wrap(err)
	}

	list := make([]jobs.Schedule, 0, len(rows))
	for _, row := range rows {
		schedule, err := scheduleFromRow(row)
		if err != nil {
			return nil, err
		}
		list = append(list, schedule)
	}
	return list, nil
}

func (s *schedules) expectRow(result sql.Result, id uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return ErrSchedules.Wrap(err)
	}
	if affected == 0 {
		return notifyerr.NotFound.New("schedule %s", id)
	}
	return nil
}

func scheduleFromRow(row scheduleRow) (jobs.Schedule, error) {
	id, err := uuid.FromBytes(row.ID)
	if err != nil {
		return jobs.Schedule{}, ErrSchedules.Wrap(err)
	}

	schedule := jobs.Schedule{
		ID:        id,
		Name:      row.Name,
		Kind:      jobs.Kind(row.Kind),
		Anchor:    row.Anchor.UTC(),
		NextRunAt: utcPtr(row.NextRunAt),
		LastRunAt: utcPtr(row.LastRunAt),
		Active:    row.Active,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(row.Repeat), &schedule.Repeat); err != nil {
		return jobs.Schedule{}, ErrSchedules.Wrap(err)
	}
	return schedule, nil
}
