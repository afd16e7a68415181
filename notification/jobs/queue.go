// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package jobs

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// ErrEmptyQueue is returned by Dequeue when no job is ready.
var ErrEmptyQueue = errs.Class("empty queue")

// ErrLeaseLost is returned by Ack and Fail when the lease of the job expired
// and the job was handed out again.
var ErrLeaseLost = errs.Class("lease lost")

// EnqueueOptions controls when a job becomes ready.
type EnqueueOptions struct {
	// Delay postpones the job relative to now.
	Delay time.Duration
	// ScheduledAt postpones the job to an absolute time, it wins over Delay.
	ScheduledAt *time.Time
}

// ReadyAt returns the time the job becomes ready.
func (opts EnqueueOptions) ReadyAt(now time.Time) time.Time {
	if opts.ScheduledAt != nil {
		return *opts.ScheduledAt
	}
	return now.Add(opts.Delay)
}

// Queue is a durable job queue. Retries with backoff are the responsibility of
// the queue.
type Queue interface {
	// Enqueue adds the job. A job whose id is already queued or running is
	// ignored.
	Enqueue(ctx context.Context, job Job, opts EnqueueOptions) error

	// Dequeue returns the next ready job and leases it to the caller.
	// It returns ErrEmptyQueue when no job is ready.
	Dequeue(ctx context.Context) (Job, error)

	// Ack marks the job as completed. It fails with ErrLeaseLost when the
	// attempt no longer holds the lease.
	Ack(ctx context.Context, job Job) error

	// Fail reports a failed attempt. The queue decides whether the job is
	// retried later, which is reported by retrying. It fails with
	// ErrLeaseLost when the attempt no longer holds the lease.
	Fail(ctx context.Context, job Job, cause error) (retrying bool, err error)
}
