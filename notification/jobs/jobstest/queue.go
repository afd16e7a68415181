// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package jobstest implements an in-memory jobs.Queue for tests.
package jobstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/StorXNetwork/StorXNotify/notification/jobs"
)

// Entry is a queued job with its ready time.
type Entry struct {
	Job     jobs.Job
	ReadyAt time.Time
}

// Queue is an in-memory jobs.Queue. Failed jobs are retried immediately until
// MaxAttempts is reached.
type Queue struct {
	MaxAttempts int

	mu       sync.Mutex
	now      func() time.Time
	pending  []Entry
	leased   map[string]jobs.Job
	attempts map[string]int
	known    map[string]bool
	acked    []jobs.Job
	failed   map[string][]error
	dead     []jobs.Job
}

var _ jobs.Queue = (*Queue)(nil)

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		MaxAttempts: 3,
		now:         time.Now,
		leased:      map[string]jobs.Job{},
		attempts:    map[string]int{},
		known:       map[string]bool{},
		failed:      map[string][]error{},
	}
}

// TestSetNow sets the function used for the current time.
func (queue *Queue) TestSetNow(now func() time.Time) {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	queue.now = now
}

// Enqueue implements jobs.Queue.
func (queue *Queue) Enqueue(ctx context.Context, job jobs.Job, opts jobs.EnqueueOptions) error {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	if queue.known[job.ID] {
		return nil
	}
	queue.known[job.ID] = true
	queue.pending = append(queue.pending, Entry{Job: job, ReadyAt: opts.ReadyAt(queue.now())})
	sort.SliceStable(queue.pending, func(i, k int) bool {
		return queue.pending[i].ReadyAt.Before(queue.pending[k].ReadyAt)
	})
	return nil
}

// Dequeue implements jobs.Queue.
func (queue *Queue) Dequeue(ctx context.Context) (jobs.Job, error) {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	if len(queue.pending) == 0 || queue.pending[0].ReadyAt.After(queue.now()) {
		return jobs.Job{}, jobs.ErrEmptyQueue.New("")
	}

	job := queue.pending[0].Job
	queue.pending = queue.pending[1:]
	queue.attempts[job.ID]++
	job.Attempt = queue.attempts[job.ID]
	queue.leased[job.ID] = job
	return job, nil
}

// Ack implements jobs.Queue.
func (queue *Queue) Ack(ctx context.Context, job jobs.Job) error {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	delete(queue.leased, job.ID)
	queue.acked = append(queue.acked, job)
	return nil
}

// Fail implements jobs.Queue.
func (queue *Queue) Fail(ctx context.Context, job jobs.Job, cause error) (bool, error) {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	delete(queue.leased, job.ID)
	queue.failed[job.ID] = append(queue.failed[job.ID], cause)
	if job.Attempt >= queue.MaxAttempts {
		queue.dead = append(queue.dead, job)
		return false, nil
	}
	queue.pending = append([]Entry{{Job: job, ReadyAt: queue.now()}}, queue.pending...)
	return true, nil
}

// Pending returns the jobs waiting in the queue, ready or delayed.
func (queue *Queue) Pending() []Entry {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	return append([]Entry(nil), queue.pending...)
}

// Acked returns the acknowledged jobs.
func (queue *Queue) Acked() []jobs.Job {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	return append([]jobs.Job(nil), queue.acked...)
}

// Failures returns the errors reported for a job.
func (queue *Queue) Failures(id string) []error {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	return append([]error(nil), queue.failed[id]...)
}

// Dead returns the jobs that exhausted their attempts.
func (queue *Queue) Dead() []jobs.Job {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	return append([]jobs.Job(nil), queue.dead...)
}
