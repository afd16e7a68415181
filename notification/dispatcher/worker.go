// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"storj.io/common/sync2"

	"github.com/StorXNetwork/StorXNotify/notification/jobs"
)

// Worker pulls jobs from the queue and runs them on the processor, up to
// config.Workers jobs at the same time. A job is acknowledged when processing
// succeeds or is skipped, otherwise it is handed back to the queue.
//
// architecture: Worker
type Worker struct {
	log       *zap.Logger
	queue     jobs.Queue
	processor *Processor
	config    Config

	slots *semaphore.Weighted
	wg    sync.WaitGroup

	Loop *sync2.Cycle
}

// NewWorker creates a new worker.
func NewWorker(log *zap.Logger, queue jobs.Queue, processor *Processor, config Config) *Worker {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &Worker{
		log:       log,
		queue:     queue,
		processor: processor,
		config:    config,
		slots:     semaphore.NewWeighted(int64(config.Workers)),
		Loop:      sync2.NewCycle(config.PollInterval),
	}
}

// Run polls the queue until ctx is canceled. Jobs still running when Run
// returns are waited for by Close.
func (worker *Worker) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	worker.log.Info("worker started", zap.Int("workers", worker.config.Workers))

	return worker.Loop.Run(ctx, func(ctx context.Context) error {
		worker.drain(ctx)
		return nil
	})
}

// drain starts jobs until the queue is empty.
func (worker *Worker) drain(ctx context.Context) {
	for {
		if err := worker.slots.Acquire(ctx, 1); err != nil {
			return
		}

		job, err := worker.queue.Dequeue(ctx)
		if err != nil {
			worker.slots.Release(1)
			if !jobs.ErrEmptyQueue.Has(err) && ctx.Err() == nil {
				worker.log.Error("dequeue failed", zap.Error(err))
			}
			return
		}

		worker.wg.Add(1)
		go func() {
			defer worker.wg.Done()
			defer worker.slots.Release(1)
			worker.handle(ctx, job)
		}()
	}
}

// ProcessNext dequeues and handles a single job. It reports false when the
// queue is empty.
func (worker *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := worker.queue.Dequeue(ctx)
	if err != nil {
		if jobs.ErrEmptyQueue.Has(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}
	worker.handle(ctx, job)
	return true, nil
}

// handle runs a job and reports the result to the queue.
func (worker *Worker) handle(ctx context.Context, job jobs.Job) {
	jobCtx := ctx
	if worker.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, worker.config.JobTimeout)
		defer cancel()
	}

	err := worker.run(jobCtx, job)
	if err == nil {
		if err := worker.queue.Ack(ctx, job); err != nil {
			worker.reportQueueError("failed to acknowledge job", job, err)
		}
		return
	}

	retrying, failErr := worker.queue.Fail(ctx, job, err)
	if failErr != nil {
		worker.reportQueueError("failed to report job failure", job, failErr)
		return
	}
	if !retrying {
		worker.log.Error("job given up",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		worker.processor.Abandon(ctx, job)
	}
}

// reportQueueError logs a failed Ack or Fail. A lost lease means another
// worker owns the job now, so the ledger of the job is left alone.
func (worker *Worker) reportQueueError(msg string, job jobs.Job, err error) {
	if jobs.ErrLeaseLost.Has(err) {
		mon.Counter("job_lease_lost").Inc(1)
		worker.log.Warn("job lease lost",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		return
	}
	worker.log.Error(msg, zap.String("job_id", job.ID), zap.Error(err))
}

// run calls the processor, converting a panic into an error.
func (worker *Worker) run(ctx context.Context, job jobs.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			mon.Counter("job_panics").Inc(1)
			worker.log.Error("panic while processing job",
				zap.String("job_id", job.ID),
				zap.Any("error", r),
				zap.String("stack", stack.Trace().TrimRuntime().String()))
			err = Error.New("panic: %v", r)
		}
	}()

	return worker.processor.Process(ctx, job)
}

// Close stops the worker and waits for running jobs.
func (worker *Worker) Close() error {
	worker.Loop.Close()
	worker.wg.Wait()
	return nil
}
