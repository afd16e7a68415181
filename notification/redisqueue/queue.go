// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package redisqueue implements jobs.Queue on top of redis.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/StorXNetwork/StorXNotify/notification/jobs"
)

var mon = monkit.Package()

// Error is the default redisqueue error class.
var Error = errs.Class("redisqueue")

// Config contains the queue configuration.
type Config struct {
	Address       string        `help:"redis url of the job queue" default:"redis://127.0.0.1:6379/0"`
	Prefix        string        `help:"prefix of the queue keys" default:"notify:queue"`
	Lease         time.Duration `help:"how long a dequeued job is leased before it is handed out again" default:"15m"`
	MaxAttempts   int           `help:"number of attempts before a job is dead-lettered" default:"5"`
	BackoffBase   time.Duration `help:"delay before the first retry of a failed job" default:"30s"`
	BackoffMax    time.Duration `help:"maximum delay between retries of a failed job" default:"30m"`
	DoneRetention time.Duration `help:"how long the id of a completed job is remembered" default:"168h"`
	PromoteBatch  int           `help:"maximum number of delayed jobs promoted per dequeue" default:"100"`
}

// Stats contains the number of jobs in each state.
type Stats struct {
	Ready      int64
	Delayed    int64
	Processing int64
	Dead       int64
}

// Queue is a redis backed jobs.Queue.
//
// Jobs are stored as JSON under their id. The id travels through a ready
// list, a delayed sorted set scored by ready time and a processing sorted set
// scored by lease deadline. Completed ids are kept for DoneRetention so that
// re-enqueueing a finished job is ignored.
//
// A lease is identified by the attempt number. Once a lease expires and the
// job is dequeued again, Ack and Fail of the earlier attempt are refused.
type Queue struct {
	log    *zap.Logger
	db     *redis.Client
	config Config

	nowFn func() time.Time
}

var _ jobs.Queue = (*Queue)(nil)

// doneMarker replaces the body of a completed job.
const doneMarker = "done"

// Open connects to the queue at config.Address.
func Open(ctx context.Context, log *zap.Logger, config Config) (*Queue, error) {
	options, err := redis.ParseURL(config.Address)
	if err != nil {
		return nil, Error.New("invalid address: %v", err)
	}
	db := redis.NewClient(options)
	if err := db.Ping(ctx).Err(); err != nil {
		return nil, errs.Combine(Error.New("ping failed: %v", err), db.Close())
	}
	return New(log, db, config), nil
}

// New creates a queue on an existing client.
func New(log *zap.Logger, db *redis.Client, config Config) *Queue {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.PromoteBatch <= 0 {
		config.PromoteBatch = 100
	}
	if config.Lease <= 0 {
		config.Lease = 15 * time.Minute
	}
	return &Queue{
		log:    log,
		db:     db,
		config: config,
		nowFn:  time.Now,
	}
}

// TestSetNow sets the function used for the current time.
func (queue *Queue) TestSetNow(now func() time.Time) {
	queue.nowFn = now
}

func (queue *Queue) jobKey(id string) string { return queue.config.Prefix + ":job:" + id }
func (queue *Queue) readyKey() string        { return queue.config.Prefix + ":ready" }
func (queue *Queue) delayedKey() string      { return queue.config.Prefix + ":delayed" }
func (queue *Queue) processingKey() string   { return queue.config.Prefix + ":processing" }
func (queue *Queue) attemptsKey() string     { return queue.config.Prefix + ":attempts" }
func (queue *Queue) deadKey() string         { return queue.config.Prefix + ":dead" }
func (queue *Queue) errorsKey() string       { return queue.config.Prefix + ":errors" }

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// Enqueue implements jobs.Queue.
func (queue *Queue) Enqueue(ctx context.Context, job jobs.Job, opts jobs.EnqueueOptions) (err error) {
	defer mon.Task()(&ctx)(&err)

	if job.ID == "" {
		return Error.New("job without id")
	}

	data, err := json.Marshal(job)
	if err != nil {
		return Error.Wrap(err)
	}

	now := queue.nowFn()
	added, err := enqueueScript.Run(ctx, queue.db,
		[]string{queue.jobKey(job.ID), queue.delayedKey(), queue.readyKey()},
		job.ID, data, millis(opts.ReadyAt(now)), millis(now),
	).Int()
	if err != nil {
		return Error.Wrap(err)
	}

	if added == 0 {
		mon.Counter("queue_enqueue_duplicate").Inc(1)
		queue.log.Debug("job already known", zap.String("job_id", job.ID))
		return nil
	}
	mon.Counter("queue_enqueued", monkit.NewSeriesTag("kind", string(job.Kind))).Inc(1)
	return nil
}

// Dequeue implements jobs.Queue.
func (queue *Queue) Dequeue(ctx context.Context) (_ jobs.Job, err error) {
	defer mon.Task()(&ctx)(&err)

	now := queue.nowFn()
	for {
		reply, err := dequeueScript.Run(ctx, queue.db,
			[]string{queue.delayedKey(), queue.readyKey(), queue.processingKey(), queue.attemptsKey()},
			millis(now), millis(now.Add(queue.config.Lease)), queue.config.PromoteBatch,
		).Slice()
		if errors.Is(err, redis.Nil) {
			return jobs.Job{}, jobs.ErrEmptyQueue.New("")
		}
		if err != nil {
			return jobs.Job{}, Error.Wrap(err)
		}
		if len(reply) != 2 {
			return jobs.Job{}, Error.New("unexpected dequeue reply %v", reply)
		}

		id, _ := reply[0].(string)
		attempt, _ := reply[1].(int64)

		data, err := queue.db.Get(ctx, queue.jobKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			// the job body expired or was removed, drop the orphan id
			queue.log.Warn("dropping job without body", zap.String("job_id", id))
			if err := queue.forget(ctx, id); err != nil {
				return jobs.Job{}, err
			}
			continue
		}
		if err != nil {
			return jobs.Job{}, Error.Wrap(err)
		}

		if string(data) == doneMarker {
			// completed by an earlier lease holder
			if err := queue.forget(ctx, id); err != nil {
				return jobs.Job{}, err
			}
			continue
		}

		var job jobs.Job
		if err := json.Unmarshal(data, &job); err != nil {
			queue.log.Error("dropping undecodable job", zap.String("job_id", id), zap.Error(err))
			if _, err := queue.bury(ctx, id, int(attempt), err); err != nil {
				return jobs.Job{}, err
			}
			continue
		}

		job.Attempt = int(attempt)
		return job, nil
	}
}

// Ack implements jobs.Queue.
func (queue *Queue) Ack(ctx context.Context, job jobs.Job) (err error) {
	defer mon.Task()(&ctx)(&err)

	acked, err := ackScript.Run(ctx, queue.db,
		[]string{queue.processingKey(), queue.attemptsKey(), queue.jobKey(job.ID)},
		job.ID, job.Attempt, doneMarker, queue.config.DoneRetention.Milliseconds(),
	).Int()
	if err != nil {
		return Error.Wrap(err)
	}
	if acked == 0 {
		mon.Counter("queue_lease_lost").Inc(1)
		return jobs.ErrLeaseLost.New("ack of job %s attempt %d", job.ID, job.Attempt)
	}
	mon.Counter("queue_acked").Inc(1)
	return nil
}

// Fail implements jobs.Queue. The job is retried after an exponential backoff
// until it reaches MaxAttempts, after which it is moved to the dead list.
func (queue *Queue) Fail(ctx context.Context, job jobs.Job, cause error) (retrying bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if job.Attempt >= queue.config.MaxAttempts {
		queue.log.Warn("job dead-lettered",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Int("attempt", job.Attempt),
			zap.Error(cause))
		buried, err := queue.bury(ctx, job.ID, job.Attempt, cause)
		if err != nil {
			return false, err
		}
		if !buried {
			mon.Counter("queue_lease_lost").Inc(1)
			return false, jobs.ErrLeaseLost.New("failure of job %s attempt %d", job.ID, job.Attempt)
		}
		return false, nil
	}

	readyAt := queue.nowFn().Add(queue.Backoff(job.Attempt))
	moved, err := retryScript.Run(ctx, queue.db,
		[]string{queue.processingKey(), queue.delayedKey(), queue.attemptsKey()},
		job.ID, millis(readyAt), job.Attempt,
	).Int()
	if err != nil {
		return false, Error.Wrap(err)
	}
	if moved == 0 {
		mon.Counter("queue_lease_lost").Inc(1)
		return false, jobs.ErrLeaseLost.New("failure of job %s attempt %d", job.ID, job.Attempt)
	}

	mon.Counter("queue_retried").Inc(1)
	return true, nil
}

// Backoff returns the delay before the retry of the given attempt.
func (queue *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := queue.config.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if queue.config.BackoffMax > 0 && delay >= queue.config.BackoffMax {
			return queue.config.BackoffMax
		}
	}
	if queue.config.BackoffMax > 0 && delay > queue.config.BackoffMax {
		return queue.config.BackoffMax
	}
	return delay
}

// bury moves the job to the dead list, keeping its body for inspection.
// It reports false when attempt no longer holds the lease.
func (queue *Queue) bury(ctx context.Context, id string, attempt int, cause error) (bool, error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	buried, err := buryScript.Run(ctx, queue.db,
		[]string{queue.processingKey(), queue.attemptsKey(), queue.deadKey(), queue.errorsKey()},
		id, attempt, reason,
	).Int()
	if err != nil {
		return false, Error.Wrap(err)
	}
	if buried == 0 {
		return false, nil
	}
	mon.Counter("queue_dead_lettered").Inc(1)
	return true, nil
}

func (queue *Queue) forget(ctx context.Context, id string) error {
	_, err := queue.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, queue.processingKey(), id)
		pipe.HDel(ctx, queue.attemptsKey(), id)
		return nil
	})
	return Error.Wrap(err)
}

// DeadLetters returns the ids of dead-lettered jobs with the last error.
func (queue *Queue) DeadLetters(ctx context.Context) (_ map[string]string, err error) {
	defer mon.Task()(&ctx)(&err)

	ids, err := queue.db.LRange(ctx, queue.deadKey(), 0, -1).Result()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	reasons, err := queue.db.HGetAll(ctx, queue.errorsKey()).Result()
	if err != nil {
		return nil, Error.Wrap(err)
	}

	dead := make(map[string]string, len(ids))
	for _, id := range ids {
		dead[id] = reasons[id]
	}
	return dead, nil
}

// Stats returns the number of jobs in each state.
func (queue *Queue) Stats(ctx context.Context) (_ Stats, err error) {
	defer mon.Task()(&ctx)(&err)

	var ready, delayed, processing, dead *redis.IntCmd
	_, err = queue.db.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(ctx, queue.readyKey())
		delayed = pipe.ZCard(ctx, queue.delayedKey())
		processing = pipe.ZCard(ctx, queue.processingKey())
		dead = pipe.LLen(ctx, queue.deadKey())
		return nil
	})
	if err != nil {
		return Stats{}, Error.Wrap(err)
	}
	return Stats{
		Ready:      ready.Val(),
		Delayed:    delayed.Val(),
		Processing: processing.Val(),
		Dead:       dead.Val(),
	}, nil
}

// Close closes the underlying client.
func (queue *Queue) Close() error {
	return Error.Wrap(queue.db.Close())
}
