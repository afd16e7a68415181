// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package dispatcher executes notification jobs taken from the queue.
package dispatcher

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/devices"
	"github.com/StorXNetwork/StorXNotify/notification/gateway"
	"github.com/StorXNetwork/StorXNotify/notification/jobs"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
	"github.com/StorXNetwork/StorXNotify/notification/preferences"
	"github.com/StorXNetwork/StorXNotify/notification/records"
	"github.com/StorXNetwork/StorXNotify/notification/schedule"
	"github.com/StorXNetwork/StorXNotify/notification/templates"
)

var mon = monkit.Package()

// Error is the default dispatcher error class.
var Error = errs.Class("dispatcher")

// Config contains configuration for job processing.
type Config struct {
	Workers            int           `help:"number of jobs processed concurrently" default:"8"`
	PollInterval       time.Duration `help:"how often the queue is polled when it is empty" default:"1s"`
	JobTimeout         time.Duration `help:"maximum duration of a single job" default:"10m"`
	RetryDelay         time.Duration `help:"delay before failed deliveries are retried" default:"5m"`
	MaxDeliveryRetries int           `help:"number of retry jobs created for failed deliveries, zero disables retries" default:"3"`
	RecordTTL          time.Duration `help:"how long created notifications stay visible, zero disables expiry" default:"720h"`
}

// Dependencies are the collaborators of the Processor. Gateway, Directory and
// Senders are optional, a channel without transport is not delivered.
type Dependencies struct {
	Queue       jobs.Queue
	Schedules   jobs.ScheduleDB
	Templates   *templates.Service
	Devices     *devices.Service
	Preferences *preferences.Service
	Records     records.DB
	Ledger      *Ledger

	Gateway   gateway.Gateway
	Directory gateway.Directory
	Senders   []gateway.ChannelSender
}

// Processor executes jobs. It is the only component that creates follow-up
// jobs.
//
// architecture: Service
type Processor struct {
	log    *zap.Logger
	deps   Dependencies
	config Config

	senders map[message.Channel]gateway.ChannelSender

	nowFn func() time.Time
}

// NewProcessor creates a new processor.
func NewProcessor(log *zap.Logger, deps Dependencies, config Config) *Processor {
	senders := map[message.Channel]gateway.ChannelSender{}
	for _, sender := range deps.Senders {
		senders[sender.Channel()] = sender
	}

	return &Processor{
		log:     log,
		deps:    deps,
		config:  config,
		senders: senders,
		nowFn:   time.Now,
	}
}

// TestSetNow replaces the clock of the processor.
func (processor *Processor) TestSetNow(now func() time.Time) {
	processor.nowFn = now
}

func (processor *Processor) now() time.Time {
	return processor.nowFn().UTC()
}

// Process executes a job. Skips are logged and reported as success, so that
// the queue does not retry them. Any other error is returned for the queue
// to retry. A payload that cannot be decoded never succeeds and is skipped.
func (processor *Processor) Process(ctx context.Context, job jobs.Job) (err error) {
	defer mon.Task()(&ctx)(&err)

	payload, decodeErr := job.Decode()

	switch payload := payload.(type) {
	case nil:
		processor.log.Error("undecodable job",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Error(decodeErr))
		err = notifyerr.Skip("undecodable payload", decodeErr)
	case *jobs.ScheduledSend:
		err = processor.scheduledSend(ctx, job, payload)
	case *jobs.BulkSend:
		err = processor.bulkSend(ctx, job, payload)
	case *jobs.TopicBroadcast:
		err = processor.topicBroadcast(ctx, job, payload)
	case *jobs.Cleanup:
		err = processor.cleanup(ctx, payload)
	case *jobs.Retry:
		err = processor.retry(ctx, job, payload)
	default:
		err = notifyerr.Skip("unhandled job kind", notifyerr.Validation.New("unhandled job kind %q", job.Kind))
	}

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempt),
		zap.Int("recipient_count", recipientCount(payload)),
	}

	switch {
	case err == nil:
		mon.Counter("job_succeeded", monkit.NewSeriesTag("kind", string(job.Kind))).Inc(1)
		processor.log.Debug("job processed", fields...)
	case notifyerr.IsSkip(err):
		mon.Counter("job_skipped", monkit.NewSeriesTag("kind", string(job.Kind))).Inc(1)
		processor.log.Warn("job skipped", append(fields, zap.String("reason", notifyerr.SkipReason(err)))...)
		processor.Abandon(ctx, job)
	default:
		mon.Counter("job_failed", monkit.NewSeriesTag("kind", string(job.Kind))).Inc(1)
		processor.log.Error("job failed", append(fields, zap.Error(err))...)
		return err
	}

	return nil
}

// Abandon releases the delivery ledger of a job that reached a terminal
// state without success, either skipped or given up by the queue.
func (processor *Processor) Abandon(ctx context.Context, job jobs.Job) {
	key := job.ID
	if job.Kind == jobs.KindRetry {
		if payload, err := job.Decode(); err == nil {
			key = payload.(*jobs.Retry).OriginJobID
		}
	}
	if err := processor.clearLedger(ctx, key); err != nil {
		processor.log.Warn("failed to clear delivery ledger", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (processor *Processor) clearLedger(ctx context.Context, key string) error {
	if processor.deps.Ledger == nil || key == "" {
		return nil
	}
	return processor.deps.Ledger.Clear(ctx, key)
}

func (processor *Processor) scheduledSend(ctx context.Context, job jobs.Job, payload *jobs.ScheduledSend) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := processor.checkSchedule(ctx, payload.ScheduleID, payload.Occurrence); err != nil {
		return err
	}

	template, err := processor.deps.Templates.ResolveActive(ctx, payload.TemplateName)
	if err != nil {
		if notifyerr.NotFound.Has(err) {
			processor.endSchedule(ctx, payload.ScheduleID, payload.Occurrence)
			return notifyerr.Skip("template "+payload.TemplateName+" is not active", err)
		}
		return err
	}

	content := templates.Render(template, payload.Variables)
	if payload.Priority != "" {
		content.Priority = payload.Priority
	}

	sendErr := processor.send(ctx, job, sendRequest{
		Type:       template.Name,
		Category:   firstNonEmpty(payload.Category, template.Category),
		Content:    content,
		Recipients: payload.Recipients,
	})
	if sendErr != nil && !notifyerr.IsSkip(sendErr) {
		return sendErr
	}

	if err := processor.reschedule(ctx, job, payload.ScheduleID, payload.Occurrence, payload.Repeat, func(next time.Time) jobs.Payload {
		successor := *payload
		successor.Occurrence = next
		return &successor
	}); err != nil {
		return err
	}
	return sendErr
}

func (processor *Processor) bulkSend(ctx context.Context, job jobs.Job, payload *jobs.BulkSend) (err error) {
	defer mon.Task()(&ctx)(&err)

	now := processor.now()
	if payload.ScheduledAt != nil && payload.ScheduledAt.After(now.Add(time.Second)) {
		// handed out before its time, put it back
		deferred, err := jobs.NewWithID("at:"+job.ID, payload)
		if err != nil {
			return err
		}
		return Error.Wrap(processor.deps.Queue.Enqueue(ctx, deferred, jobs.EnqueueOptions{ScheduledAt: payload.ScheduledAt}))
	}

	template, err := processor.deps.Templates.Get(ctx, payload.TemplateID)
	if err != nil {
		if notifyerr.NotFound.Has(err) {
			return notifyerr.Skip("template "+payload.TemplateID.String()+" does not exist", err)
		}
		return err
	}
	if !template.IsActive {
		return notifyerr.Skip("template "+template.Name+" is not active", nil)
	}

	content := templates.Render(template, payload.Variables)
	if payload.Priority != "" {
		content.Priority = payload.Priority
	}

	return processor.send(ctx, job, sendRequest{
		Type:       template.Name,
		Category:   firstNonEmpty(payload.Category, template.Category),
		Content:    content,
		Recipients: payload.Recipients,
	})
}

// topicSentKey marks a delivered broadcast in the ledger.
const topicSentKey = "topic"

func (processor *Processor) topicBroadcast(ctx context.Context, job jobs.Job, payload *jobs.TopicBroadcast) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := processor.checkSchedule(ctx, payload.ScheduleID, payload.Occurrence); err != nil {
		return err
	}

	var content message.Content
	if payload.Content != nil {
		content = *payload.Content
		if content.Priority == "" {
			content.Priority = message.PriorityNormal
		}
	} else {
		template, err := processor.deps.Templates.ResolveActive(ctx, payload.TemplateName)
		if err != nil {
			if notifyerr.NotFound.Has(err) {
				processor.endSchedule(ctx, payload.ScheduleID, payload.Occurrence)
				return notifyerr.Skip("template "+payload.TemplateName+" is not active", err)
			}
			return err
		}
		content = templates.Render(template, payload.Variables)
	}

	if processor.deps.Gateway == nil {
		return notifyerr.Skip("no push transport for topic "+payload.Topic, nil)
	}

	delivered := map[string]bool{}
	if processor.deps.Ledger != nil {
		delivered, err = processor.deps.Ledger.Delivered(ctx, job.ID)
		if err != nil {
			return err
		}
	}

	if !delivered[topicSentKey] {
		messageID, err := processor.deps.Gateway.SendToTopic(ctx, payload.Topic, content)
		if err != nil {
			return notifyerr.Delivery.Wrap(err)
		}
		if processor.deps.Ledger != nil {
			if err := processor.deps.Ledger.Save(ctx, job.ID, map[string]bool{topicSentKey: true}); err != nil {
				return err
			}
		}
		mon.Counter("topic_broadcasts").Inc(1)
		processor.log.Info("topic broadcast sent",
			zap.String("job_id", job.ID),
			zap.String("topic", payload.Topic),
			zap.String("message_id", messageID))
	}

	err = processor.reschedule(ctx, job, payload.ScheduleID, payload.Occurrence, payload.Repeat, func(next time.Time) jobs.Payload {
		successor := *payload
		successor.Occurrence = next
		return &successor
	})
	if err != nil {
		return err
	}
	return processor.clearLedger(ctx, job.ID)
}

func (processor *Processor) cleanup(ctx context.Context, payload *jobs.Cleanup) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := processor.deps.Devices.SweepInactive(ctx, payload.MaxAgeDays)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Int("max_age_days", payload.MaxAgeDays),
		zap.Int("removed", result.Removed),
		zap.Int("errors", len(result.Errors)),
	}
	if len(result.Errors) > 0 {
		processor.log.Warn("inactive token sweep finished with errors", append(fields, zap.Error(errs.Combine(result.Errors...)))...)
		return nil
	}
	processor.log.Info("inactive token sweep finished", fields...)
	return nil
}

// checkSchedule verifies that the owning schedule is still active and that
// the job is its planned occurrence. Jobs of cancelled or superseded chains
// are skipped.
func (processor *Processor) checkSchedule(ctx context.Context, scheduleID *uuid.UUID, occurrence time.Time) error {
	if scheduleID == nil {
		return nil
	}

	owner, err := processor.deps.Schedules.Get(ctx, *scheduleID)
	if err != nil {
		return err
	}
	if !owner.Active {
		return notifyerr.Skip("schedule "+scheduleID.String()+" is cancelled", nil)
	}
	if owner.NextRunAt != nil && !owner.NextRunAt.Equal(occurrence) {
		return notifyerr.Skip("occurrence superseded", nil)
	}
	return nil
}

// reschedule enqueues the next occurrence of a repeating job and records the
// run on the owning schedule. The successor id is derived from the schedule
// and the occurrence, so a redelivered job does not create a second chain.
func (processor *Processor) reschedule(ctx context.Context, job jobs.Job, scheduleID *uuid.UUID, occurrence time.Time, repeat schedule.Repeat, successor func(next time.Time) jobs.Payload) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !repeat.IsRecurring() {
		if scheduleID != nil {
			return Error.Wrap(processor.deps.Schedules.RecordRun(ctx, *scheduleID, processor.now(), nil))
		}
		return nil
	}

	now := processor.now()
	after := occurrence
	if now.After(after) {
		// missed occurrences are not caught up
		after = now
	}

	next, ok := schedule.NextOccurrence(occurrence, repeat, after)
	if !ok {
		processor.log.Info("repeat chain finished", zap.String("job_id", job.ID))
		if scheduleID != nil {
			return Error.Wrap(processor.deps.Schedules.RecordRun(ctx, *scheduleID, now, nil))
		}
		return nil
	}

	var id string
	if scheduleID != nil {
		id = jobs.OccurrenceJobID(*scheduleID, next)
	} else {
		id = job.ID + "@" + next.UTC().Format(time.RFC3339)
	}

	nextJob, err := jobs.NewWithID(id, successor(next))
	if err != nil {
		return err
	}
	if err := processor.deps.Queue.Enqueue(ctx, nextJob, jobs.EnqueueOptions{ScheduledAt: &next}); err != nil {
		return Error.Wrap(err)
	}

	if scheduleID != nil {
		if err := processor.deps.Schedules.RecordRun(ctx, *scheduleID, now, &next); err != nil {
			return Error.Wrap(err)
		}
	}

	mon.Counter("repeat_enqueued").Inc(1)
	processor.log.Debug("next occurrence enqueued",
		zap.String("job_id", job.ID),
		zap.String("next_job_id", id),
		zap.Time("next", next))
	return nil
}

// endSchedule terminates the chain of a schedule whose template disappeared.
func (processor *Processor) endSchedule(ctx context.Context, scheduleID *uuid.UUID, occurrence time.Time) {
	if scheduleID == nil {
		return
	}
	if err := processor.deps.Schedules.RecordRun(ctx, *scheduleID, occurrence, nil); err != nil {
		processor.log.Warn("failed to end schedule", zap.Stringer("schedule_id", *scheduleID), zap.Error(err))
	}
}

func recipientCount(payload jobs.Payload) int {
	switch payload := payload.(type) {
	case *jobs.ScheduledSend:
		return len(payload.Recipients)
	case *jobs.BulkSend:
		return len(payload.Recipients)
	case *jobs.Retry:
		return len(payload.NotificationIDs)
	default:
		return 0
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
