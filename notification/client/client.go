// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package client turns caller requests into notification jobs. Requests are
// validated before anything is enqueued, so callers get validation and
// lookup errors directly.
package client

import (
	"context"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/jobs"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
	"github.com/StorXNetwork/StorXNotify/notification/records"
	"github.com/StorXNetwork/StorXNotify/notification/schedule"
	"github.com/StorXNetwork/StorXNotify/notification/templates"
)

var mon = monkit.Package()

// Error is the default client error class.
var Error = errs.Class("client")

// SendRequest sends an active template, looked up by name, to recipients.
type SendRequest struct {
	TemplateName string
	Recipients   []jobs.Recipient
	Variables    map[string]interface{}
	Category     string
	Priority     message.Priority
	// At delays the send, nil sends as soon as possible.
	At *time.Time
}

// BulkSendRequest sends a template, looked up by id, to many recipients.
type BulkSendRequest struct {
	TemplateID  uuid.UUID
	Recipients  []jobs.Recipient
	Variables   map[string]interface{}
	Category    string
	Priority    message.Priority
	ScheduledAt *time.Time
}

// BroadcastRequest sends to the subscribers of a topic. Exactly one of
// TemplateName and Content is set.
type BroadcastRequest struct {
	Topic        string
	TemplateName string
	Variables    map[string]interface{}
	Content      *message.Content
}

// RecurringRequest creates a repeating send or broadcast. Topic selects a
// broadcast, otherwise the template is sent to Recipients.
type RecurringRequest struct {
	Name         string
	TemplateName string
	Recipients   []jobs.Recipient
	Variables    map[string]interface{}
	Category     string
	Priority     message.Priority

	Topic   string
	Content *message.Content

	// Start is the first occurrence, zero means now.
	Start  time.Time
	Repeat schedule.Repeat
}

// Client is the caller facing API of the notification engine.
//
// architecture: Service
type Client struct {
	log       *zap.Logger
	queue     jobs.Queue
	schedules jobs.ScheduleDB
	templates *templates.Service
	records   records.DB

	nowFn func() time.Time
}

// New creates a new client.
func New(log *zap.Logger, queue jobs.Queue, schedules jobs.ScheduleDB, templates *templates.Service, records records.DB) *Client {
	return &Client{
		log:       log,
		queue:     queue,
		schedules: schedules,
		templates: templates,
		records:   records,
		nowFn:     time.Now,
	}
}

// TestSetNow replaces the clock of the client.
func (client *Client) TestSetNow(now func() time.Time) {
	client.nowFn = now
}

func (client *Client) now() time.Time {
	return client.nowFn().UTC()
}

// Send enqueues a send of the active template with the given name.
func (client *Client) Send(ctx context.Context, req SendRequest) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(req.Recipients) == 0 {
		return "", notifyerr.Validation.New("at least one recipient is required")
	}

	template, err := client.templates.ResolveActive(ctx, req.TemplateName)
	if err != nil {
		return "", err
	}
	if err := checkVariables(template, req.Variables); err != nil {
		return "", err
	}

	job, err := jobs.New(&jobs.ScheduledSend{
		TemplateName: req.TemplateName,
		Recipients:   req.Recipients,
		Variables:    req.Variables,
		Category:     req.Category,
		Priority:     req.Priority,
	})
	if err != nil {
		return "", err
	}

	return client.enqueue(ctx, job, jobs.EnqueueOptions{ScheduledAt: req.At})
}

// BulkSend enqueues a send of the template with the given id. A ScheduledAt in
// the future postpones the job.
func (client *Client) BulkSend(ctx context.Context, req BulkSendRequest) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(req.Recipients) == 0 {
		return "", notifyerr.Validation.New("at least one recipient is required")
	}

	template, err := client.templates.Get(ctx, req.TemplateID)
	if err != nil {
		return "", err
	}
	if !template.IsActive {
		return "", notifyerr.Validation.New("template %s is not active", template.ID)
	}
	if err := checkVariables(template, req.Variables); err != nil {
		return "", err
	}

	job, err := jobs.New(&jobs.BulkSend{
		TemplateID:  req.TemplateID,
		Recipients:  req.Recipients,
		Variables:   req.Variables,
		Category:    req.Category,
		Priority:    req.Priority,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		return "", err
	}

	return client.enqueue(ctx, job, jobs.EnqueueOptions{ScheduledAt: req.ScheduledAt})
}

// Broadcast enqueues a topic broadcast.
func (client *Client) Broadcast(ctx context.Context, req BroadcastRequest) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if req.TemplateName != "" {
		template, err := client.templates.ResolveActive(ctx, req.TemplateName)
		if err != nil {
			return "", err
		}
		if err := checkVariables(template, req.Variables); err != nil {
			return "", err
		}
	}

	job, err := jobs.New(&jobs.TopicBroadcast{
		Topic:        strings.TrimSpace(req.Topic),
		TemplateName: req.TemplateName,
		Variables:    req.Variables,
		Content:      req.Content,
	})
	if err != nil {
		return "", err
	}

	return client.enqueue(ctx, job, jobs.EnqueueOptions{})
}

// ScheduleRecurring stores a schedule and enqueues its first occurrence. The
// chain continues until the repeat ends or the schedule is cancelled.
func (client *Client) ScheduleRecurring(ctx context.Context, req RecurringRequest) (_ jobs.Schedule, err error) {
	defer mon.Task()(&ctx)(&err)

	if !req.Repeat.IsRecurring() {
		return jobs.Schedule{}, notifyerr.Validation.New("repeat rule is required")
	}
	if err := req.Repeat.Validate(); err != nil {
		return jobs.Schedule{}, err
	}

	now := client.now()
	start := req.Start
	if start.IsZero() {
		start = now
	}
	start = start.UTC().Truncate(time.Second)
	if req.Repeat.Rule == schedule.RuleMonthly && req.Repeat.DayOfMonth == 0 {
		req.Repeat.DayOfMonth = start.Day()
	}

	first, ok := schedule.FirstOccurrence(start, req.Repeat, now.Truncate(time.Second))
	if !ok {
		return jobs.Schedule{}, notifyerr.Validation.New("repeat ends before its first occurrence")
	}

	id, err := uuid.New()
	if err != nil {
		return jobs.Schedule{}, Error.Wrap(err)
	}

	var payload jobs.Payload
	if req.Topic != "" {
		if req.TemplateName != "" {
			if _, err := client.templates.ResolveActive(ctx, req.TemplateName); err != nil {
				return jobs.Schedule{}, err
			}
		}
		payload = &jobs.TopicBroadcast{
			Topic:        strings.TrimSpace(req.Topic),
			TemplateName: req.TemplateName,
			Variables:    req.Variables,
			Content:      req.Content,
			ScheduleID:   &id,
			Occurrence:   first,
			Repeat:       req.Repeat,
		}
	} else {
		if len(req.Recipients) == 0 {
			return jobs.Schedule{}, notifyerr.Validation.New("at least one recipient is required")
		}
		template, err := client.templates.ResolveActive(ctx, req.TemplateName)
		if err != nil {
			return jobs.Schedule{}, err
		}
		if err := checkVariables(template, req.Variables); err != nil {
			return jobs.Schedule{}, err
		}
		payload = &jobs.ScheduledSend{
			TemplateName: req.TemplateName,
			Recipients:   req.Recipients,
			Variables:    req.Variables,
			Category:     req.Category,
			Priority:     req.Priority,
			ScheduleID:   &id,
			Occurrence:   first,
			Repeat:       req.Repeat,
		}
	}

	job, err := jobs.NewWithID(jobs.OccurrenceJobID(id, first), payload)
	if err != nil {
		return jobs.Schedule{}, err
	}

	created := jobs.Schedule{
		ID:        id,
		Name:      req.Name,
		Kind:      payload.Kind(),
		Repeat:    req.Repeat,
		Anchor:    start,
		NextRunAt: &first,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := client.schedules.Create(ctx, created); err != nil {
		return jobs.Schedule{}, Error.Wrap(err)
	}

	if err := client.queue.Enqueue(ctx, job, jobs.EnqueueOptions{ScheduledAt: &first}); err != nil {
		return jobs.Schedule{}, errs.Combine(Error.Wrap(err), client.schedules.SetActive(ctx, id, false))
	}

	client.log.Info("recurring notification scheduled",
		zap.Stringer("schedule_id", id),
		zap.String("kind", string(created.Kind)),
		zap.String("rule", string(req.Repeat.Rule)),
		zap.Time("first", first))
	return created, nil
}

// CancelSchedule stops a repeat chain. Jobs already queued for the schedule
// are skipped when they run.
func (client *Client) CancelSchedule(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := client.schedules.Get(ctx, id); err != nil {
		if notifyerr.NotFound.Has(err) {
			return err
		}
		return Error.Wrap(err)
	}
	if err := client.schedules.SetActive(ctx, id, false); err != nil {
		return Error.Wrap(err)
	}

	client.log.Info("schedule cancelled", zap.Stringer("schedule_id", id))
	return nil
}

// CleanupInactive enqueues a sweep of inactive device tokens last used more
// than maxAgeDays ago.
func (client *Client) CleanupInactive(ctx context.Context, maxAgeDays int) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	job, err := jobs.New(&jobs.Cleanup{MaxAgeDays: maxAgeDays})
	if err != nil {
		return "", err
	}
	return client.enqueue(ctx, job, jobs.EnqueueOptions{})
}

// RetryFailed enqueues another delivery attempt for notifications whose
// delivery failed in full or in part.
func (client *Client) RetryFailed(ctx context.Context, ids []uuid.UUID) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(ids) == 0 {
		return "", notifyerr.Validation.New("notification ids are required")
	}

	for _, id := range ids {
		record, err := client.records.Get(ctx, id)
		if err != nil {
			if notifyerr.NotFound.Has(err) {
				return "", err
			}
			return "", Error.Wrap(err)
		}
		switch record.Delivery.State {
		case records.DeliveryFailed, records.DeliveryPartial:
		default:
			return "", notifyerr.Validation.New("notification %s was %s", id, record.Delivery.State)
		}
	}

	job, err := jobs.New(&jobs.Retry{NotificationIDs: ids, Round: 1})
	if err != nil {
		return "", err
	}
	return client.enqueue(ctx, job, jobs.EnqueueOptions{})
}

func (client *Client) enqueue(ctx context.Context, job jobs.Job, opts jobs.EnqueueOptions) (string, error) {
	if err := client.queue.Enqueue(ctx, job, opts); err != nil {
		return "", Error.Wrap(err)
	}

	mon.Counter("jobs_enqueued", monkit.NewSeriesTag("kind", string(job.Kind))).Inc(1)
	client.log.Debug("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)))
	return job.ID, nil
}

// checkVariables rejects requests that leave placeholders of the template
// without a value.
func checkVariables(template templates.Template, variables map[string]interface{}) error {
	if missing := templates.Missing(template, variables); len(missing) > 0 {
		return notifyerr.Validation.New("template %q is missing variables: %s", template.Name, strings.Join(missing, ", "))
	}
	return nil
}
