// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package jobs defines the notification jobs, their payloads and the queue
// they travel through.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// Error is the default jobs error class.
var Error = errs.Class("jobs")

// Kind is the kind of a job.
type Kind string

const (
	// KindScheduledSend sends a named template to a list of recipients,
	// optionally repeating.
	KindScheduledSend Kind = "scheduled_send"
	// KindBulkSend sends a template referenced by id to many recipients.
	KindBulkSend Kind = "bulk_send"
	// KindTopicBroadcast sends to the subscribers of a topic.
	KindTopicBroadcast Kind = "topic_broadcast"
	// KindCleanup sweeps inactive device tokens.
	KindCleanup Kind = "cleanup"
	// KindRetry re-attempts previously failed notifications.
	KindRetry Kind = "retry"
)

// Payload is the kind specific content of a job.
type Payload interface {
	Kind() Kind
	Validate() error
}

// Job is a unit of work travelling through the queue.
type Job struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`

	// Attempt is set by the queue, starting at 1 for the first delivery.
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates a job with a random id.
func New(payload Payload) (Job, error) {
	id, err := uuid.New()
	if err != nil {
		return Job{}, Error.Wrap(err)
	}
	return NewWithID(id.String(), payload)
}

// NewWithID creates a job with the given id. Queues ignore a job whose id is
// already known, so deterministic ids make follow-up jobs idempotent.
func NewWithID(id string, payload Payload) (Job, error) {
	if id == "" {
		return Job{}, notifyerr.Validation.New("job id is required")
	}
	if err := payload.Validate(); err != nil {
		return Job{}, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, Error.Wrap(err)
	}

	return Job{
		ID:        id,
		Kind:      payload.Kind(),
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode decodes the payload of the job according to its kind.
func (job Job) Decode() (Payload, error) {
	var payload Payload
	switch job.Kind {
	case KindScheduledSend:
		payload = &ScheduledSend{}
	case KindBulkSend:
		payload = &BulkSend{}
	case KindTopicBroadcast:
		payload = &TopicBroadcast{}
	case KindCleanup:
		payload = &Cleanup{}
	case KindRetry:
		payload = &Retry{}
	default:
		return nil, notifyerr.Validation.New("unknown job kind %q", job.Kind)
	}

	if err := json.Unmarshal(job.Payload, payload); err != nil {
		return nil, notifyerr.Validation.New("decode %s payload: %v", job.Kind, err)
	}
	return payload, nil
}

// OccurrenceJobID is the id of the job executing a schedule at the given time.
func OccurrenceJobID(scheduleID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("sched:%s:%d", scheduleID, at.Unix())
}

// RetryJobID is the id of the n-th retry job of an original job.
func RetryJobID(originJobID string, attempt int) string {
	return fmt.Sprintf("retry:%s:%d", originJobID, attempt)
}
