// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package jobs

import (
	"strings"
	"time"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
	"github.com/StorXNetwork/StorXNotify/notification/schedule"
)

// MaxRecipients is the maximum number of recipients of a single job.
const MaxRecipients = 10000

// Recipient addresses a user within a company.
type Recipient struct {
	UserID    uuid.UUID `json:"user_id"`
	CompanyID uuid.UUID `json:"company_id"`
}

// ScheduledSend sends the active template with the given name.
type ScheduledSend struct {
	TemplateName string                 `json:"template_name"`
	Recipients   []Recipient            `json:"recipients"`
	Variables    map[string]interface{} `json:"variables,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Priority     message.Priority       `json:"priority,omitempty"`

	// ScheduleID links the job to the schedule owning the repeat chain.
	ScheduleID *uuid.UUID `json:"schedule_id,omitempty"`
	// Occurrence is the planned time of this run and the anchor of the
	// next one.
	Occurrence time.Time       `json:"occurrence"`
	Repeat     schedule.Repeat `json:"repeat"`
}

// Kind implements Payload.
func (*ScheduledSend) Kind() Kind { return KindScheduledSend }

// Validate implements Payload.
func (payload *ScheduledSend) Validate() error {
	if strings.TrimSpace(payload.TemplateName) == "" {
		return notifyerr.Validation.New("template name is required")
	}
	if err := validateRecipients(payload.Recipients); err != nil {
		return err
	}
	if payload.Repeat.IsRecurring() && payload.Occurrence.IsZero() {
		return notifyerr.Validation.New("repeating sends need an occurrence time")
	}
	if err := validatePriority(payload.Priority); err != nil {
		return err
	}
	return payload.Repeat.Validate()
}

// BulkSend renders the template once and sends it to every recipient.
type BulkSend struct {
	TemplateID  uuid.UUID              `json:"template_id"`
	Recipients  []Recipient            `json:"recipients"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Priority    message.Priority       `json:"priority,omitempty"`
	ScheduledAt *time.Time             `json:"scheduled_at,omitempty"`
}

// Kind implements Payload.
func (*BulkSend) Kind() Kind { return KindBulkSend }

// Validate implements Payload.
func (payload *BulkSend) Validate() error {
	if payload.TemplateID.IsZero() {
		return notifyerr.Validation.New("template id is required")
	}
	if err := validatePriority(payload.Priority); err != nil {
		return err
	}
	return validateRecipients(payload.Recipients)
}

// TopicBroadcast sends to every subscriber of a topic. Content is either
// rendered from the named template or given directly.
type TopicBroadcast struct {
	Topic        string                 `json:"topic"`
	TemplateName string                 `json:"template_name,omitempty"`
	Variables    map[string]interface{} `json:"variables,omitempty"`
	Content      *message.Content       `json:"content,omitempty"`

	ScheduleID *uuid.UUID      `json:"schedule_id,omitempty"`
	Occurrence time.Time       `json:"occurrence"`
	Repeat     schedule.Repeat `json:"repeat"`
}

// Kind implements Payload.
func (*TopicBroadcast) Kind() Kind { return KindTopicBroadcast }

// Validate implements Payload.
func (payload *TopicBroadcast) Validate() error {
	if strings.TrimSpace(payload.Topic) == "" {
		return notifyerr.Validation.New("topic is required")
	}
	if (payload.TemplateName == "") == (payload.Content == nil) {
		return notifyerr.Validation.New("exactly one of template name and content is required")
	}
	if payload.Repeat.IsRecurring() && payload.Occurrence.IsZero() {
		return notifyerr.Validation.New("repeating broadcasts need an occurrence time")
	}
	return payload.Repeat.Validate()
}

// Cleanup removes device tokens inactive for longer than MaxAgeDays.
type Cleanup struct {
	MaxAgeDays int `json:"max_age_days"`
}

// Kind implements Payload.
func (*Cleanup) Kind() Kind { return KindCleanup }

// Validate implements Payload.
func (payload *Cleanup) Validate() error {
	if payload.MaxAgeDays <= 0 {
		return notifyerr.Validation.New("max age days must be positive, got %d", payload.MaxAgeDays)
	}
	return nil
}

// Retry re-attempts delivery of failed notifications.
type Retry struct {
	NotificationIDs []uuid.UUID `json:"notification_ids"`
	// OriginJobID is the job that created the notifications.
	OriginJobID string `json:"origin_job_id,omitempty"`
	// Round counts the retry jobs created for the origin job.
	Round int `json:"round"`
}

// Kind implements Payload.
func (*Retry) Kind() Kind { return KindRetry }

// Validate implements Payload.
func (payload *Retry) Validate() error {
	if len(payload.NotificationIDs) == 0 {
		return notifyerr.Validation.New("notification ids are required")
	}
	for _, id := range payload.NotificationIDs {
		if id.IsZero() {
			return notifyerr.Validation.New("zero notification id")
		}
	}
	return nil
}

func validateRecipients(recipients []Recipient) error {
	if len(recipients) > MaxRecipients {
		return notifyerr.Validation.New("too many recipients: %d > %d", len(recipients), MaxRecipients)
	}
	for _, recipient := range recipients {
		if recipient.UserID.IsZero() {
			return notifyerr.Validation.New("recipient without user id")
		}
	}
	return nil
}

func validatePriority(priority message.Priority) error {
	if priority == "" {
		return nil
	}
	_, err := message.ParsePriority(string(priority))
	return err
}
