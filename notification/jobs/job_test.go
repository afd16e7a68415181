// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package jobs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testrand"
	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/jobs"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
	"github.com/StorXNetwork/StorXNotify/notification/schedule"
)

func TestJobDecode(t *testing.T) {
	scheduleID := testrand.UUID()
	occurrence := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

	payloads := []jobs.Payload{
		&jobs.ScheduledSend{
			TemplateName: "reminder",
			Recipients:   []jobs.Recipient{{UserID: testrand.UUID(), CompanyID: testrand.UUID()}},
			Variables:    map[string]interface{}{"name": "Ana"},
			Priority:     message.PriorityHigh,
			ScheduleID:   &scheduleID,
			Occurrence:   occurrence,
			Repeat:       schedule.Repeat{Rule: schedule.RuleWeekly, Weekdays: []time.Weekday{time.Wednesday}},
		},
		&jobs.BulkSend{
			TemplateID: testrand.UUID(),
			Recipients: []jobs.Recipient{{UserID: testrand.UUID()}},
		},
		&jobs.TopicBroadcast{
			Topic:   "news",
			Content: &message.Content{Title: "t", Body: "b"},
		},
		&jobs.Cleanup{MaxAgeDays: 30},
		&jobs.Retry{NotificationIDs: []uuid.UUID{testrand.UUID()}, OriginJobID: "origin", Round: 2},
	}

	for _, payload := range payloads {
		job, err := jobs.New(payload)
		require.NoError(t, err)
		require.NotEmpty(t, job.ID)
		require.Equal(t, payload.Kind(), job.Kind)

		decoded, err := job.Decode()
		require.NoError(t, err)
		require.Equal(t, payload, decoded)
	}
}

func TestJobDecodeUnknownKind(t *testing.T) {
	_, err := jobs.Job{ID: "x", Kind: "mystery", Payload: []byte(`{}`)}.Decode()
	require.True(t, notifyerr.Validation.Has(err))

	_, err = jobs.Job{ID: "x", Kind: jobs.KindCleanup, Payload: []byte(`{`)}.Decode()
	require.True(t, notifyerr.Validation.Has(err))
}

func TestPayloadValidation(t *testing.T) {
	user := jobs.Recipient{UserID: testrand.UUID()}

	invalid := []jobs.Payload{
		&jobs.ScheduledSend{Recipients: []jobs.Recipient{user}},
		&jobs.ScheduledSend{TemplateName: "x", Recipients: []jobs.Recipient{{}}},
		&jobs.ScheduledSend{TemplateName: "x", Repeat: schedule.Repeat{Rule: schedule.RuleDaily}},
		&jobs.ScheduledSend{TemplateName: "x", Occurrence: time.Now(), Repeat: schedule.Repeat{Rule: schedule.RuleDaily, Interval: -2}},
		&jobs.ScheduledSend{TemplateName: "x", Priority: "loud"},
		&jobs.BulkSend{},
		&jobs.TopicBroadcast{TemplateName: "x"},
		&jobs.TopicBroadcast{Topic: "news"},
		&jobs.TopicBroadcast{Topic: "news", TemplateName: "x", Content: &message.Content{}},
		&jobs.Cleanup{},
		&jobs.Retry{},
		&jobs.Retry{NotificationIDs: []uuid.UUID{{}}},
	}
	for _, payload := range invalid {
		_, err := jobs.New(payload)
		require.Error(t, err, "%T", payload)
		require.True(t, notifyerr.Validation.Has(err))
	}

	// an empty recipient list is valid, processing skips it
	_, err := jobs.New(&jobs.BulkSend{TemplateID: testrand.UUID()})
	require.NoError(t, err)
}

func TestDeterministicIDs(t *testing.T) {
	id := testrand.UUID()
	at := time.Date(2024, time.March, 6, 9, 0, 0, 0, time.UTC)

	require.Equal(t, jobs.OccurrenceJobID(id, at), jobs.OccurrenceJobID(id, at.In(time.FixedZone("x", 3600))))
	require.NotEqual(t, jobs.OccurrenceJobID(id, at), jobs.OccurrenceJobID(id, at.Add(time.Second)))
	require.Equal(t, "retry:origin:3", jobs.RetryJobID("origin", 3))
}

func TestEnqueueOptionsReadyAt(t *testing.T) {
	now := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	scheduled := now.Add(time.Hour)

	require.Equal(t, now, jobs.EnqueueOptions{}.ReadyAt(now))
	require.Equal(t, now.Add(time.Minute), jobs.EnqueueOptions{Delay: time.Minute}.ReadyAt(now))
	require.Equal(t, scheduled, jobs.EnqueueOptions{Delay: time.Minute, ScheduledAt: &scheduled}.ReadyAt(now))
}
