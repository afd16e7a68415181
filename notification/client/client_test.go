// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package client_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification"
	"github.com/StorXNetwork/StorXNotify/notification/client"
	"github.com/StorXNetwork/StorXNotify/notification/jobs"
	"github.com/StorXNetwork/StorXNotify/notification/jobs/jobstest"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notificationdb/notificationdbtest"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
	"github.com/StorXNetwork/StorXNotify/notification/records"
	"github.com/StorXNetwork/StorXNotify/notification/schedule"
	"github.com/StorXNetwork/StorXNotify/notification/templates"
)

var now = time.Date(2024, 1, 31, 8, 30, 0, 0, time.UTC)

func setup(ctx *testcontext.Context, t *testing.T, db notification.DB) (*client.Client, *jobstest.Queue, templates.Template) {
	log := zaptest.NewLogger(t)

	service := templates.NewService(log.Named("templates"), db.Templates())
	template, err := service.Save(ctx, templates.Template{
		Name:          "reminder",
		TitleTemplate: "Reminder for {{name}}",
		BodyTemplate:  "Your backup is due",
	})
	require.NoError(t, err)
	require.NoError(t, service.Activate(ctx, template.ID))
	template.IsActive = true

	queue := jobstest.NewQueue()
	queue.TestSetNow(func() time.Time { return now })

	c := client.New(log, queue, db.Schedules(), service, db.Notifications())
	c.TestSetNow(func() time.Time { return now })
	return c, queue, template
}

func recipients() []jobs.Recipient {
	return []jobs.Recipient{{UserID: testrand.UUID(), CompanyID: testrand.UUID()}}
}

func TestSend(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		c, queue, _ := setup(ctx, t, db)

		_, err := c.Send(ctx, client.SendRequest{TemplateName: "reminder", Recipients: recipients()})
		require.True(t, notifyerr.Validation.Has(err), "missing variable")

		_, err = c.Send(ctx, client.SendRequest{TemplateName: "unknown", Recipients: recipients(), Variables: map[string]interface{}{"name": "x"}})
		require.True(t, notifyerr.NotFound.Has(err))

		_, err = c.Send(ctx, client.SendRequest{TemplateName: "reminder", Variables: map[string]interface{}{"name": "x"}})
		require.True(t, notifyerr.Validation.Has(err), "no recipients")

		_, err = c.Send(ctx, client.SendRequest{
			TemplateName: "reminder",
			Recipients:   recipients(),
			Variables:    map[string]interface{}{"name": "x"},
			Priority:     "loud",
		})
		require.True(t, notifyerr.Validation.Has(err), "unknown priority")
		require.Empty(t, queue.Pending())

		at := now.Add(time.Hour)
		id, err := c.Send(ctx, client.SendRequest{
			TemplateName: "reminder",
			Recipients:   recipients(),
			Variables:    map[string]interface{}{"name": "Ada"},
			At:           &at,
		})
		require.NoError(t, err)

		pending := queue.Pending()
		require.Len(t, pending, 1)
		require.Equal(t, id, pending[0].Job.ID)
		require.Equal(t, jobs.KindScheduledSend, pending[0].Job.Kind)
		require.True(t, pending[0].ReadyAt.Equal(at))
	})
}

func TestBulkSend(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		c, queue, template := setup(ctx, t, db)

		_, err := c.BulkSend(ctx, client.BulkSendRequest{TemplateID: testrand.UUID(), Recipients: recipients()})
		require.True(t, notifyerr.NotFound.Has(err))

		scheduled := now.Add(2 * time.Hour)
		id, err := c.BulkSend(ctx, client.BulkSendRequest{
			TemplateID:  template.ID,
			Recipients:  recipients(),
			Variables:   map[string]interface{}{"name": "team"},
			ScheduledAt: &scheduled,
		})
		require.NoError(t, err)

		pending := queue.Pending()
		require.Len(t, pending, 1)
		require.Equal(t, id, pending[0].Job.ID)
		require.True(t, pending[0].ReadyAt.Equal(scheduled))

		payload, err := pending[0].Job.Decode()
		require.NoError(t, err)
		require.Equal(t, template.ID, payload.(*jobs.BulkSend).TemplateID)
	})
}

func TestBroadcast(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		c, queue, _ := setup(ctx, t, db)

		_, err := c.Broadcast(ctx, client.BroadcastRequest{Topic: "news"})
		require.True(t, notifyerr.Validation.Has(err))

		_, err = c.Broadcast(ctx, client.BroadcastRequest{Topic: " ", Content: &message.Content{Title: "x"}})
		require.True(t, notifyerr.Validation.Has(err))

		_, err = c.Broadcast(ctx, client.BroadcastRequest{Topic: "news", TemplateName: "reminder"})
		require.True(t, notifyerr.Validation.Has(err), "missing variable")

		_, err = c.Broadcast(ctx, client.BroadcastRequest{Topic: "news", Content: &message.Content{Title: "Release", Body: "v2 is out"}})
		require.NoError(t, err)
		require.Len(t, queue.Pending(), 1)
	})
}

func TestScheduleRecurring(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		c, queue, _ := setup(ctx, t, db)
		users := recipients()

		_, err := c.ScheduleRecurring(ctx, client.RecurringRequest{
			TemplateName: "reminder",
			Recipients:   users,
			Variables:    map[string]interface{}{"name": "Ada"},
		})
		require.True(t, notifyerr.Validation.Has(err), "no repeat rule")

		created, err := c.ScheduleRecurring(ctx, client.RecurringRequest{
			Name:         "monthly reminder",
			TemplateName: "reminder",
			Recipients:   users,
			Variables:    map[string]interface{}{"name": "Ada"},
			Repeat:       schedule.Repeat{Rule: schedule.RuleMonthly},
		})
		require.NoError(t, err)
		require.Equal(t, 31, created.Repeat.DayOfMonth)
		require.Equal(t, jobs.KindScheduledSend, created.Kind)
		require.True(t, created.NextRunAt.Equal(now))

		stored, err := db.Schedules().Get(ctx, created.ID)
		require.NoError(t, err)
		require.True(t, stored.Active)
		require.Equal(t, "monthly reminder", stored.Name)

		pending := queue.Pending()
		require.Len(t, pending, 1)
		require.Equal(t, jobs.OccurrenceJobID(created.ID, now), pending[0].Job.ID)

		payload, err := pending[0].Job.Decode()
		require.NoError(t, err)
		send := payload.(*jobs.ScheduledSend)
		require.Equal(t, created.ID, *send.ScheduleID)
		require.True(t, send.Occurrence.Equal(now))
		require.Equal(t, 31, send.Repeat.DayOfMonth)

		// a start in the past begins at the next occurrence
		past, err := c.ScheduleRecurring(ctx, client.RecurringRequest{
			Topic:   "digest",
			Content: &message.Content{Title: "Daily digest"},
			Start:   now.Add(-30 * time.Minute),
			Repeat:  schedule.Repeat{Rule: schedule.RuleDaily},
		})
		require.NoError(t, err)
		require.Equal(t, jobs.KindTopicBroadcast, past.Kind)
		require.True(t, past.NextRunAt.Equal(now.Add(-30*time.Minute).AddDate(0, 0, 1)))

		// the first occurrence falls on the rule, not on the creation day
		friday, err := c.ScheduleRecurring(ctx, client.RecurringRequest{
			Topic:   "digest",
			Content: &message.Content{Title: "Weekly digest"},
			Repeat:  schedule.Repeat{Rule: schedule.RuleWeekly, Weekdays: []time.Weekday{time.Friday}},
		})
		require.NoError(t, err)
		fridayAt := time.Date(2024, time.February, 2, 8, 30, 0, 0, time.UTC)
		require.Equal(t, time.Friday, fridayAt.Weekday())
		require.True(t, friday.NextRunAt.Equal(fridayAt), friday.NextRunAt.String())

		fifteenth, err := c.ScheduleRecurring(ctx, client.RecurringRequest{
			Topic:   "digest",
			Content: &message.Content{Title: "Monthly digest"},
			Repeat:  schedule.Repeat{Rule: schedule.RuleMonthly, DayOfMonth: 15},
		})
		require.NoError(t, err)
		fifteenthAt := time.Date(2024, time.February, 15, 8, 30, 0, 0, time.UTC)
		require.True(t, fifteenth.NextRunAt.Equal(fifteenthAt), fifteenth.NextRunAt.String())

		var occurrences []time.Time
		for _, entry := range queue.Pending() {
			payload, err := entry.Job.Decode()
			require.NoError(t, err)
			if broadcast, ok := payload.(*jobs.TopicBroadcast); ok && broadcast.ScheduleID != nil &&
				(*broadcast.ScheduleID == friday.ID || *broadcast.ScheduleID == fifteenth.ID) {
				occurrences = append(occurrences, broadcast.Occurrence)
				require.True(t, entry.ReadyAt.Equal(broadcast.Occurrence))
			}
		}
		require.Len(t, occurrences, 2)

		// the repeat ends before it starts
		end := now.Add(-time.Hour)
		_, err = c.ScheduleRecurring(ctx, client.RecurringRequest{
			Topic:   "digest",
			Content: &message.Content{Title: "Daily digest"},
			Start:   now.Add(-48 * time.Hour),
			Repeat:  schedule.Repeat{Rule: schedule.RuleDaily, EndDate: &end},
		})
		require.True(t, notifyerr.Validation.Has(err))

		require.NoError(t, c.CancelSchedule(ctx, created.ID))
		stored, err = db.Schedules().Get(ctx, created.ID)
		require.NoError(t, err)
		require.False(t, stored.Active)

		require.True(t, notifyerr.NotFound.Has(c.CancelSchedule(ctx, testrand.UUID())))
	})
}

func TestCleanupInactive(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		c, queue, _ := setup(ctx, t, db)

		_, err := c.CleanupInactive(ctx, 0)
		require.True(t, notifyerr.Validation.Has(err))

		_, err = c.CleanupInactive(ctx, 30)
		require.NoError(t, err)
		require.Len(t, queue.Pending(), 1)
	})
}

func TestRetryFailed(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		c, queue, _ := setup(ctx, t, db)

		insert := func(state records.DeliveryState) uuid.UUID {
			record := records.Notification{
				ID:        testrand.UUID(),
				UserID:    testrand.UUID(),
				CompanyID: testrand.UUID(),
				JobID:     "job",
				Title:     "Hello",
				Priority:  message.PriorityNormal,
				Status:    records.StatusUnread,
				Delivery:  records.Delivery{State: state},
				CreatedAt: now,
			}
			_, err := db.Notifications().Insert(ctx, record)
			require.NoError(t, err)
			return record.ID
		}

		failed := insert(records.DeliveryFailed)
		partial := insert(records.DeliveryPartial)
		sent := insert(records.DeliverySent)

		_, err := c.RetryFailed(ctx, nil)
		require.True(t, notifyerr.Validation.Has(err))

		_, err = c.RetryFailed(ctx, []uuid.UUID{failed, sent})
		require.True(t, notifyerr.Validation.Has(err))

		_, err = c.RetryFailed(ctx, []uuid.UUID{testrand.UUID()})
		require.True(t, notifyerr.NotFound.Has(err))
		require.Empty(t, queue.Pending())

		id, err := c.RetryFailed(ctx, []uuid.UUID{failed, partial})
		require.NoError(t, err)

		pending := queue.Pending()
		require.Len(t, pending, 1)
		require.Equal(t, id, pending[0].Job.ID)

		payload, err := pending[0].Job.Decode()
		require.NoError(t, err)
		require.Equal(t, []uuid.UUID{failed, partial}, payload.(*jobs.Retry).NotificationIDs)
	})
}

func TestCleanupChore(t *testing.T) {
	ctx := testcontext.New(t)
	queue := jobstest.NewQueue()

	chore := client.NewCleanupChore(zaptest.NewLogger(t), queue, client.CleanupConfig{
		Interval:   time.Hour,
		MaxAgeDays: 30,
	})

	clock := now
	chore.TestSetNow(func() time.Time { return clock })

	first, err := chore.Enqueue(ctx)
	require.NoError(t, err)

	clock = clock.Add(10 * time.Minute)
	second, err := chore.Enqueue(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, queue.Pending(), 1)

	clock = clock.Add(time.Hour)
	third, err := chore.Enqueue(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
	require.Len(t, queue.Pending(), 2)
}
