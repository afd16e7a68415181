// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package dispatcher_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification"
	"github.com/StorXNetwork/StorXNotify/notification/devices"
	"github.com/StorXNetwork/StorXNotify/notification/dispatcher"
	"github.com/StorXNetwork/StorXNotify/notification/gateway"
	"github.com/StorXNetwork/StorXNotify/notification/gateway/gatewaytest"
	"github.com/StorXNetwork/StorXNotify/notification/jobs"
	"github.com/StorXNetwork/StorXNotify/notification/jobs/jobstest"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notificationdb/notificationdbtest"
	"github.com/StorXNetwork/StorXNotify/notification/preferences"
	"github.com/StorXNetwork/StorXNotify/notification/records"
	"github.com/StorXNetwork/StorXNotify/notification/schedule"
	"github.com/StorXNetwork/StorXNotify/notification/templates"
	"github.com/StorXNetwork/StorXNotify/private/kvstore/teststore"
)

type harness struct {
	t   *testing.T
	ctx *testcontext.Context
	db  notification.DB

	now time.Time

	queue     *jobstest.Queue
	gateway   *gatewaytest.Recorder
	email     *gatewaytest.ChannelRecorder
	directory *gatewaytest.Directory
	devices   *devices.Service
	templates *templates.Service
	processor *dispatcher.Processor
	worker    *dispatcher.Worker
}

func newHarness(ctx *testcontext.Context, t *testing.T, db notification.DB) *harness {
	log := zaptest.NewLogger(t)

	h := &harness{
		t:         t,
		ctx:       ctx,
		db:        db,
		now:       time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
		queue:     jobstest.NewQueue(),
		gateway:   gatewaytest.NewRecorder(),
		email:     gatewaytest.NewChannelRecorder(message.ChannelEmail),
		directory: gatewaytest.NewDirectory(),
	}
	clock := func() time.Time { return h.now }

	h.devices = devices.NewService(log.Named("devices"), db.DeviceTokens(), devices.Config{})
	h.templates = templates.NewService(log.Named("templates"), db.Templates())
	h.queue.TestSetNow(clock)

	config := dispatcher.Config{
		Workers:            2,
		PollInterval:       time.Second,
		JobTimeout:         time.Minute,
		RetryDelay:         5 * time.Minute,
		MaxDeliveryRetries: 2,
		RecordTTL:          24 * time.Hour,
	}

	h.processor = dispatcher.NewProcessor(log.Named("processor"), dispatcher.Dependencies{
		Queue:     h.queue,
		Schedules: db.Schedules(),
		Templates: h.templates,
		Devices:   h.devices,
		Preferences: preferences.NewService(log.Named("preferences"), db.Preferences(), preferences.Config{
			DefaultChannels: preferences.ChannelList{message.ChannelInApp, message.ChannelEmail, message.ChannelPush},
		}),
		Records:   db.Notifications(),
		Ledger:    dispatcher.NewLedger(teststore.New()),
		Gateway:   h.gateway,
		Directory: h.directory,
		Senders:   []gateway.ChannelSender{h.email},
	}, config)
	h.processor.TestSetNow(clock)

	h.worker = dispatcher.NewWorker(log.Named("worker"), h.queue, h.processor, config)
	return h
}

func (h *harness) token(name string) string {
	return name + strings.Repeat("x", 150-len(name))
}

func (h *harness) register(recipient jobs.Recipient, device string) devices.DeviceToken {
	token, err := h.devices.Register(h.ctx, devices.RegisterRequest{
		UserID:    recipient.UserID,
		CompanyID: recipient.CompanyID,
		Token:     h.token(device),
		Platform:  devices.PlatformAndroid,
		DeviceID:  device,
	})
	require.NoError(h.t, err)
	return token
}

func (h *harness) template(name string, active bool) templates.Template {
	template, err := h.templates.Save(h.ctx, templates.Template{
		Name:             name,
		Category:         "storage",
		TitleTemplate:    "Hello {{name}}",
		BodyTemplate:     "You used {{usage}} of your {{plan}} plan",
		DefaultVariables: map[string]interface{}{"plan": "free"},
	})
	require.NoError(h.t, err)
	if active {
		require.NoError(h.t, h.templates.Activate(h.ctx, template.ID))
		template.IsActive = true
	}
	return template
}

func (h *harness) enqueue(payload jobs.Payload) jobs.Job {
	job, err := jobs.New(payload)
	require.NoError(h.t, err)
	require.NoError(h.t, h.queue.Enqueue(h.ctx, job, jobs.EnqueueOptions{}))
	return job
}

func (h *harness) processNext() {
	ok, err := h.worker.ProcessNext(h.ctx)
	require.NoError(h.t, err)
	require.True(h.t, ok, "queue is empty")
}

func (h *harness) record(job jobs.Job, recipient jobs.Recipient) records.Notification {
	list, err := h.db.Notifications().List(h.ctx, recipient.UserID, records.ListFilter{Limit: 10})
	require.NoError(h.t, err)
	for _, record := range list {
		if record.JobID == job.ID {
			return record
		}
	}
	h.t.Fatalf("no record of job %s", job.ID)
	return records.Notification{}
}

func (h *harness) acked(id string) bool {
	for _, job := range h.queue.Acked() {
		if job.ID == id {
			return true
		}
	}
	return false
}

func pendingIDs(queue *jobstest.Queue) []string {
	var ids []string
	for _, entry := range queue.Pending() {
		ids = append(ids, entry.Job.ID)
	}
	return ids
}

func newRecipient() jobs.Recipient {
	return jobs.Recipient{UserID: testrand.UUID(), CompanyID: testrand.UUID()}
}

func TestBulkSendWithoutTargetsIsSkipped(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", true)
		recipient := newRecipient()

		job := h.enqueue(&jobs.BulkSend{TemplateID: template.ID, Recipients: []jobs.Recipient{recipient}})
		h.processNext()

		require.True(t, h.acked(job.ID))
		require.Empty(t, h.queue.Failures(job.ID))
		require.Empty(t, h.queue.Pending())
		require.Zero(t, h.gateway.Calls())

		list, err := db.Notifications().List(ctx, recipient.UserID, records.ListFilter{Limit: 10})
		require.NoError(t, err)
		require.Empty(t, list)
	})
}

func TestBulkSend(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", true)

		alice, bob := newRecipient(), newRecipient()
		aliceToken := h.register(alice, "alice-phone")
		h.directory.Set(bob.UserID, bob.CompanyID, message.ChannelEmail, "bob@example.com")

		job := h.enqueue(&jobs.BulkSend{
			TemplateID: template.ID,
			Recipients: []jobs.Recipient{alice, bob},
			Variables:  map[string]interface{}{"name": "there", "usage": "90%"},
			Priority:   message.PriorityHigh,
		})
		h.processNext()
		require.True(t, h.acked(job.ID))

		sent := h.gateway.SentTo(aliceToken.ID)
		require.Len(t, sent, 1)
		require.Equal(t, "Hello there", sent[0].Content.Title)
		require.Equal(t, "You used 90% of your free plan", sent[0].Content.Body)
		require.Equal(t, message.PriorityHigh, sent[0].Content.Priority)

		mails := h.email.SentTo("bob@example.com")
		require.Len(t, mails, 1)
		require.Equal(t, "Hello there", mails[0].Title)

		record := h.record(job, alice)
		require.Equal(t, records.StatusUnread, record.Status)
		require.Equal(t, records.DeliverySent, record.Delivery.State)
		require.Equal(t, 1, record.Delivery.SuccessCount)
		require.ElementsMatch(t, []message.Channel{message.ChannelInApp, message.ChannelPush}, record.Channels)
		require.Equal(t, "storage", record.Category)
		require.NotNil(t, record.ExpiresAt)
		require.True(t, record.ExpiresAt.Equal(h.now.Add(24*time.Hour)))

		record = h.record(job, bob)
		require.ElementsMatch(t, []message.Channel{message.ChannelInApp, message.ChannelEmail}, record.Channels)

		// a redelivered job does not create new records
		require.NoError(t, h.processor.Process(ctx, job))
		list, err := db.Notifications().List(ctx, alice.UserID, records.ListFilter{Limit: 10})
		require.NoError(t, err)
		require.Len(t, list, 1)
	})
}

func TestBulkSendInactiveTemplate(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", false)
		recipient := newRecipient()
		h.register(recipient, "phone")

		job := h.enqueue(&jobs.BulkSend{TemplateID: template.ID, Recipients: []jobs.Recipient{recipient}})
		h.processNext()

		require.True(t, h.acked(job.ID))
		require.Empty(t, h.queue.Failures(job.ID))
		require.Zero(t, h.gateway.Calls())

		missing := h.enqueue(&jobs.BulkSend{TemplateID: testrand.UUID(), Recipients: []jobs.Recipient{recipient}})
		h.processNext()
		require.True(t, h.acked(missing.ID))
		require.Empty(t, h.queue.Failures(missing.ID))
	})
}

func TestBulkSendScheduledLater(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", true)
		recipient := newRecipient()
		h.register(recipient, "phone")

		later := h.now.Add(time.Hour)
		job := h.enqueue(&jobs.BulkSend{
			TemplateID:  template.ID,
			Recipients:  []jobs.Recipient{recipient},
			ScheduledAt: &later,
		})
		h.processNext()

		require.True(t, h.acked(job.ID))
		require.Zero(t, h.gateway.Calls())

		pending := h.queue.Pending()
		require.Len(t, pending, 1)
		require.Equal(t, "at:"+job.ID, pending[0].Job.ID)
		require.True(t, pending[0].ReadyAt.Equal(later))

		h.now = later
		h.processNext()
		require.Equal(t, 1, h.gateway.Calls())
		require.Empty(t, h.queue.Pending())
	})
}

func TestScheduledSendRepeats(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		h.template("weekly-report", true)
		recipient := newRecipient()
		token := h.register(recipient, "phone")

		occurrence := h.now
		repeat := schedule.Repeat{Rule: schedule.RuleWeekly}
		scheduleID := testrand.UUID()
		require.NoError(t, db.Schedules().Create(ctx, jobs.Schedule{
			ID:        scheduleID,
			Kind:      jobs.KindScheduledSend,
			Repeat:    repeat,
			Anchor:    occurrence,
			NextRunAt: &occurrence,
			Active:    true,
		}))

		first, err := jobs.NewWithID(jobs.OccurrenceJobID(scheduleID, occurrence), &jobs.ScheduledSend{
			TemplateName: "weekly-report",
			Recipients:   []jobs.Recipient{recipient},
			Variables:    map[string]interface{}{"name": "Ada"},
			ScheduleID:   &scheduleID,
			Occurrence:   occurrence,
			Repeat:       repeat,
		})
		require.NoError(t, err)
		require.NoError(t, h.queue.Enqueue(ctx, first, jobs.EnqueueOptions{}))

		h.now = occurrence.Add(time.Minute)
		h.processNext()
		require.True(t, h.acked(first.ID))
		require.Len(t, h.gateway.SentTo(token.ID), 1)
		require.Equal(t, "Hello Ada", h.gateway.SentTo(token.ID)[0].Content.Title)

		next := occurrence.AddDate(0, 0, 7)
		pending := h.queue.Pending()
		require.Len(t, pending, 1)
		require.Equal(t, jobs.OccurrenceJobID(scheduleID, next), pending[0].Job.ID)
		require.True(t, pending[0].ReadyAt.Equal(next))

		stored, err := db.Schedules().Get(ctx, scheduleID)
		require.NoError(t, err)
		require.True(t, stored.NextRunAt.Equal(next))
		require.NotNil(t, stored.LastRunAt)

		// a redelivered occurrence is superseded and does not fork the chain
		require.NoError(t, h.processor.Process(ctx, first))
		require.Len(t, h.gateway.SentTo(token.ID), 1)
		require.Len(t, h.queue.Pending(), 1)

		h.now = next
		h.processNext()
		require.Len(t, h.gateway.SentTo(token.ID), 2)
		require.Equal(t, []string{jobs.OccurrenceJobID(scheduleID, next.AddDate(0, 0, 7))}, pendingIDs(h.queue))
	})
}

func TestScheduledSendCancelled(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		h.template("daily", true)
		recipient := newRecipient()
		h.register(recipient, "phone")

		occurrence := h.now
		scheduleID := testrand.UUID()
		require.NoError(t, db.Schedules().Create(ctx, jobs.Schedule{
			ID:        scheduleID,
			Kind:      jobs.KindScheduledSend,
			Repeat:    schedule.Repeat{Rule: schedule.RuleDaily},
			Anchor:    occurrence,
			NextRunAt: &occurrence,
			Active:    true,
		}))
		require.NoError(t, db.Schedules().SetActive(ctx, scheduleID, false))

		job := h.enqueue(&jobs.ScheduledSend{
			TemplateName: "daily",
			Recipients:   []jobs.Recipient{recipient},
			ScheduleID:   &scheduleID,
			Occurrence:   occurrence,
			Repeat:       schedule.Repeat{Rule: schedule.RuleDaily},
		})
		h.processNext()

		require.True(t, h.acked(job.ID))
		require.Zero(t, h.gateway.Calls())
		require.Empty(t, h.queue.Pending())
	})
}

func TestScheduledSendMissingTemplateEndsChain(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		recipient := newRecipient()

		occurrence := h.now
		scheduleID := testrand.UUID()
		require.NoError(t, db.Schedules().Create(ctx, jobs.Schedule{
			ID:        scheduleID,
			Kind:      jobs.KindScheduledSend,
			Repeat:    schedule.Repeat{Rule: schedule.RuleDaily},
			Anchor:    occurrence,
			NextRunAt: &occurrence,
			Active:    true,
		}))

		job := h.enqueue(&jobs.ScheduledSend{
			TemplateName: "gone",
			Recipients:   []jobs.Recipient{recipient},
			ScheduleID:   &scheduleID,
			Occurrence:   occurrence,
			Repeat:       schedule.Repeat{Rule: schedule.RuleDaily},
		})
		h.processNext()

		require.True(t, h.acked(job.ID))
		require.Empty(t, h.queue.Pending())

		stored, err := db.Schedules().Get(ctx, scheduleID)
		require.NoError(t, err)
		require.False(t, stored.Active)
	})
}

func TestScheduledSendWithoutRecipientsKeepsChain(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		h.template("daily", true)

		job := h.enqueue(&jobs.ScheduledSend{
			TemplateName: "daily",
			Occurrence:   h.now,
			Repeat:       schedule.Repeat{Rule: schedule.RuleDaily},
		})
		h.processNext()

		require.True(t, h.acked(job.ID))
		next := h.now.AddDate(0, 0, 1)
		require.Equal(t, []string{job.ID + "@" + next.Format(time.RFC3339)}, pendingIDs(h.queue))
	})
}

func TestUnregisteredTokensAreDeactivated(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", true)
		recipient := newRecipient()
		good := h.register(recipient, "phone")
		stale := h.register(recipient, "tablet")
		h.gateway.Unregister(stale.Token)

		job := h.enqueue(&jobs.BulkSend{TemplateID: template.ID, Recipients: []jobs.Recipient{recipient}})
		h.processNext()

		require.True(t, h.acked(job.ID))
		require.Len(t, h.gateway.SentTo(good.ID), 1)

		stored, err := h.devices.Get(ctx, stale.ID)
		require.NoError(t, err)
		require.False(t, stored.IsActive)

		record := h.record(job, recipient)
		require.Equal(t, records.DeliveryPartial, record.Delivery.State)
		require.Equal(t, 1, record.Delivery.SuccessCount)
		require.Equal(t, 1, record.Delivery.FailureCount)

		// unregistered tokens are not retried
		require.Empty(t, h.queue.Pending())
	})
}

func TestTransientFailureIsRetried(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", true)
		recipient := newRecipient()
		good := h.register(recipient, "phone")
		flaky := h.register(recipient, "tablet")
		h.gateway.Fail(flaky.Token, errTransient)

		job := h.enqueue(&jobs.BulkSend{TemplateID: template.ID, Recipients: []jobs.Recipient{recipient}})
		h.processNext()
		require.True(t, h.acked(job.ID))

		record := h.record(job, recipient)
		require.Equal(t, records.DeliveryPartial, record.Delivery.State)
		require.Equal(t, errTransient.Error(), record.Delivery.LastError)

		pending := h.queue.Pending()
		require.Len(t, pending, 1)
		require.Equal(t, jobs.RetryJobID(job.ID, 1), pending[0].Job.ID)
		require.True(t, pending[0].ReadyAt.Equal(h.now.Add(5*time.Minute)))

		h.gateway.Fail(flaky.Token, nil)
		h.now = h.now.Add(5 * time.Minute)
		h.processNext()

		// the token delivered in the first round is not sent again
		require.Len(t, h.gateway.SentTo(good.ID), 1)
		require.Len(t, h.gateway.SentTo(flaky.ID), 1)

		record = h.record(job, recipient)
		require.Equal(t, records.DeliverySent, record.Delivery.State)
		require.Equal(t, 1, record.Delivery.RetryCount)
		require.Equal(t, 2, record.Delivery.SuccessCount)
		require.Empty(t, h.queue.Pending())
	})
}

func TestRetryRoundsAreLimited(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", true)
		recipient := newRecipient()
		h.register(recipient, "phone")
		flaky := h.register(recipient, "tablet")
		h.gateway.Fail(flaky.Token, errTransient)

		job := h.enqueue(&jobs.BulkSend{TemplateID: template.ID, Recipients: []jobs.Recipient{recipient}})
		h.processNext()

		for round := 1; round <= 2; round++ {
			require.Equal(t, []string{jobs.RetryJobID(job.ID, round)}, pendingIDs(h.queue))
			h.now = h.now.Add(5 * time.Minute)
			h.processNext()
		}
		require.Empty(t, h.queue.Pending())

		record := h.record(job, recipient)
		require.Equal(t, 2, record.Delivery.RetryCount)
		require.Equal(t, records.DeliveryPartial, record.Delivery.State)
	})
}

func TestManualRetrySkipsDeliveredTargets(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", true)
		recipient := newRecipient()
		good := h.register(recipient, "phone")
		flaky := h.register(recipient, "tablet")
		h.gateway.Fail(flaky.Token, errTransient)

		job := h.enqueue(&jobs.BulkSend{TemplateID: template.ID, Recipients: []jobs.Recipient{recipient}})
		h.processNext()
		for round := 1; round <= 2; round++ {
			h.now = h.now.Add(5 * time.Minute)
			h.processNext()
		}
		require.Empty(t, h.queue.Pending())

		record := h.record(job, recipient)
		require.Equal(t, records.DeliveryPartial, record.Delivery.State)
		require.Equal(t, []string{good.ID.String()}, record.Delivery.Delivered)

		// a retry requested later has no origin job and no ledger entries
		h.gateway.Fail(flaky.Token, nil)
		manual := h.enqueue(&jobs.Retry{NotificationIDs: []uuid.UUID{record.ID}, Round: 1})
		h.processNext()
		require.True(t, h.acked(manual.ID))

		require.Len(t, h.gateway.SentTo(good.ID), 1)
		require.Len(t, h.gateway.SentTo(flaky.ID), 1)

		record = h.record(job, recipient)
		require.Equal(t, records.DeliverySent, record.Delivery.State)
		require.Equal(t, 3, record.Delivery.RetryCount)
		require.Equal(t, 2, record.Delivery.SuccessCount)
		require.ElementsMatch(t, []string{good.ID.String(), flaky.ID.String()}, record.Delivery.Delivered)
		require.Empty(t, h.queue.Pending())
	})
}

func TestRetryKeepsPresentation(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template, err := h.templates.Save(ctx, templates.Template{
			Name:          "invoice",
			Category:      "billing",
			TitleTemplate: "Invoice {{number}}",
			BodyTemplate:  "Your invoice is ready",
			Sound:         "chime",
			Icon:          "invoice.png",
			ClickAction:   "https://app/invoices/{{number}}",
		})
		require.NoError(t, err)
		require.NoError(t, h.templates.Activate(ctx, template.ID))

		recipient := newRecipient()
		h.register(recipient, "phone")
		flaky := h.register(recipient, "tablet")
		h.gateway.Fail(flaky.Token, errTransient)

		job := h.enqueue(&jobs.BulkSend{
			TemplateID: template.ID,
			Recipients: []jobs.Recipient{recipient},
			Variables:  map[string]interface{}{"number": "A-1"},
		})
		h.processNext()

		record := h.record(job, recipient)
		require.Equal(t, "chime", record.Sound)
		require.Equal(t, "invoice.png", record.Icon)
		require.Equal(t, "https://app/invoices/A-1", record.ClickAction)

		h.gateway.Fail(flaky.Token, nil)
		h.now = h.now.Add(5 * time.Minute)
		h.processNext()

		sent := h.gateway.SentTo(flaky.ID)
		require.Len(t, sent, 1)
		require.Equal(t, "Invoice A-1", sent[0].Content.Title)
		require.Equal(t, "chime", sent[0].Content.Sound)
		require.Equal(t, "invoice.png", sent[0].Content.Icon)
		require.Equal(t, "https://app/invoices/A-1", sent[0].Content.ClickAction)
	})
}

func TestRecipientWithoutTargetsIsSkipped(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", true)
		alice, carol := newRecipient(), newRecipient()
		token := h.register(alice, "phone")

		job := h.enqueue(&jobs.BulkSend{TemplateID: template.ID, Recipients: []jobs.Recipient{alice, carol}})
		h.processNext()
		require.True(t, h.acked(job.ID))
		require.Len(t, h.gateway.SentTo(token.ID), 1)

		require.Equal(t, records.DeliverySent, h.record(job, alice).Delivery.State)

		record := h.record(job, carol)
		require.Equal(t, records.DeliverySkipped, record.Delivery.State)
		require.Equal(t, []message.Channel{message.ChannelInApp}, record.Channels)
		require.Zero(t, record.Delivery.SuccessCount)
		require.Zero(t, record.Delivery.FailureCount)
	})
}

func TestAllDeliveriesFailed(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", true)
		recipient := newRecipient()
		token := h.register(recipient, "phone")
		h.gateway.Fail(token.Token, errTransient)

		job := h.enqueue(&jobs.BulkSend{TemplateID: template.ID, Recipients: []jobs.Recipient{recipient}})
		h.processNext()

		require.False(t, h.acked(job.ID))
		require.Len(t, h.queue.Failures(job.ID), 1)
		require.Equal(t, []string{job.ID}, pendingIDs(h.queue))

		h.gateway.Fail(token.Token, nil)
		h.processNext()
		require.True(t, h.acked(job.ID))
		require.Len(t, h.gateway.SentTo(token.ID), 1)

		record := h.record(job, recipient)
		require.Equal(t, records.DeliverySent, record.Delivery.State)
	})
}

func TestGatewayUnavailable(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		h.queue.MaxAttempts = 2
		template := h.template("usage", true)
		recipient := newRecipient()
		h.register(recipient, "phone")
		h.gateway.SetUnavailable(errTransient)

		job := h.enqueue(&jobs.BulkSend{TemplateID: template.ID, Recipients: []jobs.Recipient{recipient}})
		h.processNext()
		h.processNext()

		require.Len(t, h.queue.Failures(job.ID), 2)
		require.Len(t, h.queue.Dead(), 1)
		require.Empty(t, h.queue.Pending())
		require.False(t, h.acked(job.ID))
	})
}

func TestTopicBroadcast(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)

		job := h.enqueue(&jobs.TopicBroadcast{
			Topic:   "maintenance",
			Content: &message.Content{Title: "Maintenance", Body: "Tonight at 22:00"},
		})
		h.processNext()
		require.True(t, h.acked(job.ID))

		topics := h.gateway.Topics()
		require.Len(t, topics, 1)
		require.Equal(t, "maintenance", topics[0].Topic)
		require.Equal(t, message.PriorityNormal, topics[0].Content.Priority)

		h.template("release", true)
		templated := h.enqueue(&jobs.TopicBroadcast{
			Topic:        "news",
			TemplateName: "release",
			Variables:    map[string]interface{}{"name": "everyone"},
		})
		h.processNext()
		require.True(t, h.acked(templated.ID))

		topics = h.gateway.Topics()
		require.Len(t, topics, 2)
		require.Equal(t, "Hello everyone", topics[1].Content.Title)
	})
}

func TestCleanupJob(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		recipient := newRecipient()

		h.devices.TestSetNow(func() time.Time { return h.now.AddDate(0, 0, -40) })
		stale := h.register(recipient, "old-phone")
		require.NoError(t, h.devices.Deactivate(ctx, stale.ID))
		h.devices.TestSetNow(func() time.Time { return h.now })
		kept := h.register(recipient, "new-phone")

		job := h.enqueue(&jobs.Cleanup{MaxAgeDays: 30})
		h.processNext()
		require.True(t, h.acked(job.ID))

		_, err := h.devices.Get(ctx, stale.ID)
		require.Error(t, err)
		_, err = h.devices.Get(ctx, kept.ID)
		require.NoError(t, err)
	})
}

func TestPanicIsRecovered(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)

	queue := jobstest.NewQueue()
	queue.MaxAttempts = 1

	// without a device registry the cleanup job cannot run
	processor := dispatcher.NewProcessor(log, dispatcher.Dependencies{Queue: queue}, dispatcher.Config{})
	worker := dispatcher.NewWorker(log, queue, processor, dispatcher.Config{})

	job, err := jobs.New(&jobs.Cleanup{MaxAgeDays: 30})
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(ctx, job, jobs.EnqueueOptions{}))

	ok, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	failures := queue.Failures(job.ID)
	require.Len(t, failures, 1)
	require.Contains(t, failures[0].Error(), "panic")
	require.Len(t, queue.Dead(), 1)

	ok, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUndecodableJob(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)

	queue := jobstest.NewQueue()
	queue.MaxAttempts = 5

	processor := dispatcher.NewProcessor(log, dispatcher.Dependencies{Queue: queue}, dispatcher.Config{})
	worker := dispatcher.NewWorker(log, queue, processor, dispatcher.Config{})

	require.NoError(t, processor.Process(ctx, jobs.Job{ID: "unknown", Kind: "unknown"}))

	bad := jobs.Job{ID: "bad", Kind: jobs.KindBulkSend, Payload: []byte("{")}
	require.NoError(t, queue.Enqueue(ctx, bad, jobs.EnqueueOptions{}))

	ok, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// dropped on the first attempt instead of being retried
	require.Len(t, queue.Acked(), 1)
	require.Equal(t, "bad", queue.Acked()[0].ID)
	require.Empty(t, queue.Failures("bad"))
	require.Empty(t, queue.Pending())
	require.Empty(t, queue.Dead())
}

var errTransient = errs.New("service unavailable")

func TestWorkerRun(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		h := newHarness(ctx, t, db)
		template := h.template("usage", true)

		var tokens []devices.DeviceToken
		for i := 0; i < 5; i++ {
			recipient := newRecipient()
			tokens = append(tokens, h.register(recipient, "phone-"+string(rune('a'+i))))
			h.enqueue(&jobs.BulkSend{TemplateID: template.ID, Recipients: []jobs.Recipient{recipient}})
		}

		ctx.Go(func() error {
			return h.worker.Run(ctx)
		})
		h.worker.Loop.TriggerWait()
		require.NoError(t, h.worker.Close())

		require.Len(t, h.queue.Acked(), 5)
		for _, token := range tokens {
			require.Len(t, h.gateway.SentTo(token.ID), 1)
		}
	})
}
