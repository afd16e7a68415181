// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package dispatcher

import (
	"context"
	"crypto/sha256"
	"sort"
	"time"

	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/gateway"
	"github.com/StorXNetwork/StorXNotify/notification/jobs"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
	"github.com/StorXNetwork/StorXNotify/notification/preferences"
	"github.com/StorXNetwork/StorXNotify/notification/records"
)

// sendRequest is rendered content addressed to recipients.
type sendRequest struct {
	Type       string
	Category   string
	Content    message.Content
	Recipients []jobs.Recipient
}

// plan is the delivery of one notification record.
type plan struct {
	record records.Notification
	// group selects the content batch the plan belongs to.
	group   int
	content message.Content

	targets   []gateway.Target
	addresses map[message.Channel]string
	// delivered are the targets of the record that received the
	// notification in this or an earlier round.
	delivered map[string]bool

	succeeded int
	failed    int
	// transient counts failures worth retrying.
	transient int
	lastError string
}

func (p *plan) deliverable() int {
	return len(p.targets) + len(p.addresses)
}

func pushKey(target gateway.Target) string {
	return target.TokenID.String()
}

func channelKey(channel message.Channel, userID uuid.UUID) string {
	return string(channel) + ":" + userID.String()
}

// outcome summarizes a delivery round.
type outcome struct {
	successes    int
	transient    int
	unregistered int
	// retry are records with transient failures.
	retry []uuid.UUID
}

// route resolves the preferences of a user and the targets on the channels
// that are delivered immediately.
func (processor *Processor) route(ctx context.Context, p *plan) (err error) {
	defer mon.Task()(&ctx)(&err)

	prefs, err := processor.deps.Preferences.For(ctx, p.record.UserID)
	if err != nil {
		return err
	}

	eligible := preferences.EligibleChannels(prefs, p.record.Category, p.content.Priority, processor.now())
	immediate, deferred := preferences.SplitByFrequency(prefs, eligible)
	p.record.Delivery.Deferred = deferred.List()
	p.addresses = map[message.Channel]string{}

	var used []message.Channel
	for _, channel := range immediate.List() {
		switch channel {
		case message.ChannelInApp:
			used = append(used, channel)

		case message.ChannelPush:
			if processor.deps.Gateway == nil {
				continue
			}
			tokens, err := processor.deps.Devices.TokensFor(ctx, p.record.UserID, p.record.CompanyID)
			if err != nil {
				return err
			}
			for _, token := range tokens {
				p.targets = append(p.targets, gateway.Target{
					TokenID:  token.ID,
					Token:    token.Token,
					Platform: token.Platform,
				})
			}
			if len(tokens) > 0 {
				used = append(used, channel)
			}

		default:
			if _, ok := processor.senders[channel]; !ok || processor.deps.Directory == nil {
				continue
			}
			address, err := processor.deps.Directory.Address(ctx, p.record.UserID, p.record.CompanyID, channel)
			if err != nil {
				if notifyerr.NotFound.Has(err) {
					continue
				}
				return err
			}
			p.addresses[channel] = address
			used = append(used, channel)
		}
	}

	p.record.Channels = used
	return nil
}

// send delivers a rendered notification to the recipients of a job.
func (processor *Processor) send(ctx context.Context, job jobs.Job, req sendRequest) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(req.Recipients) == 0 {
		return notifyerr.Skip("no recipients", nil)
	}

	now := processor.now()
	var expiresAt *time.Time
	if processor.config.RecordTTL > 0 {
		expires := now.Add(processor.config.RecordTTL)
		expiresAt = &expires
	}

	plans := make([]*plan, 0, len(req.Recipients))
	deliverable := 0
	for _, recipient := range req.Recipients {
		p := &plan{
			content: req.Content,
			record: records.Notification{
				ID:        recordID(job.ID, recipient),
				UserID:    recipient.UserID,
				CompanyID: recipient.CompanyID,
				JobID:     job.ID,
				Category:  req.Category,
				Type:      req.Type,
				Priority:  req.Content.Priority,
				Title:     req.Content.Title,
				Body:      req.Content.Body,
				Data:      req.Content.Data,

				Sound:       req.Content.Sound,
				Icon:        req.Content.Icon,
				ClickAction: req.Content.ClickAction,

				Status:    records.StatusUnread,
				Delivery:  records.Delivery{State: records.DeliveryPending},
				CreatedAt: now,
				ExpiresAt: expiresAt,
			},
		}
		if err := processor.route(ctx, p); err != nil {
			return err
		}
		deliverable += p.deliverable()
		plans = append(plans, p)
	}

	if deliverable == 0 {
		mon.Counter("send_without_targets").Inc(1)
		return notifyerr.Skip("no deliverable targets", nil)
	}

	for _, p := range plans {
		if len(p.record.Channels) == 0 && len(p.record.Delivery.Deferred) == 0 {
			continue
		}
		if _, err := processor.deps.Records.Insert(ctx, p.record); err != nil {
			return err
		}
	}

	result, err := processor.deliver(ctx, job.ID, plans)
	if err != nil {
		return err
	}

	processor.log.Info("notification delivered",
		zap.String("job_id", job.ID),
		zap.String("type", req.Type),
		zap.Int("recipient_count", len(req.Recipients)),
		zap.Int("success_count", result.successes),
		zap.Int("failure_count", result.transient+result.unregistered))

	if result.successes == 0 && result.transient > 0 {
		return notifyerr.Delivery.New("all %d deliveries failed", result.transient)
	}

	retried, err := processor.enqueueRetry(ctx, job.ID, 1, result.retry)
	if err != nil {
		return err
	}
	if !retried {
		return processor.clearLedger(ctx, job.ID)
	}
	return nil
}

// retry re-delivers failed notifications. Preferences and tokens are resolved
// again. Targets stored as delivered on the record are skipped, whether the
// retry was scheduled by the dispatcher or requested manually.
func (processor *Processor) retry(ctx context.Context, job jobs.Job, payload *jobs.Retry) (err error) {
	defer mon.Task()(&ctx)(&err)

	ledgerKey := payload.OriginJobID
	if ledgerKey == "" {
		ledgerKey = job.ID
	}

	var plans []*plan
	for _, id := range payload.NotificationIDs {
		record, err := processor.deps.Records.Get(ctx, id)
		if err != nil {
			if notifyerr.NotFound.Has(err) {
				processor.log.Debug("retried notification is gone", zap.Stringer("notification_id", id))
				continue
			}
			return err
		}
		if record.Status == records.StatusDeleted {
			continue
		}
		if record.Delivery.State != records.DeliveryFailed && record.Delivery.State != records.DeliveryPartial {
			continue
		}

		record.Delivery.RetryCount++
		p := &plan{
			group:  len(plans),
			record: record,
			content: message.Content{
				Title:       record.Title,
				Body:        record.Body,
				Priority:    record.Priority,
				Sound:       record.Sound,
				Icon:        record.Icon,
				ClickAction: record.ClickAction,
				Data:        record.Data,
			},
		}
		if err := processor.route(ctx, p); err != nil {
			return err
		}
		if p.deliverable() == 0 {
			p.record.Delivery.State = records.DeliveryFailed
			if len(p.record.Delivery.Delivered) > 0 {
				p.record.Delivery.State = records.DeliveryPartial
			}
			p.record.Delivery.LastError = "no deliverable targets"
			if err := processor.deps.Records.UpdateDelivery(ctx, record.ID, p.record.Channels, p.record.Delivery); err != nil {
				return err
			}
			continue
		}
		plans = append(plans, p)
	}

	if len(plans) == 0 {
		return notifyerr.Skip("nothing left to retry", nil)
	}

	result, err := processor.deliver(ctx, ledgerKey, plans)
	if err != nil {
		return err
	}

	processor.log.Info("notification retry delivered",
		zap.String("job_id", job.ID),
		zap.String("origin_job_id", payload.OriginJobID),
		zap.Int("round", payload.Round),
		zap.Int("success_count", result.successes),
		zap.Int("failure_count", result.transient+result.unregistered))

	retried, err := processor.enqueueRetry(ctx, ledgerKey, payload.Round+1, result.retry)
	if err != nil {
		return err
	}
	if !retried {
		return processor.clearLedger(ctx, ledgerKey)
	}
	return nil
}

// deliver sends every plan and stores the outcome on the records. Targets
// recorded in the ledger under key or on the record itself are not sent
// again and count as delivered.
func (processor *Processor) deliver(ctx context.Context, key string, plans []*plan) (_ outcome, err error) {
	defer mon.Task()(&ctx)(&err)

	delivered := map[string]bool{}
	if processor.deps.Ledger != nil {
		delivered, err = processor.deps.Ledger.Delivered(ctx, key)
		if err != nil {
			return outcome{}, err
		}
	}

	for _, p := range plans {
		p.delivered = map[string]bool{}
		for _, target := range p.record.Delivery.Delivered {
			p.delivered[target] = true
		}
	}

	var result outcome
	defer func() {
		if processor.deps.Ledger == nil {
			return
		}
		if saveErr := processor.deps.Ledger.Save(ctx, key, delivered); saveErr != nil {
			processor.log.Warn("failed to save delivery ledger", zap.String("key", key), zap.Error(saveErr))
		}
	}()

	// push targets are sent in one batch per content group
	groups := map[int][]*plan{}
	var order []int
	for _, p := range plans {
		if _, ok := groups[p.group]; !ok {
			order = append(order, p.group)
		}
		groups[p.group] = append(groups[p.group], p)
	}

	for _, group := range order {
		members := groups[group]

		var targets []gateway.Target
		owner := map[uuid.UUID]*plan{}
		for _, p := range members {
			for _, target := range p.targets {
				id := pushKey(target)
				if delivered[id] || p.delivered[id] {
					p.delivered[id] = true
					p.succeeded++
					result.successes++
					continue
				}
				targets = append(targets, target)
				owner[target.TokenID] = p
			}
		}
		if len(targets) == 0 {
			continue
		}

		batch, err := processor.deps.Gateway.SendToTokens(ctx, targets, members[0].content)
		if err != nil {
			return result, notifyerr.Delivery.Wrap(err)
		}

		for _, r := range batch.Results {
			p := owner[r.Target.TokenID]
			if p == nil {
				continue
			}
			switch {
			case r.Err == nil:
				delivered[pushKey(r.Target)] = true
				p.delivered[pushKey(r.Target)] = true
				p.succeeded++
				result.successes++
			case r.Unregistered:
				p.failed++
				p.lastError = r.Err.Error()
				result.unregistered++
				processor.deactivate(ctx, r.Target)
			default:
				p.failed++
				p.transient++
				p.lastError = r.Err.Error()
				result.transient++
			}
		}
	}

	for _, p := range plans {
		for channel, address := range p.addresses {
			id := channelKey(channel, p.record.UserID)
			if delivered[id] || p.delivered[id] {
				p.delivered[id] = true
				p.succeeded++
				result.successes++
				continue
			}
			if err := processor.senders[channel].Send(ctx, address, p.content); err != nil {
				processor.log.Debug("channel delivery failed",
					zap.String("channel", string(channel)),
					zap.Stringer("user_id", p.record.UserID),
					zap.Error(err))
				p.failed++
				p.transient++
				p.lastError = err.Error()
				result.transient++
				continue
			}
			delivered[id] = true
			p.delivered[id] = true
			p.succeeded++
			result.successes++
		}
	}

	for _, p := range plans {
		if err := processor.store(ctx, p); err != nil {
			return result, err
		}
	}

	for _, p := range plans {
		if p.transient > 0 {
			result.retry = append(result.retry, p.record.ID)
		}
	}

	mon.Counter("deliveries_succeeded").Inc(int64(result.successes))
	mon.Counter("deliveries_failed").Inc(int64(result.transient))
	mon.Counter("tokens_unregistered").Inc(int64(result.unregistered))
	return result, nil
}

func (processor *Processor) store(ctx context.Context, p *plan) error {
	delivery := p.record.Delivery
	delivery.SuccessCount = p.succeeded
	delivery.FailureCount = p.failed
	delivery.LastError = p.lastError

	var delivered []string
	for key := range p.delivered {
		delivered = append(delivered, key)
	}
	sort.Strings(delivered)
	delivery.Delivered = delivered

	switch {
	case p.deliverable() == 0 && len(p.delivered) == 0:
		delivery.State = records.DeliverySkipped
	case p.failed == 0:
		delivery.State = records.DeliverySent
	case len(p.delivered) == 0:
		delivery.State = records.DeliveryFailed
	default:
		delivery.State = records.DeliveryPartial
	}
	p.record.Delivery = delivery

	if len(p.record.Channels) == 0 && len(delivery.Deferred) == 0 {
		return nil
	}
	return processor.deps.Records.UpdateDelivery(ctx, p.record.ID, p.record.Channels, delivery)
}

// deactivate takes a token the provider no longer accepts out of rotation.
func (processor *Processor) deactivate(ctx context.Context, target gateway.Target) {
	if err := processor.deps.Devices.Deactivate(ctx, target.TokenID); err != nil && !notifyerr.NotFound.Has(err) {
		processor.log.Warn("failed to deactivate unregistered token",
			zap.Stringer("token_id", target.TokenID),
			zap.Error(err))
		return
	}
	processor.log.Info("unregistered token deactivated", zap.Stringer("token_id", target.TokenID))
}

// enqueueRetry creates the retry job of the given round for the records.
// It reports whether a job was enqueued.
func (processor *Processor) enqueueRetry(ctx context.Context, originJobID string, round int, ids []uuid.UUID) (bool, error) {
	if len(ids) == 0 || round > processor.config.MaxDeliveryRetries {
		return false, nil
	}

	job, err := jobs.NewWithID(jobs.RetryJobID(originJobID, round), &jobs.Retry{
		NotificationIDs: ids,
		OriginJobID:     originJobID,
		Round:           round,
	})
	if err != nil {
		return false, err
	}
	if err := processor.deps.Queue.Enqueue(ctx, job, jobs.EnqueueOptions{Delay: processor.config.RetryDelay}); err != nil {
		return false, Error.Wrap(err)
	}

	mon.Counter("retry_jobs_enqueued").Inc(1)
	processor.log.Info("failed deliveries scheduled for retry",
		zap.String("job_id", job.ID),
		zap.Int("round", round),
		zap.Int("notification_count", len(ids)))
	return true, nil
}

// recordID derives the id of the notification created for a recipient by a
// job, so that a redelivered job does not create a second record.
func recordID(jobID string, recipient jobs.Recipient) uuid.UUID {
	h := sha256.New()
	_, _ = h.Write([]byte(jobID))
	_, _ = h.Write(recipient.UserID[:])
	_, _ = h.Write(recipient.CompanyID[:])
	sum := h.Sum(nil)

	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x50
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}
