// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package notificationdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
	"github.com/StorXNetwork/StorXNotify/notification/records"
)

// ensures that notifications implements records.DB.
var _ records.DB = (*notifications)(nil)

// ErrNotifications represents errors from the notifications database.
var ErrNotifications = errs.Class("notifications")

type notifications struct {
	db *notificationDB
}

const notificationColumns = `id, user_id, company_id, job_id, category, type, priority,
	title, body, data, sound, icon, click_action, status, channels, delivery,
	created_at, read_at, archived_at, deleted_at, expires_at`

type notificationRow struct {
	ID          []byte     `db:"id"`
	UserID      []byte     `db:"user_id"`
	CompanyID   []byte     `db:"company_id"`
	JobID       string     `db:"job_id"`
	Category    string     `db:"category"`
	Type        string     `db:"type"`
	Priority    string     `db:"priority"`
	Title       string     `db:"title"`
	Body        string     `db:"body"`
	Data        string     `db:"data"`
	Sound       string     `db:"sound"`
	Icon        string     `db:"icon"`
	ClickAction string     `db:"click_action"`
	Status      string     `db:"status"`
	Channels    string     `db:"channels"`
	Delivery    string     `db:"delivery"`
	CreatedAt   time.Time  `db:"created_at"`
	ReadAt      *time.Time `db:"read_at"`
	ArchivedAt  *time.Time `db:"archived_at"`
	DeletedAt   *time.Time `db:"deleted_at"`
	ExpiresAt   *time.Time `db:"expires_at"`
}

// deliveryData is the stored form of records.Delivery.
type deliveryData struct {
	State        records.DeliveryState `json:"state"`
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
	RetryCount   int                   `json:"retry_count"`
	LastError    string                `json:"last_error,omitempty"`
	Deferred     []message.Channel     `json:"deferred,omitempty"`
	Delivered    []string              `json:"delivered,omitempty"`
}

// Insert inserts the notification unless a record with the same ID exists.
func (n *notifications) Insert(ctx context.Context, notification records.Notification) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := marshalJSON(notification.Data, "{}")
	if err != nil {
		return false, ErrNotifications.Wrap(err)
	}
	channels, err := marshalJSON(notification.Channels, "[]")
	if err != nil {
		return false, ErrNotifications.Wrap(err)
	}
	delivery, err := json.Marshal(deliveryData(notification.Delivery))
	if err != nil {
		return false, ErrNotifications.Wrap(err)
	}

	result, err := n.db.db.ExecContext(ctx, n.db.rebind(`
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`),
		notification.ID[:], notification.UserID[:], notification.CompanyID[:], notification.JobID,
		notification.Category, notification.Type, string(notification.Priority),
		notification.Title, notification.Body, data,
		notification.Sound, notification.Icon, notification.ClickAction,
		string(notification.Status), channels, string(delivery),
		notification.CreatedAt.UTC(), utcPtr(notification.ReadAt), utcPtr(notification.ArchivedAt),
		utcPtr(notification.DeletedAt), utcPtr(notification.ExpiresAt))
	if err != nil {
		return false, ErrNotifications.Wrap(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, ErrNotifications.Wrap(err)
	}
	return affected > 0, nil
}

// Get retrieves a notification by ID.
func (n *notifications) Get(ctx context.Context, id uuid.UUID) (_ records.Notification, err error) {
	defer mon.Task()(&ctx)(&err)

	var row notificationRow
	err = n.db.db.GetContext(ctx, &row, n.db.rebind(`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`), id[:])
	if errors.Is(err, sql.ErrNoRows) {
		return records.Notification{}, notifyerr.NotFound.New("notification %s", id)
	}
	if err != nil {
		return records.Notification{}, ErrNotifications.Wrap(err)
	}
	return notificationFromRow(row)
}

// UpdateStatus moves the notification from one status to another, setting
// the timestamp of the new status.
func (n *notifications) UpdateStatus(ctx context.Context, id uuid.UUID, from, to records.Status, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	var column string
	switch to {
	case records.StatusRead:
		column = "read_at"
	case records.StatusArchived:
		column = "archived_at"
	case records.StatusDeleted:
		column = "deleted_at"
	default:
		return records.ErrStatusConflict.New("cannot move to %s", to)
	}

	result, err := n.db.db.ExecContext(ctx, n.db.rebind(`
		UPDATE notifications SET status = ?, `+column+` = ?
		WHERE id = ? AND status = ?
	`), string(to), at.UTC(), id[:], string(from))
	if err != nil {
		return ErrNotifications.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ErrNotifications.Wrap(err)
	}
	if affected == 0 {
		return records.ErrStatusConflict.New("notification %s is not %s", id, from)
	}
	return nil
}

// UpdateDelivery stores the channels used and the delivery outcome.
func (n *notifications) UpdateDelivery(ctx context.Context, id uuid.UUID, channels []message.Channel, delivery records.Delivery) (err error) {
	defer mon.Task()(&ctx)(&err)

	channelsData, err := marshalJSON(channels, "[]")
	if err != nil {
		return ErrNotifications.Wrap(err)
	}
	deliveryJSON, err := json.Marshal(deliveryData(delivery))
	if err != nil {
		return ErrNotifications.Wrap(err)
	}

	result, err := n.db.db.ExecContext(ctx, n.db.rebind(`
		UPDATE notifications SET channels = ?, delivery = ? WHERE id = ?
	`), channelsData, string(deliveryJSON), id[:])
	if err != nil {
		return ErrNotifications.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ErrNotifications.Wrap(err)
	}
	if affected == 0 {
		return notifyerr.NotFound.New("notification %s", id)
	}
	return nil
}

// List retrieves the notifications of a user, newest first.
func (n *notifications) List(ctx context.Context, userID uuid.UUID, filter records.ListFilter) (_ []records.Notification, err error) {
	defer mon.Task()(&ctx)(&err)

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	args := []interface{}{userID[:]}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	} else {
		query += ` AND status <> ?`
		args = append(args, string(records.StatusDeleted))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	var rows []notificationRow
	if err := n.db.db.SelectContext(ctx, &rows, n.db.rebind(query), args...); err != nil {
		return nil, ErrNotifications.Wrap(err)
	}
	return notificationsFromRows(rows)
}

// CountUnread returns the number of unread notifications of a user.
func (n *notifications) CountUnread(ctx context.Context, userID uuid.UUID) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	var count int
	err = n.db.db.GetContext(ctx, &count, n.db.rebind(`
		SELECT COUNT(*) FROM notifications WHERE user_id = ? AND status = ?
	`), userID[:], string(records.StatusUnread))
	return count, ErrNotifications.Wrap(err)
}

// ListExpired retrieves notifications in one of the statuses whose expiry is
// before the given time, oldest expiry first.
func (n *notifications) ListExpired(ctx context.Context, statuses []records.Status, before time.Time, limit int) (_ []records.Notification, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]interface{}, 0, len(statuses)+2)
	for _, status := range statuses {
		args = append(args, string(status))
	}
	args = append(args, before.UTC(), limit)

	var rows []notificationRow
	err = n.db.db.SelectContext(ctx, &rows, n.db.rebind(`
		SELECT `+notificationColumns+` FROM notifications
		WHERE status IN (`+placeholders+`) AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at, id
		LIMIT ?
	`), args...)
	if err != nil {
		return nil, ErrNotifications.Wrap(err)
	}
	return notificationsFromRows(rows)
}

func notificationsFromRows(rows []notificationRow) ([]records.Notification, error) {
	list := make([]records.Notification, 0, len(rows))
	for _, row := range rows {
		notification, err := notificationFromRow(row)
		if err != nil {
			return nil, err
		}
		list = append(list, notification)
	}
	return list, nil
}

func notificationFromRow(row notificationRow) (records.Notification, error) {
	id, err := uuid.FromBytes(row.ID)
	if err != nil {
		return records.Notification{}, ErrNotifications.Wrap(err)
	}
	userID, err := uuid.FromBytes(row.UserID)
	if err != nil {
		return records.Notification{}, ErrNotifications.Wrap(err)
	}
	companyID, err := uuid.FromBytes(row.CompanyID)
	if err != nil {
		return records.Notification{}, ErrNotifications.Wrap(err)
	}

	notification := records.Notification{
		ID:          id,
		UserID:      userID,
		CompanyID:   companyID,
		JobID:       row.JobID,
		Category:    row.Category,
		Type:        row.Type,
		Priority:    message.Priority(row.Priority),
		Title:       row.Title,
		Body:        row.Body,
		Sound:       row.Sound,
		Icon:        row.Icon,
		ClickAction: row.ClickAction,
		Status:      records.Status(row.Status),
		CreatedAt:   row.CreatedAt.UTC(),
		ReadAt:      utcPtr(row.ReadAt),
		ArchivedAt:  utcPtr(row.ArchivedAt),
		DeletedAt:   utcPtr(row.DeletedAt),
		ExpiresAt:   utcPtr(row.ExpiresAt),
	}

	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), &notification.Data); err != nil {
			return records.Notification{}, ErrNotifications.Wrap(err)
		}
	}
	if row.Channels != "" {
		if err := json.Unmarshal([]byte(row.Channels), &notification.Channels); err != nil {
			return records.Notification{}, ErrNotifications.Wrap(err)
		}
	}
	if row.Delivery != "" {
		var delivery deliveryData
		if err := json.Unmarshal([]byte(row.Delivery), &delivery); err != nil {
			return records.Notification{}, ErrNotifications.Wrap(err)
		}
		notification.Delivery = records.Delivery(delivery)
	}
	return notification, nil
}

// marshalJSON encodes v, using empty for nil values.
func marshalJSON(v interface{}, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
