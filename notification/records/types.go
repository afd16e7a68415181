// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package records

import (
	"context"
	"time"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/message"
)

// DeliveryState is the delivery outcome of a notification.
type DeliveryState string

const (
	// DeliveryPending means delivery has not finished yet.
	DeliveryPending DeliveryState = "pending"
	// DeliverySent means every target received the notification.
	DeliverySent DeliveryState = "sent"
	// DeliveryPartial means some targets failed.
	DeliveryPartial DeliveryState = "partial"
	// DeliveryFailed means every target failed.
	DeliveryFailed DeliveryState = "failed"
	// DeliverySkipped means the recipient had no target for an immediate
	// delivery, so the record is only shown in-app or collected for a digest.
	DeliverySkipped DeliveryState = "skipped"
)

// Delivery is the per channel outcome of sending a notification.
type Delivery struct {
	State        DeliveryState
	SuccessCount int
	FailureCount int
	RetryCount   int
	LastError    string
	// Deferred are eligible channels collected into a digest instead of
	// being delivered immediately.
	Deferred []message.Channel
	// Delivered are the targets that received the notification, so that a
	// retry of the record does not send to them again.
	Delivered []string
}

// Notification is the persisted record of a notification sent to one user.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CompanyID uuid.UUID
	JobID     string

	Category string
	Type     string
	Priority message.Priority
	Title    string
	Body     string
	Data     map[string]string

	Sound       string
	Icon        string
	ClickAction string

	Status   Status
	Channels []message.Channel
	Delivery Delivery

	CreatedAt  time.Time
	ReadAt     *time.Time
	ArchivedAt *time.Time
	DeletedAt  *time.Time
	ExpiresAt  *time.Time
}

// ListFilter restricts the notifications returned by List.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// DB defines database operations for notification records.
//
// architecture: Database
type DB interface {
	// Insert inserts the notification unless a record with the same ID
	// exists. It reports whether a row was inserted.
	Insert(ctx context.Context, notification Notification) (bool, error)

	// Get retrieves a notification by ID.
	Get(ctx context.Context, id uuid.UUID) (Notification, error)

	// UpdateStatus moves the notification from one status to another and
	// sets the matching timestamp. It fails with ErrStatusConflict when the
	// current status is not from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error

	// UpdateDelivery stores the channels used and the delivery outcome.
	UpdateDelivery(ctx context.Context, id uuid.UUID, channels []message.Channel, delivery Delivery) error

	// List retrieves the notifications of a user, newest first.
	List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Notification, error)

	// CountUnread returns the number of unread notifications of a user.
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)

	// ListExpired retrieves notifications in one of the statuses that
	// expired before the given time.
	ListExpired(ctx context.Context, statuses []Status, before time.Time, limit int) ([]Notification, error)
}
