// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package notification

import (
	"context"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/devices"
	"github.com/StorXNetwork/StorXNotify/notification/gateway"
	"github.com/StorXNetwork/StorXNotify/notification/jobs"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/preferences"
	"github.com/StorXNetwork/StorXNotify/notification/records"
	"github.com/StorXNetwork/StorXNotify/notification/templates"
)

// DB is the master database for the notification service.
//
// architecture: Master Database
type DB interface {
	// MigrateToLatest initializes the database.
	MigrateToLatest(ctx context.Context) error
	// Close closes the database.
	Close() error

	// DeviceTokens returns the device token database.
	DeviceTokens() devices.DB
	// Templates returns the template database.
	Templates() templates.DB
	// Preferences returns the preferences database.
	Preferences() preferences.DB
	// Notifications returns the notification record database.
	Notifications() records.DB
	// Schedules returns the repeat schedule database.
	Schedules() jobs.ScheduleDB
	// Contacts returns the channel address database.
	Contacts() ContactsDB
}

// ContactsDB stores the addresses of users on the email and webhook
// channels.
//
// architecture: Database
type ContactsDB interface {
	gateway.Directory

	// SetAddress stores the address of the user on the channel.
	SetAddress(ctx context.Context, userID, companyID uuid.UUID, channel message.Channel, address string) error
	// DeleteAddress removes the address of the user on the channel.
	DeleteAddress(ctx context.Context, userID, companyID uuid.UUID, channel message.Channel) error
}
