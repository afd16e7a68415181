// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package notificationdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification"
	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// ensures that contacts implements notification.ContactsDB.
var _ notification.ContactsDB = (*contacts)(nil)

// ErrContacts represents errors from the notification_contacts database.
var ErrContacts = errs.Class("notificationcontacts")

type contacts struct {
	db *notificationDB
}

// Address returns the address of the user on the channel.
func (c *contacts) Address(ctx context.Context, userID, companyID uuid.UUID, channel message.Channel) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	var address string
	err = c.db.db.GetContext(ctx, &address, c.db.rebind(`
		SELECT address FROM notification_contacts
		WHERE user_id = ? AND company_id = ? AND channel = ?
	`), userID[:], companyID[:], string(channel))
	if errors.Is(err, sql.ErrNoRows) {
		return "", notifyerr.NotFound.New("%s address of %s", channel, userID)
	}
	return address, ErrContacts.Wrap(err)
}

// SetAddress stores the address of the user on the channel.
func (c *contacts) SetAddress(ctx context.Context, userID, companyID uuid.UUID, channel message.Channel, address string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if address == "" {
		return notifyerr.Validation.New("address is empty")
	}

	_, err = c.db.db.ExecContext(ctx, c.db.rebind(`
		INSERT INTO notification_contacts (user_id, company_id, channel, address, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, company_id, channel) DO UPDATE SET
			address = excluded.address,
			updated_at = excluded.updated_at
	`), userID[:], companyID[:], string(channel), address, time.Now().UTC())
	return ErrContacts.Wrap(err)
}

// DeleteAddress removes the address of the user on the channel.
func (c *contacts) DeleteAddress(ctx context.Context, userID, companyID uuid.UUID, channel message.Channel) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = c.db.db.ExecContext(ctx, c.db.rebind(`
		DELETE FROM notification_contacts
		WHERE user_id = ? AND company_id = ? AND channel = ?
	`), userID[:], companyID[:], string(channel))
	return ErrContacts.Wrap(err)
}
