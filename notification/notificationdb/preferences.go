// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package notificationdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
	"github.com/StorXNetwork/StorXNotify/notification/preferences"
)

// ensures that notificationPreferences implements preferences.DB.
var _ preferences.DB = (*notificationPreferences)(nil)

// ErrPreferences represents errors from the notification_preferences database.
var ErrPreferences = errs.Class("notificationpreferences")

type notificationPreferences struct {
	db *notificationDB
}

// preferencesData is the stored form of preferences.Preferences.
type preferencesData struct {
	NotificationsEnabled bool                                      `json:"notifications_enabled"`
	Channels             map[message.Channel]bool                  `json:"channels"`
	Priorities           map[message.Priority]bool                 `json:"priorities"`
	CategoryRouting      map[string][]message.Channel              `json:"category_routing,omitempty"`
	Frequency            map[message.Channel]preferences.Frequency `json:"frequency,omitempty"`
	QuietHours           preferences.QuietHours                    `json:"quiet_hours"`
	MutedUntil           *time.Time                                `json:"muted_until,omitempty"`
	Muted                []string                                  `json:"muted,omitempty"`
}

// Get retrieves the preferences of a user.
func (p *notificationPreferences) Get(ctx context.Context, userID uuid.UUID) (_ preferences.Preferences, err error) {
	defer mon.Task()(&ctx)(&err)

	var row struct {
		Data      string    `db:"data"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err = p.db.db.GetContext(ctx, &row, p.db.rebind(`
		SELECT data, updated_at FROM notification_preferences WHERE user_id = ?
	`), userID[:])
	if errors.Is(err, sql.ErrNoRows) {
		return preferences.Preferences{}, notifyerr.NotFound.New("preferences of %s", userID)
	}
	if err != nil {
		return preferences.Preferences{}, ErrPreferences.Wrap(err)
	}

	var data preferencesData
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return preferences.Preferences{}, ErrPreferences.Wrap(err)
	}

	return preferences.Preferences{
		UserID:               userID,
		NotificationsEnabled: data.NotificationsEnabled,
		Channels:             data.Channels,
		Priorities:           data.Priorities,
		CategoryRouting:      data.CategoryRouting,
		Frequency:            data.Frequency,
		QuietHours:           data.QuietHours,
		MutedUntil:           data.MutedUntil,
		Muted:                data.Muted,
		UpdatedAt:            row.UpdatedAt.UTC(),
	}, nil
}

// Upsert stores the preferences of a user.
func (p *notificationPreferences) Upsert(ctx context.Context, prefs preferences.Preferences) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := json.Marshal(preferencesData{
		NotificationsEnabled: prefs.NotificationsEnabled,
		Channels:             prefs.Channels,
		Priorities:           prefs.Priorities,
		CategoryRouting:      prefs.CategoryRouting,
		Frequency:            prefs.Frequency,
		QuietHours:           prefs.QuietHours,
		MutedUntil:           prefs.MutedUntil,
		Muted:                prefs.Muted,
	})
	if err != nil {
		return ErrPreferences.Wrap(err)
	}

	updatedAt := prefs.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = p.db.db.ExecContext(ctx, p.db.rebind(`
		INSERT INTO notification_preferences (user_id, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`), prefs.UserID[:], string(data), updatedAt.UTC())
	return ErrPreferences.Wrap(err)
}

// Delete removes the stored preferences of a user.
func (p *notificationPreferences) Delete(ctx context.Context, userID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = p.db.db.ExecContext(ctx, p.db.rebind(`DELETE FROM notification_preferences WHERE user_id = ?`), userID[:])
	return ErrPreferences.Wrap(err)
}
