// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package preferences

import (
	"context"
	"time"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/message"
)

// Frequency is the delivery bucket of a channel.
type Frequency string

const (
	// FrequencyImmediate delivers as soon as the job runs.
	FrequencyImmediate Frequency = "immediate"
	// FrequencyHourly collects notifications into an hourly digest.
	FrequencyHourly Frequency = "hourly"
	// FrequencyDaily collects notifications into a daily digest.
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly collects notifications into a weekly digest.
	FrequencyWeekly Frequency = "weekly"
)

// QuietHours is a local time window during which non-urgent notifications
// are suppressed. Start and End use the "15:04" layout, the window may wrap
// around midnight.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Preferences is the delivery policy of a single user.
//
// Missing entries in Channels and Priorities mean disabled. A category
// without an entry in CategoryRouting is routed to every channel. A channel
// without a Frequency is delivered immediately.
type Preferences struct {
	UserID uuid.UUID

	NotificationsEnabled bool
	Channels             map[message.Channel]bool
	Priorities           map[message.Priority]bool
	CategoryRouting      map[string][]message.Channel
	Frequency            map[message.Channel]Frequency
	QuietHours           QuietHours

	MutedUntil *time.Time
	Muted      []string

	UpdatedAt time.Time
}

// Defaults returns the preferences used for users without stored
// preferences.
func Defaults(userID uuid.UUID, channels []message.Channel) Preferences {
	prefs := Preferences{
		UserID:               userID,
		NotificationsEnabled: true,
		Channels:             map[message.Channel]bool{},
		Priorities:           map[message.Priority]bool{},
		Frequency:            map[message.Channel]Frequency{},
	}
	for _, channel := range channels {
		prefs.Channels[channel] = true
	}
	for _, priority := range message.Priorities {
		prefs.Priorities[priority] = true
	}
	return prefs
}

// DB defines database operations for user preferences.
//
// architecture: Database
type DB interface {
	// Get retrieves the preferences of a user, NotFound when none are stored.
	Get(ctx context.Context, userID uuid.UUID) (Preferences, error)

	// Upsert stores the preferences of a user.
	Upsert(ctx context.Context, prefs Preferences) error

	// Delete removes the stored preferences of a user.
	Delete(ctx context.Context, userID uuid.UUID) error
}
