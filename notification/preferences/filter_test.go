// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package preferences_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testrand"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/preferences"
)

func allEnabled() preferences.Preferences {
	return preferences.Defaults(testrand.UUID(), message.Channels)
}

func at(hour, minute int) time.Time {
	return time.Date(2024, time.March, 4, hour, minute, 0, 0, time.UTC)
}

func TestEligibleChannelsDisabled(t *testing.T) {
	prefs := allEnabled()
	prefs.NotificationsEnabled = false

	for _, priority := range message.Priorities {
		require.Empty(t, preferences.EligibleChannels(prefs, "billing", priority, at(12, 0)))
	}
}

func TestEligibleChannels(t *testing.T) {
	now := at(12, 0)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	for _, tt := range []struct {
		name     string
		modify   func(prefs *preferences.Preferences)
		category string
		priority message.Priority
		expected []message.Channel
	}{
		{
			name:     "defaults",
			modify:   func(prefs *preferences.Preferences) {},
			priority: message.PriorityNormal,
			expected: message.Channels,
		},
		{
			name:     "muted until future",
			modify:   func(prefs *preferences.Preferences) { prefs.MutedUntil = &future },
			priority: message.PriorityUrgent,
		},
		{
			name:     "muted until elapsed",
			modify:   func(prefs *preferences.Preferences) { prefs.MutedUntil = &past },
			priority: message.PriorityNormal,
			expected: message.Channels,
		},
		{
			name:     "muted category",
			modify:   func(prefs *preferences.Preferences) { prefs.Muted = []string{"marketing"} },
			category: "marketing",
			priority: message.PriorityUrgent,
		},
		{
			name:     "other category muted",
			modify:   func(prefs *preferences.Preferences) { prefs.Muted = []string{"marketing"} },
			category: "billing",
			priority: message.PriorityNormal,
			expected: message.Channels,
		},
		{
			name: "quiet hours",
			modify: func(prefs *preferences.Preferences) {
				prefs.QuietHours = preferences.QuietHours{Enabled: true, Start: "11:00", End: "13:00"}
			},
			priority: message.PriorityHigh,
		},
		{
			name: "quiet hours urgent bypass",
			modify: func(prefs *preferences.Preferences) {
				prefs.QuietHours = preferences.QuietHours{Enabled: true, Start: "11:00", End: "13:00"}
			},
			priority: message.PriorityUrgent,
			expected: message.Channels,
		},
		{
			name: "priority disabled",
			modify: func(prefs *preferences.Preferences) {
				prefs.Priorities[message.PriorityLow] = false
			},
			priority: message.PriorityLow,
		},
		{
			name: "global toggles",
			modify: func(prefs *preferences.Preferences) {
				prefs.Channels[message.ChannelSMS] = false
				delete(prefs.Channels, message.ChannelWebhook)
			},
			priority: message.PriorityNormal,
			expected: []message.Channel{message.ChannelEmail, message.ChannelInApp, message.ChannelPush},
		},
		{
			name: "category routing",
			modify: func(prefs *preferences.Preferences) {
				prefs.CategoryRouting = map[string][]message.Channel{
					"billing": {message.ChannelEmail, message.ChannelPush},
				}
			},
			category: "billing",
			priority: message.PriorityNormal,
			expected: []message.Channel{message.ChannelEmail, message.ChannelPush},
		},
		{
			name: "category routing with disabled channel",
			modify: func(prefs *preferences.Preferences) {
				prefs.CategoryRouting = map[string][]message.Channel{
					"billing": {message.ChannelEmail, message.ChannelPush},
				}
				prefs.Channels[message.ChannelPush] = false
			},
			category: "billing",
			priority: message.PriorityNormal,
			expected: []message.Channel{message.ChannelEmail},
		},
		{
			name: "empty routing",
			modify: func(prefs *preferences.Preferences) {
				prefs.CategoryRouting = map[string][]message.Channel{"billing": {}}
			},
			category: "billing",
			priority: message.PriorityNormal,
		},
		{
			name: "unrouted category",
			modify: func(prefs *preferences.Preferences) {
				prefs.CategoryRouting = map[string][]message.Channel{"billing": {message.ChannelEmail}}
			},
			category: "security",
			priority: message.PriorityNormal,
			expected: message.Channels,
		},
		{
			name:     "nil maps",
			modify:   func(prefs *preferences.Preferences) { prefs.Channels, prefs.Priorities = nil, nil },
			priority: message.PriorityNormal,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			prefs := allEnabled()
			tt.modify(&prefs)

			eligible := preferences.EligibleChannels(prefs, tt.category, tt.priority, now)
			require.ElementsMatch(t, tt.expected, eligible.List())

			// pure: the same input gives the same output
			require.Equal(t, eligible, preferences.EligibleChannels(prefs, tt.category, tt.priority, now))
		})
	}
}

func TestInQuietHoursWraparound(t *testing.T) {
	quiet := preferences.QuietHours{Enabled: true, Start: "22:00", End: "08:00"}

	require.True(t, preferences.InQuietHours(quiet, at(23, 0)))
	require.True(t, preferences.InQuietHours(quiet, at(3, 0)))
	require.True(t, preferences.InQuietHours(quiet, at(22, 0)))
	require.False(t, preferences.InQuietHours(quiet, at(8, 0)))
	require.False(t, preferences.InQuietHours(quiet, at(12, 0)))
	require.False(t, preferences.InQuietHours(quiet, at(21, 59)))
}

func TestInQuietHours(t *testing.T) {
	require.False(t, preferences.InQuietHours(preferences.QuietHours{Start: "00:00", End: "23:59"}, at(12, 0)),
		"disabled window")
	require.False(t, preferences.InQuietHours(preferences.QuietHours{Enabled: true, Start: "10:00", End: "10:00"}, at(10, 0)),
		"empty window")
	require.False(t, preferences.InQuietHours(preferences.QuietHours{Enabled: true, Start: "bad", End: "10:00"}, at(9, 0)),
		"malformed window")

	// 12:00 UTC is 14:00 in UTC+2 without daylight saving in winter
	quiet := preferences.QuietHours{Enabled: true, Start: "13:30", End: "15:00", Timezone: "Africa/Cairo"}
	winter := time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)
	require.True(t, preferences.InQuietHours(quiet, winter))
	require.False(t, preferences.InQuietHours(quiet, winter.Add(2*time.Hour)))

	quiet.Timezone = "Not/AZone"
	require.False(t, preferences.InQuietHours(quiet, winter), "falls back to UTC")
}

func TestSplitByFrequency(t *testing.T) {
	prefs := allEnabled()
	prefs.Frequency = map[message.Channel]preferences.Frequency{
		message.ChannelEmail: preferences.FrequencyDaily,
		message.ChannelPush:  preferences.FrequencyImmediate,
	}

	immediate, deferred := preferences.SplitByFrequency(prefs, message.NewChannelSet(message.ChannelEmail, message.ChannelPush, message.ChannelInApp))
	require.Equal(t, []message.Channel{message.ChannelInApp, message.ChannelPush}, immediate.List())
	require.Equal(t, []message.Channel{message.ChannelEmail}, deferred.List())
}

func TestValidate(t *testing.T) {
	prefs := allEnabled()
	require.NoError(t, preferences.Validate(prefs))

	invalid := []func(prefs *preferences.Preferences){
		func(prefs *preferences.Preferences) { prefs.Channels["fax"] = true },
		func(prefs *preferences.Preferences) { prefs.Priorities["critical"] = true },
		func(prefs *preferences.Preferences) {
			prefs.CategoryRouting = map[string][]message.Channel{"billing": {"pigeon"}}
		},
		func(prefs *preferences.Preferences) {
			prefs.Frequency[message.ChannelEmail] = "monthly"
		},
		func(prefs *preferences.Preferences) {
			prefs.QuietHours = preferences.QuietHours{Enabled: true, Start: "25:00", End: "08:00"}
		},
		func(prefs *preferences.Preferences) {
			prefs.QuietHours = preferences.QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "Mars/Base"}
		},
	}
	for _, modify := range invalid {
		prefs := allEnabled()
		modify(&prefs)
		require.Error(t, preferences.Validate(prefs))
	}
}

func TestChannelList(t *testing.T) {
	var list preferences.ChannelList
	require.NoError(t, list.Set("push, email,,in_app"))
	require.Equal(t, preferences.ChannelList{message.ChannelPush, message.ChannelEmail, message.ChannelInApp}, list)
	require.Equal(t, "push,email,in_app", list.String())
	require.Error(t, list.Set("push,fax"))
}
