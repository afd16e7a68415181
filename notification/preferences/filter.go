// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package preferences

import (
	"time"

	"github.com/StorXNetwork/StorXNotify/notification/message"
)

// EligibleChannels returns the channels a notification of the given category
// and priority may use at time now. The result is empty when notifications
// are disabled, muted, or suppressed by quiet hours. Urgent notifications
// ignore quiet hours.
func EligibleChannels(prefs Preferences, category string, priority message.Priority, now time.Time) message.ChannelSet {
	eligible := message.ChannelSet{}

	if !prefs.NotificationsEnabled {
		return eligible
	}
	if prefs.MutedUntil != nil && now.Before(*prefs.MutedUntil) {
		return eligible
	}
	for _, muted := range prefs.Muted {
		if muted == category {
			return eligible
		}
	}
	if priority != message.PriorityUrgent && InQuietHours(prefs.QuietHours, now) {
		return eligible
	}
	if !prefs.Priorities[priority] {
		return eligible
	}

	routing, routed := prefs.CategoryRouting[category]
	for _, channel := range message.Channels {
		if !prefs.Channels[channel] {
			continue
		}
		if routed && !containsChannel(routing, channel) {
			continue
		}
		eligible[channel] = struct{}{}
	}
	return eligible
}

// SplitByFrequency separates channels delivered immediately from channels
// that are collected into a digest.
func SplitByFrequency(prefs Preferences, channels message.ChannelSet) (immediate, deferred message.ChannelSet) {
	immediate, deferred = message.ChannelSet{}, message.ChannelSet{}
	for channel := range channels {
		switch prefs.Frequency[channel] {
		case "", FrequencyImmediate:
			immediate[channel] = struct{}{}
		default:
			deferred[channel] = struct{}{}
		}
	}
	return immediate, deferred
}

func containsChannel(channels []message.Channel, channel message.Channel) bool {
	for _, c := range channels {
		if c == channel {
			return true
		}
	}
	return false
}
