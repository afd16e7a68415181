// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package message contains the vocabulary shared by the notification
// packages: channels, priorities and rendered content.
package message

import (
	"sort"
	"strings"

	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// Channel is a delivery channel.
type Channel string

const (
	// ChannelInApp stores the notification for display inside the app.
	ChannelInApp Channel = "in_app"
	// ChannelEmail delivers by email.
	ChannelEmail Channel = "email"
	// ChannelPush delivers to registered device tokens.
	ChannelPush Channel = "push"
	// ChannelSMS delivers by text message.
	ChannelSMS Channel = "sms"
	// ChannelWebhook delivers to a user configured webhook.
	ChannelWebhook Channel = "webhook"
)

// Channels lists every known channel in a stable order.
var Channels = []Channel{ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS, ChannelWebhook}

// ParseChannel parses a channel name.
func ParseChannel(s string) (Channel, error) {
	channel := Channel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Channels {
		if channel == known {
			return channel, nil
		}
	}
	return "", notifyerr.Validation.New("unknown channel %q", s)
}

// ChannelSet is a set of channels.
type ChannelSet map[Channel]struct{}

// NewChannelSet creates a set with the given channels.
func NewChannelSet(channels ...Channel) ChannelSet {
	set := make(ChannelSet, len(channels))
	for _, channel := range channels {
		set[channel] = struct{}{}
	}
	return set
}

// Has returns whether the channel is in the set.
func (set ChannelSet) Has(channel Channel) bool {
	_, ok := set[channel]
	return ok
}

// List returns the channels sorted by name.
func (set ChannelSet) List() []Channel {
	list := make([]Channel, 0, len(set))
	for channel := range set {
		list = append(list, channel)
	}
	sort.Slice(list, func(i, k int) bool { return list[i] < list[k] })
	return list
}

// Priority is the priority tier of a notification.
type Priority string

const (
	// PriorityLow is used for marketing and digests.
	PriorityLow Priority = "low"
	// PriorityNormal is the default priority.
	PriorityNormal Priority = "normal"
	// PriorityHigh is used for warnings.
	PriorityHigh Priority = "high"
	// PriorityUrgent bypasses quiet hours.
	PriorityUrgent Priority = "urgent"
)

// Priorities lists every priority from low to urgent.
var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

// ParsePriority parses a priority name, an empty string is PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	priority := Priority(strings.ToLower(strings.TrimSpace(s)))
	if priority == "" {
		return PriorityNormal, nil
	}
	for _, known := range Priorities {
		if priority == known {
			return priority, nil
		}
	}
	return "", notifyerr.Validation.New("unknown priority %q", s)
}

// Content is a rendered notification.
type Content struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Priority    Priority          `json:"priority,omitempty"`
	Sound       string            `json:"sound,omitempty"`
	Icon        string            `json:"icon,omitempty"`
	ClickAction string            `json:"click_action,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}
