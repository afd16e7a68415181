// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package schedule

import (
	"strings"
	"time"

	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// Rule is the recurrence pattern of a repeat capable job.
type Rule string

const (
	// RuleNone disables repetition.
	RuleNone Rule = "none"
	// RuleDaily repeats every Interval days.
	RuleDaily Rule = "daily"
	// RuleWeekly repeats on Weekdays every Interval weeks.
	RuleWeekly Rule = "weekly"
	// RuleMonthly repeats on DayOfMonth every Interval months.
	RuleMonthly Rule = "monthly"
)

// ParseRule parses a rule name, an empty string means RuleNone.
func ParseRule(s string) (Rule, error) {
	switch rule := Rule(strings.ToLower(strings.TrimSpace(s))); rule {
	case "", RuleNone:
		return RuleNone, nil
	case RuleDaily, RuleWeekly, RuleMonthly:
		return rule, nil
	default:
		return "", notifyerr.Validation.New("unknown repeat rule %q", s)
	}
}

// Repeat describes how a job repeats.
type Repeat struct {
	Rule Rule `json:"rule"`
	// Interval is the multiplier of the rule unit, zero means one.
	Interval int `json:"interval,omitempty"`
	// Weekdays used by RuleWeekly, empty means the weekday of the anchor.
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
	// DayOfMonth used by RuleMonthly, zero means the day of the anchor.
	DayOfMonth int `json:"day_of_month,omitempty"`
	// EndDate terminates the chain when set.
	EndDate *time.Time `json:"end_date,omitempty"`
}

// IsRecurring returns true when the repeat produces further occurrences.
func (repeat Repeat) IsRecurring() bool {
	return repeat.Rule != "" && repeat.Rule != RuleNone
}

// interval returns the effective interval.
func (repeat Repeat) interval() int {
	if repeat.Interval <= 0 {
		return 1
	}
	return repeat.Interval
}

// Validate checks the repeat configuration.
func (repeat Repeat) Validate() error {
	if _, err := ParseRule(string(repeat.Rule)); err != nil {
		return err
	}
	if repeat.Interval < 0 {
		return notifyerr.Validation.New("repeat interval must not be negative: %d", repeat.Interval)
	}
	for _, day := range repeat.Weekdays {
		if day < time.Sunday || day > time.Saturday {
			return notifyerr.Validation.New("invalid weekday %d", day)
		}
	}
	if repeat.DayOfMonth < 0 || repeat.DayOfMonth > 31 {
		return notifyerr.Validation.New("invalid day of month %d", repeat.DayOfMonth)
	}
	if repeat.Rule != RuleWeekly && len(repeat.Weekdays) > 0 {
		return notifyerr.Validation.New("weekdays are only valid for weekly repeats")
	}
	if repeat.Rule != RuleMonthly && repeat.DayOfMonth != 0 {
		return notifyerr.Validation.New("day of month is only valid for monthly repeats")
	}
	return nil
}
