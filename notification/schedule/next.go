// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package schedule computes occurrences of repeating notification jobs.
package schedule

import (
	"time"
)

// NextOccurrence returns the first occurrence of repeat that comes after the
// anchor and strictly after now. The anchor is the occurrence that was last
// executed (or the first planned one) and its location is used for calendar
// arithmetic.
//
// ok is false when the rule does not repeat or when the computed occurrence is
// after repeat.EndDate, which terminates the repeat chain.
//
// Monthly repeats on a day that the target month does not have are clamped to
// the last day of that month, e.g. day 31 becomes April 30th. The configured
// day is kept for later months.
func NextOccurrence(anchor time.Time, repeat Repeat, now time.Time) (next time.Time, ok bool) {
	switch repeat.Rule {
	case RuleDaily:
		next = nextDaily(anchor, repeat.interval(), now)
	case RuleWeekly:
		next = nextWeekly(anchor, repeat.interval(), repeat.Weekdays, now)
	case RuleMonthly:
		next = nextMonthly(anchor, repeat.interval(), repeat.DayOfMonth, now)
	default:
		return time.Time{}, false
	}

	if repeat.EndDate != nil && next.After(*repeat.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

// FirstOccurrence returns the first occurrence of repeat that starts a chain
// at start. start is used when it falls on the rule and is not before now,
// otherwise the first occurrence after both start and now is returned.
//
// ok is false when the rule does not repeat or when the occurrence is after
// repeat.EndDate.
func FirstOccurrence(start time.Time, repeat Repeat, now time.Time) (first time.Time, ok bool) {
	if !repeat.IsRecurring() {
		return time.Time{}, false
	}

	first = start
	if start.Before(now) || !matches(start, repeat) {
		after := now
		if start.After(now) {
			after = start
		}
		first, ok = NextOccurrence(start, repeat, after)
		if !ok {
			return time.Time{}, false
		}
	}

	if repeat.EndDate != nil && first.After(*repeat.EndDate) {
		return time.Time{}, false
	}
	return first, true
}

// matches reports whether t falls on a day selected by the rule.
func matches(t time.Time, repeat Repeat) bool {
	switch repeat.Rule {
	case RuleDaily:
		return true
	case RuleWeekly:
		if len(repeat.Weekdays) == 0 {
			return true
		}
		for _, day := range repeat.Weekdays {
			if t.Weekday() == day {
				return true
			}
		}
		return false
	case RuleMonthly:
		if repeat.DayOfMonth <= 0 {
			return true
		}
		day := repeat.DayOfMonth
		if last := daysIn(t.Year(), t.Month(), t.Location()); day > last {
			day = last
		}
		return t.Day() == day
	default:
		return false
	}
}

// nextDaily steps from the anchor in whole multiples of interval days, so that
// the wall clock time of the anchor is kept across DST changes.
func nextDaily(anchor time.Time, interval int, now time.Time) time.Time {
	n := 1
	if now.After(anchor) {
		elapsedDays := int(now.Sub(anchor).Hours() / 24)
		if k := elapsedDays / interval; k > n {
			n = k
		}
	}

	next := anchor.AddDate(0, 0, n*interval)
	for !next.After(now) {
		n++
		next = anchor.AddDate(0, 0, n*interval)
	}
	return next
}

// nextWeekly walks forward day by day. Weeks are numbered from the week that
// contains the anchor (weeks start on Sunday) and only every interval-th week
// is eligible.
func nextWeekly(anchor time.Time, interval int, weekdays []time.Weekday, now time.Time) time.Time {
	var days [7]bool
	for _, day := range weekdays {
		days[day] = true
	}
	if len(weekdays) == 0 {
		days[anchor.Weekday()] = true
	}

	delta := 1
	if now.After(anchor) {
		elapsedDays := int(now.Sub(anchor).Hours() / 24)
		if elapsedDays-1 > delta {
			delta = elapsedDays - 1
		}
	}

	// at least one weekday is set, so an eligible day is found within
	// 7*(interval+1) iterations.
	offset := int(anchor.Weekday())
	for ; ; delta++ {
		candidate := anchor.AddDate(0, 0, delta)
		if !days[candidate.Weekday()] {
			continue
		}
		if week := (offset + delta) / 7; week%interval != 0 {
			continue
		}
		if candidate.After(now) {
			return candidate
		}
	}
}

// nextMonthly looks at the anchor month and every interval-th month after it.
func nextMonthly(anchor time.Time, interval, dayOfMonth int, now time.Time) time.Time {
	if dayOfMonth <= 0 {
		dayOfMonth = anchor.Day()
	}

	months := 0
	if now.After(anchor) {
		elapsed := (now.Year()-anchor.Year())*12 + int(now.Month()-anchor.Month())
		if k := elapsed/interval - 1; k > 0 {
			months = k * interval
		}
	}

	for ; ; months += interval {
		candidate := monthDay(anchor, months, dayOfMonth)
		if candidate.After(anchor) && candidate.After(now) {
			return candidate
		}
	}
}

// monthDay returns the anchor moved by months with the day set to
// dayOfMonth, clamped to the length of the target month.
func monthDay(anchor time.Time, months, dayOfMonth int) time.Time {
	hour, minute, sec := anchor.Clock()
	first := time.Date(anchor.Year(), anchor.Month()+time.Month(months), 1, hour, minute, sec, anchor.Nanosecond(), anchor.Location())

	if last := daysIn(first.Year(), first.Month(), anchor.Location()); dayOfMonth > last {
		dayOfMonth = last
	}
	return time.Date(first.Year(), first.Month(), dayOfMonth, hour, minute, sec, anchor.Nanosecond(), anchor.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
