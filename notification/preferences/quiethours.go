// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package preferences

import (
	"time"
	_ "time/tzdata" // quiet hours must work without a system zoneinfo

	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

const clockLayout = "15:04"

// InQuietHours reports whether now falls inside the quiet hours window in the
// window's timezone. The start is inclusive and the end exclusive. A window
// whose start is after its end wraps around midnight. Disabled, empty or
// malformed windows never match. An unknown timezone falls back to UTC.
func InQuietHours(quiet QuietHours, now time.Time) bool {
	if !quiet.Enabled {
		return false
	}
	start, err := parseClock(quiet.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(quiet.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}

	local := now.In(location(quiet.Timezone))
	minute := local.Hour()*60 + local.Minute()

	if start < end {
		return start <= minute && minute < end
	}
	return minute >= start || minute < end
}

// ValidateQuietHours checks the window fields.
func ValidateQuietHours(quiet QuietHours) error {
	if !quiet.Enabled {
		return nil
	}
	if _, err := parseClock(quiet.Start); err != nil {
		return notifyerr.Validation.New("quiet hours start %q: want HH:MM", quiet.Start)
	}
	if _, err := parseClock(quiet.End); err != nil {
		return notifyerr.Validation.New("quiet hours end %q: want HH:MM", quiet.End)
	}
	if quiet.Timezone != "" {
		if _, err := time.LoadLocation(quiet.Timezone); err != nil {
			return notifyerr.Validation.New("quiet hours timezone %q: %v", quiet.Timezone, err)
		}
	}
	return nil
}

// parseClock returns minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
