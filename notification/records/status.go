// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package records

import (
	"github.com/zeebo/errs"
)

// Status is the read status of a notification.
type Status string

const (
	// StatusUnread is the initial status.
	StatusUnread Status = "unread"
	// StatusRead is set when the user opened the notification.
	StatusRead Status = "read"
	// StatusArchived is set by the user or by the expiry sweep.
	StatusArchived Status = "archived"
	// StatusDeleted is terminal.
	StatusDeleted Status = "deleted"
)

// ErrStatusConflict is returned when a status update lost a race or would
// move a notification backwards.
var ErrStatusConflict = errs.Class("status conflict")

// rank orders the statuses, transitions only go to a higher rank.
var rank = map[Status]int{
	StatusUnread:   0,
	StatusRead:     1,
	StatusArchived: 2,
	StatusDeleted:  3,
}

// CanTransition reports whether a notification may move from one status to
// another. Progression is unread, read, archived; deleted is reachable from
// any status and final. Skipping read is allowed.
func CanTransition(from, to Status) bool {
	fromRank, ok := rank[from]
	if !ok {
		return false
	}
	toRank, ok := rank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}
