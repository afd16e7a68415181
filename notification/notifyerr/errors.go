// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package notifyerr contains the error classes shared by the notification
// packages.
package notifyerr

import (
	"errors"

	"github.com/zeebo/errs"
)

var (
	// Validation is returned for malformed input, such as a bad token format
	// or an invalid repeat configuration. Nothing is persisted or enqueued.
	Validation = errs.Class("validation")

	// NotFound is returned when a referenced template, device, record or job
	// does not exist.
	NotFound = errs.Class("not found")

	// Delivery is returned for transport level failures.
	Delivery = errs.Class("delivery")

	// Configuration is returned for ambiguous state that must never be
	// auto-resolved, e.g. several active templates with the same name.
	Configuration = errs.Class("configuration")
)

// SkipError marks a soft terminal condition of asynchronous job processing.
// A skipped job is acknowledged and never retried by the queue.
type SkipError struct {
	Reason string
	Err    error
}

// Skip returns a SkipError with the given reason and optional cause.
func Skip(reason string, cause error) error {
	return &SkipError{Reason: reason, Err: cause}
}

func (err *SkipError) Error() string {
	if err.Err == nil {
		return "skip: " + err.Reason
	}
	return "skip: " + err.Reason + ": " + err.Err.Error()
}

// Unwrap returns the underlying cause.
func (err *SkipError) Unwrap() error { return err.Err }

// IsSkip reports whether err should end job processing without a retry.
// NotFound errors are soft inside asynchronous processing, so they count as
// skips as well.
func IsSkip(err error) bool {
	if err == nil {
		return false
	}
	var skip *SkipError
	if errors.As(err, &skip) {
		return true
	}
	return NotFound.Has(err)
}

// SkipReason returns the reason of a skip or the error text otherwise.
func SkipReason(err error) string {
	var skip *SkipError
	if errors.As(err, &skip) {
		return skip.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
