// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package kvstore defines a minimal key/value store used for small pieces of
// durable state.
package kvstore

import (
	"context"

	"github.com/zeebo/errs"
)

var (
	// ErrKeyNotFound is returned when the key does not exist.
	ErrKeyNotFound = errs.Class("key not found")
	// ErrEmptyKey is returned for empty keys.
	ErrEmptyKey = errs.Class("empty key")
)

// Key is the type for the keys.
type Key []byte

// Value is the type for the values.
type Value []byte

// String returns the key as a string.
func (key Key) String() string { return string(key) }

// IsZero returns whether the key is empty.
func (key Key) IsZero() bool { return len(key) == 0 }

// IterateFunc is called for every item by Range.
type IterateFunc func(ctx context.Context, key Key, value Value) error

// Store is a key/value store.
type Store interface {
	// Put stores the value under the key, replacing an existing value.
	Put(ctx context.Context, key Key, value Value) error
	// Get returns the value of the key or ErrKeyNotFound.
	Get(ctx context.Context, key Key) (Value, error)
	// Delete removes the key, deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
	// Range calls fn for every key with the prefix, in no particular order.
	Range(ctx context.Context, prefix Key, fn IterateFunc) error
	// Close closes the store.
	Close() error
}
