// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package teststore implements an in-memory kvstore.Store for tests.
package teststore

import (
	"bytes"
	"context"
	"sync"

	"github.com/StorXNetwork/StorXNotify/private/kvstore"
)

// Client is an in-memory key/value store.
type Client struct {
	mu        sync.Mutex
	items     map[string]kvstore.Value
	CallCount struct {
		Get    int
		Put    int
		Delete int
		Range  int
	}
}

var _ kvstore.Store = (*Client)(nil)

// New creates a new in-memory store.
func New() *Client {
	return &Client{items: map[string]kvstore.Value{}}
}

// Put implements kvstore.Store.
func (store *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++

	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	store.items[string(key)] = clone(value)
	return nil
}

// Get implements kvstore.Store.
func (store *Client) Get(ctx context.Context, key kvstore.Key) (kvstore.Value, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++

	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}
	value, ok := store.items[string(key)]
	if !ok {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	return clone(value), nil
}

// Delete implements kvstore.Store.
func (store *Client) Delete(ctx context.Context, key kvstore.Key) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++

	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	delete(store.items, string(key))
	return nil
}

// Range implements kvstore.Store.
func (store *Client) Range(ctx context.Context, prefix kvstore.Key, fn kvstore.IterateFunc) error {
	store.mu.Lock()
	store.CallCount.Range++
	var keys []kvstore.Key
	var values []kvstore.Value
	for key, value := range store.items {
		if bytes.HasPrefix([]byte(key), prefix) {
			keys = append(keys, kvstore.Key(key))
			values = append(values, clone(value))
		}
	}
	store.mu.Unlock()

	for i := range keys {
		if err := fn(ctx, keys[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close implements kvstore.Store.
func (store *Client) Close() error { return nil }

func clone(value kvstore.Value) kvstore.Value {
	return append(kvstore.Value{}, value...)
}
