// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package dispatcher

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/StorXNetwork/StorXNotify/private/kvstore"
)

// Ledger remembers which targets of a job already received the notification,
// so a job that is retried after a partial delivery does not notify the same
// target twice.
type Ledger struct {
	store kvstore.Store
}

// NewLedger creates a ledger on top of store.
func NewLedger(store kvstore.Store) *Ledger {
	return &Ledger{store: store}
}

func ledgerKey(key string) kvstore.Key {
	return kvstore.Key("ledger/" + key)
}

// Delivered returns the targets recorded for key.
func (ledger *Ledger) Delivered(ctx context.Context, key string) (_ map[string]bool, err error) {
	defer mon.Task()(&ctx)(&err)

	delivered := map[string]bool{}
	value, err := ledger.store.Get(ctx, ledgerKey(key))
	if kvstore.ErrKeyNotFound.Has(err) {
		return delivered, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var targets []string
	if err := json.Unmarshal(value, &targets); err != nil {
		return nil, Error.Wrap(err)
	}
	for _, target := range targets {
		delivered[target] = true
	}
	return delivered, nil
}

// Save stores the delivered targets of key.
func (ledger *Ledger) Save(ctx context.Context, key string, delivered map[string]bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(delivered) == 0 {
		return nil
	}

	targets := make([]string, 0, len(delivered))
	for target := range delivered {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	value, err := json.Marshal(targets)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(ledger.store.Put(ctx, ledgerKey(key), value))
}

// Clear forgets the targets of key.
func (ledger *Ledger) Clear(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return Error.Wrap(ledger.store.Delete(ctx, ledgerKey(key)))
}
