// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package boltdb implements kvstore.Store on top of a local bolt database.
package boltdb

import (
	"bytes"
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.etcd.io/bbolt"

	"github.com/StorXNetwork/StorXNotify/private/kvstore"
)

var mon = monkit.Package()

// Error is the default boltdb errs class.
var Error = errs.Class("boltdb")

const (
	fileMode       = 0o600
	defaultTimeout = time.Second
)

// Client is a bolt backed key/value store using a single bucket.
type Client struct {
	db     *bbolt.DB
	Path   string
	Bucket []byte
}

var _ kvstore.Store = (*Client)(nil)

// New opens the bolt database at path and creates the bucket.
func New(path, bucket string) (*Client, error) {
	db, err := bbolt.Open(path, fileMode, &bbolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), Error.Wrap(db.Close()))
	}

	return &Client{
		db:     db,
		Path:   path,
		Bucket: []byte(bucket),
	}, nil
}

// Put implements kvstore.Store.
func (client *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)

	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	return Error.Wrap(client.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(client.Bucket).Put(key, value)
	}))
}

// Get implements kvstore.Store.
func (client *Client) Get(ctx context.Context, key kvstore.Key) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)

	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}

	var value kvstore.Value
	err = client.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(client.Bucket).Get(key)
		if data == nil {
			return kvstore.ErrKeyNotFound.New("%q", key)
		}
		// data is only valid inside the transaction
		value = append(kvstore.Value{}, data...)
		return nil
	})
	if kvstore.ErrKeyNotFound.Has(err) {
		return nil, err
	}
	return value, Error.Wrap(err)
}

// Delete implements kvstore.Store.
func (client *Client) Delete(ctx context.Context, key kvstore.Key) (err error) {
	defer mon.Task()(&ctx)(&err)

	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	return Error.Wrap(client.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(client.Bucket).Delete(key)
	}))
}

// Range implements kvstore.Store. The items are collected before fn is
// called, so fn may modify the store.
func (client *Client) Range(ctx context.Context, prefix kvstore.Key, fn kvstore.IterateFunc) (err error) {
	defer mon.Task()(&ctx)(&err)

	var keys []kvstore.Key
	var values []kvstore.Value
	err = client.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(client.Bucket).Cursor()
		for key, value := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, value = cursor.Next() {
			keys = append(keys, append(kvstore.Key{}, key...))
			values = append(values, append(kvstore.Value{}, value...))
		}
		return nil
	})
	if err != nil {
		return Error.Wrap(err)
	}

	for i := range keys {
		if err := fn(ctx, keys[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the bolt database.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
