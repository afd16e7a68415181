// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package redis implements kvstore.Store on top of redis.
package redis

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/StorXNetwork/StorXNotify/private/kvstore"
)

var mon = monkit.Package()

// Error is the default redis errs class.
var Error = errs.Class("redis")

const scanCount = 100

// Client is a redis backed key/value store. Keys are namespaced by prefix and
// expire after ttl when it is positive.
type Client struct {
	db     *redis.Client
	prefix string
	ttl    time.Duration
}

var _ kvstore.Store = (*Client)(nil)

// OpenClientFromURL opens a client from an url of the form
// redis://host:port?db=0&password=secret&ttl=24h.
func OpenClientFromURL(ctx context.Context, address, prefix string) (*Client, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if u.Scheme != "redis" {
		return nil, Error.New("invalid scheme %q", u.Scheme)
	}

	q := u.Query()
	db, err := strconv.Atoi(q.Get("db"))
	if q.Get("db") != "" && err != nil {
		return nil, Error.New("invalid db %q", q.Get("db"))
	}

	var ttl time.Duration
	if s := q.Get("ttl"); s != "" {
		ttl, err = time.ParseDuration(s)
		if err != nil {
			return nil, Error.New("invalid ttl %q", s)
		}
	}

	return NewClient(ctx, redis.NewClient(&redis.Options{
		Addr:     u.Host,
		Password: q.Get("password"),
		DB:       db,
	}), prefix, ttl)
}

// NewClient wraps an existing redis client. It pings the server.
func NewClient(ctx context.Context, db *redis.Client, prefix string, ttl time.Duration) (*Client, error) {
	if err := db.Ping(ctx).Err(); err != nil {
		return nil, errs.Combine(Error.New("ping failed: %v", err), db.Close())
	}
	return &Client{db: db, prefix: prefix, ttl: ttl}, nil
}

func (client *Client) key(key kvstore.Key) string {
	return client.prefix + string(key)
}

// Put implements kvstore.Store.
func (client *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)

	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	return Error.Wrap(client.db.Set(ctx, client.key(key), []byte(value), client.ttl).Err())
}

// Get implements kvstore.Store.
func (client *Client) Get(ctx context.Context, key kvstore.Key) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)

	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}
	value, err := client.db.Get(ctx, client.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return value, nil
}

// Delete implements kvstore.Store.
func (client *Client) Delete(ctx context.Context, key kvstore.Key) (err error) {
	defer mon.Task()(&ctx)(&err)

	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	return Error.Wrap(client.db.Del(ctx, client.key(key)).Err())
}

// Range implements kvstore.Store using SCAN, keys that expire or are removed
// during the scan are skipped.
func (client *Client) Range(ctx context.Context, prefix kvstore.Key, fn kvstore.IterateFunc) (err error) {
	defer mon.Task()(&ctx)(&err)

	var keys []string
	iter := client.db.Scan(ctx, 0, escapeGlob(client.key(prefix))+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return Error.Wrap(err)
	}

	for _, key := range keys {
		value, err := client.db.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Error.Wrap(err)
		}
		if err := fn(ctx, kvstore.Key(key[len(client.prefix):]), value); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the redis client.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}

// escapeGlob escapes the glob special characters of a SCAN pattern.
func escapeGlob(s string) string {
	escaped := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, s[i])
	}
	return string(escaped)
}
