// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testsuite contains the conformance tests of kvstore.Store
// implementations.
package testsuite

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"

	"github.com/StorXNetwork/StorXNotify/private/kvstore"
)

// RunTests runs the common tests against the store. The store must be empty.
func RunTests(t *testing.T, store kvstore.Store) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, store) })
	t.Run("EmptyKey", func(t *testing.T) { testEmptyKey(t, store) })
	t.Run("Range", func(t *testing.T) { testRange(t, store) })
}

func testCRUD(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)

	key := kvstore.Key("crud/key")

	_, err := store.Get(ctx, key)
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	require.NoError(t, store.Put(ctx, key, kvstore.Value("first")))
	value, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, kvstore.Value("first"), value)

	require.NoError(t, store.Put(ctx, key, kvstore.Value("second")))
	value, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, kvstore.Value("second"), value)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	// deleting a missing key is not an error
	require.NoError(t, store.Delete(ctx, key))
}

func testEmptyKey(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)

	require.True(t, kvstore.ErrEmptyKey.Has(store.Put(ctx, nil, kvstore.Value("x"))))
	_, err := store.Get(ctx, kvstore.Key{})
	require.True(t, kvstore.ErrEmptyKey.Has(err))
	require.True(t, kvstore.ErrEmptyKey.Has(store.Delete(ctx, nil)))
}

func testRange(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)

	expected := map[string]string{}
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("range/a/%d", i)
		expected[key] = fmt.Sprint(i)
		require.NoError(t, store.Put(ctx, kvstore.Key(key), kvstore.Value(fmt.Sprint(i))))
	}
	require.NoError(t, store.Put(ctx, kvstore.Key("range/b/0"), kvstore.Value("other")))

	found := map[string]string{}
	err := store.Range(ctx, kvstore.Key("range/a/"), func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		found[string(key)] = string(value)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, expected, found)

	var keys []string
	err = store.Range(ctx, kvstore.Key("range/"), func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		keys = append(keys, string(key))
		return store.Delete(ctx, key)
	})
	require.NoError(t, err)
	sort.Strings(keys)
	require.Len(t, keys, 6)
	require.Equal(t, "range/b/0", keys[5])

	err = store.Range(ctx, kvstore.Key("range/"), func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		return fmt.Errorf("unexpected key %q", key)
	})
	require.NoError(t, err)
}

// RunBenchmarks runs put and get benchmarks against the store.
func RunBenchmarks(b *testing.B, store kvstore.Store) {
	ctx := context.Background()
	value := kvstore.Value("benchmark value")

	b.Run("Put", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			key := kvstore.Key(fmt.Sprintf("bench/%d", i%1000))
			if err := store.Put(ctx, key, value); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Get", func(b *testing.B) {
		key := kvstore.Key("bench/get")
		if err := store.Put(ctx, key, value); err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := store.Get(ctx, key); err != nil {
				b.Fatal(err)
			}
		}
	})
}
