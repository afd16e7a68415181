// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package notificationdbtest_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"

	"github.com/StorXNetwork/StorXNotify/notification"
	"github.com/StorXNetwork/StorXNotify/notification/notificationdb/notificationdbtest"
)

func TestDatabase(t *testing.T) {
	notificationdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db notification.DB) {
		require.NotNil(t, db.DeviceTokens())
		require.NotNil(t, db.Contacts())
	})
}
