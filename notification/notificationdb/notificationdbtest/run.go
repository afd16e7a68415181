// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package notificationdbtest runs tests against every supported notification
// database.
package notificationdbtest

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"strings"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"

	"github.com/StorXNetwork/StorXNotify/notification"
	"github.com/StorXNetwork/StorXNotify/notification/notificationdb"
)

// PostgresEnv is the environment variable holding the url of a postgres
// database used by the tests. Postgres tests are skipped when it is empty.
const PostgresEnv = "STORXNOTIFY_TEST_POSTGRES"

// Database describes a test database.
type Database struct {
	Name string
	URL  string
}

// Databases returns the databases the tests run against.
func Databases() []Database {
	databases := []Database{
		{Name: "Sqlite", URL: "sqlite3://file:" + testrand.UUID().String() + "?mode=memory&cache=shared"},
	}
	if url := strings.TrimSpace(os.Getenv(PostgresEnv)); url != "" {
		databases = append(databases, Database{Name: "Postgres", URL: url})
	}
	return databases
}

// Run runs the test against every database, each one migrated to the
// latest version.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db notification.DB)) {
	for _, database := range Databases() {
		database := database
		t.Run(database.Name, func(t *testing.T) {
			t.Parallel()

			ctx := testcontext.New(t)
			log := zaptest.NewLogger(t)

			databaseURL := database.URL
			if database.Name == "Postgres" {
				schemaURL, drop, err := createSchema(ctx, databaseURL)
				if err != nil {
					t.Fatal(err)
				}
				defer ctx.Check(drop)
				databaseURL = schemaURL
			}

			db, err := notificationdb.Open(ctx, log.Named("db"), databaseURL)
			if err != nil {
				t.Fatal(err)
			}
			defer ctx.Check(db.Close)

			if err := db.MigrateToLatest(ctx); err != nil {
				t.Fatal(err)
			}

			test(ctx, t, db)
		})
	}
}

// createSchema creates a unique schema and returns a url using it as the
// search path, so parallel tests do not see each other's rows.
func createSchema(ctx context.Context, databaseURL string) (_ string, drop func() error, err error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", nil, errs.Wrap(err)
	}

	admin, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return "", nil, errs.Wrap(err)
	}

	schema := "notify_" + strings.ReplaceAll(testrand.UUID().String(), "-", "")
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA `+schema); err != nil {
		return "", nil, errs.Combine(err, admin.Close())
	}

	query := parsed.Query()
	query.Set("search_path", schema)
	parsed.RawQuery = query.Encode()

	drop = func() error {
		_, err := admin.ExecContext(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
		return errs.Combine(err, admin.Close())
	}
	return parsed.String(), drop, nil
}
