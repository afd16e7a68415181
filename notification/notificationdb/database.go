// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package notificationdb implements the notification databases on postgres
// and sqlite.
package notificationdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/StorXNetwork/StorXNotify/notification"
	"github.com/StorXNetwork/StorXNotify/notification/devices"
	"github.com/StorXNetwork/StorXNotify/notification/jobs"
	"github.com/StorXNetwork/StorXNotify/notification/preferences"
	"github.com/StorXNetwork/StorXNotify/notification/records"
	"github.com/StorXNetwork/StorXNotify/notification/templates"
)

var mon = monkit.Package()

// Error is the default notificationdb errs class.
var Error = errs.Class("notificationdb")

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

const (
	driverPostgres = "pgx"
	driverSQLite   = "sqlite3"
)

// ensures that notificationDB implements notification.DB.
var _ notification.DB = (*notificationDB)(nil)

type notificationDB struct {
	log    *zap.Logger
	db     *sqlx.DB
	driver string
	source string
}

// Open creates an instance of the notification database. Supported urls are
// postgres://... and sqlite3://path.
func Open(ctx context.Context, log *zap.Logger, databaseURL string) (notification.DB, error) {
	return open(ctx, log, databaseURL)
}

func open(ctx context.Context, log *zap.Logger, databaseURL string) (*notificationDB, error) {
	driver, source, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, Error.New("failed opening database via sql: %v", err)
	}
	if driver == driverSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Combine(Error.New("failed to connect: %v", err), db.Close())
	}

	log.Debug("connected", zap.String("driver", driver))

	return &notificationDB{
		log:    log,
		db:     db,
		driver: driver,
		source: source,
	}, nil
}

func parseURL(databaseURL string) (driver, source string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return driverPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		source = strings.TrimPrefix(databaseURL, "sqlite3://")
		if source == "" {
			return "", "", Error.New("missing sqlite path")
		}
		return driverSQLite, source, nil
	default:
		return "", "", Error.New("unsupported database url %q", databaseURL)
	}
}

// MigrateToLatest migrates the database to the latest version.
func (db *notificationDB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	provider, err := db.migrations()
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return Error.New("migration failed: %v", err)
	}
	for _, result := range results {
		db.log.Info("migration applied",
			zap.Int64("version", result.Source.Version),
			zap.Duration("duration", result.Duration))
	}
	return nil
}

func (db *notificationDB) migrations() (*goose.Provider, error) {
	var (
		dialect goose.Dialect
		fsys    embed.FS
		dir     string
	)
	switch db.driver {
	case driverPostgres:
		dialect, fsys, dir = goose.DialectPostgres, postgresMigrations, "migrations/postgres"
	default:
		dialect, fsys, dir = goose.DialectSQLite3, sqliteMigrations, "migrations/sqlite"
	}

	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	provider, err := goose.NewProvider(dialect, db.db.DB, sub)
	return provider, Error.Wrap(err)
}

// Close closes the database.
func (db *notificationDB) Close() error {
	return Error.Wrap(db.db.Close())
}

// DeviceTokens returns the device token database.
func (db *notificationDB) DeviceTokens() devices.DB { return &deviceTokens{db: db} }

// Templates returns the template database.
func (db *notificationDB) Templates() templates.DB { return &notificationTemplates{db: db} }

// Preferences returns the preferences database.
func (db *notificationDB) Preferences() preferences.DB { return &notificationPreferences{db: db} }

// Notifications returns the notification record database.
func (db *notificationDB) Notifications() records.DB { return &notifications{db: db} }

// Schedules returns the repeat schedule database.
func (db *notificationDB) Schedules() jobs.ScheduleDB { return &schedules{db: db} }

// Contacts returns the channel address database.
func (db *notificationDB) Contacts() notification.ContactsDB { return &contacts{db: db} }

// rebind converts ? placeholders to the style of the driver.
func (db *notificationDB) rebind(query string) string {
	return db.db.Rebind(query)
}

// withTx runs fn in a transaction, committing when fn succeeds.
func (db *notificationDB) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, ignoreDone(tx.Rollback()))
			return
		}
		err = Error.Wrap(tx.Commit())
	}()
	return fn(tx)
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// isConstraintViolation reports whether err is a unique or other integrity
// constraint violation reported by either driver.
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsIntegrityConstraintViolation(pgErr.Code)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
