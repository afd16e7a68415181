// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package notificationdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/devices"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// ensures that deviceTokens implements devices.DB.
var _ devices.DB = (*deviceTokens)(nil)

// ErrDeviceTokens represents errors from the device_tokens database.
var ErrDeviceTokens = errs.Class("devicetokens")

type deviceTokens struct {
	db *notificationDB
}

const deviceTokenColumns = `id, user_id, company_id, token, platform, device_id,
	app_version, os_version, device_model, browser_name, user_agent,
	is_active, last_used_at, created_at, updated_at`

type deviceTokenRow struct {
	ID          []byte    `db:"id"`
	UserID      []byte    `db:"user_id"`
	CompanyID   []byte    `db:"company_id"`
	Token       string    `db:"token"`
	Platform    string    `db:"platform"`
	DeviceID    string    `db:"device_id"`
	AppVersion  string    `db:"app_version"`
	OSVersion   string    `db:"os_version"`
	DeviceModel string    `db:"device_model"`
	BrowserName string    `db:"browser_name"`
	UserAgent   string    `db:"user_agent"`
	IsActive    bool      `db:"is_active"`
	LastUsedAt  time.Time `db:"last_used_at"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// upsertRetries is the number of attempts of Upsert.
const upsertRetries = 5

// Upsert inserts the token or updates the row of the same device, user and
// company. A row of another device holding the same token is removed first.
func (d *deviceTokens) Upsert(ctx context.Context, token devices.DeviceToken) (_ devices.DeviceToken, err error) {
	defer mon.Task()(&ctx)(&err)

	// a concurrent registration of the same token commits between our delete
	// and insert
	for retry := 0; retry < upsertRetries; retry++ {
		var stored devices.DeviceToken
		stored, err = d.tryUpsert(ctx, token)
		switch {
		case err == nil:
			return stored, nil
		case isConstraintViolation(err):
			mon.Event("device_token_upsert_conflict")
		default:
			return devices.DeviceToken{}, err
		}
	}
	return devices.DeviceToken{}, ErrDeviceTokens.New("unable to store token after %d attempts: %v", upsertRetries, err)
}

func (d *deviceTokens) tryUpsert(ctx context.Context, token devices.DeviceToken) (_ devices.DeviceToken, err error) {
	var row deviceTokenRow
	err = d.db.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, d.db.rebind(`
			DELETE FROM device_tokens
			WHERE token = ? AND NOT (device_id = ? AND user_id = ? AND company_id = ?)
		`), token.Token, token.DeviceID, token.UserID[:], token.CompanyID[:])
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, d.db.rebind(`
			INSERT INTO device_tokens (`+deviceTokenColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (device_id, user_id, company_id) DO UPDATE SET
				token = excluded.token,
				platform = excluded.platform,
				app_version = excluded.app_version,
				os_version = excluded.os_version,
				device_model = excluded.device_model,
				browser_name = excluded.browser_name,
				user_agent = excluded.user_agent,
				is_active = excluded.is_active,
				last_used_at = excluded.last_used_at,
				updated_at = excluded.updated_at
		`),
			token.ID[:], token.UserID[:], token.CompanyID[:], token.Token, string(token.Platform), token.DeviceID,
			token.Metadata.AppVersion, token.Metadata.OSVersion, token.Metadata.DeviceModel,
			token.Metadata.BrowserName, token.Metadata.UserAgent,
			token.IsActive, token.LastUsedAt.UTC(), token.CreatedAt.UTC(), token.UpdatedAt.UTC())
		if err != nil {
			return err
		}

		return tx.GetContext(ctx, &row, d.db.rebind(`
			SELECT `+deviceTokenColumns+` FROM device_tokens
			WHERE device_id = ? AND user_id = ? AND company_id = ?
		`), token.DeviceID, token.UserID[:], token.CompanyID[:])
	})
	if err != nil {
		return devices.DeviceToken{}, ErrDeviceTokens.Wrap(err)
	}
	return deviceTokenFromRow(row)
}

// Get retrieves a token by ID.
func (d *deviceTokens) Get(ctx context.Context, id uuid.UUID) (_ devices.DeviceToken, err error) {
	defer mon.Task()(&ctx)(&err)

	var row deviceTokenRow
	err = d.db.db.GetContext(ctx, &row, d.db.rebind(`SELECT `+deviceTokenColumns+` FROM device_tokens WHERE id = ?`), id[:])
	if errors.Is(err, sql.ErrNoRows) {
		return devices.DeviceToken{}, notifyerr.NotFound.New("device token %s", id)
	}
	if err != nil {
		return devices.DeviceToken{}, ErrDeviceTokens.Wrap(err)
	}
	return deviceTokenFromRow(row)
}

// GetByToken retrieves a token by the token string.
func (d *deviceTokens) GetByToken(ctx context.Context, token string) (_ devices.DeviceToken, err error) {
	defer mon.Task()(&ctx)(&err)

	var row deviceTokenRow
	err = d.db.db.GetContext(ctx, &row, d.db.rebind(`SELECT `+deviceTokenColumns+` FROM device_tokens WHERE token = ?`), token)
	if errors.Is(err, sql.ErrNoRows) {
		return devices.DeviceToken{}, notifyerr.NotFound.New("device token")
	}
	if err != nil {
		return devices.DeviceToken{}, ErrDeviceTokens.Wrap(err)
	}
	return deviceTokenFromRow(row)
}

// ListActive retrieves the active tokens of a user within a company, most
// recently used first.
func (d *deviceTokens) ListActive(ctx context.Context, userID, companyID uuid.UUID) (_ []devices.DeviceToken, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []deviceTokenRow
	err = d.db.db.SelectContext(ctx, &rows, d.db.rebind(`
		SELECT `+deviceTokenColumns+` FROM device_tokens
		WHERE user_id = ? AND company_id = ? AND is_active = ?
		ORDER BY last_used_at DESC, id
	`), userID[:], companyID[:], true)
	if err != nil {
		return nil, ErrDeviceTokens.Wrap(err)
	}
	return deviceTokensFromRows(rows)
}

// SetActive sets the active flag. Activation also refreshes the last used
// time.
func (d *deviceTokens) SetActive(ctx context.Context, id uuid.UUID, active bool, now time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	query := `UPDATE device_tokens SET is_active = ?, updated_at = ? WHERE id = ?`
	args := []interface{}{active, now.UTC(), id[:]}
	if active {
		query = `UPDATE device_tokens SET is_active = ?, updated_at = ?, last_used_at = ? WHERE id = ?`
		args = []interface{}{active, now.UTC(), now.UTC(), id[:]}
	}

	result, err := d.db.db.ExecContext(ctx, d.db.rebind(query), args...)
	if err != nil {
		return ErrDeviceTokens.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ErrDeviceTokens.Wrap(err)
	}
	if affected == 0 {
		return notifyerr.NotFound.New("device token %s", id)
	}
	return nil
}

// ListInactiveBefore retrieves inactive tokens last used before cutoff,
// oldest first.
func (d *deviceTokens) ListInactiveBefore(ctx context.Context, cutoff time.Time, limit int) (_ []devices.DeviceToken, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []deviceTokenRow
	err = d.db.db.SelectContext(ctx, &rows, d.db.rebind(`
		SELECT `+deviceTokenColumns+` FROM device_tokens
		WHERE is_active = ? AND last_used_at < ?
		ORDER BY last_used_at, id
		LIMIT ?
	`), false, cutoff.UTC(), limit)
	if err != nil {
		return nil, ErrDeviceTokens.Wrap(err)
	}
	return deviceTokensFromRows(rows)
}

// Delete removes a token.
func (d *deviceTokens) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := d.db.db.ExecContext(ctx, d.db.rebind(`DELETE FROM device_tokens WHERE id = ?`), id[:])
	if err != nil {
		return ErrDeviceTokens.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ErrDeviceTokens.Wrap(err)
	}
	if affected == 0 {
		return notifyerr.NotFound.New("device token %s", id)
	}
	return nil
}

func deviceTokensFromRows(rows []deviceTokenRow) ([]devices.DeviceToken, error) {
	tokens := make([]devices.DeviceToken, 0, len(rows))
	for _, row := range rows {
		token, err := deviceTokenFromRow(row)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// deviceTokenFromRow converts a database row to devices.DeviceToken.
func deviceTokenFromRow(row deviceTokenRow) (devices.DeviceToken, error) {
	id, err := uuid.FromBytes(row.ID)
	if err != nil {
		return devices.DeviceToken{}, ErrDeviceTokens.Wrap(err)
	}
	userID, err := uuid.FromBytes(row.UserID)
	if err != nil {
		return devices.DeviceToken{}, ErrDeviceTokens.Wrap(err)
	}
	companyID, err := uuid.FromBytes(row.CompanyID)
	if err != nil {
		return devices.DeviceToken{}, ErrDeviceTokens.Wrap(err)
	}

	return devices.DeviceToken{
		ID:        id,
		UserID:    userID,
		CompanyID: companyID,
		Token:     row.Token,
		Platform:  devices.Platform(row.Platform),
		DeviceID:  row.DeviceID,
		Metadata: devices.Metadata{
			AppVersion:  row.AppVersion,
			OSVersion:   row.OSVersion,
			DeviceModel: row.DeviceModel,
			BrowserName: row.BrowserName,
			UserAgent:   row.UserAgent,
		},
		IsActive:   row.IsActive,
		LastUsedAt: row.LastUsedAt.UTC(),
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}, nil
}
