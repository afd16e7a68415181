// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package notificationdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
	"github.com/StorXNetwork/StorXNotify/notification/templates"
)

// ensures that notificationTemplates implements templates.DB.
var _ templates.DB = (*notificationTemplates)(nil)

// ErrTemplates represents errors from the notification_templates database.
var ErrTemplates = errs.Class("notificationtemplates")

type notificationTemplates struct {
	db *notificationDB
}

const templateColumns = `id, name, version, category, title_template, body_template,
	priority, sound, icon, click_action, default_variables, is_active, created_at, updated_at`

type templateRow struct {
	ID               []byte    `db:"id"`
	Name             string    `db:"name"`
	Version          int       `db:"version"`
	Category         string    `db:"category"`
	TitleTemplate    string    `db:"title_template"`
	BodyTemplate     string    `db:"body_template"`
	Priority         string    `db:"priority"`
	Sound            string    `db:"sound"`
	Icon             string    `db:"icon"`
	ClickAction      string    `db:"click_action"`
	DefaultVariables string    `db:"default_variables"`
	IsActive         bool      `db:"is_active"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Upsert inserts a template or updates the one with the same name and
// version.
func (t *notificationTemplates) Upsert(ctx context.Context, template templates.Template) (_ templates.Template, err error) {
	defer mon.Task()(&ctx)(&err)

	variables, err := json.Marshal(template.DefaultVariables)
	if err != nil {
		return templates.Template{}, ErrTemplates.Wrap(err)
	}
	if template.DefaultVariables == nil {
		variables = []byte("{}")
	}

	var row templateRow
	err = t.db.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, t.db.rebind(`
			INSERT INTO notification_templates (`+templateColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (name, version) DO UPDATE SET
				category = excluded.category,
				title_template = excluded.title_template,
				body_template = excluded.body_template,
				priority = excluded.priority,
				sound = excluded.sound,
				icon = excluded.icon,
				click_action = excluded.click_action,
				default_variables = excluded.default_variables,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at
		`),
			template.ID[:], template.Name, template.Version, template.Category,
			template.TitleTemplate, template.BodyTemplate, string(template.Priority),
			template.Sound, template.Icon, template.ClickAction, string(variables),
			template.IsActive, template.CreatedAt.UTC(), template.UpdatedAt.UTC())
		if err != nil {
			return err
		}

		return tx.GetContext(ctx, &row, t.db.rebind(`
			SELECT `+templateColumns+` FROM notification_templates
			WHERE name = ? AND version = ?
		`), template.Name, template.Version)
	})
	if err != nil {
		return templates.Template{}, ErrTemplates.Wrap(err)
	}
	return templateFromRow(row)
}

// Get retrieves a template by ID.
func (t *notificationTemplates) Get(ctx context.Context, id uuid.UUID) (_ templates.Template, err error) {
	defer mon.Task()(&ctx)(&err)

	var row templateRow
	err = t.db.db.GetContext(ctx, &row, t.db.rebind(`SELECT `+templateColumns+` FROM notification_templates WHERE id = ?`), id[:])
	if errors.Is(err, sql.ErrNoRows) {
		return templates.Template{}, notifyerr.NotFound.New("template %s", id)
	}
	if err != nil {
		return templates.Template{}, ErrTemplates.Wrap(err)
	}
	return templateFromRow(row)
}

// ListActiveByName retrieves all active templates with the given name.
func (t *notificationTemplates) ListActiveByName(ctx context.Context, name string) (_ []templates.Template, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []templateRow
	err = t.db.db.SelectContext(ctx, &rows, t.db.rebind(`
		SELECT `+templateColumns+` FROM notification_templates
		WHERE name = ? AND is_active = ?
		ORDER BY version DESC
	`), name, true)
	if err != nil {
		return nil, ErrTemplates.Wrap(err)
	}
	return templatesFromRows(rows)
}

// ListVersions retrieves every version of the named template, newest first.
func (t *notificationTemplates) ListVersions(ctx context.Context, name string) (_ []templates.Template, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []templateRow
	err = t.db.db.SelectContext(ctx, &rows, t.db.rebind(`
		SELECT `+templateColumns+` FROM notification_templates
		WHERE name = ?
		ORDER BY version DESC
	`), name)
	if err != nil {
		return nil, ErrTemplates.Wrap(err)
	}
	return templatesFromRows(rows)
}

// SetActive sets the active flag of a template.
func (t *notificationTemplates) SetActive(ctx context.Context, id uuid.UUID, active bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := t.db.db.ExecContext(ctx, t.db.rebind(`
		UPDATE notification_templates SET is_active = ?, updated_at = ? WHERE id = ?
	`), active, time.Now().UTC(), id[:])
	if err != nil {
		return ErrTemplates.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ErrTemplates.Wrap(err)
	}
	if affected == 0 {
		return notifyerr.NotFound.New("template %s", id)
	}
	return nil
}

func templatesFromRows(rows []templateRow) ([]templates.Template, error) {
	list := make([]templates.Template, 0, len(rows))
	for _, row := range rows {
		template, err := templateFromRow(row)
		if err != nil {
			return nil, err
		}
		list = append(list, template)
	}
	return list, nil
}

func templateFromRow(row templateRow) (templates.Template, error) {
	id, err := uuid.FromBytes(row.ID)
	if err != nil {
		return templates.Template{}, ErrTemplates.Wrap(err)
	}

	var variables map[string]interface{}
	if row.DefaultVariables != "" {
		if err := json.Unmarshal([]byte(row.DefaultVariables), &variables); err != nil {
			return templates.Template{}, ErrTemplates.Wrap(err)
		}
	}

	return templates.Template{
		ID:               id,
		Name:             row.Name,
		Version:          row.Version,
		Category:         row.Category,
		TitleTemplate:    row.TitleTemplate,
		BodyTemplate:     row.BodyTemplate,
		Priority:         message.Priority(row.Priority),
		Sound:            row.Sound,
		Icon:             row.Icon,
		ClickAction:      row.ClickAction,
		DefaultVariables: variables,
		IsActive:         row.IsActive,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}, nil
}
