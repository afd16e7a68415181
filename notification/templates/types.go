// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package templates

import (
	"context"
	"time"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/message"
)

// Template is a named and versioned notification blueprint.
type Template struct {
	ID       uuid.UUID
	Name     string
	Version  int
	Category string

	TitleTemplate string
	BodyTemplate  string

	Priority    message.Priority
	Sound       string
	Icon        string
	ClickAction string

	DefaultVariables map[string]interface{}

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DB defines database operations for notification templates.
//
// architecture: Database
type DB interface {
	// Upsert inserts a template or updates the one with the same name and version.
	Upsert(ctx context.Context, template Template) (Template, error)

	// Get retrieves a template by ID.
	Get(ctx context.Context, id uuid.UUID) (Template, error)

	// ListActiveByName retrieves all active templates with the given name.
	ListActiveByName(ctx context.Context, name string) ([]Template, error)

	// ListVersions retrieves every version of the named template, newest first.
	ListVersions(ctx context.Context, name string) ([]Template, error)

	// SetActive sets the active flag of a template.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}
