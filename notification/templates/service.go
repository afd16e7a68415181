// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package templates resolves and renders notification templates.
package templates

import (
	"context"
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/message"
	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

var mon = monkit.Package()

// Error is the default templates error class.
var Error = errs.Class("templates")

// Service resolves templates by name or id.
type Service struct {
	log *zap.Logger
	db  DB
}

// NewService creates a new template service.
func NewService(log *zap.Logger, db DB) *Service {
	return &Service{log: log, db: db}
}

// ResolveActive returns the single active template with the given name.
// It fails with a NotFound error when there is none and with a Configuration
// error when more than one template is active.
func (service *Service) ResolveActive(ctx context.Context, name string) (_ Template, err error) {
	defer mon.Task()(&ctx)(&err)

	active, err := service.db.ListActiveByName(ctx, name)
	if err != nil {
		return Template{}, Error.Wrap(err)
	}

	switch len(active) {
	case 0:
		return Template{}, notifyerr.NotFound.New("no active template named %q", name)
	case 1:
		return active[0], nil
	default:
		ids := make([]string, 0, len(active))
		for _, template := range active {
			ids = append(ids, template.ID.String())
		}
		service.log.Error("multiple active templates",
			zap.String("name", name),
			zap.Strings("template_ids", ids))
		return Template{}, notifyerr.Configuration.New("%d active templates named %q", len(active), name)
	}
}

// Get returns the template with the id regardless of its active flag.
func (service *Service) Get(ctx context.Context, id uuid.UUID) (_ Template, err error) {
	defer mon.Task()(&ctx)(&err)

	template, err := service.db.Get(ctx, id)
	if err != nil {
		if notifyerr.NotFound.Has(err) {
			return Template{}, err
		}
		return Template{}, Error.Wrap(err)
	}
	return template, nil
}

// Save validates and stores a template. New templates get the next version of
// their name and start inactive unless Activate is called.
func (service *Service) Save(ctx context.Context, template Template) (_ Template, err error) {
	defer mon.Task()(&ctx)(&err)

	template.Name = strings.TrimSpace(template.Name)
	if err := Validate(template); err != nil {
		return Template{}, err
	}
	template.Priority, _ = message.ParsePriority(string(template.Priority))

	if template.Version == 0 {
		versions, err := service.db.ListVersions(ctx, template.Name)
		if err != nil {
			return Template{}, Error.Wrap(err)
		}
		template.Version = 1
		if len(versions) > 0 {
			template.Version = versions[0].Version + 1
		}
	}

	if template.ID.IsZero() {
		template.ID, err = uuid.New()
		if err != nil {
			return Template{}, Error.Wrap(err)
		}
	}

	saved, err := service.db.Upsert(ctx, template)
	if err != nil {
		return Template{}, Error.Wrap(err)
	}
	return saved, nil
}

// Activate makes the template the active version of its name and deactivates
// all other versions.
func (service *Service) Activate(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	template, err := service.Get(ctx, id)
	if err != nil {
		return err
	}

	active, err := service.db.ListActiveByName(ctx, template.Name)
	if err != nil {
		return Error.Wrap(err)
	}

	var group errs.Group
	for _, other := range active {
		if other.ID == template.ID {
			continue
		}
		group.Add(service.db.SetActive(ctx, other.ID, false))
	}
	if err := group.Err(); err != nil {
		return Error.Wrap(err)
	}

	return Error.Wrap(service.db.SetActive(ctx, template.ID, true))
}

// Deactivate deactivates the template.
func (service *Service) Deactivate(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := service.Get(ctx, id); err != nil {
		return err
	}
	return Error.Wrap(service.db.SetActive(ctx, id, false))
}

// Validate checks the template fields required for rendering.
func Validate(template Template) error {
	var group errs.Group
	if template.Name == "" {
		group.Add(errs.New("name is required"))
	}
	if strings.TrimSpace(template.TitleTemplate) == "" && strings.TrimSpace(template.BodyTemplate) == "" {
		group.Add(errs.New("title or body is required"))
	}
	if template.Version < 0 {
		group.Add(errs.New("version must not be negative"))
	}
	if _, err := message.ParsePriority(string(template.Priority)); err != nil {
		group.Add(err)
	}
	if err := group.Err(); err != nil {
		return notifyerr.Validation.Wrap(err)
	}
	return nil
}
