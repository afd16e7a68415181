// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package devices keeps track of the delivery tokens of user devices.
package devices

import (
	"context"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

var mon = monkit.Package()

// Error is the default devices error class.
var Error = errs.Class("devices")

// Config contains configuration for the device registry.
type Config struct {
	SweepBatchSize int `help:"number of inactive tokens loaded per sweep page" default:"500"`
}

// Service is the device registry.
//
// architecture: Service
type Service struct {
	log    *zap.Logger
	db     DB
	config Config

	nowFn func() time.Time
}

// NewService creates a new device registry.
func NewService(log *zap.Logger, db DB, config Config) *Service {
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = 500
	}
	return &Service{
		log:    log,
		db:     db,
		config: config,
		nowFn:  time.Now,
	}
}

// TestSetNow replaces the clock of the service.
func (service *Service) TestSetNow(now func() time.Time) {
	service.nowFn = now
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

// Register registers the token of a device. Registering the same device for
// the same user and company again replaces the token, platform and metadata
// and marks the token active.
func (service *Service) Register(ctx context.Context, req RegisterRequest) (_ DeviceToken, err error) {
	defer mon.Task()(&ctx)(&err)

	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.Token = strings.TrimSpace(req.Token)

	switch {
	case req.UserID.IsZero():
		return DeviceToken{}, notifyerr.Validation.New("user id is required")
	case req.CompanyID.IsZero():
		return DeviceToken{}, notifyerr.Validation.New("company id is required")
	case req.DeviceID == "":
		return DeviceToken{}, notifyerr.Validation.New("device id is required")
	}
	if err := ValidateToken(req.Platform, req.Token); err != nil {
		return DeviceToken{}, err
	}

	id, err := uuid.New()
	if err != nil {
		return DeviceToken{}, Error.Wrap(err)
	}

	now := service.now()
	stored, err := service.db.Upsert(ctx, DeviceToken{
		ID:         id,
		UserID:     req.UserID,
		CompanyID:  req.CompanyID,
		Token:      req.Token,
		Platform:   req.Platform,
		DeviceID:   req.DeviceID,
		Metadata:   req.Metadata,
		IsActive:   true,
		LastUsedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return DeviceToken{}, Error.Wrap(err)
	}

	mon.Counter("device_token_registrations").Inc(1)
	service.log.Debug("device token registered",
		zap.Stringer("user_id", req.UserID),
		zap.Stringer("company_id", req.CompanyID),
		zap.String("device_id", req.DeviceID),
		zap.String("platform", string(req.Platform)),
		zap.String("token", tokenPreview(req.Token)))

	return stored, nil
}

// TokensFor returns the active tokens of the user, most recently used first.
func (service *Service) TokensFor(ctx context.Context, userID, companyID uuid.UUID) (_ []DeviceToken, err error) {
	defer mon.Task()(&ctx)(&err)

	tokens, err := service.db.ListActive(ctx, userID, companyID)
	return tokens, Error.Wrap(err)
}

// Get returns a token by id.
func (service *Service) Get(ctx context.Context, id uuid.UUID) (_ DeviceToken, err error) {
	defer mon.Task()(&ctx)(&err)

	token, err := service.db.Get(ctx, id)
	if err != nil {
		return DeviceToken{}, wrap(err)
	}
	return token, nil
}

// Deactivate marks the token inactive. Deactivating an inactive token is a
// no-op.
func (service *Service) Deactivate(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	return wrap(service.db.SetActive(ctx, id, false, service.now()))
}

// Reactivate marks the token active and refreshes its last used time.
func (service *Service) Reactivate(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	return wrap(service.db.SetActive(ctx, id, true, service.now()))
}

// DeactivateToken marks the token with the given token string inactive.
// Unknown tokens are ignored.
func (service *Service) DeactivateToken(ctx context.Context, token string) (err error) {
	defer mon.Task()(&ctx)(&err)

	stored, err := service.db.GetByToken(ctx, token)
	if err != nil {
		if notifyerr.NotFound.Has(err) {
			return nil
		}
		return Error.Wrap(err)
	}
	return wrap(service.db.SetActive(ctx, stored.ID, false, service.now()))
}

// Delete removes a token.
func (service *Service) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	return wrap(service.db.Delete(ctx, id))
}

// SweepInactive removes inactive tokens that were last used more than
// maxAgeDays ago. Active tokens are never removed. A failed deletion is
// recorded in the result and does not stop the sweep.
func (service *Service) SweepInactive(ctx context.Context, maxAgeDays int) (result SweepResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if maxAgeDays <= 0 {
		return SweepResult{}, notifyerr.Validation.New("max age must be positive, got %d", maxAgeDays)
	}

	cutoff := service.now().AddDate(0, 0, -maxAgeDays)
	failed := map[uuid.UUID]bool{}

	for {
		limit := service.config.SweepBatchSize + len(failed)
		page, err := service.db.ListInactiveBefore(ctx, cutoff, limit)
		if err != nil {
			return result, Error.Wrap(err)
		}

		progress := false
		for _, token := range page {
			if failed[token.ID] {
				continue
			}
			if err := service.db.Delete(ctx, token.ID); err != nil {
				failed[token.ID] = true
				result.Errors = append(result.Errors, Error.New("delete %s: %v", token.ID, err))
				continue
			}
			result.Removed++
			progress = true
		}

		if !progress || len(page) < limit {
			break
		}
	}

	mon.IntVal("device_tokens_swept").Observe(int64(result.Removed))
	service.log.Info("inactive device tokens swept",
		zap.Int("max_age_days", maxAgeDays),
		zap.Time("cutoff", cutoff),
		zap.Int("removed", result.Removed),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// wrap keeps NotFound errors recognizable for callers.
func wrap(err error) error {
	if err == nil || notifyerr.NotFound.Has(err) {
		return err
	}
	return Error.Wrap(err)
}
