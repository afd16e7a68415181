// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package devices

import (
	"context"
	"strings"
	"time"

	"storj.io/common/uuid"

	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// Platform is the platform a delivery token was issued for.
type Platform string

const (
	// PlatformAndroid is a mobile android device.
	PlatformAndroid Platform = "android"
	// PlatformIOS is a mobile iOS device.
	PlatformIOS Platform = "ios"
	// PlatformWeb is a browser.
	PlatformWeb Platform = "web"
)

// ParsePlatform parses a platform name.
func ParsePlatform(s string) (Platform, error) {
	switch platform := Platform(strings.ToLower(strings.TrimSpace(s))); platform {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return platform, nil
	default:
		return "", notifyerr.Validation.New("unknown platform %q", s)
	}
}

// Metadata is optional information about the device.
type Metadata struct {
	AppVersion  string `json:"app_version,omitempty"`
	OSVersion   string `json:"os_version,omitempty"`
	DeviceModel string `json:"device_model,omitempty"`
	BrowserName string `json:"browser_name,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// DeviceToken is a registered delivery endpoint.
type DeviceToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Token     string
	Platform  Platform
	DeviceID  string
	Metadata  Metadata

	IsActive   bool
	LastUsedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RegisterRequest contains the fields of a device registration.
type RegisterRequest struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Token     string
	Platform  Platform
	DeviceID  string
	Metadata  Metadata
}

// SweepResult is the outcome of a retention sweep.
type SweepResult struct {
	Removed int
	Errors  []error
}

// DB defines database operations for device tokens.
//
// architecture: Database
type DB interface {
	// Upsert inserts the token or updates the row with the same device, user
	// and company in a single statement. A different row holding the same
	// token string is removed. It returns the stored row.
	Upsert(ctx context.Context, token DeviceToken) (DeviceToken, error)

	// Get retrieves a token by ID.
	Get(ctx context.Context, id uuid.UUID) (DeviceToken, error)

	// GetByToken retrieves a token by its token string.
	GetByToken(ctx context.Context, token string) (DeviceToken, error)

	// ListActive retrieves the active tokens of a user within a company,
	// most recently used first.
	ListActive(ctx context.Context, userID, companyID uuid.UUID) ([]DeviceToken, error)

	// SetActive sets the active flag. Activating also sets the last used time.
	SetActive(ctx context.Context, id uuid.UUID, active bool, now time.Time) error

	// ListInactiveBefore retrieves inactive tokens last used before cutoff.
	ListInactiveBefore(ctx context.Context, cutoff time.Time, limit int) ([]DeviceToken, error)

	// Delete removes a token.
	Delete(ctx context.Context, id uuid.UUID) error
}
