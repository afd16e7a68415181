// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package devices

import (
	"strings"

	"github.com/StorXNetwork/StorXNotify/notification/notifyerr"
)

// tokenRule is the expected shape of a platform token.
type tokenRule struct {
	minLength int
	maxLength int
	separator bool
}

var tokenRules = map[Platform]tokenRule{
	PlatformAndroid: {minLength: 100, maxLength: 4096},
	PlatformIOS:     {minLength: 64, maxLength: 4096},
	PlatformWeb:     {minLength: 100, maxLength: 4096, separator: true},
}

// ValidateToken checks the token string against the shape expected for the
// platform.
func ValidateToken(platform Platform, token string) error {
	rule, ok := tokenRules[platform]
	if !ok {
		return notifyerr.Validation.New("unknown platform %q", platform)
	}

	if len(token) < rule.minLength || len(token) > rule.maxLength {
		return notifyerr.Validation.New("%s token must be %d to %d characters, got %d",
			platform, rule.minLength, rule.maxLength, len(token))
	}

	for i := 0; i < len(token); i++ {
		if !isTokenChar(token[i]) {
			return notifyerr.Validation.New("%s token contains invalid character at %d", platform, i)
		}
	}

	if rule.separator && !strings.Contains(token, ":") {
		return notifyerr.Validation.New("%s token is missing the ':' separator", platform)
	}
	return nil
}

func isTokenChar(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return true
	case b == '_', b == '-', b == ':':
		return true
	}
	return false
}

// tokenPreview shortens a token for logs.
func tokenPreview(token string) string {
	if len(token) > 20 {
		return token[:20] + "..."
	}
	return token
}
