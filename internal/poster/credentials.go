// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package poster

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialProvider supplies the bearer token used for posting.
// Implementations may refresh or rotate the token between calls.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed bearer token.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a provider around a fixed token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// Token returns the configured token.
func (p *StaticTokenProvider) Token(_ context.Context) (string, error) {
	return p.token, nil
}

// checkTokenExpiry inspects a JWT-shaped token for an exp claim and
// reports whether it has already expired. Opaque tokens pass through
// unchecked; the target is the authority either way, this only avoids
// a doomed round trip.
func checkTokenExpiry(token string, now time.Time) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Not a parseable JWT; let the target decide.
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Time.Before(now) {
		return &AuthError{Message: "bearer token expired at " + exp.Time.UTC().Format(time.RFC3339)}
	}
	return nil
}
