// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package poster

import (
	"errors"
	"fmt"
	"time"
)

// AuthError indicates the credential was rejected or has expired.
// Posting cannot succeed until the credential is replaced.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("poster: authentication failed: %s", e.Message)
}

// PermissionError indicates the credential is valid but lacks the
// right to post to the target.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("poster: permission denied: %s", e.Message)
}

// RateLimitedError indicates the target throttled the request.
// RetryAfter is the minimum wait the target asked for.
type RateLimitedError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("poster: rate limited (retry after %s): %s", e.RetryAfter, e.Message)
}

// BadRequestError indicates the target rejected the request content
// or the target resource no longer exists. Retrying the same payload
// cannot succeed.
type BadRequestError struct {
	StatusCode int
	Message    string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("poster: request rejected (status %d): %s", e.StatusCode, e.Message)
}

// NetworkError indicates a transport failure or a server-side error.
// These are transient and safe to retry.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("poster: network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err is transient and worth retrying with
// the same payload and credential.
func Retryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// RetryAfterHint extracts the wait requested by a RateLimitedError,
// or false when err carries no such hint.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rlErr *RateLimitedError
	if errors.As(err, &rlErr) {
		return rlErr.RetryAfter, true
	}
	return 0, false
}
