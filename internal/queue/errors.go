// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package queue

import (
	"errors"
	"fmt"
)

// ErrQueueFull is returned when the queue is at capacity and no terminal
// entry is old enough to evict.
var ErrQueueFull = errors.New("queue is full")

// ValidationError reports rejected input. The queue is not mutated when
// a ValidationError is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
