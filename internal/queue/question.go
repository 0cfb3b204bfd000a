// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package queue

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a question.
type Status string

// Question lifecycle states. A question is created pending, promoted to
// next when earmarked for the upcoming post attempt, and ends in one of
// the terminal states sent or skipped.
const (
	StatusPending Status = "pending"
	StatusNext    Status = "next"
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status is immutable (except for eviction).
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusSkipped
}

// Question is a unit of work: text to be posted, with lifecycle metadata.
type Question struct {
	ID            string     `json:"id"`
	Text          string     `json:"text"`
	ReceivedAt    time.Time  `json:"received_at"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	SkippedAt     *time.Time `json:"skipped_at,omitempty"`
	SkippedReason string     `json:"skipped_reason,omitempty"`
	RetryCount    int        `json:"retry_count"`

	// NextAt is the earliest time the next post attempt may run, set when
	// the posting endpoint asked us to back off.
	NextAt *time.Time `json:"next_at,omitempty"`
}

// terminalAt returns the timestamp a terminal question entered its state.
func (q *Question) terminalAt() time.Time {
	switch {
	case q.SentAt != nil:
		return *q.SentAt
	case q.SkippedAt != nil:
		return *q.SkippedAt
	default:
		return q.CreatedAt
	}
}

// normalizeText lowercases and collapses whitespace for dedup comparison.
func normalizeText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
