// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

// Package queue owns question entities and their lifecycle.
//
// Every operation runs as a read-modify-write of the full persisted queue
// under the shared FIFO mutex: load the queue through the store, mutate,
// re-sort, persist. The mutex serializes interleaved callers (scheduler
// ticks, inbound items, manual actions) that would otherwise clobber each
// other across the store's suspension points.
//
// Invariants maintained here:
//   - At most one question holds status "next" at any time.
//   - The queue never exceeds the configured maximum size; inserts evict
//     terminal entries older than the retention window to make room.
//   - No two pending/next/sent questions share normalized text received
//     within the dedup window (duplicate inserts are a silent no-op).
package queue

import (
	"context"
	"errors"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/askrelay/internal/locking"
	"github.com/tomtom215/askrelay/internal/logging"
	"github.com/tomtom215/askrelay/internal/store"
)

// KeyQueue is the persisted-state key holding the full question queue.
const KeyQueue = "questionQueue"

// Config holds queue manager configuration.
type Config struct {
	// MaxSize caps the queue length. Default: 200.
	MaxSize int

	// MaxTextLength is the longest accepted question text, in runes.
	// Default: 500.
	MaxTextLength int

	// DedupWindow is the received-at window within which questions with
	// identical normalized text are treated as duplicates. Default: 24h.
	DedupWindow time.Duration

	// RetentionWindow is how long terminal entries are kept before they
	// become eligible for capacity eviction. Default: 24h.
	RetentionWindow time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:         200,
		MaxTextLength:   500,
		DedupWindow:     24 * time.Hour,
		RetentionWindow: 24 * time.Hour,
	}
}

// Manager owns the question queue. All mutations serialize through the
// injected mutex and persist atomically as a full-queue rewrite.
type Manager struct {
	store  *store.Store
	mu     *locking.Mutex
	config Config
	logger zerolog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// Stats summarizes the queue for reporting.
type Stats struct {
	Total         int        `json:"total"`
	Pending       int        `json:"pending"`
	Next          int        `json:"next"`
	Sent          int        `json:"sent"`
	Skipped       int        `json:"skipped"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
	NewestPending *time.Time `json:"newest_pending,omitempty"`
}

// NewManager creates a queue manager using the given store and mutex.
func NewManager(st *store.Store, mu *locking.Mutex, cfg Config) *Manager {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 200
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 500
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 24 * time.Hour
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = 24 * time.Hour
	}

	return &Manager{
		store:  st,
		mu:     mu,
		config: cfg,
		logger: logging.With().Str("component", "queue").Logger(),
		now:    time.Now,
	}
}

// AddQuestion validates and inserts a question with status pending.
// Returns the generated id, or "" when the question was deduplicated
// (a no-op, not an error). Returns a ValidationError for bad input and
// ErrQueueFull when at capacity with nothing evictable.
func (m *Manager) AddQuestion(ctx context.Context, text string, receivedAt time.Time) (string, error) {
	normalized := normalizeText(text)
	if normalized == "" {
		return "", &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(text) > m.config.MaxTextLength {
		return "", &ValidationError{Field: "text", Reason: "exceeds maximum length"}
	}

	var id string
	err := m.mu.WithLock(ctx, func() error {
		questions, err := m.load(ctx)
		if err != nil {
			return err
		}

		for i := range questions {
			q := &questions[i]
			if q.Status == StatusSkipped {
				continue
			}
			if normalizeText(q.Text) != normalized {
				continue
			}
			if absDuration(receivedAt.Sub(q.ReceivedAt)) <= m.config.DedupWindow {
				m.logger.Debug().Str("question_id", q.ID).Msg("Duplicate question ignored")
				recordDeduplicated()
				return nil
			}
		}

		if len(questions) >= m.config.MaxSize {
			questions = m.evict(questions)
			if len(questions) >= m.config.MaxSize {
				return ErrQueueFull
			}
		}

		now := m.now()
		q := Question{
			ID:         uuid.New().String(),
			Text:       text,
			ReceivedAt: receivedAt,
			Status:     StatusPending,
			CreatedAt:  now,
		}
		questions = append(questions, q)
		sortByReceivedAt(questions)

		if err := m.save(ctx, questions); err != nil {
			return err
		}
		id = q.ID
		recordAdded()
		m.logger.Info().Str("question_id", q.ID).Time("received_at", receivedAt).Msg("Question queued")
		return nil
	})
	return id, err
}

// GetNextQuestion returns the question earmarked for the upcoming post.
// If one already holds status next it is returned unchanged (repeated
// calls are idempotent); otherwise the oldest pending question is
// promoted and persisted. Returns nil when nothing is pending.
func (m *Manager) GetNextQuestion(ctx context.Context) (*Question, error) {
	var next *Question
	err := m.mu.WithLock(ctx, func() error {
		questions, err := m.load(ctx)
		if err != nil {
			return err
		}

		for i := range questions {
			if questions[i].Status == StatusNext {
				q := questions[i]
				next = &q
				return nil
			}
		}

		// Queue is sorted ascending by received_at: the first pending
		// entry is the oldest.
		for i := range questions {
			if questions[i].Status != StatusPending {
				continue
			}
			questions[i].Status = StatusNext
			if err := m.save(ctx, questions); err != nil {
				return err
			}
			q := questions[i]
			next = &q
			return nil
		}
		return nil
	})
	return next, err
}

// MarkAsSent transitions the question to the terminal sent state and
// resets its retry budget. Returns false when the id is unknown.
func (m *Manager) MarkAsSent(ctx context.Context, id string) (bool, error) {
	return m.transition(ctx, id, func(q *Question) {
		now := m.now()
		q.Status = StatusSent
		q.SentAt = &now
		q.RetryCount = 0
		q.NextAt = nil
	})
}

// MarkAsSkipped transitions the question to the terminal skipped state
// with the given reason. Returns false when the id is unknown.
func (m *Manager) MarkAsSkipped(ctx context.Context, id, reason string) (bool, error) {
	return m.transition(ctx, id, func(q *Question) {
		now := m.now()
		q.Status = StatusSkipped
		q.SkippedAt = &now
		q.SkippedReason = reason
		q.NextAt = nil
	})
}

// IncrementRetry bumps the question's retry counter and returns the new
// count. Returns 0 with no error when the id is unknown.
func (m *Manager) IncrementRetry(ctx context.Context, id string) (int, error) {
	var count int
	_, err := m.transition(ctx, id, func(q *Question) {
		q.RetryCount++
		count = q.RetryCount
	})
	return count, err
}

// DeferNext records the earliest time the question may be attempted
// again, used when the posting endpoint requests a back-off.
func (m *Manager) DeferNext(ctx context.Context, id string, until time.Time) (bool, error) {
	return m.transition(ctx, id, func(q *Question) {
		q.NextAt = &until
	})
}

// SetAsNext promotes a pending question to next, reverting any current
// next entry to pending. Returns false when the target is missing or not
// pending.
func (m *Manager) SetAsNext(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := m.mu.WithLock(ctx, func() error {
		questions, err := m.load(ctx)
		if err != nil {
			return err
		}

		target := -1
		for i := range questions {
			if questions[i].ID == id {
				target = i
				break
			}
		}
		if target < 0 || questions[target].Status != StatusPending {
			return nil
		}

		for i := range questions {
			if questions[i].Status == StatusNext {
				questions[i].Status = StatusPending
			}
		}
		questions[target].Status = StatusNext

		if err := m.save(ctx, questions); err != nil {
			return err
		}
		ok = true
		m.logger.Info().Str("question_id", id).Msg("Question promoted to next")
		return nil
	})
	return ok, err
}

// DeleteQuestion removes the question outright. Returns false when the
// id is unknown.
func (m *Manager) DeleteQuestion(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := m.mu.WithLock(ctx, func() error {
		questions, err := m.load(ctx)
		if err != nil {
			return err
		}
		for i := range questions {
			if questions[i].ID != id {
				continue
			}
			questions = append(questions[:i], questions[i+1:]...)
			if err := m.save(ctx, questions); err != nil {
				return err
			}
			ok = true
			return nil
		}
		return nil
	})
	return ok, err
}

// ClearQueue removes pending and next questions, plus terminal ones when
// includeTerminal is set. Returns the number removed.
func (m *Manager) ClearQueue(ctx context.Context, includeTerminal bool) (int, error) {
	var removed int
	err := m.mu.WithLock(ctx, func() error {
		questions, err := m.load(ctx)
		if err != nil {
			return err
		}

		kept := questions[:0]
		for _, q := range questions {
			if q.Status.Terminal() && !includeTerminal {
				kept = append(kept, q)
				continue
			}
			removed++
		}
		if removed == 0 {
			return nil
		}
		return m.save(ctx, kept)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// QueueStats returns per-status counts and pending timestamp extremes.
func (m *Manager) QueueStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := m.mu.WithLock(ctx, func() error {
		questions, err := m.load(ctx)
		if err != nil {
			return err
		}

		stats.Total = len(questions)
		for i := range questions {
			q := &questions[i]
			switch q.Status {
			case StatusPending:
				stats.Pending++
				if stats.OldestPending == nil || q.ReceivedAt.Before(*stats.OldestPending) {
					t := q.ReceivedAt
					stats.OldestPending = &t
				}
				if stats.NewestPending == nil || q.ReceivedAt.After(*stats.NewestPending) {
					t := q.ReceivedAt
					stats.NewestPending = &t
				}
			case StatusNext:
				stats.Next++
			case StatusSent:
				stats.Sent++
			case StatusSkipped:
				stats.Skipped++
			}
		}
		return nil
	})
	return stats, err
}

// Queue returns a defensive copy of the full queue.
func (m *Manager) Queue(ctx context.Context) ([]Question, error) {
	var snapshot []Question
	err := m.mu.WithLock(ctx, func() error {
		questions, err := m.load(ctx)
		if err != nil {
			return err
		}
		snapshot = make([]Question, len(questions))
		copy(snapshot, questions)
		return nil
	})
	return snapshot, err
}

// transition applies fn to the matching question under the lock and
// persists. Returns false when the id is unknown.
func (m *Manager) transition(ctx context.Context, id string, fn func(*Question)) (bool, error) {
	var ok bool
	err := m.mu.WithLock(ctx, func() error {
		questions, err := m.load(ctx)
		if err != nil {
			return err
		}
		for i := range questions {
			if questions[i].ID != id {
				continue
			}
			fn(&questions[i])
			if err := m.save(ctx, questions); err != nil {
				return err
			}
			ok = true
			return nil
		}
		return nil
	})
	return ok, err
}

// load reads the persisted queue. A missing key is an empty queue.
func (m *Manager) load(ctx context.Context) ([]Question, error) {
	var questions []Question
	err := m.store.GetJSON(ctx, KeyQueue, &questions)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// save persists the full queue and refreshes the size gauges.
func (m *Manager) save(ctx context.Context, questions []Question) error {
	if questions == nil {
		questions = []Question{}
	}
	if err := m.store.SetJSON(ctx, KeyQueue, questions); err != nil {
		return err
	}
	updateSizeGauges(questions)
	return nil
}

// evict removes terminal entries older than the retention window, oldest
// first, until the queue is below capacity. Evicting every eligible entry
// (rather than one per insert) keeps the queue within policy under
// sustained load.
func (m *Manager) evict(questions []Question) []Question {
	cutoff := m.now().Add(-m.config.RetentionWindow)

	for len(questions) >= m.config.MaxSize {
		oldest := -1
		for i := range questions {
			q := &questions[i]
			if !q.Status.Terminal() || q.terminalAt().After(cutoff) {
				continue
			}
			if oldest < 0 || q.terminalAt().Before(questions[oldest].terminalAt()) {
				oldest = i
			}
		}
		if oldest < 0 {
			break
		}
		m.logger.Debug().Str("question_id", questions[oldest].ID).Msg("Evicting old terminal question")
		questions = append(questions[:oldest], questions[oldest+1:]...)
		recordEvicted()
	}
	return questions
}

// sortByReceivedAt sorts ascending by received_at, preserving insertion
// order for ties.
func sortByReceivedAt(questions []Question) {
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].ReceivedAt.Before(questions[j].ReceivedAt)
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
