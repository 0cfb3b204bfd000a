// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

// Package notify persists operator-facing notifications alongside the
// queue so that failures survive restarts. Critical notifications stay
// until acknowledged; everything else ages out.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/askrelay/internal/logging"
	"github.com/tomtom215/askrelay/internal/store"
)

// KeyNotifications is the store key holding the notification list.
const KeyNotifications = "notifications"

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is one persisted operator message.
type Notification struct {
	ID           string     `json:"id"`
	Severity     Severity   `json:"severity"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	CreatedAt    time.Time  `json:"created_at"`
	Acknowledged bool       `json:"acknowledged"`
	AckedAt      *time.Time `json:"acked_at,omitempty"`
}

// Config holds notifier configuration.
type Config struct {
	// MaxEntries caps the stored list. Default: 100.
	MaxEntries int

	// TTL is how long non-critical and acknowledged notifications are
	// kept. Default: 7 days.
	TTL time.Duration
}

// Notifier stores and retrieves notifications.
type Notifier struct {
	store  *store.Store
	config Config
	logger zerolog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewNotifier creates a notifier backed by the given store.
func NewNotifier(st *store.Store, cfg Config) *Notifier {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &Notifier{
		store:  st,
		config: cfg,
		logger: logging.With().Str("component", "notify").Logger(),
		now:    time.Now,
	}
}

// Notify records a notification and returns its id.
func (n *Notifier) Notify(ctx context.Context, severity Severity, title, message string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	list, err := n.load(ctx)
	if err != nil {
		return "", err
	}

	now := n.now()
	entry := Notification{
		ID:        uuid.New().String(),
		Severity:  severity,
		Title:     title,
		Message:   message,
		CreatedAt: now,
	}
	list = append(n.prune(list, now), entry)

	if err := n.store.SetJSON(ctx, KeyNotifications, list); err != nil {
		return "", err
	}

	event := n.logger.Info()
	if severity == SeverityCritical {
		event = n.logger.Error()
	} else if severity == SeverityWarning {
		event = n.logger.Warn()
	}
	event.Str("notification_id", entry.ID).Str("title", title).Msg(message)
	return entry.ID, nil
}

// List returns stored notifications, newest first. Acknowledged
// entries are included only when includeAcked is set.
func (n *Notifier) List(ctx context.Context, includeAcked bool) ([]Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	list, err := n.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Notification, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if !includeAcked && list[i].Acknowledged {
			continue
		}
		out = append(out, list[i])
	}
	return out, nil
}

// Acknowledge marks a notification as handled. Returns false when the
// id is unknown.
func (n *Notifier) Acknowledge(ctx context.Context, id string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	list, err := n.load(ctx)
	if err != nil {
		return false, err
	}

	for i := range list {
		if list[i].ID != id {
			continue
		}
		if list[i].Acknowledged {
			return true, nil
		}
		now := n.now()
		list[i].Acknowledged = true
		list[i].AckedAt = &now
		return true, n.store.SetJSON(ctx, KeyNotifications, list)
	}
	return false, nil
}

// Prune drops aged-out notifications immediately instead of waiting
// for the next Notify.
func (n *Notifier) Prune(ctx context.Context) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	list, err := n.load(ctx)
	if err != nil {
		return 0, err
	}

	pruned := n.prune(list, n.now())
	removed := len(list) - len(pruned)
	if removed == 0 {
		return 0, nil
	}
	return removed, n.store.SetJSON(ctx, KeyNotifications, pruned)
}

func (n *Notifier) load(ctx context.Context) ([]Notification, error) {
	var list []Notification
	if err := n.store.GetJSON(ctx, KeyNotifications, &list); err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return list, nil
}

// prune removes expired entries. Unacknowledged critical notifications
// never expire. When still over capacity the oldest removable entries
// go first.
func (n *Notifier) prune(list []Notification, now time.Time) []Notification {
	cutoff := now.Add(-n.config.TTL)

	kept := list[:0:0]
	for _, entry := range list {
		if entry.Severity == SeverityCritical && !entry.Acknowledged {
			kept = append(kept, entry)
			continue
		}
		if entry.CreatedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, entry)
	}

	for len(kept) >= n.config.MaxEntries {
		dropped := false
		for i, entry := range kept {
			if entry.Severity == SeverityCritical && !entry.Acknowledged {
				continue
			}
			kept = append(kept[:i], kept[i+1:]...)
			dropped = true
			break
		}
		if !dropped {
			break
		}
	}
	return kept
}
