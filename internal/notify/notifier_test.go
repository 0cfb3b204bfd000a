// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/askrelay/internal/store"
)

func testNotifier(t *testing.T, cfg Config) *Notifier {
	t.Helper()
	st, err := store.Open(store.Config{
		InMemory:      true,
		CacheTTL:      time.Minute,
		FlushInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewNotifier(st, cfg)
}

func TestNotifyAndList(t *testing.T) {
	n := testNotifier(t, Config{})
	ctx := context.Background()

	id1, err := n.Notify(ctx, SeverityInfo, "started", "scheduler started")
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	id2, err := n.Notify(ctx, SeverityCritical, "auth failed", "token rejected")
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	list, err := n.List(ctx, true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(list))
	}
	// Newest first.
	if list[0].ID != id2 || list[1].ID != id1 {
		t.Errorf("Expected newest-first ordering, got %s then %s", list[0].ID, list[1].ID)
	}
}

func TestAcknowledge(t *testing.T) {
	n := testNotifier(t, Config{})
	ctx := context.Background()

	id, _ := n.Notify(ctx, SeverityCritical, "auth failed", "token rejected")

	ok, err := n.Acknowledge(ctx, id)
	if !ok || err != nil {
		t.Fatalf("Acknowledge failed: ok=%v err=%v", ok, err)
	}

	unacked, _ := n.List(ctx, false)
	if len(unacked) != 0 {
		t.Errorf("Expected no unacked notifications, got %d", len(unacked))
	}
	all, _ := n.List(ctx, true)
	if len(all) != 1 || !all[0].Acknowledged || all[0].AckedAt == nil {
		t.Errorf("Expected acknowledged entry retained, got %+v", all)
	}

	if ok, _ := n.Acknowledge(ctx, "no-such-id"); ok {
		t.Error("Acknowledge must return false for unknown id")
	}
}

func TestPrune_TTLAndCriticalRetention(t *testing.T) {
	n := testNotifier(t, Config{TTL: time.Hour})
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	n.now = func() time.Time { return old }
	_, _ = n.Notify(ctx, SeverityInfo, "old info", "ages out")
	criticalID, _ := n.Notify(ctx, SeverityCritical, "old critical", "persists until acked")

	n.now = time.Now
	removed, err := n.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 pruned, got %d", removed)
	}

	list, _ := n.List(ctx, true)
	if len(list) != 1 || list[0].ID != criticalID {
		t.Fatalf("Expected only unacked critical to survive, got %+v", list)
	}

	// Once acknowledged the critical entry ages out too.
	_, _ = n.Acknowledge(ctx, criticalID)
	removed, _ = n.Prune(ctx)
	if removed != 1 {
		t.Errorf("Expected acked critical pruned, got %d", removed)
	}
}

func TestPrune_CapacityDropsOldestRemovable(t *testing.T) {
	n := testNotifier(t, Config{MaxEntries: 3})
	ctx := context.Background()

	criticalID, _ := n.Notify(ctx, SeverityCritical, "keep", "unacked critical")
	_, _ = n.Notify(ctx, SeverityInfo, "a", "first info")
	_, _ = n.Notify(ctx, SeverityInfo, "b", "second info")
	_, _ = n.Notify(ctx, SeverityInfo, "c", "third info")

	list, _ := n.List(ctx, true)
	if len(list) != 3 {
		t.Fatalf("Expected list capped at 3, got %d", len(list))
	}
	found := false
	for _, entry := range list {
		if entry.ID == criticalID {
			found = true
		}
		if entry.Title == "a" {
			t.Error("Expected oldest info entry dropped")
		}
	}
	if !found {
		t.Error("Unacked critical must never be dropped for capacity")
	}
}
