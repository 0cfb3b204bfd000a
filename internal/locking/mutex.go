// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

// Package locking provides the exclusive critical-section primitive that
// serializes all queue mutations.
//
// Unlike sync.Mutex, this mutex hands the lock to waiters in strict FIFO
// arrival order and exposes contention statistics (current and maximum
// waiter depth, cumulative acquire/release counts). Queue operations span
// storage reads and writes, so a caller may hold the lock across suspension
// points; FIFO ordering guarantees no operation is starved by later
// arrivals.
//
// The mutex is not re-entrant. An operation holding the lock must never
// call another operation that acquires the same mutex, or it will deadlock.
package locking

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mutex is an exclusive lock with FIFO waiter ordering and observability.
// The zero value is not usable; create instances with New.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}

	acquires atomic.Int64
	releases atomic.Int64
	maxDepth atomic.Int64
}

// Stats is a snapshot of mutex contention counters.
type Stats struct {
	// Depth is the number of callers currently waiting for the lock.
	Depth int `json:"depth"`

	// MaxDepth is the maximum waiter depth observed since creation.
	MaxDepth int64 `json:"max_depth"`

	// Acquires is the cumulative number of successful acquisitions.
	Acquires int64 `json:"acquires"`

	// Releases is the cumulative number of releases.
	Releases int64 `json:"releases"`
}

// New creates a new FIFO mutex.
func New() *Mutex {
	return &Mutex{}
}

// Acquire blocks until the caller holds the lock or ctx is canceled.
// Callers are granted the lock in arrival order. On context cancellation
// the waiter is removed from the queue and ctx.Err() is returned; the
// lock is not held.
func (m *Mutex) Acquire(ctx context.Context) error {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		m.acquires.Add(1)
		acquiresTotal.Inc()
		return nil
	}

	// Lock is held: join the FIFO waiter queue.
	grant := make(chan struct{})
	m.waiters = append(m.waiters, grant)
	depth := int64(len(m.waiters))
	m.mu.Unlock()
	waiterDepth.Inc()

	for {
		prev := m.maxDepth.Load()
		if depth <= prev || m.maxDepth.CompareAndSwap(prev, depth) {
			break
		}
	}

	select {
	case <-grant:
		waiterDepth.Dec()
		m.acquires.Add(1)
		acquiresTotal.Inc()
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, w := range m.waiters {
			if w == grant {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				m.mu.Unlock()
				waiterDepth.Dec()
				return ctx.Err()
			}
		}
		m.mu.Unlock()
		// The grant raced with cancellation: we already own the lock,
		// so hand it to the next waiter before reporting cancellation.
		<-grant
		waiterDepth.Dec()
		m.acquires.Add(1)
		acquiresTotal.Inc()
		m.Release()
		return ctx.Err()
	}
}

// Release hands the lock to the next FIFO waiter, or clears it when the
// queue is empty. Calling Release without holding the lock is a programming
// defect and panics.
func (m *Mutex) Release() {
	m.mu.Lock()
	if !m.locked {
		m.mu.Unlock()
		panic("locking: Release of unlocked Mutex")
	}

	if len(m.waiters) > 0 {
		// Direct hand-off: the lock stays held and ownership transfers
		// to the oldest waiter.
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.mu.Unlock()
		m.releases.Add(1)
		releasesTotal.Inc()
		close(next)
		return
	}

	m.locked = false
	m.mu.Unlock()
	m.releases.Add(1)
	releasesTotal.Inc()
}

// WithLock acquires the lock, runs op, and releases the lock whether op
// succeeds or fails. The op must not acquire this mutex again.
func (m *Mutex) WithLock(ctx context.Context, op func() error) error {
	if err := m.Acquire(ctx); err != nil {
		return err
	}
	defer m.Release()
	return op()
}

// Stats returns a snapshot of the contention counters.
func (m *Mutex) Stats() Stats {
	m.mu.Lock()
	depth := len(m.waiters)
	m.mu.Unlock()

	return Stats{
		Depth:    depth,
		MaxDepth: m.maxDepth.Load(),
		Acquires: m.acquires.Load(),
		Releases: m.releases.Load(),
	}
}
