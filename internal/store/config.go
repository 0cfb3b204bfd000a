// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package store

import (
	"fmt"
	"time"
)

// Config holds cache-backed store configuration.
type Config struct {
	// Path is the BadgerDB directory.
	Path string

	// InMemory runs BadgerDB without disk persistence. Used in tests.
	InMemory bool

	// SyncWrites enables fsync on every BadgerDB commit.
	// Default: true (the queue must survive process crashes)
	SyncWrites bool

	// CacheTTL is how long a cached value is served without re-reading
	// the backing store. Default: 5 minutes.
	CacheTTL time.Duration

	// CacheMaxEntries caps the in-memory cache. When exceeded, the
	// oldest-inserted entry is evicted. Default: 1024.
	CacheMaxEntries int

	// FlushInterval is the debounce window for batched writes: rapid
	// Sets within the window coalesce into one backing-store commit.
	// Default: 100ms.
	FlushInterval time.Duration

	// CloseTimeout bounds how long Close waits for BadgerDB shutdown.
	// Default: 30s.
	CloseTimeout time.Duration
}

// DefaultConfig returns production defaults for the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		SyncWrites:      true,
		CacheTTL:        5 * time.Minute,
		CacheMaxEntries: 1024,
		FlushInterval:   100 * time.Millisecond,
		CloseTimeout:    30 * time.Second,
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Path == "" && !c.InMemory {
		return fmt.Errorf("store path is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %v", c.CacheTTL)
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive, got %d", c.CacheMaxEntries)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %v", c.FlushInterval)
	}
	return nil
}

// applyDefaults fills zero values so callers can construct partial configs.
func (c *Config) applyDefaults() {
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = 1024
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = 30 * time.Second
	}
}
