// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

// Package store provides the cache-backed persistence layer.
//
// Store is a read-through cache over BadgerDB. Reads are served from an
// in-memory cache while entries are younger than the configured TTL, then
// fall through to BadgerDB. Writes update the cache synchronously and are
// flushed to BadgerDB in debounced batches to bound write amplification:
// rapid Sets within the flush interval coalesce into one commit.
//
// A BadgerDB subscription invalidates cached keys changed by other writers
// sharing the database. The store's own flushes are filtered out so they do
// not evict the entries they just refreshed.
//
// Backing-store failures surface as *StorageError. Cached values keep
// serving reads until their TTL expires even while BadgerDB is unhealthy.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/askrelay/internal/logging"
)

// cacheEntry is a cached value with its insertion time.
type cacheEntry struct {
	value      []byte
	insertedAt time.Time
}

// Store is a cache-backed key/value store over BadgerDB.
type Store struct {
	db     *badger.DB
	config Config
	logger zerolog.Logger

	mu         sync.Mutex
	closed     bool
	entries    map[string]*cacheEntry
	order      []string // insertion order for FIFO eviction
	pending    map[string][]byte
	flushTimer *time.Timer
	selfWrites map[string]int

	hits    atomic.Int64
	misses  atomic.Int64
	flushes atomic.Int64

	subCancel context.CancelFunc
	subDone   chan struct{}
}

// Stats contains store metrics for monitoring.
type Stats struct {
	CacheEntries  int   `json:"cache_entries"`
	PendingWrites int   `json:"pending_writes"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Flushes       int64 `json:"flushes"`
	DBSizeBytes   int64 `json:"db_size_bytes"`
}

// Open creates a Store backed by BadgerDB at the configured path.
func Open(cfg Config) (*Store, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, newStorageError("open", "", err)
	}

	s := &Store{
		db:         db,
		config:     cfg,
		logger:     logging.With().Str("component", "store").Logger(),
		entries:    make(map[string]*cacheEntry),
		pending:    make(map[string][]byte),
		selfWrites: make(map[string]int),
		subDone:    make(chan struct{}),
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s.subCancel = cancel
	go s.watchExternalWrites(subCtx)

	s.logger.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Dur("cache_ttl", cfg.CacheTTL).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("Store opened")
	return s, nil
}

// Get returns the value for key. Cache entries younger than the TTL are
// served directly; otherwise the backing store is read and the cache
// repopulated. Returns ErrKeyNotFound when the key exists nowhere.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	if entry, ok := s.entries[key]; ok && time.Since(entry.insertedAt) < s.config.CacheTTL {
		val := append([]byte(nil), entry.value...)
		s.mu.Unlock()
		s.hits.Add(1)
		recordCacheHit()
		return val, nil
	}
	// A dirty value awaiting flush is authoritative even when its cache
	// entry has expired (the flush may have failed).
	if dirty, ok := s.pending[key]; ok {
		val := append([]byte(nil), dirty...)
		s.mu.Unlock()
		s.hits.Add(1)
		recordCacheHit()
		return val, nil
	}
	s.mu.Unlock()

	s.misses.Add(1)
	recordCacheMiss()

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, newStorageError("get", key, err)
	}

	s.cacheInsert(key, value)
	return append([]byte(nil), value...), nil
}

// GetJSON reads key and unmarshals it into v. When the key is absent, v is
// left untouched (callers pre-fill v with the default) and ErrKeyNotFound
// is returned.
func (s *Store) GetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return newStorageError("decode", key, err)
	}
	return nil
}

// Set updates the cache synchronously and schedules a debounced flush of
// the key to the backing store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.cacheInsertLocked(key, value)
	s.pending[key] = append([]byte(nil), value...)
	s.scheduleFlushLocked()
	return nil
}

// SetJSON marshals v and stores it under key.
func (s *Store) SetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return newStorageError("encode", key, err)
	}
	return s.Set(ctx, key, data)
}

// GetMultiple returns the values for all keys that exist, in one backing
// store round trip for the cache misses.
func (s *Store) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	var missing []string

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	for _, key := range keys {
		if entry, ok := s.entries[key]; ok && time.Since(entry.insertedAt) < s.config.CacheTTL {
			result[key] = append([]byte(nil), entry.value...)
			continue
		}
		if dirty, ok := s.pending[key]; ok {
			result[key] = append([]byte(nil), dirty...)
			continue
		}
		missing = append(missing, key)
	}
	s.mu.Unlock()

	if len(missing) == 0 {
		return result, nil
	}

	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range missing {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[key] = value
			s.cacheInsert(key, value)
		}
		return nil
	})
	if err != nil {
		return nil, newStorageError("get_multiple", "", err)
	}
	return result, nil
}

// SetMultiple stores all key/value pairs, coalesced into the same
// debounced flush.
func (s *Store) SetMultiple(ctx context.Context, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	for key, value := range values {
		s.cacheInsertLocked(key, value)
		s.pending[key] = append([]byte(nil), value...)
	}
	s.scheduleFlushLocked()
	return nil
}

// Remove deletes key from the cache and the backing store immediately,
// bypassing the debounced batch.
func (s *Store) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.cacheDeleteLocked(key)
	delete(s.pending, key)
	s.selfWrites[key]++
	s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		s.mu.Lock()
		if s.selfWrites[key] > 0 {
			s.selfWrites[key]--
			if s.selfWrites[key] == 0 {
				delete(s.selfWrites, key)
			}
		}
		s.mu.Unlock()
		return newStorageError("remove", key, err)
	}
	return nil
}

// Flush forces any pending writes to the backing store synchronously.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()
	return s.flushNow()
}

// Stats returns current store statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	cacheEntries := len(s.entries)
	pendingWrites := len(s.pending)
	closed := s.closed
	s.mu.Unlock()

	stats := Stats{
		CacheEntries:  cacheEntries,
		PendingWrites: pendingWrites,
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Flushes:       s.flushes.Load(),
	}
	if !closed {
		lsm, vlog := s.db.Size()
		stats.DBSizeBytes = lsm + vlog
	}
	return stats
}

// Close flushes pending writes and shuts down BadgerDB, bounded by the
// configured close timeout.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()

	if err := s.flushNow(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to flush pending writes on close")
	}

	s.mu.Lock()
	s.closed = true
	timeout := s.config.CloseTimeout
	s.mu.Unlock()

	s.subCancel()
	select {
	case <-s.subDone:
	case <-time.After(time.Second):
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return newStorageError("close", "", err)
		}
		s.logger.Info().Msg("Store closed")
		return nil
	case <-time.After(timeout):
		return newStorageError("close", "", fmt.Errorf("timeout after %v", timeout))
	}
}

// cacheInsert inserts under the store mutex.
func (s *Store) cacheInsert(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cacheInsertLocked(key, value)
}

// cacheInsertLocked inserts a cache entry, refreshing insertion order for
// existing keys and evicting the oldest-inserted entry over capacity.
// Must be called with mu held.
func (s *Store) cacheInsertLocked(key string, value []byte) {
	if _, ok := s.entries[key]; ok {
		s.orderRemoveLocked(key)
	}
	s.entries[key] = &cacheEntry{
		value:      append([]byte(nil), value...),
		insertedAt: time.Now(),
	}
	s.order = append(s.order, key)

	for len(s.entries) > s.config.CacheMaxEntries && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
		recordCacheEviction()
	}
	updateCacheSize(len(s.entries))
}

// cacheDeleteLocked removes a key from the cache. Must be called with mu held.
func (s *Store) cacheDeleteLocked(key string) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	s.orderRemoveLocked(key)
	updateCacheSize(len(s.entries))
}

// orderRemoveLocked drops key from the insertion-order slice.
func (s *Store) orderRemoveLocked(key string) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// scheduleFlushLocked restarts the debounce timer. Must be called with mu
// held. Each Set pushes the flush out by one interval so bursts coalesce.
func (s *Store) scheduleFlushLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Reset(s.config.FlushInterval)
		return
	}
	s.flushTimer = time.AfterFunc(s.config.FlushInterval, func() {
		s.mu.Lock()
		s.flushTimer = nil
		s.mu.Unlock()
		if err := s.flushNow(); err != nil {
			s.logger.Error().Err(err).Msg("Debounced flush failed")
		}
	})
}

// flushNow writes all pending keys to BadgerDB in one batch. Failed
// batches are re-queued so the next flush retries them.
func (s *Store) flushNow() error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.pending
	s.pending = make(map[string][]byte)
	for key := range batch {
		s.selfWrites[key]++
	}
	s.mu.Unlock()

	start := time.Now()
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for key, value := range batch {
		if err := wb.Set([]byte(key), value); err != nil {
			s.requeueBatch(batch)
			return newStorageError("flush", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		s.requeueBatch(batch)
		return newStorageError("flush", "", err)
	}

	s.flushes.Add(1)
	recordFlush(len(batch), time.Since(start).Seconds())
	s.logger.Debug().Int("keys", len(batch)).Msg("Flushed batch to backing store")
	return nil
}

// requeueBatch restores a failed batch into pending, without clobbering
// keys rewritten since the batch was taken, and unwinds the self-write
// markers the batch claimed.
func (s *Store) requeueBatch(batch map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range batch {
		if _, ok := s.pending[key]; !ok {
			s.pending[key] = value
		}
		if s.selfWrites[key] > 0 {
			s.selfWrites[key]--
			if s.selfWrites[key] == 0 {
				delete(s.selfWrites, key)
			}
		}
	}
	if len(s.pending) > 0 {
		s.scheduleFlushLocked()
	}
}

// watchExternalWrites subscribes to BadgerDB change events and drops
// cache entries written by other writers. The store's own flushes are
// recognized via the selfWrites markers and skipped.
func (s *Store) watchExternalWrites(ctx context.Context) {
	defer close(s.subDone)

	cb := func(kvs *badger.KVList) error {
		for _, kv := range kvs.Kv {
			key := string(kv.Key)
			s.mu.Lock()
			if s.selfWrites[key] > 0 {
				s.selfWrites[key]--
				if s.selfWrites[key] == 0 {
					delete(s.selfWrites, key)
				}
				s.mu.Unlock()
				continue
			}
			s.cacheDeleteLocked(key)
			s.mu.Unlock()
			s.logger.Debug().Str("key", key).Msg("Cache invalidated by external write")
		}
		return nil
	}

	err := s.db.Subscribe(ctx, cb, []pb.Match{{Prefix: nil}})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Msg("Store change subscription ended")
	}
}
