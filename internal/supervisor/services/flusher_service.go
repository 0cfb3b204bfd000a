// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package services

import (
	"context"
	"time"
)

// Flusher is the store surface the flusher service depends on.
// Satisfied by *store.Store.
type Flusher interface {
	Flush(ctx context.Context) error
}

// StoreFlusherService periodically forces pending writes to disk, a
// safety net under the store's own debounced flushing for quiet
// periods where the debounce timer was the only writer.
type StoreFlusherService struct {
	store    Flusher
	interval time.Duration
	name     string
}

// NewStoreFlusherService wraps a store flush loop for supervision.
func NewStoreFlusherService(store Flusher, interval time.Duration) *StoreFlusherService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StoreFlusherService{
		store:    store,
		interval: interval,
		name:     "store-flusher",
	}
}

// Serve implements suture.Service.
func (s *StoreFlusherService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.store.Flush(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			// Final flush with a fresh deadline before handing back.
			flushCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = s.store.Flush(flushCtx)
			return ctx.Err()
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *StoreFlusherService) String() string {
	return s.name
}
