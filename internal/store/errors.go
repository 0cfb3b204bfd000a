// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package store

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store.
var (
	// ErrKeyNotFound is returned when a key exists in neither the cache
	// nor the backing store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// StorageError wraps a backing-store failure with the operation and key
// that triggered it. Callers can match with errors.As and inspect Op/Key,
// or errors.Is against the wrapped cause.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// newStorageError wraps err as a StorageError unless it already is one.
func newStorageError(op, key string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
