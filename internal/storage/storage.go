// Package storage provides the small durable-state primitives used by the
// cache and the quota tracker: atomic JSON files guarded by advisory locks.
package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors for storage conditions.
var (
	// ErrStorageCorrupt indicates a state file exists but could not be decoded.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
)

// StorageError wraps storage errors with operation and file context.
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("%s %s failed: %v\n", storErr.Op, storErr.Path, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("read", "write", "lock").
	Op string
	// Path is the file involved.
	Path string
	// Err is the underlying error.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }
