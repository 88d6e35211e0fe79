package storage

import (
	"encoding/json"
	"errors"
	"os"
	"time"
)

// DefaultLockTimeout bounds how long WriteJSON waits for another process.
const DefaultLockTimeout = 5 * time.Second

// WriteJSON encodes v as indented JSON and atomically replaces path with it
// while holding the file lock.
func WriteJSON(path string, v any) error {
	lock := NewFileLock(path)
	if err := lock.Lock(DefaultLockTimeout); err != nil {
		return err
	}
	defer lock.Unlock()

	w, err := NewAtomicWriter(path)
	if err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		w.Abort()
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := w.Commit(); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// ReadJSON decodes path into v. It returns (false, nil) when the file does
// not exist and wraps ErrStorageCorrupt when the contents do not decode.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &StorageError{Op: "read", Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &StorageError{Op: "read", Path: path, Err: ErrStorageCorrupt}
	}
	return true, nil
}
