// Package storage persists sync history: a record of every run and the
// last sync state of every channel, kept in a single JSON file.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested run or channel has no record.
var ErrNotFound = errors.New("storage: not found")

// Store is the history interface used by the syncer.
// Implementations must be safe for concurrent use.
type Store interface {
	RunStore
	SyncStateStore

	// Close flushes and releases any resources held by the store.
	Close() error
}

// RunStore keeps finished runs.
type RunStore interface {
	// SaveRun appends a run record.
	SaveRun(ctx context.Context, run *RunRecord) error
	// GetRun retrieves a run by its ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}

// SyncStateStore tracks the outcome of the last sync of each channel.
type SyncStateStore interface {
	// GetSyncState retrieves the state for a channel reference as given on
	// the command line.
	GetSyncState(ctx context.Context, channel string) (*SyncState, error)
	// UpdateSyncState creates or replaces a channel's state.
	UpdateSyncState(ctx context.Context, state *SyncState) error
	// GetLastSync returns when the channel last synced without error.
	GetLastSync(ctx context.Context, channel string) (time.Time, error)
}

// RecordRun saves rec and folds each channel summary into that channel's
// sync state.
func RecordRun(ctx context.Context, s Store, rec *RunRecord) error {
	at := rec.EndedAt
	if at.IsZero() {
		at = time.Now()
	}

	var errs []error
	for _, ch := range rec.Channels {
		state, err := s.GetSyncState(ctx, ch.Channel)
		if errors.Is(err, ErrNotFound) {
			state = NewSyncState(ch.Channel)
		} else if err != nil {
			errs = append(errs, err)
			continue
		}

		if ch.Error != "" {
			state.FailSync(rec.RunID, ch.Error, at)
		} else {
			state.CompleteSync(rec.RunID, ch, at)
		}
		if err := s.UpdateSyncState(ctx, state); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.SaveRun(ctx, rec); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
