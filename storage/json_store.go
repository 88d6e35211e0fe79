package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	istorage "ytsheets/internal/storage"
)

const schemaVersion = "1.0"

// DefaultMaxRuns bounds the run records kept by a JSONStore.
const DefaultMaxRuns = 100

// JSONStore implements Store using a single JSON file.
type JSONStore struct {
	path    string
	maxRuns int
	data    *storeData
	mu      sync.RWMutex
}

// storeData is the top-level JSON structure.
type storeData struct {
	Version    string                `json:"version"`
	UpdatedAt  time.Time             `json:"updated_at"`
	Runs       []*RunRecord          `json:"runs"` // oldest first
	SyncStates map[string]*SyncState `json:"sync_states"`
}

func newStoreData() *storeData {
	return &storeData{
		Version:    schemaVersion,
		Runs:       []*RunRecord{},
		SyncStates: make(map[string]*SyncState),
	}
}

// NewJSONStore creates a new JSON file store at the given path keeping at
// most maxRuns runs. If the file exists, it is loaded; otherwise an empty
// store is created.
func NewJSONStore(path string, maxRuns int) (*JSONStore, error) {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	s := &JSONStore{path: path, maxRuns: maxRuns}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the JSON file into memory. Creates empty data if file doesn't exist.
func (s *JSONStore) load() error {
	data := newStoreData()
	ok, err := istorage.ReadJSON(s.path, data)
	if err != nil {
		return err
	}
	s.data = data
	if !ok {
		// Save immediately to catch permission errors early
		return s.save()
	}
	if s.data.SyncStates == nil {
		s.data.SyncStates = make(map[string]*SyncState)
	}
	return nil
}

// save persists the data to disk atomically. Callers hold mu.
func (s *JSONStore) save() error {
	s.data.UpdatedAt = time.Now()
	return istorage.WriteJSON(s.path, s.data)
}

// Close flushes the store to disk.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// --- RunStore implementation ---

func (s *JSONStore) SaveRun(ctx context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *run
	s.data.Runs = append(s.data.Runs, &cp)
	if over := len(s.data.Runs) - s.maxRuns; over > 0 {
		s.data.Runs = append([]*RunRecord(nil), s.data.Runs[over:]...)
	}
	return s.save()
}

func (s *JSONStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.data.Runs {
		if r.RunID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *JSONStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*RunRecord, 0, len(s.data.Runs))
	for _, r := range s.data.Runs {
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- SyncStateStore implementation ---

func (s *JSONStore) GetSyncState(ctx context.Context, channel string) (*SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.data.SyncStates[channel]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *state
	return &cp, nil
}

func (s *JSONStore) UpdateSyncState(ctx context.Context, state *SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	s.data.SyncStates[state.Channel] = &cp
	return s.save()
}

func (s *JSONStore) GetLastSync(ctx context.Context, channel string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.data.SyncStates[channel]
	if !exists || state.LastSyncAt.IsZero() {
		return time.Time{}, ErrNotFound
	}
	return state.LastSyncAt, nil
}

// SyncStates returns every channel state ordered by channel.
func (s *JSONStore) SyncStates(ctx context.Context) ([]*SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SyncState, 0, len(s.data.SyncStates))
	for _, st := range s.data.SyncStates {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}
