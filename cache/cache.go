// Package cache implements an ETag-validated response cache.
//
// Entries are keyed by a string and carry the validator tag the upstream
// returned alongside the payload. A lookup succeeds only when the caller's
// expected tag matches the stored one; a mismatch evicts the entry.
package cache

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"ytsheets/internal/logger"
	"ytsheets/internal/metrics"
	"ytsheets/internal/storage"

	"github.com/rs/zerolog"
)

// Entry is a cached payload with its validator.
type Entry struct {
	ETag      string          `json:"etag"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	HitCount  int             `json:"hit_count"`
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries       int     `json:"entries"`
	Hits          int     `json:"hits"`
	Misses        int     `json:"misses"`
	Invalidations int     `json:"invalidations"`
	HitRate       float64 `json:"hit_rate"`
	TotalRequests int     `json:"total_requests"`
}

// Options configures a ResponseCache.
type Options struct {
	// Path of the JSON store. Empty keeps the cache in memory only.
	Path     string
	Logger   *zerolog.Logger
	Recorder metrics.Recorder
	Clock    func() time.Time
}

// ResponseCache is safe for concurrent use.
type ResponseCache struct {
	mu      sync.Mutex
	path    string
	log     *zerolog.Logger
	rec     metrics.Recorder
	now     func() time.Time
	entries map[string]*Entry

	hits, misses, invalidations int
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// New creates a cache, loading the store at opts.Path if present. A missing
// or corrupt store yields an empty cache.
func New(opts Options) *ResponseCache {
	c := &ResponseCache{
		path:    opts.Path,
		log:     opts.Logger,
		rec:     opts.Recorder,
		now:     opts.Clock,
		entries: make(map[string]*Entry),
	}
	if c.log == nil {
		c.log = logger.Named("cache")
	}
	if c.rec == nil {
		c.rec = metrics.Nop{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.path != "" {
		c.load()
	}
	return c
}

func (c *ResponseCache) load() {
	loaded := make(map[string]*Entry)
	ok, err := storage.ReadJSON(c.path, &loaded)
	if err != nil {
		c.log.Warn().Err(err).Str("path", c.path).Msg("starting with empty cache")
		return
	}
	if !ok {
		return
	}
	for k, e := range loaded {
		if e == nil || e.ETag == "" {
			continue
		}
		c.entries[k] = e
	}
	c.log.Debug().Int("entries", len(c.entries)).Msg("cache loaded")
}

// Get returns the payload for key if the stored tag equals expectedTag, or
// for any stored tag when expectedTag is empty. A tag mismatch evicts the
// entry. Both a mismatch and an absent key count as misses.
func (c *ResponseCache) Get(key, expectedTag string) (json.RawMessage, bool) {
	c.mu.Lock()
	payload, hit, evicted := c.getLocked(key, expectedTag)
	if evicted {
		c.saveLocked()
	}
	c.mu.Unlock()

	c.rec.RecordCacheLookup(hit)
	return payload, hit
}

func (c *ResponseCache) getLocked(key, expectedTag string) (payload json.RawMessage, hit, evicted bool) {
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false, false
	}
	if expectedTag != "" && e.ETag != expectedTag {
		delete(c.entries, key)
		c.misses++
		c.log.Debug().Str("key", key).Msg("etag changed, entry evicted")
		return nil, false, true
	}
	e.HitCount++
	c.hits++
	return e.Payload, true, false
}

// Set stores payload under key. An empty tag is ignored.
func (c *ResponseCache) Set(key string, payload json.RawMessage, tag string) {
	if tag == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &Entry{ETag: tag, Payload: payload, Timestamp: c.now()}
	c.saveLocked()
}

// SetValue marshals v and stores it under key.
func (c *ResponseCache) SetValue(key string, v any, tag string) error {
	if tag == "" {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Set(key, b, tag)
	return nil
}

// GetValue decodes a cached payload into v. A payload that fails to decode is
// evicted and reported as a miss.
func (c *ResponseCache) GetValue(key, expectedTag string, v any) bool {
	c.mu.Lock()
	payload, hit, evicted := c.getLocked(key, expectedTag)
	if hit {
		if err := json.Unmarshal(payload, v); err != nil {
			delete(c.entries, key)
			c.hits--
			c.misses++
			hit, evicted = false, true
			c.log.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		}
	}
	if evicted {
		c.saveLocked()
	}
	c.mu.Unlock()

	c.rec.RecordCacheLookup(hit)
	return hit
}

// Tag returns the stored validator for key without touching the counters.
func (c *ResponseCache) Tag(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.ETag, true
	}
	return "", false
}

// Invalidate removes key and reports whether it was present.
func (c *ResponseCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.invalidations++
	c.saveLocked()
	return true
}

// Clear drops every entry. Each dropped entry counts as one invalidation.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations += len(c.entries)
	c.entries = make(map[string]*Entry)
	c.saveLocked()
}

// Len returns the number of entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TotalHits sums the hit counters stored with each entry. Unlike Stats it
// survives reloads.
func (c *ResponseCache) TotalHits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		n += e.HitCount
	}
	return n
}

// Stats returns a snapshot of the counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	s := Stats{
		Entries:       len(c.entries),
		Hits:          c.hits,
		Misses:        c.misses,
		Invalidations: c.invalidations,
		TotalRequests: total,
	}
	if total > 0 {
		s.HitRate = float64(c.hits) / float64(total) * 100
	}
	return s
}

// Save writes the store to disk. It is a no-op for memory-only caches.
func (c *ResponseCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" {
		return nil
	}
	return storage.WriteJSON(c.path, c.entries)
}

// saveLocked persists after a write; failures are logged only.
func (c *ResponseCache) saveLocked() {
	if c.path == "" {
		return
	}
	if err := storage.WriteJSON(c.path, c.entries); err != nil {
		c.log.Warn().Err(err).Str("path", c.path).Msg("failed to persist cache")
	}
}
