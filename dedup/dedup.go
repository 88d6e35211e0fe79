// Package dedup suppresses reprocessing of videos that were already seen.
package dedup

import (
	"strings"
	"sync"
)

// Stats is a snapshot of deduplicator counters.
type Stats struct {
	SeenCount           int `json:"seen_count"`
	DuplicatesPrevented int `json:"duplicates_prevented"`
}

// Deduplicator is a set of composite keys. It is safe for concurrent use;
// every check-and-mark happens under a single lock.
type Deduplicator struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	prevented int
}

// New creates an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Key builds the composite key id[_scope]... skipping empty scopes.
func Key(id string, scopes ...string) string {
	if len(scopes) == 0 {
		return id
	}
	var b strings.Builder
	b.WriteString(id)
	for _, s := range scopes {
		if s == "" {
			continue
		}
		b.WriteByte('_')
		b.WriteString(s)
	}
	return b.String()
}

// IsDuplicate reports whether the key was already seen and marks it seen.
// A duplicate increments DuplicatesPrevented.
func (d *Deduplicator) IsDuplicate(id string, scopes ...string) bool {
	k := Key(id, scopes...)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[k]; ok {
		d.prevented++
		return true
	}
	d.seen[k] = struct{}{}
	return false
}

// Seen reports membership without marking.
func (d *Deduplicator) Seen(id string, scopes ...string) bool {
	k := Key(id, scopes...)

	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[k]
	return ok
}

// MarkAsSeen preloads ids without touching DuplicatesPrevented.
func (d *Deduplicator) MarkAsSeen(ids []string, scopes ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.seen[Key(id, scopes...)] = struct{}{}
	}
}

// FilterNew returns the ids not yet seen, in input order, and marks them.
// Every excluded id, including repeats within ids, counts as prevented.
func (d *Deduplicator) FilterNew(ids []string, scopes ...string) []string {
	out := make([]string, 0, len(ids))

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		k := Key(id, scopes...)
		if _, ok := d.seen[k]; ok {
			d.prevented++
			continue
		}
		d.seen[k] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Forget unmarks ids so a later check treats them as new. Counters are
// left unchanged.
func (d *Deduplicator) Forget(ids []string, scopes ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.seen, Key(id, scopes...))
	}
}

// Stats returns the current counters.
func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{SeenCount: len(d.seen), DuplicatesPrevented: d.prevented}
}

// Reset forgets every key and zeroes the counters.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]struct{})
	d.prevented = 0
}
