// Package dedupe tracks command ids so a retried command is applied at most once.
package dedupe

import (
	"context"
	"sync"
)

// Deduper records seen command ids to ensure at-most-once application.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	// The empty id is never recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a command that was rejected before it was
	// applied (e.g. a full inbox) can be retried with the same id.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps ids in a map. In bounded mode a ring of insertion
// order evicts the oldest id once maxSize is reached.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]int // id -> ring slot, -1 in unbounded mode
	ring    []string
	next    int
	maxSize int // 0 or negative = unbounded
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 65536,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

// SeenAndRecord implements Deduper.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.maxSize <= 0 {
		d.seen[id] = -1
		return false
	}

	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = id
	d.seen[id] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

// Unrecord implements Deduper.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.seen[id]
	if !ok {
		return
	}
	delete(d.seen, id)
	if slot >= 0 {
		d.ring[slot] = ""
	}
}

// Size returns the number of ids currently remembered.
func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
