package events

import (
	"context"
	"sync"
)

// Ring keeps the most recent records in memory for status readers.
type Ring struct {
	mu   sync.RWMutex
	buf  []Record
	next int
	full bool
}

// NewRing creates a ring holding up to size records.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 256
	}
	return &Ring{buf: make([]Record, size)}
}

// Handle stores rec, overwriting the oldest record when full.
func (r *Ring) Handle(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Records returns a copy of the stored records, oldest first.
func (r *Ring) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		return append([]Record(nil), r.buf[:r.next]...)
	}
	out := make([]Record, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Filter returns the stored records of the given kind, oldest first.
func (r *Ring) Filter(kind Kind) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}
