package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent records in a ring buffer.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Execution
	next    int
	full    bool
}

// NewMemoryStore creates a store holding at most capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultLimit
	}
	return &MemoryStore{records: make([]Execution, capacity)}
}

// Record saves e, evicting the oldest record when the buffer is full.
func (s *MemoryStore) Record(ctx context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[s.next] = *e
	s.next = (s.next + 1) % len(s.records)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// List returns matching records newest first.
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.records)
	}

	var out []Execution
	for i := 0; i < n && len(out) < f.limit(); i++ {
		idx := (s.next - 1 - i + len(s.records)) % len(s.records)
		e := s.records[idx]
		if f.Pipeline != "" && e.Pipeline != f.Pipeline {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
