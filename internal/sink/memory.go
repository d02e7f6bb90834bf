package sink

import (
	"context"
	"sync"

	"PcapSentry/internal/model"
)

const defaultMemoryCapacity = 1000

// MemorySink keeps the most recent alerts in a fixed-size ring.
type MemorySink struct {
	mu    sync.RWMutex
	ring  []*model.AlertRecord
	next  int
	total int
}

// NewMemorySink creates a ring of the given capacity. Non-positive means 1000.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemorySink{ring: make([]*model.AlertRecord, capacity)}
}

// SaveAlert implements model.AlertSink.
func (s *MemorySink) SaveAlert(_ context.Context, alert *model.AlertRecord) error {
	cp := *alert
	s.mu.Lock()
	s.ring[s.next] = &cp
	s.next = (s.next + 1) % len(s.ring)
	s.total++
	s.mu.Unlock()
	return nil
}

// Recent returns up to n alerts, newest first. n <= 0 returns everything held.
func (s *MemorySink) Recent(n int) []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	held := s.total
	if held > len(s.ring) {
		held = len(s.ring)
	}
	if n <= 0 || n > held {
		n = held
	}
	out := make([]model.AlertRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, *s.ring[idx])
	}
	return out
}

// Total returns how many alerts were ever saved.
func (s *MemorySink) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}
