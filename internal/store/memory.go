package store

import (
	"context"
	"sync"
	"time"

	"deskrelay/internal/ticket"
)

// memoryStore keeps markers and run history in process memory. Dedup
// still works within one daemon lifetime; nothing survives a restart.
type memoryStore struct {
	mu      sync.Mutex
	markers map[string]time.Time
	runs    []RunEntry
	tickets map[string][]ticket.Ticket
}

func newMemory() *memoryStore {
	return &memoryStore{
		markers: make(map[string]time.Time),
		tickets: make(map[string][]ticket.Ticket),
	}
}

func (m *memoryStore) GetMarker(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.markers[key]
	return at, ok, nil
}

func (m *memoryStore) PutMarker(_ context.Context, key string, firedAt time.Time) error {
	if key == "" {
		return nil
	}
	if firedAt.IsZero() {
		firedAt = time.Now()
	}
	m.mu.Lock()
	m.markers[key] = firedAt
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) AppendRun(_ context.Context, e RunEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.runs = append(m.runs, e)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) SaveTickets(_ context.Context, tenantID string, ts []ticket.Ticket) error {
	if len(ts) == 0 {
		return nil
	}
	m.mu.Lock()
	m.tickets[tenantID] = append(m.tickets[tenantID], ts...)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Close() error { return nil }

// Runs returns a copy of the run log (tests and status commands).
func (m *memoryStore) Runs() []RunEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunEntry, len(m.runs))
	copy(out, m.runs)
	return out
}
