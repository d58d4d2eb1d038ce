package activity

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	total    int
	lastSeen time.Time
}

// Memory is an in-process Tracker. It only covers uploads handled by this
// process; use Postgres when several instances share a holding area.
type Memory struct {
	mu      sync.Mutex
	entries map[Key]entry
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]entry)}
}

func (m *Memory) Touch(_ context.Context, key Key, total int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if ok && e.total != total {
		return ErrTotalMismatch
	}
	if !ok || at.After(e.lastSeen) {
		e.lastSeen = at
	}
	e.total = total
	m.entries[key] = e
	return nil
}

func (m *Memory) ActiveSince(_ context.Context, cutoff time.Time) (map[Key]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[Key]struct{})
	for k, e := range m.entries {
		if !e.lastSeen.Before(cutoff) {
			active[k] = struct{}{}
		}
	}
	return active, nil
}

func (m *Memory) Forget(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
