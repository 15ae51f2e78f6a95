package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. Tests and one-shot CLI runs use it.
type Memory struct {
	mu     sync.Mutex
	closed bool
	feeds  map[string][]byte
	audit  []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{feeds: map[string][]byte{}}
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) PruneAudit(ctx context.Context, cutoff time.Time) (int, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	kept := m.audit[:0]
	for _, e := range m.audit {
		if !e.At.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(m.audit) - len(kept)
	m.audit = kept
	return removed, nil
}

// Audit returns a copy of the recorded entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) LoadFeed(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	b, ok := m.feeds[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (m *Memory) SaveFeed(ctx context.Context, key string, data []byte) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.feeds[key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) DeleteFeed(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.feeds, key)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
