package events

import (
	"context"
	"sync"

	"fleet-billing/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*MemoryPublisher)(nil)

// MemoryPublisher keeps events in memory. Used when no brokers are configured.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []adapter.Event
	max    int
}

func NewMemoryPublisher(max int) *MemoryPublisher {
	if max <= 0 {
		max = 1000
	}
	return &MemoryPublisher{max: max}
}

func (m *MemoryPublisher) Publish(_ context.Context, ev adapter.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == m.max {
		m.events = m.events[1:]
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (m *MemoryPublisher) Events() []adapter.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.Event(nil), m.events...)
}

func (m *MemoryPublisher) Close() error { return nil }
