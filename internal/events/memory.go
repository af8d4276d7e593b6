package events

import (
	"context"
	"maps"
	"sync"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
)

// Memory keeps published events in process. It backs tests and
// deployments that run without Redis.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

var _ Publisher = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	ev.Payload = maps.Clone(ev.Payload)
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type), "memory", "ok").Inc()
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Events returns a snapshot of everything published so far, in order.
// Payload maps are cloned so callers cannot mutate recorded state.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	for i, ev := range m.events {
		ev.Payload = maps.Clone(ev.Payload)
		out[i] = ev
	}
	return out
}
