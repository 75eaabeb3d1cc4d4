package eventbus

import "sync"

// MemoryPublisher records published events in-process, for tests and
// single-process demos where no NATS instance is wired.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// RecordedEvent is one Publish call captured by MemoryPublisher.
type RecordedEvent struct {
	Type string
	Data map[string]any
}

// NewMemoryPublisher returns an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(eventType string, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, RecordedEvent{Type: eventType, Data: data})
}

// Events returns a snapshot of every event published so far, for assertions
// in tests.
func (p *MemoryPublisher) Events() []RecordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RecordedEvent, len(p.events))
	copy(out, p.events)
	return out
}
