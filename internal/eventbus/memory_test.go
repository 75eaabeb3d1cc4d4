package eventbus

import "testing"

func TestMemoryPublisherRecordsEvents(t *testing.T) {
	p := NewMemoryPublisher()
	p.Publish("task.dispatched", map[string]any{"execution_id": "t1"})
	p.Publish("task.completed", map[string]any{"execution_id": "t1"})

	events := p.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(events))
	}
	if events[0].Type != "task.dispatched" || events[1].Type != "task.completed" {
		t.Fatalf("expected events in publish order, got %+v", events)
	}
}

func TestMemoryPublisherEventsReturnsSnapshotCopy(t *testing.T) {
	p := NewMemoryPublisher()
	p.Publish("task.dispatched", nil)

	snap := p.Events()
	p.Publish("task.completed", nil)

	if len(snap) != 1 {
		t.Fatalf("expected snapshot to be unaffected by later publishes, got %d entries", len(snap))
	}
}
