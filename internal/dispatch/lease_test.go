package dispatch

import (
	"context"
	"testing"
	"time"
)

// fakeClock gives tests control over Now() so lease expiry is deterministic.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testManagerWithClock() (*Manager, *fakeClock) {
	m := testManager()
	clock := &fakeClock{now: time.Now()}
	m.clock = clock
	return m, clock
}

func reserveOne(t *testing.T, m *Manager, workspaceID, taskID string) *ReservedTask {
	t.Helper()
	return reserveOneWithLease(t, m, workspaceID, taskID, time.Second)
}

func reserveOneWithLease(t *testing.T, m *Manager, workspaceID, taskID string, leaseSeconds time.Duration) *ReservedTask {
	t.Helper()
	m.mu.Lock()
	m.pending[workspaceID] = append(m.pending[workspaceID], &PendingTask{
		TaskID:      taskID,
		WorkspaceID: workspaceID,
		Payload:     map[string]any{"agent_id": "gemini_cli", "task_id": taskID},
	})
	m.mu.Unlock()

	results := m.Reserve(workspaceID, "poller-1", "gemini_cli", 5, leaseSeconds)
	if len(results) != 1 {
		t.Fatalf("expected 1 reserved task, got %d", len(results))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserved[taskID]
}

func TestReserveWaitBlocksUntilEnqueueThenReturns(t *testing.T) {
	m := testManager()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan []ReserveResult, 1)
	go func() {
		done <- m.ReserveWait(ctx, "ws1", "poller-1", "", 5, time.Second)
	}()

	select {
	case results := <-done:
		t.Fatalf("expected ReserveWait to block with nothing pending, got %+v", results)
	case <-time.After(50 * time.Millisecond):
	}

	m.mu.Lock()
	m.enqueuePendingLocked(&PendingTask{TaskID: "t1", WorkspaceID: "ws1", Payload: map[string]any{"task_id": "t1"}})
	m.mu.Unlock()

	select {
	case results := <-done:
		if len(results) != 1 || results[0].Payload["task_id"] != "t1" {
			t.Fatalf("expected the newly enqueued task reserved, got %+v", results)
		}
	case <-time.After(time.Second):
		t.Fatal("ReserveWait did not wake up after enqueue")
	}
}

func TestReserveWaitReturnsNilOnContextDone(t *testing.T) {
	m := testManager()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	results := m.ReserveWait(ctx, "ws1", "poller-1", "", 5, time.Second)
	if results != nil {
		t.Fatalf("expected nil when context is done with nothing pending, got %+v", results)
	}
}

func TestReserveFiltersBySurfaceType(t *testing.T) {
	m := testManager()
	m.mu.Lock()
	m.pending["ws1"] = []*PendingTask{
		{TaskID: "t1", WorkspaceID: "ws1", Payload: map[string]any{"agent_id": "claude_code"}},
		{TaskID: "t2", WorkspaceID: "ws1", Payload: map[string]any{"agent_id": "gemini_cli"}},
	}
	m.mu.Unlock()

	results := m.Reserve("ws1", "poller-1", "gemini_cli", 10, time.Second)
	if len(results) != 1 {
		t.Fatalf("expected 1 matching task, got %d", len(results))
	}

	m.mu.Lock()
	remaining := m.pending["ws1"]
	m.mu.Unlock()
	if len(remaining) != 1 || remaining[0].TaskID != "t1" {
		t.Fatalf("expected unmatched task to remain queued, got %+v", remaining)
	}
}

func TestAckIdempotentAndExtendsLease(t *testing.T) {
	m, clock := testManagerWithClock()
	reserved := reserveOne(t, m, "ws1", "task-1")

	first := m.Ack("task-1", reserved.LeaseID, "poller-1")
	if first == nil || first.Status != AckAcked {
		t.Fatalf("expected acked status, got %+v", first)
	}
	if !first.LeaseExpiresAt.Equal(clock.now.Add(m.cfg.AckExtend)) {
		t.Fatalf("expected lease extended to now+AckExtend, got %v", first.LeaseExpiresAt)
	}

	second := m.Ack("task-1", reserved.LeaseID, "poller-1")
	if second == nil || second.Status != AckAlreadyAcked {
		t.Fatalf("expected already_acked on repeat, got %+v", second)
	}
	if !second.LeaseExpiresAt.Equal(first.LeaseExpiresAt) {
		t.Fatalf("expected repeat ack to leave the deadline unchanged, got %v", second.LeaseExpiresAt)
	}
}

func TestAckRejectsLeaseMismatch(t *testing.T) {
	m, _ := testManagerWithClock()
	reserveOne(t, m, "ws1", "task-1")

	resp := m.Ack("task-1", "wrong-lease", "poller-1")
	if resp != nil {
		t.Fatalf("expected nil on lease mismatch, got %+v", resp)
	}
}

func TestProgressResetsLeaseUntilCapExceeded(t *testing.T) {
	m, clock := testManagerWithClock()
	m.cfg.LeaseCap = 250 * time.Millisecond
	m.cfg.ProgressReset = 100 * time.Millisecond
	reserved := reserveOneWithLease(t, m, "ws1", "task-1", 10*time.Millisecond)

	resp := m.Progress("task-1", reserved.LeaseID, "poller-1")
	if resp == nil || resp.Status != ProgressOK {
		t.Fatalf("expected ok, got %+v", resp)
	}

	clock.advance(10 * time.Millisecond)
	resp = m.Progress("task-1", reserved.LeaseID, "poller-1")
	if resp == nil || resp.Status != ProgressOK {
		t.Fatalf("expected ok on second reset, got %+v", resp)
	}

	resp = m.Progress("task-1", reserved.LeaseID, "poller-1")
	if resp == nil || resp.Status != ProgressLeaseCapExceed {
		t.Fatalf("expected lease_cap_exceeded once cumulative exceeds cap, got %+v", resp)
	}
}

func TestReclaimExpiredRequeuesTask(t *testing.T) {
	m, clock := testManagerWithClock()
	reserveOne(t, m, "ws1", "task-1")

	clock.advance(2 * time.Second)
	m.mu.Lock()
	m.reclaimExpiredLocked()
	_, stillReserved := m.reserved["task-1"]
	queue := m.pending["ws1"]
	m.mu.Unlock()

	if stillReserved {
		t.Fatal("expected expired reservation to be removed")
	}
	if len(queue) != 1 || queue[0].TaskID != "task-1" {
		t.Fatalf("expected task requeued after lease expiry, got %+v", queue)
	}
}

func TestSubmitResolvesInflightAndIsIdempotent(t *testing.T) {
	m, _ := testManagerWithClock()
	reserved := reserveOne(t, m, "ws1", "task-1")

	future := NewResultFuture()
	m.mu.Lock()
	m.inflight["task-1"] = &InflightTask{TaskID: "task-1", WorkspaceID: "ws1", ClientID: PendingClientID, Future: future}
	m.mu.Unlock()

	resp := m.Submit("task-1", map[string]any{"status": "completed", "output": "done"}, "poller-1", reserved.LeaseID)
	if resp == nil || !resp.Accepted || resp.Duplicate {
		t.Fatalf("expected accepted non-duplicate submit, got %+v", resp)
	}

	dup := m.Submit("task-1", map[string]any{"status": "completed"}, "poller-1", reserved.LeaseID)
	if dup == nil || !dup.Duplicate {
		t.Fatalf("expected duplicate submit to short-circuit, got %+v", dup)
	}
}

func TestSubmitUnknownTaskReturnsNil(t *testing.T) {
	m, _ := testManagerWithClock()
	resp := m.Submit("never-existed", map[string]any{"status": "completed"}, "poller-1", "")
	if resp != nil {
		t.Fatalf("expected nil for unknown task, got %+v", resp)
	}
}

func TestListInflightReturnsOwnedReservations(t *testing.T) {
	m, _ := testManagerWithClock()
	reserveOne(t, m, "ws1", "task-1")

	entries := m.ListInflight("poller-1")
	if len(entries) != 1 || entries[0].Payload["task_id"] != "task-1" {
		t.Fatalf("expected 1 owned entry, got %+v", entries)
	}

	other := m.ListInflight("someone-else")
	if len(other) != 0 {
		t.Fatalf("expected no entries for unrelated client, got %+v", other)
	}
}
