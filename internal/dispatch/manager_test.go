package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeTransport records every frame sent to it and can be told to fail.
type fakeTransport struct {
	mu     sync.Mutex
	frames []map[string]any
	fail   bool
}

func (f *fakeTransport) Send(frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errSendFailed
	}
	m, _ := frame.(map[string]any)
	f.frames = append(f.frames, m)
	return nil
}

func (f *fakeTransport) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type sendFailedError struct{}

func (sendFailedError) Error() string { return "send failed" }

var errSendFailed = sendFailedError{}

func testManager() *Manager {
	cfg := DefaultConfig()
	cfg.MaxPendingPerWS = 3
	cfg.CompletedMax = 5
	cfg.DispatchTimeout = time.Second
	auth := NewAuth("", "")
	return NewManager(cfg, auth, nil, nil, nil)
}

func TestConnectDevModeAutoAuthenticates(t *testing.T) {
	m := testManager()
	session := m.Connect(&fakeTransport{}, "ws1", "c1", "gemini_cli")
	if !session.Authenticated {
		t.Fatal("expected dev-mode session to be auto-authenticated")
	}
}

func TestDispatchAndWaitPushPath(t *testing.T) {
	m := testManager()
	transport := &fakeTransport{}
	m.Connect(transport, "ws1", "c1", "gemini_cli")

	done := make(chan Result, 1)
	go func() {
		done <- m.DispatchAndWait("ws1", map[string]any{"agent_id": "gemini_cli"}, "task-1", "", time.Second)
	}()

	// give the dispatch goroutine a moment to push and block on the future
	time.Sleep(20 * time.Millisecond)
	if transport.count() != 1 {
		t.Fatalf("expected 1 frame sent, got %d", transport.count())
	}

	resp := m.HandleMessage(m.GetClient("ws1", "c1"), map[string]any{
		"type":         "result",
		"execution_id": "task-1",
		"status":       "completed",
		"output":       "ok",
	})
	if resp == nil || resp["type"] != "result_ack" {
		t.Fatalf("expected result_ack, got %v", resp)
	}

	select {
	case r := <-done:
		if r.Status != "completed" || r.Output != "ok" {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch result")
	}
}

func TestDispatchAndWaitTimeout(t *testing.T) {
	m := testManager()
	m.Connect(&fakeTransport{}, "ws1", "c1", "gemini_cli")

	r := m.DispatchAndWait("ws1", map[string]any{"agent_id": "gemini_cli"}, "task-timeout", "", 30*time.Millisecond)
	if r.Status != "timeout" {
		t.Fatalf("expected timeout status, got %+v", r)
	}
}

func TestDispatchAndWaitEnqueueWhenNoClient(t *testing.T) {
	m := testManager()
	done := make(chan Result, 1)
	go func() {
		done <- m.DispatchAndWait("ws1", map[string]any{"agent_id": "gemini_cli"}, "task-2", "", time.Second)
	}()

	time.Sleep(20 * time.Millisecond)

	transport := &fakeTransport{}
	session := m.Connect(transport, "ws1", "c1", "gemini_cli")
	flushed := m.FlushPending("ws1", session)
	if flushed != 1 {
		t.Fatalf("expected 1 task flushed, got %d", flushed)
	}

	resp := m.HandleMessage(session, map[string]any{
		"type":         "result",
		"execution_id": "task-2",
		"status":       "completed",
	})
	if resp == nil {
		t.Fatal("expected result_ack response")
	}

	select {
	case r := <-done:
		if r.Status != "completed" {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch result")
	}
}

func TestDisconnectRequeuesInflightTask(t *testing.T) {
	m := testManager()
	transport := &fakeTransport{}
	session := m.Connect(transport, "ws1", "c1", "gemini_cli")

	done := make(chan Result, 1)
	go func() {
		done <- m.DispatchAndWait("ws1", map[string]any{"agent_id": "gemini_cli"}, "task-3", "", time.Second)
	}()
	time.Sleep(20 * time.Millisecond)

	m.Disconnect(session)

	transport2 := &fakeTransport{}
	session2 := m.Connect(transport2, "ws1", "c2", "gemini_cli")
	flushed := m.FlushPending("ws1", session2)
	if flushed != 1 {
		t.Fatalf("expected requeued task to flush to new client, got %d", flushed)
	}

	resp := m.HandleMessage(session2, map[string]any{
		"type":         "result",
		"execution_id": "task-3",
		"status":       "completed",
	})
	if resp == nil {
		t.Fatal("expected result_ack")
	}
	select {
	case r := <-done:
		if r.Status != "completed" {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for requeued dispatch result")
	}
}

func TestDisconnectWithNoPayloadFailsFuture(t *testing.T) {
	m := testManager()
	session := &AgentSession{ID: "c1", WorkspaceID: "ws1", Authenticated: true, Transport: &fakeTransport{}}

	m.mu.Lock()
	m.clients["ws1"] = map[string]*AgentSession{"c1": session}
	future := NewResultFuture()
	m.inflight["task-4"] = &InflightTask{TaskID: "task-4", WorkspaceID: "ws1", ClientID: "c1", Future: future}
	m.mu.Unlock()

	m.Disconnect(session)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, ok := future.Wait(ctx)
	if !ok {
		t.Fatal("expected future to resolve")
	}
	if r.Status != "failed" {
		t.Fatalf("expected failed status, got %+v", r)
	}
}

func TestPendingQueueOverflowDropsOldest(t *testing.T) {
	m := testManager() // MaxPendingPerWS = 3

	var results []chan Result
	for i := 0; i < 4; i++ {
		ch := make(chan Result, 1)
		results = append(results, ch)
		taskID := string(rune('a' + i))
		go func(id string, out chan Result) {
			out <- m.DispatchAndWait("ws-overflow", map[string]any{"agent_id": "gemini_cli"}, id, "", time.Second)
		}(taskID, ch)
		time.Sleep(10 * time.Millisecond)
	}

	// the first task should have been dropped once the 4th arrived
	select {
	case r := <-results[0]:
		if r.Status != "failed" {
			t.Fatalf("expected dropped task to fail, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected oldest task to be resolved as dropped")
	}

	m.mu.Lock()
	depth := len(m.pending["ws-overflow"])
	m.mu.Unlock()
	if depth != 3 {
		t.Fatalf("expected queue depth capped at 3, got %d", depth)
	}
}

func TestHasConnectionsAndStatus(t *testing.T) {
	m := testManager()
	if m.HasConnections("ws1") {
		t.Fatal("expected no connections yet")
	}
	m.Connect(&fakeTransport{}, "ws1", "c1", "gemini_cli")
	if !m.HasConnections("ws1") {
		t.Fatal("expected connection to be registered")
	}

	snap := m.Status()
	if snap.TotalClients != 1 || snap.AuthenticatedClients != 1 {
		t.Fatalf("unexpected status snapshot: %+v", snap)
	}
}
