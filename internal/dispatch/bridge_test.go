package dispatch

import "testing"

func TestBroadcastAssignSendsToAllBridges(t *testing.T) {
	m := testManager()
	t1, t2 := &fakeTransport{}, &fakeTransport{}
	m.RegisterBridge(t1, "bridge-1", "")
	m.RegisterBridge(t2, "bridge-2", "")

	sent := m.BroadcastAssign("ws1", "")
	if sent != 2 {
		t.Fatalf("expected 2 sends, got %d", sent)
	}
	if t1.last()["type"] != "assign" || t2.last()["type"] != "assign" {
		t.Fatal("expected both bridges to receive an assign frame")
	}
}

func TestBroadcastSkipsMismatchedOwner(t *testing.T) {
	m := testManager()
	owned := &fakeTransport{}
	other := &fakeTransport{}
	m.RegisterBridge(owned, "bridge-1", "user-a")
	m.RegisterBridge(other, "bridge-2", "user-b")

	sent := m.BroadcastAssign("ws1", "user-a")
	if sent != 1 {
		t.Fatalf("expected 1 send when scoped to user-a, got %d", sent)
	}
	if owned.count() != 1 || other.count() != 0 {
		t.Fatalf("expected only owned bridge to receive frame, got owned=%d other=%d", owned.count(), other.count())
	}
}

func TestBroadcastUnregistersFailingBridge(t *testing.T) {
	m := testManager()
	failing := &fakeTransport{fail: true}
	m.RegisterBridge(failing, "bridge-1", "")

	sent := m.BroadcastAssign("ws1", "")
	if sent != 0 {
		t.Fatalf("expected 0 successful sends, got %d", sent)
	}

	m.mu.Lock()
	_, stillRegistered := m.bridges["bridge-1"]
	m.mu.Unlock()
	if stillRegistered {
		t.Fatal("expected failing bridge to be unregistered")
	}
}

func TestUnregisterBridgeRemovesIt(t *testing.T) {
	m := testManager()
	m.RegisterBridge(&fakeTransport{}, "bridge-1", "")
	m.UnregisterBridge("bridge-1")

	m.mu.Lock()
	_, ok := m.bridges["bridge-1"]
	m.mu.Unlock()
	if ok {
		t.Fatal("expected bridge to be removed")
	}
}
