package taskstore

import (
	"testing"
	"time"

	"github.com/kandev/agentdispatch/internal/dispatch"
)

func TestMemoryStoreGetTaskUnknownReturnsNilNil(t *testing.T) {
	s := NewMemoryStore()
	task, err := s.GetTask("missing")
	if err != nil || task != nil {
		t.Fatalf("expected (nil, nil) for unknown task, got (%+v, %v)", task, err)
	}
}

func TestMemoryStoreSeedAndGetTask(t *testing.T) {
	s := NewMemoryStore()
	s.Seed(dispatch.StoredTask{TaskID: "t1", WorkspaceID: "ws1", Status: dispatch.TaskRunning})

	task, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != dispatch.TaskRunning {
		t.Fatalf("expected seeded status, got %+v", task)
	}
}

func TestMemoryStoreUpdateTaskStatusCreatesIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateTaskStatus("t1", dispatch.TaskSucceeded, map[string]any{"output": "ok"}, "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task, err := s.GetTask("t1")
	if err != nil || task == nil {
		t.Fatalf("expected task to exist after update, got %+v, %v", task, err)
	}
	if task.Status != dispatch.TaskSucceeded || task.Result["output"] != "ok" {
		t.Fatalf("unexpected task state: %+v", task)
	}
}

func TestMemoryStoreGetTaskReturnsACopy(t *testing.T) {
	s := NewMemoryStore()
	s.Seed(dispatch.StoredTask{TaskID: "t1", Status: dispatch.TaskRunning})

	first, _ := s.GetTask("t1")
	first.Status = dispatch.TaskFailed

	second, _ := s.GetTask("t1")
	if second.Status != dispatch.TaskRunning {
		t.Fatalf("expected mutation of returned copy to not affect stored state, got %+v", second)
	}
}
