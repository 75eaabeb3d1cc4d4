package taskstore

import (
	"sync"
	"time"

	"github.com/kandev/agentdispatch/internal/dispatch"
)

// MemoryStore is an in-process dispatch.TaskStore, used in tests and
// single-process demos where no Postgres instance is wired.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*dispatch.StoredTask
}

// NewMemoryStore returns an empty store. Tests can pre-populate tasks with
// Seed (e.g. to exercise the "already terminal in DB" submit path).
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*dispatch.StoredTask)}
}

// Seed inserts or replaces a task's current state, for test setup.
func (s *MemoryStore) Seed(task dispatch.StoredTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := task
	s.tasks[task.TaskID] = &t
}

func (s *MemoryStore) GetTask(taskID string) (*dispatch.StoredTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) UpdateTaskStatus(taskID string, status dispatch.TaskStatus, result map[string]any, errMsg string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		t = &dispatch.StoredTask{TaskID: taskID}
		s.tasks[taskID] = t
	}
	t.Status = status
	t.Result = result
	t.Error = errMsg
	return nil
}
