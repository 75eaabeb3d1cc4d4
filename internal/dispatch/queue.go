package dispatch

import "go.uber.org/zap"

// enqueuePendingLocked admits task onto its workspace's FIFO, dropping the
// oldest entry on overflow (§4.5). Caller must hold m.mu. The dropped
// task's inflight future, if any, is resolved with a permanent failure so
// its waiter never hangs.
func (m *Manager) enqueuePendingLocked(task *PendingTask) {
	queue := m.pending[task.WorkspaceID]
	if len(queue) >= m.cfg.MaxPendingPerWS {
		dropped := queue[0]
		queue = queue[1:]
		m.log.Warn("pending queue full, dropping oldest task",
			zap.String("workspace_id", task.WorkspaceID), zap.String("task_id", dropped.TaskID))

		if inf, ok := m.inflight[dropped.TaskID]; ok {
			delete(m.inflight, dropped.TaskID)
			if inf.Future != nil {
				inf.Future.Set(Result{
					ExecutionID: dropped.TaskID,
					Status:      "failed",
					Error:       "dropped from pending queue: workspace overflow",
				})
			}
		}
	}
	queue = append(queue, task)
	m.pending[task.WorkspaceID] = queue

	m.signalWakeLocked(task.WorkspaceID)
}

// signalWakeLocked wakes any long-poll waiters for workspaceID by closing
// (and replacing) its wake channel — a broadcast-once idiom that avoids
// sync.Cond while still letting every waiter observe the signal exactly
// once (§9: "a per-workspace condition/event signaled on enqueue").
func (m *Manager) signalWakeLocked(workspaceID string) {
	if ch, ok := m.wake[workspaceID]; ok {
		close(ch)
	}
	m.wake[workspaceID] = make(chan struct{})
}

// waitChan returns the current wake channel for workspaceID, creating one
// if absent, so a caller can select on it without racing a concurrent enqueue.
func (m *Manager) waitChan(workspaceID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.wake[workspaceID]
	if !ok {
		ch = make(chan struct{})
		m.wake[workspaceID] = ch
	}
	return ch
}

// FlushPending delivers every queued task targeted at session (or
// untargeted) to it in FIFO order (§4.5). Returns the count flushed.
func (m *Manager) FlushPending(workspaceID string, session *AgentSession) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushPendingLocked(workspaceID, session)
}

func (m *Manager) flushPendingLocked(workspaceID string, session *AgentSession) int {
	queue := m.pending[workspaceID]
	if len(queue) == 0 {
		return 0
	}

	flushed := 0
	remaining := make([]*PendingTask, 0, len(queue))

	for _, task := range queue {
		if task.TargetClientID != "" && task.TargetClientID != session.ID {
			remaining = append(remaining, task)
			continue
		}

		task.Attempts++
		if task.Attempts > m.cfg.MaxAttempts {
			if inf, ok := m.inflight[task.TaskID]; ok {
				delete(m.inflight, task.TaskID)
				if inf.Future != nil {
					inf.Future.Set(Result{
						ExecutionID: task.TaskID,
						Status:      "failed",
						Error:       "max dispatch attempts exceeded",
					})
				}
			}
			continue
		}

		if err := session.Transport.Send(task.Payload); err != nil {
			m.log.Warn("failed to flush pending task",
				zap.String("task_id", task.TaskID), zap.Error(err))
			remaining = append(remaining, task)
			continue
		}

		if inf, ok := m.inflight[task.TaskID]; ok {
			inf.ClientID = session.ID
			inf.DispatchedAt = m.clock.Now()
		}
		flushed++
	}

	m.pending[workspaceID] = remaining
	return flushed
}
