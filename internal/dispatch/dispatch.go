package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DispatchAndWait implements C9 (§4.9): push a task to the best connected
// agent if one exists, else enqueue it for later pickup, and block for up
// to timeout for the result.
func (m *Manager) DispatchAndWait(workspaceID string, payload map[string]any, taskID, targetClientID string, timeout time.Duration) Result {
	future := NewResultFuture()

	m.mu.Lock()
	session := m.getClientLocked(workspaceID, targetClientID)

	if session != nil {
		inf := &InflightTask{
			TaskID:      taskID,
			WorkspaceID: workspaceID,
			ClientID:    session.ID,
			Payload:     payload,
			Future:      future,
		}
		m.inflight[taskID] = inf

		if err := session.Transport.Send(payload); err != nil {
			delete(m.inflight, taskID)
			m.mu.Unlock()
			m.log.Warn("failed to send dispatch", zap.String("task_id", taskID), zap.Error(err))
			return Result{ExecutionID: taskID, Status: "failed", Error: "Failed to send dispatch: " + err.Error()}
		}
		inf.DispatchedAt = m.clock.Now()
		m.mu.Unlock()
		m.pub.Publish("task.dispatched", map[string]any{"execution_id": taskID, "workspace_id": workspaceID, "client_id": session.ID})
	} else {
		pending := &PendingTask{
			TaskID:         taskID,
			WorkspaceID:    workspaceID,
			Payload:        payload,
			TargetClientID: targetClientID,
			CreatedAt:      m.clock.Now(),
		}
		m.enqueuePendingLocked(pending)
		m.inflight[taskID] = &InflightTask{
			TaskID:      taskID,
			WorkspaceID: workspaceID,
			ClientID:    PendingClientID,
			Payload:     payload,
			Future:      future,
		}
		m.mu.Unlock()
		m.log.Info("no client available, task queued", zap.String("task_id", taskID), zap.String("workspace_id", workspaceID))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, ok := future.Wait(ctx)
	if !ok {
		m.mu.Lock()
		delete(m.inflight, taskID)
		m.mu.Unlock()
		m.log.Error("dispatch_and_wait timed out", zap.String("task_id", taskID), zap.Duration("timeout", timeout))
		return Result{
			ExecutionID: taskID,
			Status:      "timeout",
			Error:       "No result received within timeout",
		}
	}
	return result
}
