package dispatch

import "go.uber.org/zap"

// HandleMessage interprets a single inbound agent frame (C10, §4.10). It
// returns the response frame to send back, or nil if no response is
// required. All frame types except auth_response require an already
// authenticated session.
func (m *Manager) HandleMessage(session *AgentSession, data map[string]any) map[string]any {
	msgType, _ := data["type"].(string)

	if msgType == "auth_response" {
		return m.handleAuthResponse(session, data)
	}

	if !session.Authenticated {
		return map[string]any{
			"type":  "error",
			"error": "Not authenticated",
			"code":  "AUTH_REQUIRED",
		}
	}

	switch msgType {
	case "ack":
		return m.handleAck(session, data)
	case "progress":
		return m.handleProgress(session, data)
	case "result":
		return m.handleResult(session, data)
	case "ping":
		m.Heartbeat(session)
		return map[string]any{"type": "pong", "ts": m.clock.Now().Unix()}
	default:
		m.log.Warn("unknown message type", zap.String("type", msgType), zap.String("client_id", session.ID))
		return nil
	}
}

func (m *Manager) handleAuthResponse(session *AgentSession, data map[string]any) map[string]any {
	token, _ := data["token"].(string)
	nonceResponse, _ := data["nonce_response"].(string)

	if m.auth.Verify(session.ID, token, nonceResponse) {
		m.mu.Lock()
		session.Authenticated = true
		m.mu.Unlock()

		flushed := m.FlushPending(session.WorkspaceID, session)

		m.log.Info("client authenticated", zap.String("client_id", session.ID))
		return map[string]any{
			"type":          "auth_ok",
			"client_id":     session.ID,
			"flushed_tasks": flushed,
		}
	}

	m.log.Warn("client auth failed", zap.String("client_id", session.ID))
	return map[string]any{
		"type":  "auth_failed",
		"error": "Authentication failed",
	}
}

// verifyOwnershipLocked checks that session owns the inflight entry for
// taskID. Returns an error frame and a nil entry if ownership fails, or a
// nil frame and the entry if verified. Caller must hold m.mu.
func (m *Manager) verifyOwnershipLocked(session *AgentSession, taskID string) (map[string]any, *InflightTask) {
	inf, ok := m.inflight[taskID]
	if !ok {
		return map[string]any{"type": "error", "error": "Unknown execution " + taskID}, nil
	}
	if inf.ClientID != session.ID {
		m.log.Warn("ownership mismatch",
			zap.String("expected", inf.ClientID), zap.String("got", session.ID), zap.String("task_id", taskID))
		return map[string]any{"type": "error", "error": "Not the assigned client"}, nil
	}
	return nil, inf
}

func (m *Manager) handleAck(session *AgentSession, data map[string]any) map[string]any {
	taskID, _ := data["execution_id"].(string)

	m.mu.Lock()
	defer m.mu.Unlock()

	errFrame, inf := m.verifyOwnershipLocked(session, taskID)
	if errFrame != nil {
		return errFrame
	}
	inf.Acked = true
	m.log.Info("task acknowledged", zap.String("task_id", taskID), zap.String("client_id", session.ID))
	return nil
}

func (m *Manager) handleProgress(session *AgentSession, data map[string]any) map[string]any {
	taskID, _ := data["execution_id"].(string)

	m.mu.Lock()
	errFrame, _ := m.verifyOwnershipLocked(session, taskID)
	m.mu.Unlock()
	if errFrame != nil {
		return errFrame
	}

	progress, _ := data["progress"].(map[string]any)
	m.log.Debug("task progress", zap.String("task_id", taskID), zap.Any("progress", progress))
	return nil
}

func (m *Manager) handleResult(session *AgentSession, data map[string]any) map[string]any {
	taskID, _ := data["execution_id"].(string)

	m.mu.Lock()
	errFrame, inf := m.verifyOwnershipLocked(session, taskID)
	if errFrame != nil {
		m.mu.Unlock()
		return errFrame
	}
	delete(m.inflight, taskID)

	metadata, _ := data["metadata"].(map[string]any)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["transport"] = "ws_push"
	metadata["client_id"] = session.ID
	metadata["surface_type"] = session.SurfaceType

	status, _ := data["status"].(string)
	if status == "" {
		status = "completed"
	}
	output, _ := data["output"].(string)
	errMsg, _ := data["error"].(string)
	duration, _ := data["duration_seconds"].(float64)

	result := Result{
		ExecutionID:     taskID,
		Status:          status,
		Output:          output,
		DurationSeconds: duration,
		ToolCalls:       data["tool_calls"],
		FilesModified:   data["files_modified"],
		FilesCreated:    data["files_created"],
		Error:           errMsg,
		Governance:      data["governance"],
		Metadata:        metadata,
	}

	if inf.Future != nil {
		inf.Future.Set(result)
	}

	m.completed.add(taskID, m.clock.Now())
	m.mu.Unlock()

	m.pub.Publish("task.completed", map[string]any{"execution_id": taskID, "status": status, "transport": "ws_push"})
	m.log.Info("result received", zap.String("task_id", taskID), zap.String("status", status))

	return map[string]any{"type": "result_ack", "execution_id": taskID}
}
