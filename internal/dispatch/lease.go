package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReserveResult is a reserved task's payload annotated with its lease_id,
// as returned by Reserve (§6.3).
type ReserveResult struct {
	Payload map[string]any
	LeaseID string
}

// Reserve implements C7's atomic reserve (§4.7, step 1-5): lazily reclaim
// expired leases, then move up to limit matching pending tasks into fresh
// reservations. surfaceType, when non-empty, filters against the task
// payload's authoritative-when-present agent_id field (resolved open
// question, SPEC_FULL §Supplemented features). targetClientID filtering is
// implicit via each task's own TargetClientID field.
func (m *Manager) Reserve(workspaceID, clientID, surfaceType string, limit int, leaseSeconds time.Duration) []ReserveResult {
	if leaseSeconds <= 0 {
		leaseSeconds = m.cfg.DefaultLease
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.reclaimExpiredLocked()

	queue := m.pending[workspaceID]
	var reserved []*ReservedTask
	remaining := make([]*PendingTask, 0, len(queue))
	now := m.clock.Now()

	for _, t := range queue {
		if surfaceType != "" {
			if agentID := t.AgentID(); agentID != "" && agentID != surfaceType {
				remaining = append(remaining, t)
				continue
			}
		}
		if t.TargetClientID != "" && t.TargetClientID != clientID {
			remaining = append(remaining, t)
			continue
		}

		if len(reserved) >= limit {
			remaining = append(remaining, t)
			continue
		}

		r := &ReservedTask{
			Task:            *t,
			ClientID:        clientID,
			LeaseID:         NewID(),
			LeaseDeadline:   now.Add(leaseSeconds),
			CumulativeLease: leaseSeconds,
		}
		m.reserved[t.TaskID] = r
		reserved = append(reserved, r)
	}

	m.pending[workspaceID] = remaining

	if len(reserved) > 0 {
		m.log.Info("reserved pending tasks",
			zap.Int("count", len(reserved)), zap.String("client_id", clientID), zap.String("workspace_id", workspaceID))
	}

	results := make([]ReserveResult, 0, len(reserved))
	for _, r := range reserved {
		payload := cloneMap(r.Task.Payload)
		payload["lease_id"] = r.LeaseID
		results = append(results, ReserveResult{Payload: payload, LeaseID: r.LeaseID})
	}
	return results
}

// ReserveWait is the long-poll counterpart to Reserve (§1, §2 C5, §5): if
// no task matches on the first scan, it blocks on the workspace's wake
// channel — signalled on every enqueue — and rescans, until either a task
// is reserved or ctx is done. The wake channel is captured before the scan
// so an enqueue racing the scan is never missed: Reserve's own lock either
// picks up the new task directly, or signalWakeLocked closes the very
// channel already captured here.
func (m *Manager) ReserveWait(ctx context.Context, workspaceID, clientID, surfaceType string, limit int, leaseSeconds time.Duration) []ReserveResult {
	for {
		wake := m.waitChan(workspaceID)

		if results := m.Reserve(workspaceID, clientID, surfaceType, limit, leaseSeconds); len(results) > 0 {
			return results
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return nil
		}
	}
}

// reclaimExpiredLocked returns every expired ReservedTask to its workspace's
// pending queue, preserving Attempts (§4.7 step 1, §8 boundary behaviors).
// Caller must hold m.mu.
func (m *Manager) reclaimExpiredLocked() {
	now := m.clock.Now()
	for taskID, r := range m.reserved {
		if r.Expired(now) {
			delete(m.reserved, taskID)
			task := r.Task
			m.enqueuePendingLocked(&task)
			m.log.Warn("lease expired, re-queued", zap.String("task_id", taskID))
		}
	}
}

// AckStatus is the status string returned by Ack (§6.3).
type AckStatus string

const (
	AckAcked            AckStatus = "acked"
	AckAlreadyAcked     AckStatus = "already_acked"
	AckAlreadyCompleted AckStatus = "already_completed"
)

// AckResponse is Ack's success shape; a nil *AckResponse return means reject.
type AckResponse struct {
	ExecutionID    string
	LeaseID        string
	LeaseExpiresAt time.Time
	Status         AckStatus
}

// Ack implements C7's ack (§4.7): idempotent lease acknowledgment with
// extension. Returns nil if rejected (unknown task, lease/client mismatch).
func (m *Manager) Ack(taskID, leaseID, clientID string) *AckResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	reserved, ok := m.reserved[taskID]
	if !ok {
		if m.completed.contains(taskID) {
			return &AckResponse{ExecutionID: taskID, Status: AckAlreadyCompleted}
		}
		return nil
	}

	if reserved.LeaseID != leaseID {
		m.log.Warn("ack lease_id mismatch", zap.String("task_id", taskID))
		return nil
	}
	if clientID != "" && reserved.ClientID != clientID {
		m.log.Warn("ack client mismatch", zap.String("task_id", taskID))
		return nil
	}

	if reserved.Acked {
		return &AckResponse{
			ExecutionID:    taskID,
			LeaseID:        leaseID,
			LeaseExpiresAt: reserved.LeaseDeadline,
			Status:         AckAlreadyAcked,
		}
	}

	reserved.Acked = true
	now := m.clock.Now()
	reserved.LeaseDeadline = now.Add(m.cfg.AckExtend)
	reserved.CumulativeLease += m.cfg.AckExtend

	m.log.Info("task acked, lease extended", zap.String("task_id", taskID))
	return &AckResponse{
		ExecutionID:    taskID,
		LeaseID:        leaseID,
		LeaseExpiresAt: reserved.LeaseDeadline,
		Status:         AckAcked,
	}
}

// ProgressStatus is the status string returned by Progress (§6.3).
type ProgressStatus string

const (
	ProgressOK             ProgressStatus = "ok"
	ProgressLeaseCapExceed ProgressStatus = "lease_cap_exceeded"
)

// ProgressResponse is Progress's success shape; nil means reject (unknown
// task or lease/client mismatch).
type ProgressResponse struct {
	ExecutionID     string
	LeaseExpiresAt  time.Time
	Status          ProgressStatus
	CumulativeLease time.Duration
}

// Progress implements C7's progress (§4.7): reset the lease unless doing so
// would exceed LeaseCap.
func (m *Manager) Progress(taskID, leaseID, clientID string) *ProgressResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	reserved, ok := m.reserved[taskID]
	if !ok {
		return nil
	}
	if reserved.LeaseID != leaseID {
		return nil
	}
	if clientID != "" && reserved.ClientID != clientID {
		return nil
	}

	if !reserved.ResetLease(m.clock.Now(), m.cfg.ProgressReset, m.cfg.LeaseCap) {
		m.log.Warn("lease cap exceeded", zap.String("task_id", taskID), zap.Duration("cumulative_lease", reserved.CumulativeLease))
		return &ProgressResponse{
			ExecutionID:     taskID,
			Status:          ProgressLeaseCapExceed,
			CumulativeLease: reserved.CumulativeLease,
		}
	}

	return &ProgressResponse{
		ExecutionID:    taskID,
		LeaseExpiresAt: reserved.LeaseDeadline,
		Status:         ProgressOK,
	}
}

// InflightEntry is a crash-recovery listing item returned by ListInflight.
type InflightEntry struct {
	Payload        map[string]any
	LeaseID        string
	Acked          bool
	LeaseExpiresAt time.Time
}

// ListInflight implements C7's list_inflight (§4.7): reclaim expired leases,
// then return every reservation owned by clientID so a restarting agent can
// resume work it had already reserved.
func (m *Manager) ListInflight(clientID string) []InflightEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reclaimExpiredLocked()

	var out []InflightEntry
	for _, r := range m.reserved {
		if r.ClientID != clientID {
			continue
		}
		out = append(out, InflightEntry{
			Payload:        cloneMap(r.Task.Payload),
			LeaseID:        r.LeaseID,
			Acked:          r.Acked,
			LeaseExpiresAt: r.LeaseDeadline,
		})
	}
	return out
}

// SubmitResponse is Submit's success shape; nil means unknown task (neither
// a durable write nor an in-memory resolution happened).
type SubmitResponse struct {
	Accepted    bool
	Duplicate   bool
	WorkspaceID string
	TaskID      string
}

// Submit implements C7's submit (§4.7): idempotent result ingestion with a
// DB-authoritative durable path and an in-memory fast-path that still fires
// when the store read or write fails (§4.7's failure-tolerance note). A task
// the store already holds as terminal is recorded as completed and answered
// as a duplicate; the fast-path is not run for it.
func (m *Manager) Submit(taskID string, resultData map[string]any, clientID, leaseID string) *SubmitResponse {
	m.mu.Lock()

	if m.completed.contains(taskID) {
		m.mu.Unlock()
		m.log.Info("duplicate submit, no-op", zap.String("task_id", taskID))
		return &SubmitResponse{Accepted: true, Duplicate: true}
	}

	if reserved, ok := m.reserved[taskID]; ok {
		if leaseID != "" && reserved.LeaseID != leaseID {
			m.mu.Unlock()
			m.log.Warn("submit lease_id mismatch", zap.String("task_id", taskID))
			return nil
		}
		if clientID != "" && reserved.ClientID != clientID {
			m.mu.Unlock()
			m.log.Warn("submit client mismatch", zap.String("task_id", taskID))
			return nil
		}
	}
	m.mu.Unlock()

	var workspaceID string
	dbWritten := false

	if m.store != nil {
		stored, err := m.store.GetTask(taskID)
		if err != nil {
			m.log.Error("durable store read failed, continuing with in-memory path", zap.String("task_id", taskID), zap.Error(err))
		} else if stored != nil {
			if !stored.Status.IsTerminal() {
				status, _ := resultData["status"].(string)
				newStatus := TaskFailed
				if status == "completed" {
					newStatus = TaskSucceeded
				}
				errMsg, _ := resultData["error"].(string)
				if err := m.store.UpdateTaskStatus(taskID, newStatus, resultData, errMsg, m.clock.Now()); err != nil {
					m.log.Error("durable store write failed, continuing with in-memory path", zap.String("task_id", taskID), zap.Error(err))
				} else {
					workspaceID = stored.WorkspaceID
					dbWritten = true
					m.log.Info("result persisted", zap.String("task_id", taskID), zap.String("status", string(newStatus)))
				}
			} else {
				m.mu.Lock()
				m.completed.add(taskID, m.clock.Now())
				m.mu.Unlock()
				m.log.Info("task already terminal in store, no-op", zap.String("task_id", taskID))
				return &SubmitResponse{Accepted: true, Duplicate: true}
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var resolvedFuture bool
	if inf, ok := m.inflight[taskID]; ok {
		delete(m.inflight, taskID)
		if inf.Future != nil {
			inf.Future.Set(resultToStruct(taskID, resultData))
			resolvedFuture = true
		}
		if workspaceID == "" {
			workspaceID = inf.WorkspaceID
		}
	}

	delete(m.reserved, taskID)

	for wsID, queue := range m.pending {
		for i, t := range queue {
			if t.TaskID == taskID {
				if workspaceID == "" {
					workspaceID = t.WorkspaceID
				}
				m.pending[wsID] = append(queue[:i], queue[i+1:]...)
				break
			}
		}
	}

	m.completed.add(taskID, m.clock.Now())
	m.pub.Publish("task.completed", map[string]any{"execution_id": taskID, "transport": "rest_poll"})

	if dbWritten || resolvedFuture {
		return &SubmitResponse{Accepted: true, WorkspaceID: workspaceID, TaskID: taskID}
	}

	m.log.Warn("result for unknown execution", zap.String("task_id", taskID))
	return nil
}

func resultToStruct(taskID string, data map[string]any) Result {
	status, _ := data["status"].(string)
	if status == "" {
		status = "completed"
	}
	output, _ := data["output"].(string)
	errMsg, _ := data["error"].(string)
	duration, _ := data["duration_seconds"].(float64)
	metadata, _ := data["metadata"].(map[string]any)

	return Result{
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
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
