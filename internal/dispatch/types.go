// Package dispatch implements the Agent Dispatch Manager: a broker that
// multiplexes short-running, per-workspace tasks between an orchestration
// backend and external agent runners connected either via a persistent
// streaming session or short-lived REST polling.
package dispatch

import "time"

// Transport is the uniform capability the broker needs from either an
// agent's streaming session or a bridge's control channel: push a frame,
// and report a terminal send error. WebSocket and any future transport
// implement this directly; the broker never type-switches on transport kind.
type Transport interface {
	// Send delivers a frame to the remote end. A non-nil error is always
	// treated as terminal: the caller disconnects the owning session/bridge.
	Send(frame any) error
}

// AgentSession is a connected, possibly-authenticated agent runner (C3).
type AgentSession struct {
	ID            string
	WorkspaceID   string
	SurfaceType   string
	Authenticated bool
	LastHeartbeat time.Time
	ConnectedAt   time.Time
	Transport     Transport
}

// BridgeControl is a connected out-of-band bridge process (C4).
type BridgeControl struct {
	BridgeID    string
	OwnerUserID string
	Transport   Transport
}

// PendingTask is a task awaiting pickup in a per-workspace queue (C5).
type PendingTask struct {
	TaskID         string
	WorkspaceID    string
	Payload        map[string]any
	TargetClientID string
	Attempts       int
	CreatedAt      time.Time
}

// AgentID returns the payload's "agent_id" field when present, used as the
// authoritative surface_type filter at reserve time (per the resolved open
// question: authoritative only when present and non-empty).
func (p *PendingTask) AgentID() string {
	if p == nil || p.Payload == nil {
		return ""
	}
	v, _ := p.Payload["agent_id"].(string)
	return v
}

// InflightTask tracks a task with a live waiting caller (C6).
type InflightTask struct {
	TaskID       string
	WorkspaceID  string
	ClientID     string // "pending" sentinel while queued/reserved
	Payload      map[string]any
	Future       *ResultFuture
	Acked        bool
	DispatchedAt time.Time
}

// PendingClientID is the sentinel client_id used for an InflightTask whose
// owning agent is not (yet, or no longer) a connected session.
const PendingClientID = "pending"

// ReservedTask is a PendingTask currently held under a lease by a polling
// client (C7).
type ReservedTask struct {
	Task            PendingTask
	ClientID        string
	LeaseID         string
	LeaseDeadline   time.Time
	CumulativeLease time.Duration
	Acked           bool
}

// Expired reports whether the reservation's lease has elapsed as of now.
func (r *ReservedTask) Expired(now time.Time) bool {
	return !now.Before(r.LeaseDeadline)
}

// ResetLease extends the lease to now+d, adding d to the cumulative total.
// Returns false (without mutating) if doing so would exceed the cap.
func (r *ReservedTask) ResetLease(now time.Time, d, cap time.Duration) bool {
	if r.CumulativeLease+d > cap {
		return false
	}
	r.LeaseDeadline = now.Add(d)
	r.CumulativeLease += d
	return true
}

// Result is the normalized outcome of a task, as returned to a
// dispatch_and_wait caller or a REST submit/status response.
type Result struct {
	ExecutionID     string         `json:"execution_id"`
	Status          string         `json:"status"`
	Output          string         `json:"output,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	ToolCalls       any            `json:"tool_calls,omitempty"`
	FilesModified   any            `json:"files_modified,omitempty"`
	FilesCreated    any            `json:"files_created,omitempty"`
	Error           string         `json:"error,omitempty"`
	Governance      any            `json:"governance,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// TaskStatus mirrors the external Tasks Store's status enum (§6.4).
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskSucceeded TaskStatus = "SUCCEEDED"
	TaskFailed    TaskStatus = "FAILED"
)

// StoredTask is the narrow view of a task the Tasks Store contract exposes.
type StoredTask struct {
	TaskID      string
	WorkspaceID string
	Status      TaskStatus
	Result      map[string]any
	Error       string
}

// TaskStore is the narrow external collaborator contract (§6.4). The broker
// never revives a terminal task; it only reads current status and, while
// non-terminal, writes the terminal outcome.
type TaskStore interface {
	GetTask(taskID string) (*StoredTask, error)
	UpdateTaskStatus(taskID string, status TaskStatus, result map[string]any, errMsg string, completedAt time.Time) error
}

// IsTerminal reports whether s is a terminal task status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}
