package dispatch

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentdispatch/internal/common/logger"
)

// Config holds the broker's configurable constants, all named after the
// original implementation's class constants (§5).
type Config struct {
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	AuthTimeout       time.Duration
	MaxPendingPerWS   int
	CompletedMax      int
	DefaultLease      time.Duration
	AckExtend         time.Duration
	ProgressReset     time.Duration
	LeaseCap          time.Duration
	MaxAttempts       int
	DispatchTimeout   time.Duration
}

// DefaultConfig returns the constants named in §5 and §2.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ClientTimeout:     90 * time.Second,
		AuthTimeout:       10 * time.Second,
		MaxPendingPerWS:   100,
		CompletedMax:      1000,
		DefaultLease:      60 * time.Second,
		AckExtend:         270 * time.Second,
		ProgressReset:     120 * time.Second,
		LeaseCap:          1800 * time.Second,
		MaxAttempts:       3,
		DispatchTimeout:   120 * time.Second,
	}
}

// EventPublisher is the best-effort lifecycle event sink (task.dispatched,
// task.completed, task.requeued). Never blocking, never consulted for
// control flow — pure observability fan-out, consistent with the pending
// queue durability non-goal.
type EventPublisher interface {
	Publish(eventType string, data map[string]any)
}

// noopPublisher discards every event; used when no event bus is wired.
type noopPublisher struct{}

func (noopPublisher) Publish(string, map[string]any) {}

// Manager is the Agent Dispatch Manager: the single broker composing the
// connection registry (C3), bridge control registry (C4), pending queue
// (C5), inflight table (C6), lease manager (C7), completed set (C8), and
// auth verifier (C2) behind one coarse lock, following §5's "a single
// broker-wide mutex" option and the teacher's one-struct-one-mutex registry
// idiom (streaming.Hub, queue.TaskQueue).
type Manager struct {
	mu sync.Mutex

	cfg   Config
	clock Clock
	auth  *Auth
	store TaskStore
	pub   EventPublisher
	log   *logger.Logger

	// clients: workspace_id -> client_id -> session (C3)
	clients map[string]map[string]*AgentSession

	// bridges: bridge_id -> control (C4)
	bridges map[string]*BridgeControl

	// pending: workspace_id -> FIFO of tasks awaiting pickup (C5)
	pending map[string][]*PendingTask

	// wake: workspace_id -> channel closed (and replaced) on every enqueue,
	// so long-poll reservers can wait on it without busy-waiting (§9).
	wake map[string]chan struct{}

	// inflight: task_id -> live waiter (C6)
	inflight map[string]*InflightTask

	// reserved: task_id -> lease holder (C7)
	reserved map[string]*ReservedTask

	// completed: bounded FIFO of recently completed task ids (C8)
	completed *completedSet
}

// NewManager constructs a Manager. store and pub may be nil; a nil store
// disables the durable submit path (in-memory fast-path still works), and a
// nil pub disables lifecycle event publishing.
func NewManager(cfg Config, auth *Auth, store TaskStore, pub EventPublisher, log *logger.Logger) *Manager {
	if pub == nil {
		pub = noopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		cfg:       cfg,
		clock:     SystemClock,
		auth:      auth,
		store:     store,
		pub:       pub,
		log:       log,
		clients:   make(map[string]map[string]*AgentSession),
		bridges:   make(map[string]*BridgeControl),
		pending:   make(map[string][]*PendingTask),
		wake:      make(map[string]chan struct{}),
		inflight:  make(map[string]*InflightTask),
		reserved:  make(map[string]*ReservedTask),
		completed: newCompletedSet(cfg.CompletedMax),
	}
}

// Auth returns the broker's auth verifier, for external interface adapters
// that need to drive the challenge/response handshake (§6.1).
func (m *Manager) Auth() *Auth {
	return m.auth
}

// Connect accepts and registers a new agent connection (C3). If clientID is
// empty, a fresh one is generated. In dev mode (auth not required) the
// session is auto-authenticated; otherwise authentication happens later via
// the auth_response frame.
func (m *Manager) Connect(transport Transport, workspaceID, clientID, surfaceType string) *AgentSession {
	if clientID == "" {
		clientID = NewID()
	}
	now := m.clock.Now()
	session := &AgentSession{
		ID:            clientID,
		WorkspaceID:   workspaceID,
		SurfaceType:   surfaceType,
		Authenticated: !m.auth.Required(),
		LastHeartbeat: now,
		ConnectedAt:   now,
		Transport:     transport,
	}

	m.mu.Lock()
	if m.clients[workspaceID] == nil {
		m.clients[workspaceID] = make(map[string]*AgentSession)
	}
	m.clients[workspaceID][clientID] = session
	m.mu.Unlock()

	m.log.Info("agent connected",
		zap.String("client_id", clientID),
		zap.String("workspace_id", workspaceID),
		zap.String("surface_type", surfaceType),
		zap.Bool("authenticated", session.Authenticated),
	)
	return session
}

// Disconnect removes a session and applies the re-queue policy (C11, §4.11)
// to every InflightTask it owned.
func (m *Manager) Disconnect(session *AgentSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked(session)
}

func (m *Manager) disconnectLocked(session *AgentSession) {
	wsID, cid := session.WorkspaceID, session.ID

	if clients, ok := m.clients[wsID]; ok {
		delete(clients, cid)
		if len(clients) == 0 {
			delete(m.clients, wsID)
		}
	}

	var owned []string
	for taskID, inf := range m.inflight {
		if inf.ClientID == cid {
			owned = append(owned, taskID)
		}
	}

	for _, taskID := range owned {
		inf := m.inflight[taskID]

		if m.completed.contains(taskID) {
			delete(m.inflight, taskID)
			if inf.Future != nil {
				result := Result{ExecutionID: taskID, Status: "completed", Output: "Already completed before disconnect"}
				if m.store != nil {
					if stored, err := m.store.GetTask(taskID); err == nil && stored != nil && stored.Status.IsTerminal() {
						result = storedResult(taskID, stored)
					}
				}
				inf.Future.Set(result)
			}
			continue
		}

		if inf.Payload != nil {
			inf.ClientID = PendingClientID
			m.enqueuePendingLocked(&PendingTask{
				TaskID:      taskID,
				WorkspaceID: wsID,
				Payload:     inf.Payload,
				Attempts:    1,
				CreatedAt:   m.clock.Now(),
			})
			m.pub.Publish("task.requeued", map[string]any{"execution_id": taskID, "workspace_id": wsID})
		} else {
			delete(m.inflight, taskID)
			if inf.Future != nil {
				inf.Future.Set(Result{
					ExecutionID: taskID,
					Status:      "failed",
					Error:       "Client " + cid + " disconnected, no payload to re-queue",
				})
			}
		}
	}

	m.log.Info("agent disconnected", zap.String("client_id", cid), zap.String("workspace_id", wsID))
}

// HasConnections reports whether any authenticated session exists, scoped
// to workspaceID when non-empty.
func (m *Manager) HasConnections(workspaceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if workspaceID != "" {
		for _, c := range m.clients[workspaceID] {
			if c.Authenticated {
				return true
			}
		}
		return false
	}
	for _, clients := range m.clients {
		for _, c := range clients {
			if c.Authenticated {
				return true
			}
		}
	}
	return false
}

// GetConnectedWorkspaces returns workspace ids with at least one
// authenticated session.
func (m *Manager) GetConnectedWorkspaces() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for wsID, clients := range m.clients {
		for _, c := range clients {
			if c.Authenticated {
				out = append(out, wsID)
				break
			}
		}
	}
	return out
}

// GetClient returns the exact session if clientID is given and it is
// authenticated, else the authenticated session with the most recent
// heartbeat (C3's "best agent" rule, §4.3).
func (m *Manager) GetClient(workspaceID, clientID string) *AgentSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getClientLocked(workspaceID, clientID)
}

func (m *Manager) getClientLocked(workspaceID, clientID string) *AgentSession {
	clients := m.clients[workspaceID]
	if clientID != "" {
		c, ok := clients[clientID]
		if ok && c.Authenticated {
			return c
		}
		return nil
	}

	var best *AgentSession
	for _, c := range clients {
		if !c.Authenticated {
			continue
		}
		if best == nil || c.LastHeartbeat.After(best.LastHeartbeat) {
			best = c
		}
	}
	return best
}

// Heartbeat updates a session's last_heartbeat to now, used by ping frames
// and any other inbound frame that counts as liveness (§4.3).
func (m *Manager) Heartbeat(session *AgentSession) {
	m.mu.Lock()
	session.LastHeartbeat = m.clock.Now()
	m.mu.Unlock()
}

// SweepExpiredSessions disconnects every authenticated session whose
// last_heartbeat is older than ClientTimeout, and every unauthenticated
// session older than AuthTimeout. Intended to be called periodically (e.g.
// every HeartbeatInterval) by an optional background sweeper (§5); not
// required for correctness since reclaim elsewhere is lazy, but bounds how
// long a dead connection can hold inflight tasks hostage.
func (m *Manager) SweepExpiredSessions() {
	now := m.clock.Now()

	m.mu.Lock()
	var stale []*AgentSession
	for _, clients := range m.clients {
		for _, c := range clients {
			timeout := m.cfg.ClientTimeout
			if !c.Authenticated {
				timeout = m.cfg.AuthTimeout
			}
			if now.Sub(c.LastHeartbeat) > timeout {
				stale = append(stale, c)
			}
		}
	}
	m.mu.Unlock()

	for _, c := range stale {
		m.Disconnect(c)
	}
}

func storedResult(taskID string, stored *StoredTask) Result {
	r := Result{ExecutionID: taskID}
	if stored.Status == TaskSucceeded {
		r.Status = "completed"
	} else {
		r.Status = "failed"
	}
	if out, ok := stored.Result["output"].(string); ok {
		r.Output = out
	}
	r.Error = stored.Error
	return r
}
