package dispatch

// ClientStatus is a per-session summary line in a StatusSnapshot.
type ClientStatus struct {
	ClientID      string `json:"client_id"`
	SurfaceType   string `json:"surface_type"`
	Authenticated bool   `json:"authenticated"`
}

// WorkspaceStatus summarizes one workspace's connected clients and queue depth.
type WorkspaceStatus struct {
	WorkspaceID  string         `json:"workspace_id"`
	Clients      []ClientStatus `json:"clients"`
	PendingDepth int            `json:"pending_depth"`
}

// BridgeStatus is a per-bridge summary line in a StatusSnapshot.
type BridgeStatus struct {
	BridgeID    string `json:"bridge_id"`
	OwnerUserID string `json:"owner_user_id,omitempty"`
}

// StatusSnapshot is the full diagnostics view (C12, §4.12). Building it
// acquires the broker lock exactly once; it never blocks on I/O.
type StatusSnapshot struct {
	ConnectedWorkspaces  int               `json:"connected_workspaces"`
	TotalClients         int               `json:"total_clients"`
	AuthenticatedClients int               `json:"authenticated_clients"`
	BridgeControls       int               `json:"bridge_controls"`
	InflightTasks        int               `json:"inflight_tasks"`
	PendingTasks         int               `json:"pending_tasks"`
	Workspaces           []WorkspaceStatus `json:"workspaces"`
	Bridges              []BridgeStatus    `json:"bridges"`
}

// Status returns a point-in-time snapshot of the broker's internal state.
func (m *Manager) Status() StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := StatusSnapshot{
		BridgeControls: len(m.bridges),
		InflightTasks:  len(m.inflight),
	}

	for wsID, clients := range m.clients {
		ws := WorkspaceStatus{WorkspaceID: wsID, PendingDepth: len(m.pending[wsID])}
		authed := false
		for _, c := range clients {
			ws.Clients = append(ws.Clients, ClientStatus{
				ClientID:      c.ID,
				SurfaceType:   c.SurfaceType,
				Authenticated: c.Authenticated,
			})
			snap.TotalClients++
			if c.Authenticated {
				snap.AuthenticatedClients++
				authed = true
			}
		}
		if authed {
			snap.ConnectedWorkspaces++
		}
		snap.Workspaces = append(snap.Workspaces, ws)
	}

	for wsID, queue := range m.pending {
		if _, seen := m.clients[wsID]; seen {
			continue
		}
		snap.Workspaces = append(snap.Workspaces, WorkspaceStatus{WorkspaceID: wsID, PendingDepth: len(queue)})
	}

	for _, queue := range m.pending {
		snap.PendingTasks += len(queue)
	}

	for _, bc := range m.bridges {
		snap.Bridges = append(snap.Bridges, BridgeStatus{BridgeID: bc.BridgeID, OwnerUserID: bc.OwnerUserID})
	}

	return snap
}
