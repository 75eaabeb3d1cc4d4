package dispatch

import "go.uber.org/zap"

// RegisterBridge registers a bridge control channel (C4).
func (m *Manager) RegisterBridge(transport Transport, bridgeID, ownerUserID string) *BridgeControl {
	bc := &BridgeControl{BridgeID: bridgeID, OwnerUserID: ownerUserID, Transport: transport}

	m.mu.Lock()
	m.bridges[bridgeID] = bc
	m.mu.Unlock()

	m.log.Info("bridge registered", zap.String("bridge_id", bridgeID), zap.String("owner_user_id", ownerUserID))
	return bc
}

// UnregisterBridge removes a bridge control channel.
func (m *Manager) UnregisterBridge(bridgeID string) {
	m.mu.Lock()
	delete(m.bridges, bridgeID)
	m.mu.Unlock()
}

// BroadcastAssign sends {type:"assign", workspace_id} to every registered
// bridge, skipping bridges whose owner is set and differs from ownerUserID
// when ownerUserID is non-empty. Returns the count of successful sends.
// Bridges whose send fails are unregistered and not counted (§4.4).
func (m *Manager) BroadcastAssign(workspaceID, ownerUserID string) int {
	return m.broadcast("assign", workspaceID, ownerUserID)
}

// BroadcastUnassign is the unassign analogue of BroadcastAssign.
func (m *Manager) BroadcastUnassign(workspaceID, ownerUserID string) int {
	return m.broadcast("unassign", workspaceID, ownerUserID)
}

func (m *Manager) broadcast(eventType, workspaceID, ownerUserID string) int {
	m.mu.Lock()
	bridges := make([]*BridgeControl, 0, len(m.bridges))
	for _, bc := range m.bridges {
		bridges = append(bridges, bc)
	}
	m.mu.Unlock()

	frame := map[string]any{"type": eventType, "workspace_id": workspaceID}
	sent := 0
	var failed []string

	for _, bc := range bridges {
		if ownerUserID != "" && bc.OwnerUserID != "" && bc.OwnerUserID != ownerUserID {
			continue
		}
		if err := bc.Transport.Send(frame); err != nil {
			failed = append(failed, bc.BridgeID)
			m.log.Warn("bridge control send failed, unregistering",
				zap.String("bridge_id", bc.BridgeID), zap.Error(err))
			continue
		}
		sent++
	}

	if len(failed) > 0 {
		m.mu.Lock()
		for _, id := range failed {
			delete(m.bridges, id)
		}
		m.mu.Unlock()
	}

	return sent
}
