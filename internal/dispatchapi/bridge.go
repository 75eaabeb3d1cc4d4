package dispatchapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agentdispatch/internal/common/logger"
	"github.com/kandev/agentdispatch/internal/dispatch"
)

// BridgeHandler upgrades and services the bridge control channel (§6.2): a
// connection that only ever receives assign/unassign frames, so its read
// side exists solely to detect disconnect.
type BridgeHandler struct {
	manager *dispatch.Manager
	log     *logger.Logger
}

// NewBridgeHandler constructs the handler.
func NewBridgeHandler(manager *dispatch.Manager, log *logger.Logger) *BridgeHandler {
	return &BridgeHandler{manager: manager, log: log.WithFields(zap.String("component", "bridge_ws"))}
}

// HandleConnection upgrades the request and keeps the bridge registered
// until the connection closes or a send to it fails.
func (h *BridgeHandler) HandleConnection(c *gin.Context) {
	bridgeID := c.Query("bridge_id")
	ownerUserID := c.Query("owner_user_id")

	if bridgeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bridge_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("failed to upgrade bridge connection", zap.Error(err))
		return
	}

	transport := newWSConn(conn, h.log, func() {
		h.manager.UnregisterBridge(bridgeID)
	})
	h.manager.RegisterBridge(transport, bridgeID, ownerUserID)

	go transport.WritePump()
	// Bridges send no application frames; ReadPump's only job here is to
	// detect disconnect and drive the unregister via onDone.
	transport.ReadPump(func(map[string]any) {})
}
