package dispatchapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/agentdispatch/internal/common/logger"
	"github.com/kandev/agentdispatch/internal/dispatch"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Agent runners connect from outside any browser origin; the real
		// access control is the token/HMAC handshake in dispatch.Auth.
		return true
	},
}

// AgentHandler upgrades and services agent streaming sessions (§6.1).
type AgentHandler struct {
	manager *dispatch.Manager
	log     *logger.Logger
}

// NewAgentHandler constructs the handler.
func NewAgentHandler(manager *dispatch.Manager, log *logger.Logger) *AgentHandler {
	return &AgentHandler{manager: manager, log: log.WithFields(zap.String("component", "agent_ws"))}
}

// HandleConnection upgrades the request and runs the session until the
// connection closes, applying the re-queue policy on exit (§4.11).
func (h *AgentHandler) HandleConnection(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	clientID := c.Query("client_id")
	surfaceType := c.DefaultQuery("surface_type", "gemini_cli")

	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	var session *dispatch.AgentSession
	transport := newWSConn(conn, h.log, func() {
		if session != nil {
			h.manager.Disconnect(session)
		}
	})

	session = h.manager.Connect(transport, workspaceID, clientID, surfaceType)

	if h.manager.Auth().Required() {
		challenge, err := h.manager.Auth().GenerateChallenge(session.ID)
		if err != nil {
			h.log.Error("failed to generate auth challenge", zap.Error(err))
			_ = conn.Close()
			return
		}
		_ = transport.Send(challenge)
	}

	go transport.WritePump()
	transport.ReadPump(func(frame map[string]any) {
		if resp := h.manager.HandleMessage(session, frame); resp != nil {
			_ = transport.Send(resp)
		}
	})
}
