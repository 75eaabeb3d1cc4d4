package dispatchapi

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/agentdispatch/internal/common/logger"
	"github.com/kandev/agentdispatch/internal/dispatch"
)

// SetupRoutes registers the agent stream, bridge control, and REST poll
// surfaces on group, following the teacher's api.SetupRoutes convention.
func SetupRoutes(group *gin.RouterGroup, manager *dispatch.Manager, log *logger.Logger) {
	agentHandler := NewAgentHandler(manager, log)
	bridgeHandler := NewBridgeHandler(manager, log)
	restHandler := NewRESTHandler(manager, log)

	group.GET("/ws/agent", agentHandler.HandleConnection)
	group.GET("/ws/bridge", bridgeHandler.HandleConnection)

	restHandler.RegisterRoutes(group)
}
