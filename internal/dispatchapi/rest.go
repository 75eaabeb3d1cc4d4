package dispatchapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/kandev/agentdispatch/internal/common/errors"
	"github.com/kandev/agentdispatch/internal/common/logger"
	"github.com/kandev/agentdispatch/internal/dispatch"
)

// RESTHandler implements the poll-based REST surface (§6.3).
type RESTHandler struct {
	manager *dispatch.Manager
	log     *logger.Logger
}

// NewRESTHandler constructs the handler.
func NewRESTHandler(manager *dispatch.Manager, log *logger.Logger) *RESTHandler {
	return &RESTHandler{manager: manager, log: log.WithFields(zap.String("component", "dispatch_rest"))}
}

// RegisterRoutes attaches the REST surface to group.
func (h *RESTHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/reserve", h.Reserve)
	group.POST("/ack", h.Ack)
	group.POST("/progress", h.Progress)
	group.GET("/inflight", h.ListInflight)
	group.POST("/submit", h.Submit)
	group.GET("/status", h.Status)
}

// maxWaitSeconds bounds a client-requested long-poll wait so a single
// reserve call can never hold the connection open indefinitely.
const maxWaitSeconds = 30.0

type reserveRequest struct {
	WorkspaceID  string  `json:"workspace_id" binding:"required"`
	ClientID     string  `json:"client_id" binding:"required"`
	SurfaceType  string  `json:"surface_type"`
	Limit        int     `json:"limit"`
	LeaseSeconds float64 `json:"lease_seconds"`
	WaitSeconds  float64 `json:"wait_seconds"`
}

// Reserve handles POST /reserve. When wait_seconds is given and no task
// matches on the first scan, the request long-polls (§5) until a task is
// reserved or wait_seconds (capped at maxWaitSeconds) elapses, whichever
// comes first.
func (h *RESTHandler) Reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apierrors.ValidationError("body", err.Error()))
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}
	var lease time.Duration
	if req.LeaseSeconds > 0 {
		lease = time.Duration(req.LeaseSeconds * float64(time.Second))
	}

	var results []dispatch.ReserveResult
	if req.WaitSeconds > 0 {
		wait := req.WaitSeconds
		if wait > maxWaitSeconds {
			wait = maxWaitSeconds
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(wait*float64(time.Second)))
		defer cancel()
		results = h.manager.ReserveWait(ctx, req.WorkspaceID, req.ClientID, req.SurfaceType, req.Limit, lease)
	} else {
		results = h.manager.Reserve(req.WorkspaceID, req.ClientID, req.SurfaceType, req.Limit, lease)
	}

	payloads := make([]map[string]any, 0, len(results))
	for _, r := range results {
		payloads = append(payloads, r.Payload)
	}
	c.JSON(http.StatusOK, payloads)
}

type ackRequest struct {
	ExecutionID string `json:"execution_id" binding:"required"`
	LeaseID     string `json:"lease_id" binding:"required"`
	ClientID    string `json:"client_id"`
}

// Ack handles POST /ack.
func (h *RESTHandler) Ack(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apierrors.ValidationError("body", err.Error()))
		return
	}

	resp := h.manager.Ack(req.ExecutionID, req.LeaseID, req.ClientID)
	if resp == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_id":     resp.ExecutionID,
		"lease_id":         resp.LeaseID,
		"lease_expires_at": resp.LeaseExpiresAt,
		"status":           resp.Status,
	})
}

type progressRequest struct {
	ExecutionID string  `json:"execution_id" binding:"required"`
	LeaseID     string  `json:"lease_id" binding:"required"`
	ProgressPct float64 `json:"progress_pct"`
	Message     string  `json:"message"`
	ClientID    string  `json:"client_id"`
}

// Progress handles POST /progress.
func (h *RESTHandler) Progress(c *gin.Context) {
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apierrors.ValidationError("body", err.Error()))
		return
	}

	resp := h.manager.Progress(req.ExecutionID, req.LeaseID, req.ClientID)
	if resp == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	body := gin.H{
		"execution_id": resp.ExecutionID,
		"status":       resp.Status,
	}
	if resp.Status == dispatch.ProgressOK {
		body["lease_expires_at"] = resp.LeaseExpiresAt
	} else {
		body["cumulative_lease"] = resp.CumulativeLease.Seconds()
	}
	c.JSON(http.StatusOK, body)
}

// ListInflight handles GET /inflight?client_id=....
func (h *RESTHandler) ListInflight(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		respondErr(c, apierrors.ValidationError("client_id", "required"))
		return
	}

	entries := h.manager.ListInflight(clientID)
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := cloneForResponse(e.Payload)
		item["lease_id"] = e.LeaseID
		item["acked"] = e.Acked
		item["lease_expires_at"] = e.LeaseExpiresAt
		out = append(out, item)
	}
	c.JSON(http.StatusOK, out)
}

type submitRequest struct {
	ExecutionID string         `json:"execution_id" binding:"required"`
	ResultData  map[string]any `json:"result_data" binding:"required"`
	ClientID    string         `json:"client_id"`
	LeaseID     string         `json:"lease_id"`
}

// Submit handles POST /submit.
func (h *RESTHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apierrors.ValidationError("body", err.Error()))
		return
	}

	resp := h.manager.Submit(req.ExecutionID, req.ResultData, req.ClientID, req.LeaseID)
	if resp == nil {
		c.JSON(http.StatusNotFound, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accepted":     resp.Accepted,
		"duplicate":    resp.Duplicate,
		"workspace_id": resp.WorkspaceID,
		"task_id":      resp.TaskID,
	})
}

// Status handles GET /status (§4.12).
func (h *RESTHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Status())
}

func respondErr(c *gin.Context, appErr *apierrors.AppError) {
	c.JSON(appErr.HTTPStatus, appErr)
}

func cloneForResponse(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+3)
	for k, v := range m {
		out[k] = v
	}
	return out
}
