package httpmw

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agentdispatch/internal/common/errors"
	"github.com/kandev/agentdispatch/internal/common/logger"
)

// Recovery converts a panic in a downstream handler into a 500 AppError
// response instead of crashing the process.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				appErr := errors.InternalError("internal server error", nil)
				c.AbortWithStatusJSON(http.StatusInternalServerError, appErr)
			}
		}()
		c.Next()
	}
}
