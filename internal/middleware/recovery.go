package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
	"callhub-backend/pkg/response"
)

// Recovery recovers from panics and returns 500 error. Nothing is written
// once the response has started, which includes hijacked WebSocket
// connections.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				endpoint := c.FullPath()
				if endpoint == "" {
					endpoint = "unmatched"
				}
				metrics.PanicsRecoveredTotal.WithLabelValues(endpoint).Inc()
				logger.FromContext(c.Request.Context()).Error("Panic recovered",
					zap.Any("panic", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"))

				if !c.Writer.Written() {
					response.InternalError(c, "Internal server error")
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
