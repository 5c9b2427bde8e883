package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

// DefaultRequestTimeout bounds a request when no timeout is configured
const DefaultRequestTimeout = 15 * time.Second

// TimeoutMiddleware gives every request a deadline. Repository calls take the
// request context, so a request past its deadline fails with a context error
// which the handler reports through the normal error path.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		startTime := time.Now()
		c.Next()

		if ctx.Err() == context.DeadlineExceeded {
			endpoint := c.FullPath()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			metrics.RequestTimeoutsTotal.WithLabelValues(c.Request.Method, endpoint).Inc()
			logger.FromContext(ctx).Warn("Request timed out",
				zap.Duration("timeout", timeout),
				zap.Duration("duration", time.Since(startTime)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path))
		}
	}
}
