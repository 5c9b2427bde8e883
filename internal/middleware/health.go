package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency. A failing critical check makes the
// service unhealthy; any other failure only marks it degraded.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// HealthHandler reports the service status and the result of every check
func HealthHandler(serviceName string, checks ...HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status, code := "healthy", http.StatusOK
		results := make(gin.H, len(checks))
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				results[check.Name] = err.Error()
				if check.Critical {
					status, code = "unhealthy", http.StatusServiceUnavailable
				} else if status == "healthy" {
					status = "degraded"
				}
				continue
			}
			results[check.Name] = "ok"
		}

		c.JSON(code, gin.H{
			"status":  status,
			"service": serviceName,
			"checks":  results,
			"time":    time.Now().UTC(),
		})
	}
}
