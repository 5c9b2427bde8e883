package middleware

import (

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
	"callhub-backend/pkg/response"
)

// DefaultPoolUsageThreshold is the share of acquired connections above which requests are shed
const DefaultPoolUsageThreshold = 0.9

// PoolStatsSource exposes connection pool statistics
type PoolStatsSource interface {
	Stats() *pgxpool.Stat
}

// DBPoolLimiter sheds requests while the CockroachDB pool is saturated so
// that requests already holding connections can finish
type DBPoolLimiter struct {
	pool      PoolStatsSource
	metrics   *metrics.Metrics
	threshold float64
}

// NewDBPoolLimiter creates a new database pool limiter. A threshold outside
// (0, 1] uses DefaultPoolUsageThreshold.
func NewDBPoolLimiter(pool PoolStatsSource, m *metrics.Metrics, threshold float64) *DBPoolLimiter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultPoolUsageThreshold
	}
	return &DBPoolLimiter{pool: pool, metrics: m, threshold: threshold}
}

// Middleware returns a Gin middleware for database connection pool protection
func (dpl *DBPoolLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := dpl.pool.Stats()
		acquired, idle, maxConns := stats.AcquiredConns(), stats.IdleConns(), stats.MaxConns()
		if dpl.metrics != nil {
			dpl.metrics.SetDBConnections(int(acquired), int(idle))
		}

		if saturated(acquired, maxConns, dpl.threshold) {
			logger.Warn("Database connection pool saturated",
				zap.Int32("max_conns", maxConns),
				zap.Int32("acquired_conns", acquired))
			metrics.DBPoolShedTotal.Inc()

			response.FromError(c, apperrors.ServiceUnavailableError("Service temporarily unavailable"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// PoolUsage returns the current share of acquired connections
func (dpl *DBPoolLimiter) PoolUsage() float64 {
	stats := dpl.pool.Stats()
	return usage(stats.AcquiredConns(), stats.MaxConns())
}

func usage(acquired, maxConns int32) float64 {
	if maxConns <= 0 {
		return 0
	}
	return float64(acquired) / float64(maxConns)
}

func saturated(acquired, maxConns int32, threshold float64) bool {
	return maxConns > 0 && usage(acquired, maxConns) >= threshold
}
