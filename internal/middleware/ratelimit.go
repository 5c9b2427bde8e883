package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callhub-backend/internal/database"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
	"callhub-backend/pkg/response"
)

// RateLimit is a fixed-window request budget
type RateLimit struct {
	Name     string // metric label and key prefix
	Requests int
	Window   time.Duration
}

// RateLimiter implements Redis-based fixed-window rate limiting. While Redis
// is degraded it falls back to per-instance in-memory counters.
type RateLimiter struct {
	redis    *database.RedisClient
	inMemory *InMemoryRateLimiter
}

// NewRateLimiter creates a new rate limiter. redisClient may be nil, in
// which case only the in-memory limiter is used.
func NewRateLimiter(redisClient *database.RedisClient) *RateLimiter {
	return &RateLimiter{
		redis:    redisClient,
		inMemory: NewInMemoryRateLimiter(),
	}
}

// Middleware returns a Gin middleware enforcing limit per principal, or per
// client IP for anonymous requests
func (rl *RateLimiter) Middleware(limit RateLimit) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := rateLimitIdentifier(c)
		key := fmt.Sprintf("ratelimit:%s:%s", limit.Name, identifier)

		backend := "redis"
		allowed, remaining, resetAt, err := rl.checkRedis(c.Request.Context(), key, limit)
		if err != nil {
			// Redis unavailable: count locally
			logger.Debug("Using in-memory rate limiting",
				zap.String("limit", limit.Name),
				zap.Error(err))
			backend = "memory"
			allowed, remaining, resetAt = rl.inMemory.Check(key, limit.Requests, limit.Window)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			metrics.RateLimitedTotal.WithLabelValues(limit.Name, backend).Inc()
			c.Header("Retry-After", strconv.FormatInt(max(resetAt-time.Now().Unix(), 1), 10))
			response.FromError(c, apperrors.RateLimitExceededError())
			c.Abort()
			return
		}

		c.Next()
	}
}

// checkRedis counts the request in the current window. INCR and the
// first-write expiry run in one transaction so the window cannot lose its TTL.
func (rl *RateLimiter) checkRedis(ctx context.Context, key string, limit RateLimit) (bool, int, int64, error) {
	if rl.redis == nil {
		return false, 0, 0, database.ErrRedisDegraded
	}
	if rl.redis.IsDegraded() {
		return false, 0, 0, database.ErrRedisDegraded
	}

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rl.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, limit.Window)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to count request: %w", err)
	}

	count := int(incr.Val())
	resetAt := time.Now().Add(ttl.Val()).Unix()
	return count <= limit.Requests, max(limit.Requests-count, 0), resetAt, nil
}

// rateLimitIdentifier keys registered users by id, guests by their guest
// token and everyone else by client IP
func rateLimitIdentifier(c *gin.Context) string {
	principal := GetPrincipal(c)
	if userID, ok := principal.UserID(); ok {
		return "user:" + userID.String()
	}
	if guestToken, _, ok := principal.GuestCredentials(); ok {
		return "guest:" + guestToken
	}
	return "ip:" + c.ClientIP()
}

// InMemoryRateLimiter provides in-memory rate limiting as fallback when Redis is degraded
type InMemoryRateLimiter struct {
	mu     sync.Mutex
	limits map[string]*windowCount
	now    func() time.Time
}

type windowCount struct {
	count   int
	resetAt time.Time
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		limits: make(map[string]*windowCount),
		now:    time.Now,
	}
}

// Check counts a request for key and reports whether it fits in the window
func (im *InMemoryRateLimiter) Check(key string, requests int, window time.Duration) (bool, int, int64) {
	im.mu.Lock()
	defer im.mu.Unlock()

	now := im.now()
	w, ok := im.limits[key]
	if !ok || !now.Before(w.resetAt) {
		w = &windowCount{resetAt: now.Add(window)}
		im.limits[key] = w
		im.evictExpiredLocked(now)
	}
	w.count++

	return w.count <= requests, max(requests-w.count, 0), w.resetAt.Unix()
}

// evictExpiredLocked drops finished windows so the map does not grow without bound
func (im *InMemoryRateLimiter) evictExpiredLocked(now time.Time) {
	for key, w := range im.limits {
		if !now.Before(w.resetAt) {
			delete(im.limits, key)
		}
	}
}
