package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestInMemoryRateLimiter_Window(t *testing.T) {
	limiter := NewInMemoryRateLimiter()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := limiter.Check("k", 3, time.Minute)
		assert.True(t, allowed)
		assert.Equal(t, 2-i, remaining)
	}
	allowed, remaining, resetAt := limiter.Check("k", 3, time.Minute)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.Equal(t, clock.Add(time.Minute).Unix(), resetAt)

	// Other keys have their own budget
	allowed, _, _ = limiter.Check("other", 3, time.Minute)
	assert.True(t, allowed)

	clock = clock.Add(time.Minute)
	allowed, remaining, _ = limiter.Check("k", 3, time.Minute)
	assert.True(t, allowed)
	assert.Equal(t, 2, remaining)
}

func TestRateLimiter_FallsBackWithoutRedis(t *testing.T) {
	limiter := NewRateLimiter(nil)
	router, _ := principalRouter(limiter.Middleware(RateLimit{Name: "redeem", Requests: 2, Window: time.Minute}))

	assert.Equal(t, http.StatusNoContent, serve(router, nil))
	assert.Equal(t, http.StatusNoContent, serve(router, nil))
	assert.Equal(t, http.StatusTooManyRequests, serve(router, nil))
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var deadline time.Time
	router.GET("/", TimeoutMiddleware(time.Second), func(c *gin.Context) {
		deadline, _ = c.Request.Context().Deadline()
		c.Status(http.StatusNoContent)
	})

	start := time.Now()
	assert.Equal(t, http.StatusNoContent, serve(router, nil))
	assert.WithinDuration(t, start.Add(time.Second), deadline, 500*time.Millisecond)
}

func TestSaturated(t *testing.T) {
	assert.False(t, saturated(5, 10, 0.9))
	assert.True(t, saturated(9, 10, 0.9))
	assert.False(t, saturated(0, 0, 0.9))
}
