package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:8080",
}

// CORSMiddleware allows the default local origins plus extra. Guests call from
// browsers too, so their credential headers are allowed.
func CORSMiddleware(extra []string) gin.HandlerFunc {
	allowedOrigins := make(map[string]bool, len(defaultOrigins)+len(extra))
	for _, origin := range append(defaultOrigins, extra...) {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins[origin] = true
		}
	}

	allowHeaders := strings.Join([]string{"Content-Type", "Authorization", HeaderGuestToken, HeaderGroupCallID}, ", ")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Only set CORS headers for allowed origins
		if allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		} else if origin != "" {
			c.AbortWithStatus(403)
			return
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AllowedOrigin reports whether a WebSocket origin passes the same policy
func AllowedOrigin(origin string, extra []string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range append(defaultOrigins, extra...) {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	return false
}
