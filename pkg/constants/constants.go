// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 30 * time.Second

	// WebSocketPongWait is how long a socket may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait bounds a single WebSocket write
	WebSocketWriteWait = 10 * time.Second

	// WebSocketMaxMessageSize caps an inbound signaling frame (SDP offers run a few KB)
	WebSocketMaxMessageSize = 64 * 1024

	// WebSocketMaxConversations caps the conversation channels one user socket follows
	WebSocketMaxConversations = 32

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute

	// TxMaxAttempts bounds retries of a transaction aborted by a serialization failure
	TxMaxAttempts = 3
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)

// Call-related constants
const (
	// FanoutTimeout bounds a single realtime notification
	FanoutTimeout = 1 * time.Second

	// SystemMessageTimeout bounds a single timeline write
	SystemMessageTimeout = 1 * time.Second

	// PromoteMaxAttempts is how many times a promotion is tried before Conflict surfaces
	PromoteMaxAttempts = 3
)

// Join link constants
const (
	// LinkTokenBytes is the entropy of link and guest tokens
	LinkTokenBytes = 32

	// LinkDefaultTTL is used when a link is issued without a TTL
	LinkDefaultTTL = 24 * time.Hour

	// LinkMinTTL and LinkMaxTTL clamp requested link lifetimes
	LinkMinTTL = 1 * time.Minute
	LinkMaxTTL = 7 * 24 * time.Hour

	// GuestSignalingTokenTTL is the lifetime of a guest's realtime credential
	GuestSignalingTokenTTL = 15 * time.Minute

	// LinkSweepInterval is the default period of the expired-link sweep
	LinkSweepInterval = 10 * time.Minute

	// AuditLogRetention is how long link access audit events are kept
	AuditLogRetention = 90 * 24 * time.Hour
)
