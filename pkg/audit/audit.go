// Package audit keeps a trail of join link activity: who issued, used and
// revoked links, and which guests were admitted through them.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callhub-backend/pkg/constants"
	"callhub-backend/pkg/logger"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	EventLinkIssue         AuditEventType = "link_issue"
	EventLinkRevoke        AuditEventType = "link_revoke"
	EventLinkJoin          AuditEventType = "link_join"
	EventGuestRedeem       AuditEventType = "guest_redeem"
	EventGuestTokenRefresh AuditEventType = "guest_token_refresh"
)

// AuditEvent represents an audit log entry
type AuditEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	EventType AuditEventType `json:"event_type"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	GuestID   *uuid.UUID     `json:"guest_id,omitempty"`
	Resource  string         `json:"resource,omitempty"` // e.g. group_call:<id>
	Success   bool           `json:"success"`
	ErrorCode string         `json:"error_code,omitempty"`
	Details   string         `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store is an append-only list per key
type Store interface {
	Append(ctx context.Context, key string, value []byte, retention time.Duration) error
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// AuditLogger handles audit logging
type AuditLogger struct {
	store     Store
	retention time.Duration
	now       func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(store Store) *AuditLogger {
	return &AuditLogger{
		store:     store,
		retention: constants.AuditLogRetention,
		now:       time.Now,
	}
}

// Log stores an audit event in the list of its day
func (al *AuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	event.Timestamp = al.now().UTC()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if err := al.store.Append(ctx, dayKey(event.Timestamp), eventJSON, al.retention); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}
	return nil
}

// Record logs event and only reports failures to the application log.
// Audit storage must never fail the operation being audited.
func (al *AuditLogger) Record(ctx context.Context, event *AuditEvent) {
	if err := al.Log(ctx, event); err != nil {
		logger.FromContext(ctx).Warn("Failed to record audit event",
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
	}
}

// GetEventsByDate returns the events of one UTC day, newest first
func (al *AuditLogger) GetEventsByDate(ctx context.Context, day time.Time, limit, offset int) ([]*AuditEvent, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	members, err := al.store.Range(ctx, dayKey(day.UTC()), int64(offset), int64(offset+limit-1))
	if err != nil {
		return nil, fmt.Errorf("failed to read audit events: %w", err)
	}

	events := make([]*AuditEvent, 0, len(members))
	for _, member := range members {
		var event AuditEvent
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			logger.Warn("Skipping malformed audit event", zap.Error(err))
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

func dayKey(t time.Time) string {
	return "audit:events:" + t.Format("2006-01-02")
}

// RedisStore keeps audit lists in Redis
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a store on client
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Append pushes value to the head of key and refreshes its retention
func (s *RedisStore) Append(ctx context.Context, key string, value []byte, retention time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.Expire(ctx, key, retention)
		return nil
	})
	return err
}

// Range returns the list items between start and stop, inclusive
func (s *RedisStore) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}
