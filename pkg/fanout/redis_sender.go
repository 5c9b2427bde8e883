package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Publisher publishes a message on a pub/sub channel
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisSender publishes events on Redis channels the fanout service subscribes to
type RedisSender struct {
	publisher Publisher
}

// NewRedisSender creates a sender publishing through p
func NewRedisSender(p Publisher) *RedisSender {
	return &RedisSender{publisher: p}
}

func (s *RedisSender) Name() string { return "redis" }

// Send publishes the event on its target channel
func (s *RedisSender) Send(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := s.publisher.Publish(ctx, Channel(event), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Channel returns the pub/sub channel an event is published on
func Channel(event *Event) string {
	switch {
	case event.UserID != nil:
		return UserChannel(*event.UserID)
	case event.GuestID != nil:
		return GuestChannel(*event.GuestID)
	default:
		return ConversationChannel(event.ConversationID)
	}
}

// ConversationChannel is the channel carrying broadcasts to a conversation
func ConversationChannel(conversationID uuid.UUID) string {
	return fmt.Sprintf("fanout:conversation:%s", conversationID)
}

// UserChannel is the channel carrying events addressed to one user
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("fanout:user:%s", userID)
}

// GuestChannel is the channel carrying events addressed to one guest
func GuestChannel(guestID uuid.UUID) string {
	return fmt.Sprintf("fanout:guest:%s", guestID)
}
