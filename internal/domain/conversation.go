package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation types
const (
	ConversationTypeDirect  = "direct"
	ConversationTypeGroup   = "group"
	ConversationTypeChannel = "channel"
)

// Conversation roles
const (
	ConversationRoleAdmin  = "admin"
	ConversationRoleMember = "member"
)

// Conversation represents conversation metadata
// Maps to CockroachDB conversations table
type Conversation struct {
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	Type           string    `json:"type" db:"type"`           // direct, group, channel
	Name           *string   `json:"name,omitempty" db:"name"` // For group chats
	CreatedBy      uuid.UUID `json:"created_by" db:"created_by"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// SupportsGroupCalls reports whether a group call may be started in the conversation.
// Direct conversations use one-to-one calls and get a new group conversation on promotion.
func (c *Conversation) SupportsGroupCalls() bool {
	return c.Type == ConversationTypeGroup
}

// ConversationParticipant represents a user in a conversation
// Maps to CockroachDB conversation_participants table
type ConversationParticipant struct {
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	Role           string    `json:"role" db:"role"` // admin, member
	Hidden         bool      `json:"hidden" db:"hidden"`
	JoinedAt       time.Time `json:"joined_at" db:"joined_at"`
}
