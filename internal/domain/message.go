package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageTypeSystem marks server-authored timeline entries
const MessageTypeSystem = "system"

// SystemMessage is a server-authored message appended to a conversation timeline,
// such as "call ended, duration 3:12"
// Maps to Cassandra messages table
type SystemMessage struct {
	MessageID      uuid.UUID `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id" cql:"conversation_id"`
	Bucket         int       `json:"-" cql:"bucket"`
	Content        string    `json:"content" cql:"content"`
	CreatedAt      time.Time `json:"created_at" cql:"created_at"`
}

// CalculateBucket returns the monthly partition bucket for a timestamp (yyyymm)
func CalculateBucket(t time.Time) int {
	t = t.UTC()
	return t.Year()*100 + int(t.Month())
}
