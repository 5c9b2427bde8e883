package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"callhub-backend/internal/domain"
)

// SystemMessageRepository writes server-authored entries into the shared
// messages table, using the same monthly bucketing as chat messages
type SystemMessageRepository struct {
	session *gocql.Session
}

// NewSystemMessageRepository creates a new SystemMessageRepository
func NewSystemMessageRepository(session *gocql.Session) *SystemMessageRepository {
	return &SystemMessageRepository{session: session}
}

// Insert saves a system message. Bucket and MessageID are filled in when unset.
func (r *SystemMessageRepository) Insert(ctx context.Context, message *domain.SystemMessage) error {
	if message.Bucket == 0 {
		message.Bucket = domain.CalculateBucket(message.CreatedAt)
	}
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO messages (
			conversation_id, bucket, message_id, sender_id, content,
			is_encrypted, message_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		gocql.UUID(message.ConversationID),
		message.Bucket,
		gocql.UUID(message.MessageID),
		gocql.UUID(uuid.Nil),
		message.Content,
		false,
		domain.MessageTypeSystem,
		message.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to save system message: %w", err)
	}

	return nil
}
