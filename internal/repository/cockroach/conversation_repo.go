package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
)

// ConversationRepository reads conversation membership. Writes are limited
// to the memberships the call broker creates itself (promotion, join via link).
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new ConversationRepository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// GetByID retrieves conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, type, name, created_by, created_at
		FROM conversations
		WHERE conversation_id = $1
	`

	conv := &domain.Conversation{}
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(
		&conv.ConversationID,
		&conv.Type,
		&conv.Name,
		&conv.CreatedBy,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conv, nil
}

// IsMember checks for a visible membership row
func (r *ConversationRepository) IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2 AND hidden = false
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// AddMember adds a user to a conversation, un-hiding an existing membership
func (r *ConversationRepository) AddMember(ctx context.Context, conversationID, userID uuid.UUID, role string) error {
	if err := addMember(ctx, r.pool, conversationID, userID, role); err != nil {
		return translateError(err)
	}
	return nil
}

// GetMembers returns the ids of visible members
func (r *ConversationRepository) GetMembers(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1 AND hidden = false
		ORDER BY joined_at
	`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func createConversation(ctx context.Context, q querier, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (conversation_id, type, name, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := q.Exec(ctx, query, conv.ConversationID, conv.Type, conv.Name, conv.CreatedBy, conv.CreatedAt); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func addMember(ctx context.Context, q querier, conversationID, userID uuid.UUID, role string) error {
	query := `
		INSERT INTO conversation_participants (conversation_id, user_id, role, hidden, joined_at)
		VALUES ($1, $2, $3, false, now())
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET hidden = false
	`
	if _, err := q.Exec(ctx, query, conversationID, userID, role); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}
