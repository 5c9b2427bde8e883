package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
)

// ConversationRepository is the conversations view of a Store
type ConversationRepository struct {
	s *Store
}

// Create stores a conversation and its visible members. Conversations are
// owned by the messaging service; tests use this to seed them.
func (r *ConversationRepository) Create(_ context.Context, conv *domain.Conversation, members ...uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.conversations[conv.ConversationID]; ok {
		return repository.ErrConflict
	}
	cp := *conv
	r.s.conversations[conv.ConversationID] = &cp
	for _, userID := range members {
		r.s.addMemberLocked(conv.ConversationID, userID, domain.ConversationRoleMember)
	}
	return nil
}

// SetHidden toggles the hidden flag of a membership
func (r *ConversationRepository) SetHidden(_ context.Context, conversationID, userID uuid.UUID, hidden bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.members[memberKey{conversationID, userID}]
	if !ok {
		return repository.ErrNotFound
	}
	m.Hidden = hidden
	return nil
}

// GetByID retrieves conversation by ID
func (r *ConversationRepository) GetByID(_ context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[conversationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

// IsMember checks for a visible membership row
func (r *ConversationRepository) IsMember(_ context.Context, conversationID, userID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.members[memberKey{conversationID, userID}]
	return ok && !m.Hidden, nil
}

// AddMember adds a user to a conversation, un-hiding an existing membership
func (r *ConversationRepository) AddMember(_ context.Context, conversationID, userID uuid.UUID, role string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.conversations[conversationID]; !ok {
		return repository.ErrNotFound
	}
	r.s.addMemberLocked(conversationID, userID, role)
	return nil
}

// GetMembers returns the ids of visible members
func (r *ConversationRepository) GetMembers(_ context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var members []*domain.ConversationParticipant
	for key, m := range r.s.members {
		if key.conversationID == conversationID && !m.Hidden {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func (s *Store) addMemberLocked(conversationID, userID uuid.UUID, role string) {
	key := memberKey{conversationID, userID}
	if m, ok := s.members[key]; ok {
		m.Hidden = false
		return
	}
	s.members[key] = &domain.ConversationParticipant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       s.now(),
	}
}
