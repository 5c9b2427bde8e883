package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
)

// GroupCallRepository is the group calls view of a Store
type GroupCallRepository struct {
	s *Store
}

func (s *Store) activeGroupCallLocked(groupCallID uuid.UUID) (*domain.GroupCall, error) {
	gc, ok := s.groupCalls[groupCallID]
	if !ok || !gc.IsActive() {
		return nil, repository.ErrNotFound
	}
	return gc, nil
}

func (s *Store) insertGroupCallLocked(gc *domain.GroupCall) error {
	if _, ok := s.activeGroups[gc.ConversationID]; ok {
		return fmt.Errorf("%w: group_calls_active_conversation_key", repository.ErrConflict)
	}
	if gc.OriginCallID != nil {
		if _, ok := s.promotions[*gc.OriginCallID]; ok {
			return fmt.Errorf("%w: group_calls_origin_call_key", repository.ErrConflict)
		}
		s.promotions[*gc.OriginCallID] = gc.GroupCallID
	}
	s.groupCalls[gc.GroupCallID] = copyGroupCall(gc)
	s.activeGroups[gc.ConversationID] = gc.GroupCallID
	s.participants[gc.GroupCallID] = make(map[uuid.UUID]*domain.GroupCallParticipant)
	return nil
}

// insertParticipantLocked adds a participant if absent; joinedAt nil means invited
func (s *Store) insertParticipantLocked(groupCallID, userID uuid.UUID, joinedAt *time.Time) (*domain.GroupCallParticipant, bool) {
	byUser := s.participants[groupCallID]
	if p, ok := byUser[userID]; ok {
		return p, false
	}
	p := &domain.GroupCallParticipant{GroupCallID: groupCallID, UserID: userID, JoinedAt: joinedAt}
	byUser[userID] = p
	return p, true
}

// endGroupCallLocked flips EndedAt and closes every open participant, pending
// invitees included, and every guest
func (s *Store) endGroupCallLocked(gc *domain.GroupCall, now time.Time) *domain.GroupCall {
	duration := domain.DurationBetween(gc.StartedAt, now)
	gc.EndedAt = timePtr(now)
	gc.DurationSec = &duration
	delete(s.activeGroups, gc.ConversationID)

	for _, p := range s.participants[gc.GroupCallID] {
		if p.LeftAt == nil {
			p.LeftAt = timePtr(now)
		}
	}
	for _, g := range s.guests {
		if g.GroupCallID == gc.GroupCallID && g.IsActive() {
			g.LeftAt = timePtr(now)
		}
	}
	return copyGroupCall(gc)
}

// Create inserts an active group call and auto-joins its creator
func (r *GroupCallRepository) Create(_ context.Context, gc *domain.GroupCall) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.insertGroupCallLocked(gc); err != nil {
		return err
	}
	r.s.insertParticipantLocked(gc.GroupCallID, gc.CreatedBy, timePtr(gc.StartedAt))
	return nil
}

// GetByID retrieves a group call by ID
func (r *GroupCallRepository) GetByID(_ context.Context, groupCallID uuid.UUID) (*domain.GroupCall, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	gc, ok := r.s.groupCalls[groupCallID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyGroupCall(gc), nil
}

// GetActiveByConversation retrieves the active group call of a conversation
func (r *GroupCallRepository) GetActiveByConversation(_ context.Context, conversationID uuid.UUID) (*domain.GroupCall, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.activeGroups[conversationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyGroupCall(r.s.groupCalls[id]), nil
}

// Join upserts the participant as joined: JoinedAt refreshed, LeftAt cleared
func (r *GroupCallRepository) Join(_ context.Context, groupCallID, userID uuid.UUID, now time.Time) (*domain.GroupCallParticipant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, err := r.s.activeGroupCallLocked(groupCallID); err != nil {
		return nil, err
	}
	p, _ := r.s.insertParticipantLocked(groupCallID, userID, nil)
	p.JoinedAt = timePtr(now)
	p.LeftAt = nil
	return copyParticipant(p), nil
}

// Invite adds the user as an invited participant
func (r *GroupCallRepository) Invite(_ context.Context, groupCallID, userID uuid.UUID) (*domain.GroupCallParticipant, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, err := r.s.activeGroupCallLocked(groupCallID); err != nil {
		return nil, false, err
	}
	p, created := r.s.insertParticipantLocked(groupCallID, userID, nil)
	return copyParticipant(p), created, nil
}

// DeclineInvite deletes a participant that never joined. A declined last
// invitation ends the call like a last leave does.
func (r *GroupCallRepository) DeclineInvite(_ context.Context, groupCallID, userID uuid.UUID, now time.Time) (*domain.GroupCall, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	gc, err := r.s.activeGroupCallLocked(groupCallID)
	if err != nil {
		return nil, err
	}
	p, ok := r.s.participants[groupCallID][userID]
	if !ok || p.State() != domain.ParticipantInvited || p.LeftAt != nil {
		return nil, repository.ErrNotFound
	}
	delete(r.s.participants[groupCallID], userID)
	return r.s.endIfEmptyLocked(gc, now), nil
}

// endIfEmptyLocked ends gc when no registered participant has LeftAt unset.
// Pending invitees count: the call waits for them.
func (s *Store) endIfEmptyLocked(gc *domain.GroupCall, now time.Time) *domain.GroupCall {
	for _, other := range s.participants[gc.GroupCallID] {
		if other.LeftAt == nil {
			return nil
		}
	}
	return s.endGroupCallLocked(gc, now)
}

// Leave marks a joined participant as left and ends the call when no
// participant, joined or invited, remains
func (r *GroupCallRepository) Leave(_ context.Context, groupCallID, userID uuid.UUID, now time.Time) (*domain.GroupLeaveResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	gc, err := r.s.activeGroupCallLocked(groupCallID)
	if err != nil {
		return nil, err
	}
	p, ok := r.s.participants[groupCallID][userID]
	if !ok || p.State() != domain.ParticipantJoined {
		return nil, repository.ErrNotFound
	}
	p.LeftAt = timePtr(now)
	return &domain.GroupLeaveResult{
		Participant: copyParticipant(p),
		Ended:       r.s.endIfEmptyLocked(gc, now),
	}, nil
}

// End ends an active group call regardless of who is still in it
func (r *GroupCallRepository) End(_ context.Context, groupCallID uuid.UUID, now time.Time) (*domain.GroupCall, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	gc, err := r.s.activeGroupCallLocked(groupCallID)
	if err != nil {
		return nil, err
	}
	return r.s.endGroupCallLocked(gc, now), nil
}

// GetParticipant retrieves one registered participant
func (r *GroupCallRepository) GetParticipant(_ context.Context, groupCallID, userID uuid.UUID) (*domain.GroupCallParticipant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.participants[groupCallID][userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyParticipant(p), nil
}

// GetParticipants retrieves every registered participant, invited ones last
func (r *GroupCallRepository) GetParticipants(_ context.Context, groupCallID uuid.UUID) ([]*domain.GroupCallParticipant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	participants := make([]*domain.GroupCallParticipant, 0, len(r.s.participants[groupCallID]))
	for _, p := range r.s.participants[groupCallID] {
		participants = append(participants, copyParticipant(p))
	}
	sort.Slice(participants, func(i, j int) bool {
		a, b := participants[i], participants[j]
		switch {
		case a.JoinedAt == nil && b.JoinedAt == nil:
			return a.UserID.String() < b.UserID.String()
		case a.JoinedAt == nil:
			return false
		case b.JoinedAt == nil:
			return true
		case !a.JoinedAt.Equal(*b.JoinedAt):
			return a.JoinedAt.Before(*b.JoinedAt)
		}
		return a.UserID.String() < b.UserID.String()
	})
	return participants, nil
}

// AddGuest inserts a guest into an active group call
func (r *GroupCallRepository) AddGuest(_ context.Context, guest *domain.GuestParticipant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, err := r.s.activeGroupCallLocked(guest.GroupCallID); err != nil {
		return err
	}
	if _, ok := r.s.guestTokens[guest.GuestToken]; ok {
		return fmt.Errorf("%w: group_call_guests_token_key", repository.ErrConflict)
	}
	if _, ok := r.s.guests[guest.GuestID]; ok {
		return fmt.Errorf("%w: group_call_guests_pkey", repository.ErrConflict)
	}
	g := copyGuest(guest)
	g.LeftAt = nil
	r.s.guests[g.GuestID] = g
	r.s.guestTokens[g.GuestToken] = g.GuestID
	return nil
}

// GetGuestByToken resolves a guest token
func (r *GroupCallRepository) GetGuestByToken(_ context.Context, guestToken string) (*domain.GuestParticipant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.guestTokens[guestToken]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyGuest(r.s.guests[id]), nil
}

// GetGuestByID retrieves a guest by ID
func (r *GroupCallRepository) GetGuestByID(_ context.Context, guestID uuid.UUID) (*domain.GuestParticipant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	g, ok := r.s.guests[guestID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyGuest(g), nil
}

// LeaveGuest marks an active guest as left
func (r *GroupCallRepository) LeaveGuest(_ context.Context, guestID uuid.UUID, now time.Time) (*domain.GuestParticipant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	g, ok := r.s.guests[guestID]
	if !ok || !g.IsActive() {
		return nil, repository.ErrNotFound
	}
	g.LeftAt = timePtr(now)
	return copyGuest(g), nil
}

// GetGuests retrieves every guest of a group call
func (r *GroupCallRepository) GetGuests(_ context.Context, groupCallID uuid.UUID) ([]*domain.GuestParticipant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var guests []*domain.GuestParticipant
	for _, g := range r.s.guests {
		if g.GroupCallID == groupCallID {
			guests = append(guests, copyGuest(g))
		}
	}
	sort.Slice(guests, func(i, j int) bool {
		return guests[i].JoinedAt.Before(guests[j].JoinedAt)
	})
	return guests, nil
}

// Promote converts an active call into a group call, or adds the invitee to
// the group an earlier promotion of the same call produced
func (r *GroupCallRepository) Promote(_ context.Context, callID, inviterID, inviteeID uuid.UUID, now time.Time) (*domain.PromoteResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	call, ok := r.s.calls[callID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	if groupCallID, ok := r.s.promotions[callID]; ok {
		existing := r.s.groupCalls[groupCallID]
		if !existing.IsActive() {
			return nil, repository.ErrNotFound
		}
		return &domain.PromoteResult{
			GroupCall:            copyGroupCall(existing),
			Invitee:              r.s.promoteInviteeLocked(existing, inviteeID),
			OriginConversationID: call.ConversationID,
		}, nil
	}

	if !call.IsActive() {
		return nil, repository.ErrNotFound
	}

	conv := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationTypeGroup,
		CreatedBy:      inviterID,
		CreatedAt:      now,
	}
	r.s.conversations[conv.ConversationID] = conv
	for _, member := range []uuid.UUID{call.CallerID, call.CalleeID} {
		role := domain.ConversationRoleMember
		if member == inviterID {
			role = domain.ConversationRoleAdmin
		}
		r.s.addMemberLocked(conv.ConversationID, member, role)
	}

	origin := call.CallID
	gc := &domain.GroupCall{
		GroupCallID:    uuid.New(),
		ConversationID: conv.ConversationID,
		CreatedBy:      inviterID,
		WithVideo:      call.WithVideo,
		StartedAt:      now,
		OriginCallID:   &origin,
	}
	if err := r.s.insertGroupCallLocked(gc); err != nil {
		return nil, err
	}
	for _, member := range []uuid.UUID{call.CallerID, call.CalleeID} {
		r.s.insertParticipantLocked(gc.GroupCallID, member, timePtr(now))
	}
	return &domain.PromoteResult{
		GroupCall:            copyGroupCall(gc),
		Invitee:              r.s.promoteInviteeLocked(gc, inviteeID),
		OriginConversationID: call.ConversationID,
		Created:              true,
		OriginCall:           r.s.endCallLocked(call, now, false),
	}, nil
}

// promoteInviteeLocked mirrors the cockroach helper: uuid.Nil adds nobody
func (s *Store) promoteInviteeLocked(gc *domain.GroupCall, inviteeID uuid.UUID) *domain.GroupCallParticipant {
	if inviteeID == uuid.Nil {
		return nil
	}
	s.addMemberLocked(gc.ConversationID, inviteeID, domain.ConversationRoleMember)
	invitee, _ := s.insertParticipantLocked(gc.GroupCallID, inviteeID, nil)
	return copyParticipant(invitee)
}
