// Package access decides whether a principal may act on a conversation,
// a one-to-one call or a group call. Every denial is reported as not found
// so callers cannot probe for the existence of private calls.
package access

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
	apperrors "callhub-backend/pkg/errors"
)

// ConversationRepository defines the membership lookup the gate needs
type ConversationRepository interface {
	IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// CallRepository defines the call lookup the gate needs
type CallRepository interface {
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
}

// GroupCallRepository defines the group call and guest lookups the gate needs
type GroupCallRepository interface {
	GetByID(ctx context.Context, groupCallID uuid.UUID) (*domain.GroupCall, error)
	GetGuestByToken(ctx context.Context, guestToken string) (*domain.GuestParticipant, error)
}

// Gate is the access control gate
type Gate struct {
	conversations ConversationRepository
	calls         CallRepository
	groupCalls    GroupCallRepository
}

// NewGate creates a new access control gate
func NewGate(conversations ConversationRepository, calls CallRepository, groupCalls GroupCallRepository) *Gate {
	return &Gate{
		conversations: conversations,
		calls:         calls,
		groupCalls:    groupCalls,
	}
}

// AuthorizeConversation checks that a user principal is a visible member of
// the conversation. Guests are never authorized for conversations.
func (g *Gate) AuthorizeConversation(ctx context.Context, principal domain.Principal, conversationID uuid.UUID) error {
	if principal.IsZero() {
		return apperrors.NotAuthenticatedError()
	}
	userID, ok := principal.UserID()
	if !ok {
		return apperrors.NotFoundError("Conversation")
	}
	return g.requireMember(ctx, conversationID, userID, apperrors.NotFoundError("Conversation"))
}

// AuthorizeCall checks that a user principal is the caller or the callee of
// the call and still a member of its conversation
func (g *Gate) AuthorizeCall(ctx context.Context, principal domain.Principal, callID uuid.UUID) (*domain.Call, error) {
	if principal.IsZero() {
		return nil, apperrors.NotAuthenticatedError()
	}
	userID, ok := principal.UserID()
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}

	call, err := g.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, lookupError(err, apperrors.CallNotFoundError())
	}
	if !call.HasParticipant(userID) {
		return nil, apperrors.CallNotFoundError()
	}
	if err := g.requireMember(ctx, call.ConversationID, userID, apperrors.CallNotFoundError()); err != nil {
		return nil, err
	}
	return call, nil
}

// AuthorizeGroupCall checks a user against the group call's conversation,
// or a guest against the group call its token was issued for. Guests are
// additionally required to be present in a still active call.
func (g *Gate) AuthorizeGroupCall(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (*domain.GroupCall, error) {
	switch principal.Kind() {
	case domain.PrincipalUser:
		userID, _ := principal.UserID()
		gc, err := g.groupCalls.GetByID(ctx, groupCallID)
		if err != nil {
			return nil, lookupError(err, apperrors.GroupCallNotFoundError())
		}
		if err := g.requireMember(ctx, gc.ConversationID, userID, apperrors.GroupCallNotFoundError()); err != nil {
			return nil, err
		}
		return gc, nil

	case domain.PrincipalGuest:
		_, tokenGroupCallID, _ := principal.GuestCredentials()
		if tokenGroupCallID != groupCallID {
			return nil, apperrors.GroupCallNotFoundError()
		}
		_, gc, err := g.Guest(ctx, principal)
		return gc, err
	}
	return nil, apperrors.NotAuthenticatedError()
}

// Guest resolves a guest principal to its participant row and group call.
// The guest must not have left and the group call must be active.
func (g *Gate) Guest(ctx context.Context, principal domain.Principal) (*domain.GuestParticipant, *domain.GroupCall, error) {
	if principal.IsZero() {
		return nil, nil, apperrors.NotAuthenticatedError()
	}
	guestToken, groupCallID, ok := principal.GuestCredentials()
	if !ok {
		return nil, nil, apperrors.GroupCallNotFoundError()
	}

	guest, err := g.groupCalls.GetGuestByToken(ctx, guestToken)
	if err != nil {
		return nil, nil, lookupError(err, apperrors.GroupCallNotFoundError())
	}
	if guest.GroupCallID != groupCallID || !guest.IsActive() {
		return nil, nil, apperrors.GroupCallNotFoundError()
	}

	gc, err := g.groupCalls.GetByID(ctx, groupCallID)
	if err != nil {
		return nil, nil, lookupError(err, apperrors.GroupCallNotFoundError())
	}
	if !gc.IsActive() {
		return nil, nil, apperrors.GroupCallNotFoundError()
	}
	return guest, gc, nil
}

func (g *Gate) requireMember(ctx context.Context, conversationID, userID uuid.UUID, denied error) error {
	member, err := g.conversations.IsMember(ctx, conversationID, userID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if !member {
		return denied
	}
	return nil
}

func lookupError(err error, notFound error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return apperrors.DatabaseError(err)
}
