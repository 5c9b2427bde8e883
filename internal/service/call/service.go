// Package call implements the call session lifecycle: one-to-one calls,
// group calls and promotion of the former into the latter.
package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
	"callhub-backend/pkg/constants"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/fanout"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

const (
	kindOneToOne = "one_to_one"
	kindGroup    = "group"
)

// CallRepository defines the one-to-one call storage the service needs
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	End(ctx context.Context, callID uuid.UUID, endedAt time.Time, declined bool) (*domain.Call, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
}

// GroupCallRepository defines the group call storage the service needs
type GroupCallRepository interface {
	Create(ctx context.Context, gc *domain.GroupCall) error
	GetByID(ctx context.Context, groupCallID uuid.UUID) (*domain.GroupCall, error)
	GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*domain.GroupCall, error)
	Join(ctx context.Context, groupCallID, userID uuid.UUID, now time.Time) (*domain.GroupCallParticipant, error)
	Invite(ctx context.Context, groupCallID, userID uuid.UUID) (*domain.GroupCallParticipant, bool, error)
	DeclineInvite(ctx context.Context, groupCallID, userID uuid.UUID, now time.Time) (*domain.GroupCall, error)
	Leave(ctx context.Context, groupCallID, userID uuid.UUID, now time.Time) (*domain.GroupLeaveResult, error)
	End(ctx context.Context, groupCallID uuid.UUID, now time.Time) (*domain.GroupCall, error)
	GetParticipant(ctx context.Context, groupCallID, userID uuid.UUID) (*domain.GroupCallParticipant, error)
	GetParticipants(ctx context.Context, groupCallID uuid.UUID) ([]*domain.GroupCallParticipant, error)
	GetGuests(ctx context.Context, groupCallID uuid.UUID) ([]*domain.GuestParticipant, error)
	LeaveGuest(ctx context.Context, guestID uuid.UUID, now time.Time) (*domain.GuestParticipant, error)
	Promote(ctx context.Context, callID, inviterID, inviteeID uuid.UUID, now time.Time) (*domain.PromoteResult, error)
}

// ConversationRepository defines the conversation lookups the service needs
type ConversationRepository interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// Authorizer is the access control gate
type Authorizer interface {
	AuthorizeConversation(ctx context.Context, principal domain.Principal, conversationID uuid.UUID) error
	AuthorizeCall(ctx context.Context, principal domain.Principal, callID uuid.UUID) (*domain.Call, error)
	AuthorizeGroupCall(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (*domain.GroupCall, error)
	Guest(ctx context.Context, principal domain.Principal) (*domain.GuestParticipant, *domain.GroupCall, error)
}

// Service handles call lifecycle business logic
type Service struct {
	calls         CallRepository
	groupCalls    GroupCallRepository
	conversations ConversationRepository
	gate          Authorizer
	fanout        fanout.Client
	messages      SystemMessageWriter
	now           func() time.Time
}

// NewService creates a new call service
func NewService(
	calls CallRepository,
	groupCalls GroupCallRepository,
	conversations ConversationRepository,
	gate Authorizer,
	fanoutClient fanout.Client,
	messages SystemMessageWriter,
) *Service {
	if messages == nil {
		messages = NoopMessageWriter{}
	}
	return &Service{
		calls:         calls,
		groupCalls:    groupCalls,
		conversations: conversations,
		gate:          gate,
		fanout:        fanoutClient,
		messages:      messages,
		now:           time.Now,
	}
}

// Start creates an active one-to-one call. Nobody is notified until the
// caller sends Invite.
func (s *Service) Start(ctx context.Context, principal domain.Principal, input *domain.StartCallInput) (*domain.Call, error) {
	if err := s.gate.AuthorizeConversation(ctx, principal, input.ConversationID); err != nil {
		return nil, err
	}
	callerID, _ := principal.UserID()

	if input.CalleeID == uuid.Nil || input.CalleeID == callerID {
		return nil, apperrors.InvalidInputError("callee_id must name another user")
	}
	member, err := s.conversations.IsMember(ctx, input.ConversationID, input.CalleeID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !member {
		return nil, apperrors.NotFoundError("Callee")
	}

	call := &domain.Call{
		CallID:         uuid.New(),
		ConversationID: input.ConversationID,
		CallerID:       callerID,
		CalleeID:       input.CalleeID,
		WithVideo:      input.WithVideo,
		Direction:      domain.CallDirectionInternal,
		StartedAt:      s.now().UTC(),
	}
	if err := s.calls.Create(ctx, call); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.CallConflictsTotal.WithLabelValues("start").Inc()
			return nil, apperrors.ConflictError("An active call already exists between these users")
		}
		return nil, apperrors.DatabaseError(err)
	}

	metrics.CallTransitionsTotal.WithLabelValues(kindOneToOne, "start").Inc()
	logger.Info("Call started",
		logger.CallID(call.CallID),
		logger.ConversationID(call.ConversationID),
		zap.Bool("with_video", call.WithVideo))

	return call, nil
}

// Invite rings the callee. It may be repeated while the call is active.
func (s *Service) Invite(ctx context.Context, principal domain.Principal, callID uuid.UUID) error {
	call, err := s.activeCallAs(ctx, principal, callID, roleCaller)
	if err != nil {
		return err
	}

	s.fanout.NotifyUser(ctx, domain.EventCallInvite, call.CalleeID, call.ConversationID, callEventPayload{Call: call})
	return nil
}

// Decline ends the call from the callee side with a zero duration
func (s *Service) Decline(ctx context.Context, principal domain.Principal, callID uuid.UUID) (*domain.Call, error) {
	if _, err := s.activeCallAs(ctx, principal, callID, roleCallee); err != nil {
		return nil, err
	}
	return s.finishCall(ctx, callID, true)
}

// End ends the call from either side
func (s *Service) End(ctx context.Context, principal domain.Principal, callID uuid.UUID) (*domain.Call, error) {
	if _, err := s.gate.AuthorizeCall(ctx, principal, callID); err != nil {
		return nil, err
	}
	return s.finishCall(ctx, callID, false)
}

// RequestOffer asks the caller to resend its SDP offer after the callee
// missed it
func (s *Service) RequestOffer(ctx context.Context, principal domain.Principal, callID uuid.UUID) error {
	call, err := s.activeCallAs(ctx, principal, callID, roleCallee)
	if err != nil {
		return err
	}

	s.fanout.NotifyUser(ctx, domain.EventResendOffer, call.CallerID, call.ConversationID, resendOfferPayload{
		CallID:      call.CallID,
		RequestedBy: call.CalleeID,
	})
	return nil
}

// Status returns the current state of a call
func (s *Service) Status(ctx context.Context, principal domain.Principal, callID uuid.UUID) (*domain.Call, error) {
	return s.gate.AuthorizeCall(ctx, principal, callID)
}

// History returns the calls of the principal, newest first
func (s *Service) History(ctx context.Context, principal domain.Principal, limit, offset int) ([]*domain.Call, error) {
	userID, ok := principal.UserID()
	if !ok {
		return nil, apperrors.NotAuthenticatedError()
	}
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	calls, err := s.calls.GetUserCalls(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return calls, nil
}

// AnnounceCallMedia forwards a mute, screen share or recording toggle to the peer
func (s *Service) AnnounceCallMedia(ctx context.Context, principal domain.Principal, callID uuid.UUID, update *domain.MediaUpdate) error {
	event, ok := update.Action.Event()
	if !ok {
		return apperrors.InvalidInputError("unknown media action")
	}
	call, err := s.activeCallAs(ctx, principal, callID, roleEither)
	if err != nil {
		return err
	}

	userID, _ := principal.UserID()
	peer, _ := call.Peer(userID)
	s.fanout.NotifyUser(ctx, event, peer, call.ConversationID, mediaPayload{
		CallID: call.CallID,
		From:   domain.UserAddressee(userID),
		Update: update,
	})
	return nil
}

type callRole int

const (
	roleEither callRole = iota
	roleCaller
	roleCallee
)

// activeCallAs authorizes the principal for an active call in the given role.
// A wrong role is reported the same way as a missing call.
func (s *Service) activeCallAs(ctx context.Context, principal domain.Principal, callID uuid.UUID, role callRole) (*domain.Call, error) {
	call, err := s.gate.AuthorizeCall(ctx, principal, callID)
	if err != nil {
		return nil, err
	}
	userID, _ := principal.UserID()

	switch {
	case !call.IsActive():
		return nil, apperrors.CallNotFoundError()
	case role == roleCaller && userID != call.CallerID:
		return nil, apperrors.CallNotFoundError()
	case role == roleCallee && userID != call.CalleeID:
		return nil, apperrors.CallNotFoundError()
	}
	return call, nil
}

func (s *Service) finishCall(ctx context.Context, callID uuid.UUID, declined bool) (*domain.Call, error) {
	call, err := s.calls.End(ctx, callID, s.now().UTC(), declined)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	transition := "end"
	if declined {
		transition = "decline"
	}
	s.callEnded(ctx, call, transition, callEventPayload{Call: call, Declined: declined})
	return call, nil
}

// callEnded runs the bookkeeping of a one-to-one call whose End committed
func (s *Service) callEnded(ctx context.Context, call *domain.Call, transition string, payload callEventPayload) {
	metrics.CallTransitionsTotal.WithLabelValues(kindOneToOne, transition).Inc()
	if call.DurationSec != nil && !payload.Declined {
		metrics.CallDurationSeconds.WithLabelValues(kindOneToOne).Observe(float64(*call.DurationSec))
	}
	logger.Info("Call ended",
		logger.CallID(call.CallID),
		zap.String("reason", transition))

	s.messages.AppendSystemMessage(ctx, call.ConversationID, callEndedText(call, payload.Declined))

	s.fanout.NotifyUser(ctx, domain.EventCallEnd, call.CallerID, call.ConversationID, payload)
	s.fanout.NotifyUser(ctx, domain.EventCallEnd, call.CalleeID, call.ConversationID, payload)
}
