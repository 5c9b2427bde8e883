package call

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

// StartGroup starts a group call in a group conversation and joins the creator
func (s *Service) StartGroup(ctx context.Context, principal domain.Principal, input *domain.StartGroupCallInput) (*domain.GroupCall, error) {
	if err := s.gate.AuthorizeConversation(ctx, principal, input.ConversationID); err != nil {
		return nil, err
	}
	creatorID, _ := principal.UserID()

	conv, err := s.conversations.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, storeError(err, apperrors.NotFoundError("Conversation"))
	}
	if !conv.SupportsGroupCalls() {
		return nil, apperrors.InvalidInputError("Group calls are only available in group conversations")
	}

	gc := &domain.GroupCall{
		GroupCallID:    uuid.New(),
		ConversationID: conv.ConversationID,
		CreatedBy:      creatorID,
		WithVideo:      input.WithVideo,
		StartedAt:      s.now().UTC(),
	}
	if err := s.groupCalls.Create(ctx, gc); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.CallConflictsTotal.WithLabelValues("start_group").Inc()
			return nil, apperrors.ConflictError("A group call is already active in this conversation")
		}
		return nil, apperrors.DatabaseError(err)
	}

	metrics.CallTransitionsTotal.WithLabelValues(kindGroup, "start").Inc()
	logger.Info("Group call started",
		logger.GroupCallID(gc.GroupCallID),
		logger.ConversationID(gc.ConversationID))

	s.fanout.Notify(ctx, domain.EventGroupStarted, gc.ConversationID, groupEventPayload{GroupCall: gc})
	return gc, nil
}

// Join joins (or re-joins) a group call by id
func (s *Service) Join(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (*domain.GroupCallParticipant, error) {
	userID, ok := principal.UserID()
	if !ok {
		return nil, notUserError(principal)
	}
	gc, err := s.gate.AuthorizeGroupCall(ctx, principal, groupCallID)
	if err != nil {
		return nil, err
	}
	return s.join(ctx, gc, userID)
}

// JoinActive joins the active group call of a conversation
func (s *Service) JoinActive(ctx context.Context, principal domain.Principal, conversationID uuid.UUID) (*domain.GroupCallParticipant, error) {
	if err := s.gate.AuthorizeConversation(ctx, principal, conversationID); err != nil {
		return nil, err
	}
	userID, _ := principal.UserID()

	gc, err := s.groupCalls.GetActiveByConversation(ctx, conversationID)
	if err != nil {
		return nil, storeError(err, apperrors.GroupCallNotFoundError())
	}
	return s.join(ctx, gc, userID)
}

func (s *Service) join(ctx context.Context, gc *domain.GroupCall, userID uuid.UUID) (*domain.GroupCallParticipant, error) {
	participant, err := s.groupCalls.Join(ctx, gc.GroupCallID, userID, s.now().UTC())
	if err != nil {
		return nil, storeError(err, apperrors.GroupCallNotFoundError())
	}

	metrics.CallTransitionsTotal.WithLabelValues(kindGroup, "join").Inc()
	s.fanout.Notify(ctx, domain.EventGroupJoined, gc.ConversationID, participantPayload{
		GroupCallID: gc.GroupCallID,
		UserID:      userID,
	})
	return participant, nil
}

// Leave removes the principal from a group call. A registered participant
// leaving last ends the call; the returned flag reports that. Guests leaving
// never end a call.
func (s *Service) Leave(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (bool, error) {
	if principal.IsGuest() {
		return false, s.leaveGuest(ctx, principal, groupCallID)
	}
	gc, err := s.gate.AuthorizeGroupCall(ctx, principal, groupCallID)
	if err != nil {
		return false, err
	}

	userID, _ := principal.UserID()
	result, err := s.groupCalls.Leave(ctx, groupCallID, userID, s.now().UTC())
	if err != nil {
		return false, storeError(err, apperrors.GroupCallNotFoundError())
	}

	metrics.CallTransitionsTotal.WithLabelValues(kindGroup, "leave").Inc()
	s.fanout.Notify(ctx, domain.EventGroupLeft, gc.ConversationID, participantPayload{
		GroupCallID: gc.GroupCallID,
		UserID:      userID,
	})

	if result.Ended == nil {
		return false, nil
	}
	s.groupEnded(ctx, result.Ended, "auto_end")
	return true, nil
}

func (s *Service) leaveGuest(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) error {
	guest, gc, err := s.guestIn(ctx, principal, groupCallID)
	if err != nil {
		return err
	}
	left, err := s.groupCalls.LeaveGuest(ctx, guest.GuestID, s.now().UTC())
	if err != nil {
		return storeError(err, apperrors.GroupCallNotFoundError())
	}

	s.fanout.Notify(ctx, domain.EventGuestLeft, gc.ConversationID, guestPayload{
		GroupCallID: gc.GroupCallID,
		GuestID:     left.GuestID,
		DisplayName: left.DisplayName,
	})
	return nil
}

// guestIn resolves a guest principal that must belong to groupCallID
func (s *Service) guestIn(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (*domain.GuestParticipant, *domain.GroupCall, error) {
	guest, gc, err := s.gate.Guest(ctx, principal)
	if err != nil {
		return nil, nil, err
	}
	if gc.GroupCallID != groupCallID {
		return nil, nil, apperrors.GroupCallNotFoundError()
	}
	return guest, gc, nil
}

// EndForAll ends a group call for everyone. Only a joined participant may do it.
func (s *Service) EndForAll(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (*domain.GroupCall, error) {
	userID, ok := principal.UserID()
	if !ok {
		return nil, notUserError(principal)
	}
	if _, err := s.gate.AuthorizeGroupCall(ctx, principal, groupCallID); err != nil {
		return nil, err
	}

	participant, err := s.groupCalls.GetParticipant(ctx, groupCallID, userID)
	if err != nil {
		return nil, storeError(err, apperrors.GroupCallNotFoundError())
	}
	if participant.State() != domain.ParticipantJoined {
		return nil, apperrors.GroupCallNotFoundError()
	}

	ended, err := s.groupCalls.End(ctx, groupCallID, s.now().UTC())
	if err != nil {
		return nil, storeError(err, apperrors.GroupCallNotFoundError())
	}
	s.groupEnded(ctx, ended, "end")
	return ended, nil
}

// DeclineInvite removes a pending invitation of the principal. Declining the
// last open invitation of an otherwise empty call ends it.
func (s *Service) DeclineInvite(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) error {
	userID, ok := principal.UserID()
	if !ok {
		return notUserError(principal)
	}
	gc, err := s.gate.AuthorizeGroupCall(ctx, principal, groupCallID)
	if err != nil {
		return err
	}

	ended, err := s.groupCalls.DeclineInvite(ctx, groupCallID, userID, s.now().UTC())
	if err != nil {
		return storeError(err, apperrors.GroupCallNotFoundError())
	}

	s.fanout.Notify(ctx, domain.EventGroupLeft, gc.ConversationID, participantPayload{
		GroupCallID: gc.GroupCallID,
		UserID:      userID,
		Declined:    true,
	})
	if ended != nil {
		s.groupEnded(ctx, ended, "auto_end")
	}
	return nil
}

// Roster lists the registered participants and present guests of a group call
func (s *Service) Roster(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (*domain.Roster, error) {
	gc, err := s.gate.AuthorizeGroupCall(ctx, principal, groupCallID)
	if err != nil {
		return nil, err
	}
	return s.RosterOf(ctx, gc)
}

// RosterOf builds the roster of a group call without an access check.
// Callers must have authorized the group call already.
func (s *Service) RosterOf(ctx context.Context, gc *domain.GroupCall) (*domain.Roster, error) {
	participants, err := s.groupCalls.GetParticipants(ctx, gc.GroupCallID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	guests, err := s.groupCalls.GetGuests(ctx, gc.GroupCallID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return domain.NewRoster(gc, participants, guests), nil
}

// InviteToGroup invites a conversation member into an active group call
func (s *Service) InviteToGroup(ctx context.Context, principal domain.Principal, groupCallID, inviteeID uuid.UUID) (*domain.GroupCallParticipant, error) {
	inviterID, ok := principal.UserID()
	if !ok {
		return nil, notUserError(principal)
	}
	if inviteeID == uuid.Nil || inviteeID == inviterID {
		return nil, apperrors.InvalidInputError("user_id must name another user")
	}
	gc, err := s.gate.AuthorizeGroupCall(ctx, principal, groupCallID)
	if err != nil {
		return nil, err
	}

	member, err := s.conversations.IsMember(ctx, gc.ConversationID, inviteeID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !member {
		return nil, apperrors.NotFoundError("Invitee")
	}

	participant, created, err := s.groupCalls.Invite(ctx, groupCallID, inviteeID)
	if err != nil {
		return nil, storeError(err, apperrors.GroupCallNotFoundError())
	}
	if created {
		s.fanout.Notify(ctx, domain.EventParticipantInvited, gc.ConversationID, invitedPayload{
			GroupCall: gc,
			UserID:    inviteeID,
			InvitedBy: inviterID,
		})
	}
	return participant, nil
}

// AnnounceGroupMedia broadcasts a media toggle of a registered participant
// or a guest to the group call's conversation
func (s *Service) AnnounceGroupMedia(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID, update *domain.MediaUpdate) error {
	event, ok := update.Action.Event()
	if !ok {
		return apperrors.InvalidInputError("unknown media action")
	}

	var (
		gc   *domain.GroupCall
		from domain.Addressee
	)
	if principal.IsGuest() {
		guest, guestCall, err := s.guestIn(ctx, principal, groupCallID)
		if err != nil {
			return err
		}
		gc, from = guestCall, domain.GuestAddressee(guest.GuestID)
	} else {
		authorized, err := s.gate.AuthorizeGroupCall(ctx, principal, groupCallID)
		if err != nil {
			return err
		}
		userID, _ := principal.UserID()
		participant, err := s.groupCalls.GetParticipant(ctx, groupCallID, userID)
		if err != nil {
			return storeError(err, apperrors.GroupCallNotFoundError())
		}
		if !authorized.IsActive() || participant.State() != domain.ParticipantJoined {
			return apperrors.GroupCallNotFoundError()
		}
		gc, from = authorized, domain.UserAddressee(userID)
	}

	s.fanout.Notify(ctx, event, gc.ConversationID, mediaPayload{
		CallID: gc.GroupCallID,
		Group:  true,
		From:   from,
		Update: update,
	})
	return nil
}

// groupEnded runs the bookkeeping of a group call that has just ended. Only
// the operation whose transaction ended the call reaches here.
func (s *Service) groupEnded(ctx context.Context, gc *domain.GroupCall, transition string) {
	metrics.CallTransitionsTotal.WithLabelValues(kindGroup, transition).Inc()
	if gc.DurationSec != nil {
		metrics.CallDurationSeconds.WithLabelValues(kindGroup).Observe(float64(*gc.DurationSec))
	}
	logger.Info("Group call ended",
		logger.GroupCallID(gc.GroupCallID),
		zap.String("reason", transition))

	s.messages.AppendSystemMessage(ctx, gc.ConversationID, groupEndedText(gc))
	s.fanout.Notify(ctx, domain.EventGroupEnded, gc.ConversationID, groupEventPayload{GroupCall: gc})
}

// storeError maps repository sentinels onto the error taxonomy
func storeError(err error, notFound error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return notFound
	case errors.Is(err, repository.ErrConflict):
		return apperrors.ConflictError("The call changed concurrently, retry")
	}
	return apperrors.DatabaseError(err)
}

func notUserError(principal domain.Principal) error {
	if principal.IsZero() {
		return apperrors.NotAuthenticatedError()
	}
	return apperrors.GroupCallNotFoundError()
}
