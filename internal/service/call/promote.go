package call

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
	"callhub-backend/pkg/constants"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

// Promote turns an active one-to-one call into a group call and invites
// inviteeID. The one-to-one call ends in the same transaction, which frees
// the pair for a new call once the group is over. Promoting the same call again adds the invitee to the group the
// first promotion created.
func (s *Service) Promote(ctx context.Context, principal domain.Principal, callID, inviteeID uuid.UUID) (*domain.PromoteResult, error) {
	call, err := s.gate.AuthorizeCall(ctx, principal, callID)
	if err != nil {
		return nil, err
	}
	inviterID, _ := principal.UserID()

	if inviteeID == uuid.Nil || call.HasParticipant(inviteeID) {
		return nil, apperrors.InvalidInputError("invitee must be a third user")
	}
	return s.promote(ctx, call.CallID, inviterID, inviteeID)
}

// PromoteViaLink promotes on behalf of a call link. The link is the
// authorization: inviterID is the link creator and inviteeID the resolver,
// or uuid.Nil when a guest resolves the link.
func (s *Service) PromoteViaLink(ctx context.Context, callID, inviterID, inviteeID uuid.UUID) (*domain.PromoteResult, error) {
	return s.promote(ctx, callID, inviterID, inviteeID)
}

// promote retries uniqueness conflicts: a concurrent promotion of the same
// call that committed first makes the next attempt take the existing-group path
func (s *Service) promote(ctx context.Context, callID, inviterID, inviteeID uuid.UUID) (*domain.PromoteResult, error) {
	var (
		result *domain.PromoteResult
		err    error
	)
	for attempt := 1; attempt <= constants.PromoteMaxAttempts; attempt++ {
		result, err = s.groupCalls.Promote(ctx, callID, inviterID, inviteeID, s.now().UTC())
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
		metrics.CallPromoteRetriesTotal.Inc()
		logger.Debug("Retrying contended promotion",
			logger.CallID(callID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.CallConflictsTotal.WithLabelValues("promote").Inc()
			return nil, apperrors.ConflictError("Call promotion is contended, retry")
		}
		return nil, storeError(err, apperrors.CallNotFoundError())
	}

	gc := result.GroupCall
	if result.Created {
		metrics.CallTransitionsTotal.WithLabelValues(kindGroup, "promote").Inc()
		logger.Info("Call promoted to group call",
			logger.CallID(callID),
			logger.GroupCallID(gc.GroupCallID))
	}

	s.fanout.Notify(ctx, domain.EventConvertedToGroup, result.OriginConversationID, convertedPayload{
		CallID:    callID,
		GroupCall: gc,
	})
	if result.OriginCall != nil {
		s.callEnded(ctx, result.OriginCall, "promote", callEventPayload{
			Call:        result.OriginCall,
			GroupCallID: &gc.GroupCallID,
		})
	}
	if inviteeID != uuid.Nil {
		s.fanout.Notify(ctx, domain.EventParticipantInvited, gc.ConversationID, invitedPayload{
			GroupCall: gc,
			UserID:    inviteeID,
			InvitedBy: inviterID,
		})
	}
	return result, nil
}
