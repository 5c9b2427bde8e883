// Package signaling relays WebRTC offers, answers and ICE candidates between
// participants of the same call. Payloads are checked for presence only.
package signaling

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/fanout"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

// Authorizer is the access gate
type Authorizer interface {
	AuthorizeCall(ctx context.Context, principal domain.Principal, callID uuid.UUID) (*domain.Call, error)
	AuthorizeGroupCall(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (*domain.GroupCall, error)
	Guest(ctx context.Context, principal domain.Principal) (*domain.GuestParticipant, *domain.GroupCall, error)
}

// ParticipantRepository looks up the participants of group calls
type ParticipantRepository interface {
	GetParticipant(ctx context.Context, groupCallID, userID uuid.UUID) (*domain.GroupCallParticipant, error)
	GetGuestByID(ctx context.Context, guestID uuid.UUID) (*domain.GuestParticipant, error)
}

// RelayInput is one signaling message to forward
type RelayInput struct {
	Call      domain.CallRef
	To        domain.Addressee
	Kind      domain.SignalKind
	SDP       *webrtc.SessionDescription
	Candidate *webrtc.ICECandidateInit
}

// Relay forwards signaling envelopes through the fanout client
type Relay struct {
	gate         Authorizer
	participants ParticipantRepository
	fanout       fanout.Client
}

// NewRelay creates a new signaling relay
func NewRelay(gate Authorizer, participants ParticipantRepository, fanoutClient fanout.Client) *Relay {
	return &Relay{
		gate:         gate,
		participants: participants,
		fanout:       fanoutClient,
	}
}

// Relay authorizes the sender, checks that the addressee is an active
// participant of the same call and hands the envelope to fanout
func (r *Relay) Relay(ctx context.Context, principal domain.Principal, in *RelayInput) error {
	if err := validate(in); err != nil {
		metrics.SignalingRejectedTotal.WithLabelValues("invalid").Inc()
		return err
	}

	var (
		envelope *domain.SignalingEnvelope
		err      error
	)
	if in.Call.IsGroup() {
		envelope, err = r.groupEnvelope(ctx, principal, in)
	} else {
		envelope, err = r.oneToOneEnvelope(ctx, principal, in)
	}
	if err != nil {
		reason := "denied"
		if apperrors.HasCode(err, apperrors.ErrCodeDatabase) {
			reason = "error"
		}
		metrics.SignalingRejectedTotal.WithLabelValues(reason).Inc()
		return err
	}

	event := domain.EventSDP
	if in.Kind == domain.SignalICE {
		event = domain.EventICE
	}
	if in.To.IsGuest() {
		r.fanout.NotifyGuest(ctx, event, in.To.ID(), envelope.ConversationID, envelope)
	} else {
		r.fanout.NotifyUser(ctx, event, in.To.ID(), envelope.ConversationID, envelope)
	}

	metrics.SignalingRelayedTotal.WithLabelValues(string(in.Kind), string(in.To.Kind())).Inc()
	logger.Debug("Signaling relayed",
		zap.String("kind", string(in.Kind)),
		zap.String("call_id", in.Call.ID().String()),
		zap.Bool("group", in.Call.IsGroup()))
	return nil
}

func (r *Relay) oneToOneEnvelope(ctx context.Context, principal domain.Principal, in *RelayInput) (*domain.SignalingEnvelope, error) {
	call, err := r.gate.AuthorizeCall(ctx, principal, in.Call.ID())
	if err != nil {
		return nil, err
	}
	if !call.IsActive() {
		return nil, apperrors.CallNotFoundError()
	}

	senderID, _ := principal.UserID()
	peer, _ := call.Peer(senderID)
	if !in.To.IsUser() || in.To.ID() != peer {
		return nil, participantNotFound()
	}
	return newEnvelope(in, domain.UserAddressee(senderID), call.ConversationID, false), nil
}

func (r *Relay) groupEnvelope(ctx context.Context, principal domain.Principal, in *RelayInput) (*domain.SignalingEnvelope, error) {
	gc, from, err := r.groupSender(ctx, principal, in.Call.ID())
	if err != nil {
		return nil, err
	}
	if in.To == from {
		return nil, apperrors.InvalidInputError("cannot signal yourself")
	}
	if err := r.requireActive(ctx, gc.GroupCallID, in.To); err != nil {
		return nil, err
	}
	return newEnvelope(in, from, gc.ConversationID, true), nil
}

// groupSender authorizes the sender of a group signal. Registered senders
// must have joined; guests are checked by the gate.
func (r *Relay) groupSender(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (*domain.GroupCall, domain.Addressee, error) {
	if principal.IsGuest() {
		guest, gc, err := r.gate.Guest(ctx, principal)
		if err != nil {
			return nil, domain.Addressee{}, err
		}
		if gc.GroupCallID != groupCallID {
			return nil, domain.Addressee{}, apperrors.GroupCallNotFoundError()
		}
		return gc, domain.GuestAddressee(guest.GuestID), nil
	}

	gc, err := r.gate.AuthorizeGroupCall(ctx, principal, groupCallID)
	if err != nil {
		return nil, domain.Addressee{}, err
	}
	if !gc.IsActive() {
		return nil, domain.Addressee{}, apperrors.GroupCallNotFoundError()
	}
	userID, _ := principal.UserID()
	if err := r.requireActive(ctx, groupCallID, domain.UserAddressee(userID)); err != nil {
		return nil, domain.Addressee{}, apperrors.GroupCallNotFoundError()
	}
	return gc, domain.UserAddressee(userID), nil
}

// requireActive checks that an addressee is currently in the group call
func (r *Relay) requireActive(ctx context.Context, groupCallID uuid.UUID, to domain.Addressee) error {
	if to.IsGuest() {
		guest, err := r.participants.GetGuestByID(ctx, to.ID())
		if err != nil {
			return lookupError(err)
		}
		if guest.GroupCallID != groupCallID || !guest.IsActive() {
			return participantNotFound()
		}
		return nil
	}

	participant, err := r.participants.GetParticipant(ctx, groupCallID, to.ID())
	if err != nil {
		return lookupError(err)
	}
	if participant.State() != domain.ParticipantJoined {
		return participantNotFound()
	}
	return nil
}

func newEnvelope(in *RelayInput, from domain.Addressee, conversationID uuid.UUID, group bool) *domain.SignalingEnvelope {
	return &domain.SignalingEnvelope{
		From:           from,
		To:             in.To,
		Kind:           in.Kind,
		ConversationID: conversationID,
		CallID:         in.Call.ID(),
		Group:          group,
		SDP:            in.SDP,
		Candidate:      in.Candidate,
	}
}

func validate(in *RelayInput) error {
	switch {
	case in.Call.IsZero():
		return apperrors.InvalidInputError("call_id or group_call_id is required")
	case in.To.IsZero():
		return apperrors.InvalidInputError(domain.ErrInvalidAddressee.Error())
	case !in.Kind.Valid():
		return apperrors.InvalidInputError("kind must be offer, answer or ice")
	case in.Kind == domain.SignalICE && in.Candidate == nil:
		return apperrors.MissingFieldError("candidate")
	case in.Kind != domain.SignalICE && (in.SDP == nil || in.SDP.SDP == ""):
		return apperrors.MissingFieldError("sdp")
	}
	return nil
}

func participantNotFound() error {
	return apperrors.NotFoundError("Participant")
}

func lookupError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return participantNotFound()
	}
	return apperrors.DatabaseError(err)
}
