package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository/memory"
	"callhub-backend/internal/service/access"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/fanout"
)

type fixture struct {
	store  *memory.Store
	relay  *Relay
	events *fanout.Recorder
}

func newFixture() *fixture {
	store := memory.New()
	events := fanout.NewRecorder()
	gate := access.NewGate(store.Conversations(), store.Calls(), store.GroupCalls())
	return &fixture{
		store:  store,
		relay:  NewRelay(gate, store.GroupCalls(), events),
		events: events,
	}
}

func (f *fixture) conversation(t *testing.T, convType string, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	conv := &domain.Conversation{ConversationID: uuid.New(), Type: convType, CreatedBy: members[0], CreatedAt: time.Now()}
	require.NoError(t, f.store.Conversations().Create(context.Background(), conv, members...))
	return conv.ConversationID
}

func (f *fixture) oneToOne(t *testing.T, caller, callee uuid.UUID) *domain.Call {
	t.Helper()
	call := &domain.Call{
		CallID:         uuid.New(),
		ConversationID: f.conversation(t, domain.ConversationTypeDirect, caller, callee),
		CallerID:       caller,
		CalleeID:       callee,
		Direction:      domain.CallDirectionInternal,
		StartedAt:      time.Now(),
	}
	require.NoError(t, f.store.Calls().Create(context.Background(), call))
	return call
}

func (f *fixture) group(t *testing.T, members ...uuid.UUID) *domain.GroupCall {
	t.Helper()
	gc := &domain.GroupCall{
		GroupCallID:    uuid.New(),
		ConversationID: f.conversation(t, domain.ConversationTypeGroup, members...),
		CreatedBy:      members[0],
		StartedAt:      time.Now(),
	}
	require.NoError(t, f.store.GroupCalls().Create(context.Background(), gc))
	return gc
}

func (f *fixture) guest(t *testing.T, groupCallID uuid.UUID) (*domain.GuestParticipant, domain.Principal) {
	t.Helper()
	guest := &domain.GuestParticipant{
		GuestID:     uuid.New(),
		GroupCallID: groupCallID,
		DisplayName: "Гость",
		GuestToken:  uuid.NewString(),
		JoinedAt:    time.Now(),
	}
	require.NoError(t, f.store.GroupCalls().AddGuest(context.Background(), guest))
	return guest, domain.GuestPrincipal(guest.GuestToken, groupCallID)
}

func offer() *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
}

func candidate() *webrtc.ICECandidateInit {
	return &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host"}
}

func TestRelay_OneToOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	call := f.oneToOne(t, a, b)

	err := f.relay.Relay(ctx, domain.UserPrincipal(a), &RelayInput{
		Call: domain.OneToOneRef(call.CallID),
		To:   domain.UserAddressee(b),
		Kind: domain.SignalOffer,
		SDP:  offer(),
	})
	require.NoError(t, err)

	sent := f.events.Named(domain.EventSDP)
	require.Len(t, sent, 1)
	assert.Equal(t, b, *sent[0].UserID)
	envelope := sent[0].Payload.(*domain.SignalingEnvelope)
	assert.Equal(t, domain.UserAddressee(a), envelope.From)
	assert.Equal(t, call.ConversationID, envelope.ConversationID)
	assert.False(t, envelope.Group)

	err = f.relay.Relay(ctx, domain.UserPrincipal(b), &RelayInput{
		Call:      domain.OneToOneRef(call.CallID),
		To:        domain.UserAddressee(a),
		Kind:      domain.SignalICE,
		Candidate: candidate(),
	})
	require.NoError(t, err)
	assert.Len(t, f.events.Named(domain.EventICE), 1)

	// Only the peer can be addressed.
	err = f.relay.Relay(ctx, domain.UserPrincipal(a), &RelayInput{
		Call: domain.OneToOneRef(call.CallID),
		To:   domain.UserAddressee(c),
		Kind: domain.SignalOffer,
		SDP:  offer(),
	})
	assert.True(t, apperrors.IsNotFound(err))

	err = f.relay.Relay(ctx, domain.UserPrincipal(c), &RelayInput{
		Call: domain.OneToOneRef(call.CallID),
		To:   domain.UserAddressee(a),
		Kind: domain.SignalOffer,
		SDP:  offer(),
	})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.store.Calls().End(ctx, call.CallID, time.Now(), false)
	require.NoError(t, err)
	err = f.relay.Relay(ctx, domain.UserPrincipal(a), &RelayInput{
		Call: domain.OneToOneRef(call.CallID),
		To:   domain.UserAddressee(b),
		Kind: domain.SignalOffer,
		SDP:  offer(),
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))
	assert.Len(t, f.events.Named(domain.EventSDP), 1)
}

func TestRelay_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a, b := uuid.New(), uuid.New()
	call := f.oneToOne(t, a, b)
	ref := domain.OneToOneRef(call.CallID)
	to := domain.UserAddressee(b)

	tests := []struct {
		name  string
		input *RelayInput
		code  apperrors.ErrorCode
	}{
		{"missing call", &RelayInput{To: to, Kind: domain.SignalOffer, SDP: offer()}, apperrors.ErrCodeInvalidInput},
		{"missing addressee", &RelayInput{Call: ref, Kind: domain.SignalOffer, SDP: offer()}, apperrors.ErrCodeInvalidInput},
		{"unknown kind", &RelayInput{Call: ref, To: to, Kind: "renegotiate", SDP: offer()}, apperrors.ErrCodeInvalidInput},
		{"ice without candidate", &RelayInput{Call: ref, To: to, Kind: domain.SignalICE}, apperrors.ErrCodeMissingField},
		{"answer without sdp", &RelayInput{Call: ref, To: to, Kind: domain.SignalAnswer}, apperrors.ErrCodeMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.relay.Relay(ctx, domain.UserPrincipal(a), tt.input)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}
	assert.Empty(t, f.events.Events())
}

func TestRelay_GroupWithGuests(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a, invitee := uuid.New(), uuid.New()
	gc := f.group(t, a, invitee)
	_, _, err := f.store.GroupCalls().Invite(ctx, gc.GroupCallID, invitee)
	require.NoError(t, err)
	guest, guestPrincipal := f.guest(t, gc.GroupCallID)

	err = f.relay.Relay(ctx, domain.UserPrincipal(a), &RelayInput{
		Call:      domain.GroupRef(gc.GroupCallID),
		To:        domain.GuestAddressee(guest.GuestID),
		Kind:      domain.SignalICE,
		Candidate: candidate(),
	})
	require.NoError(t, err)
	ice := f.events.Named(domain.EventICE)
	require.Len(t, ice, 1)
	assert.Equal(t, guest.GuestID, *ice[0].GuestID)
	assert.Nil(t, ice[0].UserID)

	err = f.relay.Relay(ctx, guestPrincipal, &RelayInput{
		Call: domain.GroupRef(gc.GroupCallID),
		To:   domain.UserAddressee(a),
		Kind: domain.SignalAnswer,
		SDP:  &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"},
	})
	require.NoError(t, err)
	sdp := f.events.Named(domain.EventSDP)
	require.Len(t, sdp, 1)
	assert.Equal(t, domain.GuestAddressee(guest.GuestID), sdp[0].Payload.(*domain.SignalingEnvelope).From)

	// An invitee that never joined is not an active participant.
	err = f.relay.Relay(ctx, domain.UserPrincipal(a), &RelayInput{
		Call: domain.GroupRef(gc.GroupCallID),
		To:   domain.UserAddressee(invitee),
		Kind: domain.SignalOffer,
		SDP:  offer(),
	})
	assert.True(t, apperrors.IsNotFound(err))

	err = f.relay.Relay(ctx, domain.UserPrincipal(invitee), &RelayInput{
		Call: domain.GroupRef(gc.GroupCallID),
		To:   domain.UserAddressee(a),
		Kind: domain.SignalOffer,
		SDP:  offer(),
	})
	assert.True(t, apperrors.IsNotFound(err))

	err = f.relay.Relay(ctx, domain.UserPrincipal(a), &RelayInput{
		Call: domain.GroupRef(gc.GroupCallID),
		To:   domain.UserAddressee(a),
		Kind: domain.SignalOffer,
		SDP:  offer(),
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	_, err = f.store.GroupCalls().LeaveGuest(ctx, guest.GuestID, time.Now())
	require.NoError(t, err)
	err = f.relay.Relay(ctx, domain.UserPrincipal(a), &RelayInput{
		Call:      domain.GroupRef(gc.GroupCallID),
		To:        domain.GuestAddressee(guest.GuestID),
		Kind:      domain.SignalICE,
		Candidate: candidate(),
	})
	assert.True(t, apperrors.IsNotFound(err))

	err = f.relay.Relay(ctx, guestPrincipal, &RelayInput{
		Call: domain.GroupRef(gc.GroupCallID),
		To:   domain.UserAddressee(a),
		Kind: domain.SignalOffer,
		SDP:  offer(),
	})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRelay_GuestCannotReachAnotherGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a, b := uuid.New(), uuid.New()
	first := f.group(t, a)
	second := f.group(t, b)
	_, guestPrincipal := f.guest(t, first.GroupCallID)

	err := f.relay.Relay(ctx, guestPrincipal, &RelayInput{
		Call: domain.GroupRef(second.GroupCallID),
		To:   domain.UserAddressee(b),
		Kind: domain.SignalOffer,
		SDP:  offer(),
	})
	assert.True(t, apperrors.IsNotFound(err))

	err = f.relay.Relay(ctx, guestPrincipal, &RelayInput{
		Call: domain.OneToOneRef(uuid.New()),
		To:   domain.UserAddressee(a),
		Kind: domain.SignalOffer,
		SDP:  offer(),
	})
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, f.events.Events())
}
