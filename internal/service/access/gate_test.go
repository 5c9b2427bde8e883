package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
	apperrors "callhub-backend/pkg/errors"
)

// Mocks
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

type MockGroupCallRepository struct {
	mock.Mock
}

func (m *MockGroupCallRepository) GetByID(ctx context.Context, groupCallID uuid.UUID) (*domain.GroupCall, error) {
	args := m.Called(ctx, groupCallID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GroupCall), args.Error(1)
}

func (m *MockGroupCallRepository) GetGuestByToken(ctx context.Context, guestToken string) (*domain.GuestParticipant, error) {
	args := m.Called(ctx, guestToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GuestParticipant), args.Error(1)
}

func newGate() (*Gate, *MockConversationRepository, *MockCallRepository, *MockGroupCallRepository) {
	convs := new(MockConversationRepository)
	calls := new(MockCallRepository)
	groups := new(MockGroupCallRepository)
	return NewGate(convs, calls, groups), convs, calls, groups
}

func TestAuthorizeConversation(t *testing.T) {
	ctx := context.Background()
	convID := uuid.New()
	userID := uuid.New()

	t.Run("member", func(t *testing.T) {
		gate, convs, _, _ := newGate()
		convs.On("IsMember", ctx, convID, userID).Return(true, nil)

		assert.NoError(t, gate.AuthorizeConversation(ctx, domain.UserPrincipal(userID), convID))
		convs.AssertExpectations(t)
	})

	t.Run("hidden or missing membership looks like not found", func(t *testing.T) {
		gate, convs, _, _ := newGate()
		convs.On("IsMember", ctx, convID, userID).Return(false, nil)

		err := gate.AuthorizeConversation(ctx, domain.UserPrincipal(userID), convID)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("no principal", func(t *testing.T) {
		gate, _, _, _ := newGate()

		err := gate.AuthorizeConversation(ctx, domain.Principal{}, convID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
	})

	t.Run("guest is never a conversation member", func(t *testing.T) {
		gate, convs, _, _ := newGate()

		err := gate.AuthorizeConversation(ctx, domain.GuestPrincipal("tok", uuid.New()), convID)
		assert.True(t, apperrors.IsNotFound(err))
		convs.AssertNotCalled(t, "IsMember", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("store failure", func(t *testing.T) {
		gate, convs, _, _ := newGate()
		convs.On("IsMember", ctx, convID, userID).Return(false, errors.New("connection reset"))

		err := gate.AuthorizeConversation(ctx, domain.UserPrincipal(userID), convID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
	})
}

func TestAuthorizeCall(t *testing.T) {
	ctx := context.Background()
	caller, callee, outsider := uuid.New(), uuid.New(), uuid.New()
	call := &domain.Call{CallID: uuid.New(), ConversationID: uuid.New(), CallerID: caller, CalleeID: callee}

	t.Run("participant", func(t *testing.T) {
		gate, convs, calls, _ := newGate()
		calls.On("GetByID", ctx, call.CallID).Return(call, nil)
		convs.On("IsMember", ctx, call.ConversationID, callee).Return(true, nil)

		got, err := gate.AuthorizeCall(ctx, domain.UserPrincipal(callee), call.CallID)
		require.NoError(t, err)
		assert.Equal(t, call.CallID, got.CallID)
	})

	t.Run("outsider", func(t *testing.T) {
		gate, _, calls, _ := newGate()
		calls.On("GetByID", ctx, call.CallID).Return(call, nil)

		_, err := gate.AuthorizeCall(ctx, domain.UserPrincipal(outsider), call.CallID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))
	})

	t.Run("missing call", func(t *testing.T) {
		gate, _, calls, _ := newGate()
		calls.On("GetByID", ctx, call.CallID).Return(nil, repository.ErrNotFound)

		_, err := gate.AuthorizeCall(ctx, domain.UserPrincipal(caller), call.CallID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))
	})

	t.Run("guest", func(t *testing.T) {
		gate, _, calls, _ := newGate()

		_, err := gate.AuthorizeCall(ctx, domain.GuestPrincipal("tok", uuid.New()), call.CallID)
		assert.True(t, apperrors.IsNotFound(err))
		calls.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})
}

func TestAuthorizeGroupCall_Guest(t *testing.T) {
	ctx := context.Background()
	gc := &domain.GroupCall{GroupCallID: uuid.New(), ConversationID: uuid.New(), StartedAt: time.Now()}
	guest := &domain.GuestParticipant{GuestID: uuid.New(), GroupCallID: gc.GroupCallID, GuestToken: "tok", JoinedAt: time.Now()}

	t.Run("active guest", func(t *testing.T) {
		gate, _, _, groups := newGate()
		groups.On("GetGuestByToken", ctx, "tok").Return(guest, nil)
		groups.On("GetByID", ctx, gc.GroupCallID).Return(gc, nil)

		got, err := gate.AuthorizeGroupCall(ctx, domain.GuestPrincipal("tok", gc.GroupCallID), gc.GroupCallID)
		require.NoError(t, err)
		assert.Equal(t, gc.GroupCallID, got.GroupCallID)
	})

	t.Run("token for another group call", func(t *testing.T) {
		gate, _, _, groups := newGate()

		_, err := gate.AuthorizeGroupCall(ctx, domain.GuestPrincipal("tok", uuid.New()), gc.GroupCallID)
		assert.True(t, apperrors.IsNotFound(err))
		groups.AssertNotCalled(t, "GetGuestByToken", mock.Anything, mock.Anything)
	})

	t.Run("guest left", func(t *testing.T) {
		gate, _, _, groups := newGate()
		left := *guest
		leftAt := time.Now()
		left.LeftAt = &leftAt
		groups.On("GetGuestByToken", ctx, "tok").Return(&left, nil)

		_, err := gate.AuthorizeGroupCall(ctx, domain.GuestPrincipal("tok", gc.GroupCallID), gc.GroupCallID)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("group call ended", func(t *testing.T) {
		gate, _, _, groups := newGate()
		ended := *gc
		endedAt := time.Now()
		ended.EndedAt = &endedAt
		groups.On("GetGuestByToken", ctx, "tok").Return(guest, nil)
		groups.On("GetByID", ctx, gc.GroupCallID).Return(&ended, nil)

		_, err := gate.AuthorizeGroupCall(ctx, domain.GuestPrincipal("tok", gc.GroupCallID), gc.GroupCallID)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestAuthorizeGroupCall_User(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	gc := &domain.GroupCall{GroupCallID: uuid.New(), ConversationID: uuid.New(), StartedAt: time.Now()}

	gate, convs, _, groups := newGate()
	groups.On("GetByID", ctx, gc.GroupCallID).Return(gc, nil)
	convs.On("IsMember", ctx, gc.ConversationID, userID).Return(false, nil)

	_, err := gate.AuthorizeGroupCall(ctx, domain.UserPrincipal(userID), gc.GroupCallID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeGroupCallNotFound))
}
