package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
	"callhub-backend/internal/repository/memory"
	"callhub-backend/internal/service/access"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/fanout"
)

type recordedMessage struct {
	ConversationID uuid.UUID
	Text           string
}

// recordingWriter is a synchronous SystemMessageWriter
type recordingWriter struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (w *recordingWriter) AppendSystemMessage(_ context.Context, conversationID uuid.UUID, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, recordedMessage{ConversationID: conversationID, Text: text})
}

func (w *recordingWriter) all() []recordedMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]recordedMessage(nil), w.messages...)
}

type fixture struct {
	store    *memory.Store
	service  *Service
	events   *fanout.Recorder
	messages *recordingWriter
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	gate := access.NewGate(store.Conversations(), store.Calls(), store.GroupCalls())
	f := &fixture{
		store:    store,
		events:   fanout.NewRecorder(),
		messages: &recordingWriter{},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewService(store.Calls(), store.GroupCalls(), store.Conversations(), gate, f.events, f.messages)
	f.service.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) conversation(t *testing.T, convType string, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	conv := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           convType,
		CreatedBy:      members[0],
		CreatedAt:      f.clock,
	}
	require.NoError(t, f.store.Conversations().Create(context.Background(), conv, members...))
	return conv.ConversationID
}

func user(id uuid.UUID) domain.Principal {
	return domain.UserPrincipal(id)
}

func TestScenario_DeclinedVideoCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	convID := f.conversation(t, domain.ConversationTypeDirect, a, b)

	call, err := f.service.Start(ctx, user(a), &domain.StartCallInput{ConversationID: convID, CalleeID: b, WithVideo: true})
	require.NoError(t, err)
	assert.True(t, call.IsActive())
	assert.Empty(t, f.events.Events())

	require.NoError(t, f.service.Invite(ctx, user(a), call.CallID))
	invites := f.events.Named(domain.EventCallInvite)
	require.Len(t, invites, 1)
	assert.Equal(t, b, *invites[0].UserID)

	f.clock = f.clock.Add(20 * time.Second)
	ended, err := f.service.Decline(ctx, user(b), call.CallID)
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
	require.NotNil(t, ended.DurationSec)
	assert.Equal(t, 0, *ended.DurationSec)

	messages := f.messages.all()
	require.Len(t, messages, 1)
	assert.Equal(t, convID, messages[0].ConversationID)
	assert.Equal(t, "Видеозвонок завершён: отклонён", messages[0].Text)

	ends := f.events.Named(domain.EventCallEnd)
	require.Len(t, ends, 2)
	notified := []uuid.UUID{*ends[0].UserID, *ends[1].UserID}
	assert.ElementsMatch(t, []uuid.UUID{a, b}, notified)
}

func TestDecline_OnlyCallee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	convID := f.conversation(t, domain.ConversationTypeDirect, a, b)

	call, err := f.service.Start(ctx, user(a), &domain.StartCallInput{ConversationID: convID, CalleeID: b})
	require.NoError(t, err)

	_, err = f.service.Decline(ctx, user(a), call.CallID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))

	err = f.service.RequestOffer(ctx, user(a), call.CallID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))

	require.NoError(t, f.service.RequestOffer(ctx, user(b), call.CallID))
	resend := f.events.Named(domain.EventResendOffer)
	require.Len(t, resend, 1)
	assert.Equal(t, a, *resend[0].UserID)
}

func TestEnd_ComputesDurationAndFailsTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	convID := f.conversation(t, domain.ConversationTypeDirect, a, b)

	call, err := f.service.Start(ctx, user(a), &domain.StartCallInput{ConversationID: convID, CalleeID: b})
	require.NoError(t, err)

	f.clock = f.clock.Add(3*time.Minute + 12*time.Second)
	ended, err := f.service.End(ctx, user(b), call.CallID)
	require.NoError(t, err)
	assert.Equal(t, 192, *ended.DurationSec)
	assert.Equal(t, "Звонок завершён, длительность 3:12", f.messages.all()[0].Text)

	_, err = f.service.End(ctx, user(a), call.CallID)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Len(t, f.messages.all(), 1)
}

func TestStart_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b, outsider := uuid.New(), uuid.New(), uuid.New()
	convID := f.conversation(t, domain.ConversationTypeDirect, a, b)

	_, err := f.service.Start(ctx, user(a), &domain.StartCallInput{ConversationID: convID, CalleeID: a})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	_, err = f.service.Start(ctx, user(a), &domain.StartCallInput{ConversationID: convID, CalleeID: outsider})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.service.Start(ctx, user(outsider), &domain.StartCallInput{ConversationID: convID, CalleeID: a})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.service.Start(ctx, domain.Principal{}, &domain.StartCallInput{ConversationID: convID, CalleeID: b})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestStart_ConcurrentSamePair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	convID := f.conversation(t, domain.ConversationTypeDirect, a, b)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		started   int
		conflicts int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller, callee := a, b
			if i%2 == 1 {
				caller, callee = b, a
			}
			_, err := f.service.Start(ctx, user(caller), &domain.StartCallInput{ConversationID: convID, CalleeID: callee})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case apperrors.HasCode(err, apperrors.ErrCodeConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, 15, conflicts)
}

func TestAnnounceCallMedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	convID := f.conversation(t, domain.ConversationTypeDirect, a, b)

	call, err := f.service.Start(ctx, user(a), &domain.StartCallInput{ConversationID: convID, CalleeID: b})
	require.NoError(t, err)

	muted := true
	require.NoError(t, f.service.AnnounceCallMedia(ctx, user(a), call.CallID, &domain.MediaUpdate{Action: domain.MediaMute, Audio: &muted}))
	events := f.events.Named(domain.EventMuted)
	require.Len(t, events, 1)
	assert.Equal(t, b, *events[0].UserID)

	err = f.service.AnnounceCallMedia(ctx, user(a), call.CallID, &domain.MediaUpdate{Action: "dance"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	convID := f.conversation(t, domain.ConversationTypeDirect, a, b)

	for i := 0; i < 3; i++ {
		call, err := f.service.Start(ctx, user(a), &domain.StartCallInput{ConversationID: convID, CalleeID: b})
		require.NoError(t, err)
		f.clock = f.clock.Add(time.Minute)
		_, err = f.service.End(ctx, user(a), call.CallID)
		require.NoError(t, err)
	}

	calls, err := f.service.History(ctx, user(b), 2, 0)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.True(t, calls[0].StartedAt.After(calls[1].StartedAt))

	_, err = f.service.History(ctx, domain.GuestPrincipal("tok", uuid.New()), 10, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0:00"},
		{9, "0:09"},
		{192, "3:12"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
		{-4, "0:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.seconds))
	}
}

// Mocks
type MockSystemMessageStore struct {
	mock.Mock
}

func (m *MockSystemMessageStore) Insert(ctx context.Context, message *domain.SystemMessage) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func TestAsyncMessageWriter(t *testing.T) {
	store := new(MockSystemMessageStore)
	convID := uuid.New()
	store.On("Insert", mock.Anything, mock.MatchedBy(func(m *domain.SystemMessage) bool {
		return m.ConversationID == convID && m.Content == "Звонок завершён"
	})).Return(repository.ErrConflict)

	ctx, cancel := context.WithCancel(context.Background())
	writer := NewAsyncMessageWriter(store, 0)
	writer.AppendSystemMessage(ctx, convID, "Звонок завершён")
	cancel()
	writer.Wait()

	store.AssertExpectations(t)
}
