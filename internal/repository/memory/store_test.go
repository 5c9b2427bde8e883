package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
)

func seedConversation(t *testing.T, s *Store, convType string, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	conv := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           convType,
		CreatedBy:      members[0],
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.Conversations().Create(context.Background(), conv, members...))
	return conv.ConversationID
}

func newCall(convID, caller, callee uuid.UUID, startedAt time.Time) *domain.Call {
	return &domain.Call{
		CallID:         uuid.New(),
		ConversationID: convID,
		CallerID:       caller,
		CalleeID:       callee,
		Direction:      domain.CallDirectionInternal,
		StartedAt:      startedAt,
	}
}

func TestCallRepository_ActivePairIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b := uuid.New(), uuid.New()
	convID := seedConversation(t, s, domain.ConversationTypeDirect, a, b)
	now := time.Now()

	first := newCall(convID, a, b, now)
	require.NoError(t, s.Calls().Create(ctx, first))

	err := s.Calls().Create(ctx, newCall(convID, b, a, now))
	assert.ErrorIs(t, err, repository.ErrConflict)

	ended, err := s.Calls().End(ctx, first.CallID, now.Add(95*time.Second), false)
	require.NoError(t, err)
	require.NotNil(t, ended.DurationSec)
	assert.Equal(t, 95, *ended.DurationSec)

	_, err = s.Calls().End(ctx, first.CallID, now, false)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.NoError(t, s.Calls().Create(ctx, newCall(convID, b, a, now)))
}

func TestCallRepository_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b := uuid.New(), uuid.New()
	convID := seedConversation(t, s, domain.ConversationTypeDirect, a, b)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller, callee := a, b
			if i%2 == 1 {
				caller, callee = b, a
			}
			if err := s.Calls().Create(ctx, newCall(convID, caller, callee, time.Now())); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestGroupCallRepository_LeaveEndsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b := uuid.New(), uuid.New()
	convID := seedConversation(t, s, domain.ConversationTypeGroup, a, b)
	now := time.Now()

	gc := &domain.GroupCall{GroupCallID: uuid.New(), ConversationID: convID, CreatedBy: a, StartedAt: now}
	require.NoError(t, s.GroupCalls().Create(ctx, gc))
	_, err := s.GroupCalls().Join(ctx, gc.GroupCallID, b, now)
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ended int
	)
	for _, user := range []uuid.UUID{a, b} {
		wg.Add(1)
		go func(user uuid.UUID) {
			defer wg.Done()
			res, err := s.GroupCalls().Leave(ctx, gc.GroupCallID, user, time.Now())
			if assert.NoError(t, err) && res.Ended != nil {
				mu.Lock()
				ended++
				mu.Unlock()
			}
		}(user)
	}
	wg.Wait()

	assert.Equal(t, 1, ended)
	stored, err := s.GroupCalls().GetByID(ctx, gc.GroupCallID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive())
}

func TestGroupCallRepository_InviteeKeepsCallAlive(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, c := uuid.New(), uuid.New()
	convID := seedConversation(t, s, domain.ConversationTypeGroup, a, c)
	now := time.Now()

	gc := &domain.GroupCall{GroupCallID: uuid.New(), ConversationID: convID, CreatedBy: a, StartedAt: now}
	require.NoError(t, s.GroupCalls().Create(ctx, gc))
	_, created, err := s.GroupCalls().Invite(ctx, gc.GroupCallID, c)
	require.NoError(t, err)
	assert.True(t, created)

	res, err := s.GroupCalls().Leave(ctx, gc.GroupCallID, a, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, res.Ended)

	joined, err := s.GroupCalls().Join(ctx, gc.GroupCallID, c, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantJoined, joined.State())

	res, err = s.GroupCalls().Leave(ctx, gc.GroupCallID, c, now.Add(3*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, res.Ended)
	assert.Equal(t, 180, *res.Ended.DurationSec)
}

func TestGroupCallRepository_LastDeclineEndsCall(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, c := uuid.New(), uuid.New()
	convID := seedConversation(t, s, domain.ConversationTypeGroup, a, c)
	now := time.Now()

	gc := &domain.GroupCall{GroupCallID: uuid.New(), ConversationID: convID, CreatedBy: a, StartedAt: now}
	require.NoError(t, s.GroupCalls().Create(ctx, gc))
	_, _, err := s.GroupCalls().Invite(ctx, gc.GroupCallID, c)
	require.NoError(t, err)

	res, err := s.GroupCalls().Leave(ctx, gc.GroupCallID, a, now)
	require.NoError(t, err)
	assert.Nil(t, res.Ended)

	ended, err := s.GroupCalls().DeclineInvite(ctx, gc.GroupCallID, c, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.False(t, ended.IsActive())

	_, err = s.GroupCalls().DeclineInvite(ctx, gc.GroupCallID, c, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGroupCallRepository_EndClosesGuests(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := uuid.New()
	convID := seedConversation(t, s, domain.ConversationTypeGroup, a)
	now := time.Now()

	gc := &domain.GroupCall{GroupCallID: uuid.New(), ConversationID: convID, CreatedBy: a, StartedAt: now}
	require.NoError(t, s.GroupCalls().Create(ctx, gc))
	guest := &domain.GuestParticipant{GuestID: uuid.New(), GroupCallID: gc.GroupCallID, DisplayName: "Гость", GuestToken: "tok", JoinedAt: now}
	require.NoError(t, s.GroupCalls().AddGuest(ctx, guest))

	_, err := s.GroupCalls().End(ctx, gc.GroupCallID, now)
	require.NoError(t, err)

	stored, err := s.GroupCalls().GetGuestByToken(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, stored.IsActive())

	_, err = s.GroupCalls().End(ctx, gc.GroupCallID, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGroupCallRepository_ConcurrentPromote(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	convID := seedConversation(t, s, domain.ConversationTypeDirect, a, b)
	call := newCall(convID, a, b, time.Now())
	require.NoError(t, s.Calls().Create(ctx, call))

	results := make([]*domain.PromoteResult, 2)
	var wg sync.WaitGroup
	for i, invitee := range []uuid.UUID{c, d} {
		wg.Add(1)
		go func(i int, invitee uuid.UUID) {
			defer wg.Done()
			res, err := s.GroupCalls().Promote(ctx, call.CallID, a, invitee, time.Now())
			assert.NoError(t, err)
			results[i] = res
		}(i, invitee)
	}
	wg.Wait()
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])

	assert.Equal(t, results[0].GroupCall.GroupCallID, results[1].GroupCall.GroupCallID)
	assert.NotEqual(t, results[0].Created, results[1].Created)

	stored, err := s.Calls().GetByID(ctx, call.CallID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive())

	participants, err := s.GroupCalls().GetParticipants(ctx, results[0].GroupCall.GroupCallID)
	require.NoError(t, err)
	assert.Len(t, participants, 4)
}

func TestLinkRepository_GetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := uuid.New()
	convID := seedConversation(t, s, domain.ConversationTypeGroup, a)
	now := time.Now()

	gc := &domain.GroupCall{GroupCallID: uuid.New(), ConversationID: convID, CreatedBy: a, StartedAt: now}
	require.NoError(t, s.GroupCalls().Create(ctx, gc))

	link := &domain.CallLink{
		Token:     "first",
		Target:    domain.GroupCallTarget(gc.GroupCallID),
		CreatedBy: a,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	got, created, err := s.Links().GetOrCreate(ctx, link, now)
	require.NoError(t, err)
	assert.True(t, created)

	second := *link
	second.Token = "second"
	got2, created, err := s.Links().GetOrCreate(ctx, &second, now)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, got.Token, got2.Token)

	n, err := s.Links().DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
