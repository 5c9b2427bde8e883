package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu        sync.Mutex
	lists     map[string][]string
	retention map[string]time.Duration
	err       error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{lists: map[string][]string{}, retention: map[string]time.Duration{}}
}

func (m *memoryStore) Append(_ context.Context, key string, value []byte, retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.lists[key] = append([]string{string(value)}, m.lists[key]...)
	m.retention[key] = retention
	return nil
}

func (m *memoryStore) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if start >= int64(len(list)) {
		return nil, nil
	}
	if stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	return list[start : stop+1], nil
}

func TestAuditLogger_LogAndRead(t *testing.T) {
	store := newMemoryStore()
	al := NewAuditLogger(store)
	day := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	al.now = func() time.Time { return day }

	userID := uuid.New()
	groupCallID := uuid.New()
	require.NoError(t, al.Log(context.Background(), &AuditEvent{
		EventType: EventLinkIssue, UserID: &userID, Resource: "group_call:" + groupCallID.String(), Success: true,
	}))
	guestID := uuid.New()
	require.NoError(t, al.Log(context.Background(), &AuditEvent{
		EventType: EventGuestRedeem, GuestID: &guestID, Resource: "group_call:" + groupCallID.String(), Success: true,
	}))

	assert.Equal(t, 90*24*time.Hour, store.retention["audit:events:2026-10-17"])

	events, err := al.GetEventsByDate(context.Background(), day, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventGuestRedeem, events[0].EventType)
	assert.Equal(t, guestID, *events[0].GuestID)
	assert.Equal(t, EventLinkIssue, events[1].EventType)
	assert.NotEqual(t, uuid.Nil, events[1].EventID)
	assert.True(t, day.Equal(events[1].Timestamp))

	page, err := al.GetEventsByDate(context.Background(), day, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, EventLinkIssue, page[0].EventType)

	none, err := al.GetEventsByDate(context.Background(), day.AddDate(0, 0, 1), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditLogger_RecordSwallowsStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("redis down")
	al := NewAuditLogger(store)

	assert.Error(t, al.Log(context.Background(), &AuditEvent{EventType: EventLinkRevoke}))
	assert.NotPanics(t, func() {
		al.Record(context.Background(), &AuditEvent{EventType: EventLinkRevoke})
	})
}
