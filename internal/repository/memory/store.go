// Package memory is an in-process implementation of the call record store.
// It mirrors the invariants the CockroachDB schema enforces (one active call
// per user pair, one active group call per conversation, one promotion per
// call) under a single mutex, and backs the service tests.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"callhub-backend/internal/domain"
)

type memberKey struct {
	conversationID uuid.UUID
	userID         uuid.UUID
}

type pairKey struct {
	low, high uuid.UUID
}

// Store holds every table. Use the typed views to access it.
type Store struct {
	mu sync.Mutex

	conversations map[uuid.UUID]*domain.Conversation
	members       map[memberKey]*domain.ConversationParticipant
	calls         map[uuid.UUID]*domain.Call
	activePairs   map[pairKey]uuid.UUID
	groupCalls    map[uuid.UUID]*domain.GroupCall
	activeGroups  map[uuid.UUID]uuid.UUID // conversation -> active group call
	promotions    map[uuid.UUID]uuid.UUID // origin call -> group call
	participants  map[uuid.UUID]map[uuid.UUID]*domain.GroupCallParticipant
	guests        map[uuid.UUID]*domain.GuestParticipant
	guestTokens   map[string]uuid.UUID
	links         map[string]*domain.CallLink

	now func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		members:       make(map[memberKey]*domain.ConversationParticipant),
		calls:         make(map[uuid.UUID]*domain.Call),
		activePairs:   make(map[pairKey]uuid.UUID),
		groupCalls:    make(map[uuid.UUID]*domain.GroupCall),
		activeGroups:  make(map[uuid.UUID]uuid.UUID),
		promotions:    make(map[uuid.UUID]uuid.UUID),
		participants:  make(map[uuid.UUID]map[uuid.UUID]*domain.GroupCallParticipant),
		guests:        make(map[uuid.UUID]*domain.GuestParticipant),
		guestTokens:   make(map[string]uuid.UUID),
		links:         make(map[string]*domain.CallLink),
		now:           time.Now,
	}
}

func (s *Store) Conversations() *ConversationRepository { return &ConversationRepository{s: s} }
func (s *Store) Calls() *CallRepository                 { return &CallRepository{s: s} }
func (s *Store) GroupCalls() *GroupCallRepository       { return &GroupCallRepository{s: s} }
func (s *Store) Links() *LinkRepository                 { return &LinkRepository{s: s} }

func timePtr(t time.Time) *time.Time {
	return &t
}

func copyCall(c *domain.Call) *domain.Call {
	cp := *c
	return &cp
}

func copyGroupCall(gc *domain.GroupCall) *domain.GroupCall {
	cp := *gc
	return &cp
}

func copyParticipant(p *domain.GroupCallParticipant) *domain.GroupCallParticipant {
	cp := *p
	return &cp
}

func copyGuest(g *domain.GuestParticipant) *domain.GuestParticipant {
	cp := *g
	return &cp
}

func copyLink(l *domain.CallLink) *domain.CallLink {
	cp := *l
	return &cp
}
