package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
)

// CallRepository is the one-to-one calls view of a Store
type CallRepository struct {
	s *Store
}

// Create inserts an active call, rejecting a second active call for the pair
func (r *CallRepository) Create(_ context.Context, call *domain.Call) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	low, high := domain.UserPair(call.CallerID, call.CalleeID)
	pair := pairKey{low, high}
	if _, ok := r.s.activePairs[pair]; ok {
		return fmt.Errorf("%w: calls_active_pair_key", repository.ErrConflict)
	}
	if _, ok := r.s.calls[call.CallID]; ok {
		return fmt.Errorf("%w: calls_pkey", repository.ErrConflict)
	}
	r.s.calls[call.CallID] = copyCall(call)
	r.s.activePairs[pair] = call.CallID
	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(_ context.Context, callID uuid.UUID) (*domain.Call, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	call, ok := r.s.calls[callID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyCall(call), nil
}

// End marks an active call as ended. Declined calls get a zero duration.
func (r *CallRepository) End(_ context.Context, callID uuid.UUID, endedAt time.Time, declined bool) (*domain.Call, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	call, ok := r.s.calls[callID]
	if !ok || !call.IsActive() {
		return nil, repository.ErrNotFound
	}
	return r.s.endCallLocked(call, endedAt, declined), nil
}

// endCallLocked stamps EndedAt and frees the pair for a new call
func (s *Store) endCallLocked(call *domain.Call, endedAt time.Time, declined bool) *domain.Call {
	duration := 0
	if !declined {
		duration = domain.DurationBetween(call.StartedAt, endedAt)
	}
	call.EndedAt = timePtr(endedAt)
	call.DurationSec = &duration

	low, high := domain.UserPair(call.CallerID, call.CalleeID)
	delete(s.activePairs, pairKey{low, high})
	return copyCall(call)
}

// GetUserCalls retrieves the calls a user placed or received, newest first
func (r *CallRepository) GetUserCalls(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var calls []*domain.Call
	for _, call := range r.s.calls {
		if call.HasParticipant(userID) {
			calls = append(calls, copyCall(call))
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].StartedAt.After(calls[j].StartedAt)
	})

	if offset >= len(calls) {
		return []*domain.Call{}, nil
	}
	calls = calls[offset:]
	if limit < len(calls) {
		calls = calls[:limit]
	}
	return calls, nil
}
