package memory

import (
	"context"
	"fmt"
	"time"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
)

// LinkRepository is the call links view of a Store
type LinkRepository struct {
	s *Store
}

// GetOrCreate returns the newest unexpired link for link.Target or stores link
func (r *LinkRepository) GetOrCreate(_ context.Context, link *domain.CallLink, now time.Time) (*domain.CallLink, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	switch link.Target.Kind() {
	case domain.LinkTargetGroupCall:
		if _, err := r.s.activeGroupCallLocked(link.Target.ID()); err != nil {
			return nil, false, err
		}
	case domain.LinkTargetCall:
		call, ok := r.s.calls[link.Target.ID()]
		if !ok || !call.IsActive() {
			return nil, false, repository.ErrNotFound
		}
	default:
		return nil, false, domain.ErrInvalidLinkTarget
	}

	var newest *domain.CallLink
	for _, existing := range r.s.links {
		if existing.Target != link.Target || existing.IsExpired(now) {
			continue
		}
		if newest == nil || existing.ExpiresAt.After(newest.ExpiresAt) {
			newest = existing
		}
	}
	if newest != nil {
		return copyLink(newest), false, nil
	}

	if _, ok := r.s.links[link.Token]; ok {
		return nil, false, fmt.Errorf("%w: call_links_pkey", repository.ErrConflict)
	}
	r.s.links[link.Token] = copyLink(link)
	return copyLink(link), true, nil
}

// GetByToken retrieves a link by token, expired or not
func (r *LinkRepository) GetByToken(_ context.Context, token string) (*domain.CallLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	link, ok := r.s.links[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyLink(link), nil
}

// Delete removes one link
func (r *LinkRepository) Delete(_ context.Context, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.links[token]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.links, token)
	return nil
}

// DeleteByTarget removes every link pointing at target
func (r *LinkRepository) DeleteByTarget(_ context.Context, target domain.LinkTarget) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for token, link := range r.s.links {
		if link.Target == target {
			delete(r.s.links, token)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes links whose expiry is at or before now
func (r *LinkRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for token, link := range r.s.links {
		if link.IsExpired(now) {
			delete(r.s.links, token)
			n++
		}
	}
	return n, nil
}
