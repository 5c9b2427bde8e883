package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
)

const linkColumns = `token, group_call_id, call_id, created_by, created_at, expires_at`

// LinkRepository handles call link storage
type LinkRepository struct {
	pool *pgxpool.Pool
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(pool *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{pool: pool}
}

func scanLink(row pgx.Row) (*domain.CallLink, error) {
	link := &domain.CallLink{}
	var groupCallID, callID *uuid.UUID
	err := row.Scan(
		&link.Token,
		&groupCallID,
		&callID,
		&link.CreatedBy,
		&link.CreatedAt,
		&link.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	target, err := domain.NewLinkTarget(groupCallID, callID)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", link.Token, err)
	}
	link.Target = target
	return link, nil
}

// GetOrCreate returns the newest unexpired link for link.Target or stores link.
// The target row is locked so two concurrent issues for the same target
// converge on one token. The target must still be active.
func (r *LinkRepository) GetOrCreate(ctx context.Context, link *domain.CallLink, now time.Time) (*domain.CallLink, bool, error) {
	var (
		result  *domain.CallLink
		created bool
	)
	groupCallID, callID := link.Target.Columns()

	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		switch link.Target.Kind() {
		case domain.LinkTargetGroupCall:
			if _, err := lockActiveGroupCall(ctx, tx, *groupCallID); err != nil {
				return err
			}
		case domain.LinkTargetCall:
			call, err := lockCall(ctx, tx, *callID)
			if err != nil {
				return err
			}
			if !call.IsActive() {
				return repository.ErrNotFound
			}
		default:
			return domain.ErrInvalidLinkTarget
		}

		query := `
			SELECT ` + linkColumns + `
			FROM call_links
			WHERE group_call_id IS NOT DISTINCT FROM $1::UUID
			  AND call_id IS NOT DISTINCT FROM $2::UUID
			  AND expires_at > $3
			ORDER BY expires_at DESC
			LIMIT 1
		`
		existing, err := scanLink(tx.QueryRow(ctx, query, groupCallID, callID, now))
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to look up link: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO call_links (`+linkColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, link.Token, groupCallID, callID, link.CreatedBy, link.CreatedAt, link.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to create link: %w", err)
		}
		result, created = link, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// GetByToken retrieves a link by token, expired or not
func (r *LinkRepository) GetByToken(ctx context.Context, token string) (*domain.CallLink, error) {
	query := `SELECT ` + linkColumns + ` FROM call_links WHERE token = $1`
	link, err := scanLink(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return link, nil
}

// Delete removes one link
func (r *LinkRepository) Delete(ctx context.Context, token string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM call_links WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByTarget removes every link pointing at target
func (r *LinkRepository) DeleteByTarget(ctx context.Context, target domain.LinkTarget) (int64, error) {
	groupCallID, callID := target.Columns()
	query := `
		DELETE FROM call_links
		WHERE group_call_id IS NOT DISTINCT FROM $1::UUID AND call_id IS NOT DISTINCT FROM $2::UUID
	`
	tag, err := r.pool.Exec(ctx, query, groupCallID, callID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete links: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes links whose expiry is at or before now
func (r *LinkRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM call_links WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired links: %w", err)
	}
	return tag.RowsAffected(), nil
}
