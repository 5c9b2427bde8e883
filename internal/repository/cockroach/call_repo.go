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

const callColumns = `call_id, conversation_id, caller_id, callee_id, with_video, direction,
	started_at, ended_at, duration_sec`

// CallRepository handles one-to-one call data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	err := row.Scan(
		&call.CallID,
		&call.ConversationID,
		&call.CallerID,
		&call.CalleeID,
		&call.WithVideo,
		&call.Direction,
		&call.StartedAt,
		&call.EndedAt,
		&call.DurationSec,
	)
	if err != nil {
		return nil, err
	}
	return call, nil
}

// Create inserts an active call. A second active call for the same user pair
// is rejected by calls_active_pair_key and reported as repository.ErrConflict.
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	low, high := domain.UserPair(call.CallerID, call.CalleeID)
	query := `
		INSERT INTO calls (
			call_id, conversation_id, caller_id, callee_id, pair_low, pair_high,
			with_video, direction, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.ConversationID,
		call.CallerID,
		call.CalleeID,
		low,
		high,
		call.WithVideo,
		call.Direction,
		call.StartedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return translateError(err)
		}
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// End marks an active call as ended. Declined calls get a zero duration.
// Returns repository.ErrNotFound when the call is missing or already ended.
func (r *CallRepository) End(ctx context.Context, callID uuid.UUID, endedAt time.Time, declined bool) (*domain.Call, error) {
	return endCall(ctx, r.pool, callID, endedAt, declined)
}

func endCall(ctx context.Context, q querier, callID uuid.UUID, endedAt time.Time, declined bool) (*domain.Call, error) {
	query := `
		UPDATE calls
		SET ended_at = $2,
		    duration_sec = CASE
		        WHEN $3 THEN 0
		        ELSE GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($2::TIMESTAMPTZ - started_at)))::INT)
		    END
		WHERE call_id = $1 AND ended_at IS NULL
		RETURNING ` + callColumns

	call, err := scanCall(q.QueryRow(ctx, query, callID, endedAt, declined))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to end call: %w", err)
	}

	return call, nil
}

// GetUserCalls retrieves the calls a user placed or received, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	calls := make([]*domain.Call, 0, limit)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// lockCall reads a call row FOR UPDATE inside tx
func lockCall(ctx context.Context, tx pgx.Tx, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1 FOR UPDATE`
	call, err := scanCall(tx.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock call: %w", err)
	}
	return call, nil
}
