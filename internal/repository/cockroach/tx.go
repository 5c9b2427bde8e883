package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"callhub-backend/internal/repository"
	"callhub-backend/pkg/constants"
	"callhub-backend/pkg/logger"
)

// SQLSTATE codes we react to
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// runInTx runs fn in a transaction and commits it. CockroachDB aborts
// contending serializable transactions with 40001; those are retried up to
// constants.TxMaxAttempts times. Unique violations surface as repository.ErrConflict.
func runInTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	return retrySerializable(func() error {
		return runOnce(ctx, pool, fn)
	})
}

func retrySerializable(attemptFn func() error) error {
	var err error
	for attempt := 1; attempt <= constants.TxMaxAttempts; attempt++ {
		err = attemptFn()
		if err == nil || !isSerializationFailure(err) {
			break
		}
		logger.Debug("Retrying serialization failure", zap.Int("attempt", attempt), zap.Error(err))
	}
	return translateError(err)
}

func runOnce(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isSerializationFailure(err error) bool {
	return pgErrorCode(err) == codeSerializationFailure
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == codeUniqueViolation
}

// translateError maps driver errors onto repository sentinels
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrConflict):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return repository.ErrNotFound
	case isUniqueViolation(err):
		var pgErr *pgconn.PgError
		errors.As(err, &pgErr)
		return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
