package db

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asgl-platform/docchat/internal/shared"
)

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withTx(ctx, pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
}

// serializableAttempts bounds the retry loop for transactions aborted with a
// serialization failure.
const serializableAttempts = 3

// WithSerializableTx executes a function within a serializable transaction.
// Used by the credit ledger, where the conditional deduct must never observe
// a stale balance. At SERIALIZABLE, Postgres aborts a transaction that loses
// a row-lock race with SQLSTATE 40001 instead of re-evaluating its
// predicates, so contention is an expected outcome here, not a failure: the
// transaction is retried a bounded number of times, and each retry starts
// from a fresh snapshot. fn must therefore be safe to re-run.
func WithSerializableTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return retrySerializable(serializableAttempts, func() error {
		return withTx(ctx, pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
	})
}

func retrySerializable(attempts int, run func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = run()
		if !IsSerializationFailure(err) {
			return err
		}
	}
	return err
}

func withTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsForeignKeyViolation reports whether err is a Postgres foreign key error.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// IsSerializationFailure reports whether err is a Postgres serialization
// failure (40001) or deadlock abort (40P01), both of which are safe to retry.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// Classify maps infrastructure failures onto the shared taxonomy so callers
// can distinguish timeouts from hard store failures. Domain errors pass
// through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", shared.ErrStoreTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", shared.ErrStoreTimeout, err)
		}
		return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
	return err
}
