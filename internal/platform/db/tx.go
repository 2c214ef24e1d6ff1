package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTxAttempts bounds the automatic retry loop for conflicting writes.
const DefaultTxAttempts = 5

const baseBackoff = 25 * time.Millisecond

// ErrTxTooLarge signals that the transaction exceeded store limits.
// Callers splitting batched work key their divide-and-conquer retry off it.
var ErrTxTooLarge = errors.New("platform/db: transaction too large")

// Runner executes callbacks inside repeatable-read transactions and
// transparently retries serialization conflicts.
type Runner struct {
	pool     *pgxpool.Pool
	attempts int
	onRetry  func()
}

// NewRunner constructs a Runner. attempts <= 0 falls back to DefaultTxAttempts.
func NewRunner(pool *pgxpool.Pool, attempts int) *Runner {
	if attempts <= 0 {
		attempts = DefaultTxAttempts
	}
	return &Runner{pool: pool, attempts: attempts}
}

// SetRetryHook registers a callback invoked once per retried attempt.
// Must be called before the Runner is shared across goroutines.
func (r *Runner) SetRetryHook(hook func()) {
	r.onRetry = hook
}

// Pool exposes the underlying pool for non-transactional reads.
func (r *Runner) Pool() *pgxpool.Pool {
	return r.pool
}

// WithTx executes fn within a repeatable-read transaction. Write conflicts
// (serialization failures, deadlocks) re-run fn up to the configured attempts,
// so fn must be side-effect free outside the transaction handle.
func (r *Runner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			if r.onRetry != nil {
				r.onRetry()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffWithJitter(attempt)):
			}
		}
		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsSerializationFailure(err) {
			return classify(err)
		}
		lastErr = err
	}
	return fmt.Errorf("platform/db: retries exhausted after %d attempts: %w", r.attempts, lastErr)
}

func (r *Runner) runOnce(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
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

// IsSerializationFailure reports whether the error is a transient write
// conflict worth re-running the transaction for.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 54000 program_limit_exceeded, 53200 out_of_memory
		if pgErr.Code == "54000" || pgErr.Code == "53200" {
			return fmt.Errorf("%w: %s", ErrTxTooLarge, pgErr.Message)
		}
	}
	return err
}

func backoffWithJitter(attempt int) time.Duration {
	backoff := baseBackoff << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(baseBackoff)))
	return backoff + jitter
}
