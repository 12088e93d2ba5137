package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/shop-orders/internal/domain/order"
)

// SQLSTATE codes that mean the transaction was rolled back and may be
// retried as a whole.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"
)

const defaultLockTimeout = 5 * time.Second

var _ order.Transactor = (*Store)(nil)

// Store runs order transactions on PostgreSQL. Row locks are taken with
// SELECT ... FOR UPDATE and waits are bounded by lock_timeout.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore returns a Store using pool. A non-positive lockTimeout falls back
// to five seconds.
func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

// InTx runs fn in a READ COMMITTED transaction. Storage failures that can be
// retried are reported as *order.TransientError.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(errors.Wrap(err, "begin"))
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	setTimeout := fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, setTimeout); err != nil {
		return classify(errors.Wrap(err, "set lock timeout"))
	}

	if err := fn(ctx, &unitOfWork{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit"))
	}
	return nil
}

// classify marks retryable storage failures. Domain errors pass through.
func classify(err error) error {
	var te *order.TransientError
	if err == nil || errors.As(err, &te) || !transient(err) {
		return err
	}
	return &order.TransientError{Err: err}
}

func transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return true
		case codeUniqueViolation:
			// Two transactions drew the same order code.
			return pgErr.ConstraintName == "orders_order_code_key"
		}
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded)
}
