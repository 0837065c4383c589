// Package store persists handbook and production data in PostgreSQL and runs
// the wells report queries.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPoolNewFunc allows overriding pgxpool.New for testing.
var pgxPoolNewFunc = pgxpool.New

// Default database connection and query timeout
const defaultDbTimeout = 30 * time.Second

const rollbackTimeout = 5 * time.Second

// DB is the part of a pgx pool or transaction the store uses. *pgxpool.Pool,
// pgx.Tx and pgxmock pools satisfy it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Open creates a connection pool for dsn after environment expansion. Errors
// never carry the password.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	expanded := util.ExpandEnvUniversal(dsn)
	pool, err := pgxPoolNewFunc(ctx, expanded)
	if err != nil {
		masked := util.MaskCredentials(expanded)
		logging.Logf(logging.Error, "Failed to create connection pool: %s", masked)
		return nil, fmt.Errorf("failed to create connection pool (using %s): %w", masked, err)
	}
	return pool, nil
}

// WithTx runs fn inside one transaction. The transaction is rolled back when
// fn returns an error or panics and committed otherwise.
func WithTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out starting transaction: %w", ctx.Err())
		}
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// The caller's context may already be cancelled.
		rbCtx, rbCancel := context.WithTimeout(context.Background(), rollbackTimeout)
		defer rbCancel()
		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logging.Logf(logging.Error, "Failed to rollback transaction: %v", rbErr)
		} else if rbErr == nil {
			logging.Logf(logging.Debug, "Transaction rolled back.")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out committing transaction: %w", ctx.Err())
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// wrapPgError logs Postgres error details and wraps err with op.
func wrapPgError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s timed out: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		logging.Logf(logging.Error, "%s failed. PG Error Code: %s, Message: %s, Detail: %s", op, pgErr.Code, pgErr.Message, pgErr.Detail)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// Store groups the handbook, production and wells queries over one DB.
type Store struct {
	db      DB
	creator *Creator
	timeout time.Duration
}

// New returns a Store. A non-positive batchSize or timeout selects the default.
func New(db DB, batchSize int, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultDbTimeout
	}
	return &Store{db: db, creator: NewCreator(batchSize), timeout: timeout}
}

// Creator exposes the bulk helpers bound to this store's batch size.
func (s *Store) Creator() *Creator { return s.creator }

func (s *Store) withTimeout(ctx context.Context, factor int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout*time.Duration(factor))
}
