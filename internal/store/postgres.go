// Package store provides the Postgres unit of work behind the borrowing engine.
//
// Each unit of work is one READ COMMITTED transaction. The schema carries the
// invariants (non-negative, bounded available_count and one active loan per book
// and borrower), so concurrent borrows of the last copy are decided by row locks
// and constraints rather than by in-process locking.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lendinglibrary/internal/borrowing"
	"lendinglibrary/internal/inventory"
	"lendinglibrary/internal/loan"
	"lendinglibrary/internal/platform/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	retry   retryConfig
	logger  *slog.Logger
}

// NewPostgres wires a unit of work over pool. timeout bounds each statement.
func NewPostgres(pool *pgxpool.Pool, timeout time.Duration, logger *slog.Logger, opts ...Option) (*Postgres, error) {
	cfg := retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, timeout: timeout, retry: cfg, logger: logger}, nil
}

func (p *Postgres) Do(ctx context.Context, fn func(ctx context.Context, tx borrowing.Tx) error) error {
	attempts, err := retry(ctx, p.retry, pgutil.IsRetryable, func(ctx context.Context) error {
		return p.runTx(ctx, fn)
	})
	if err == nil {
		return nil
	}
	if pgutil.IsRetryable(err) {
		p.logger.WarnContext(ctx, "unit of work gave up after contention",
			slog.Int("attempts", attempts), slog.String("sqlstate", pgutil.Code(err)))
		return &borrowing.Error{Kind: borrowing.KindConflict, Op: "unit of work", Err: err}
	}
	return err
}

func (p *Postgres) runTx(ctx context.Context, fn func(ctx context.Context, tx borrowing.Tx) error) (err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				p.logger.ErrorContext(ctx, "rollback failed", slog.Any("error", rbErr))
			}
		}
	}()

	if err := fn(ctx, p.bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View runs fn directly on the pool; every statement sees the latest committed data.
func (p *Postgres) View(ctx context.Context, fn func(ctx context.Context, tx borrowing.Tx) error) error {
	return fn(ctx, p.bind(p.pool))
}

func (p *Postgres) bind(db pgutil.DBTX) borrowing.Tx {
	return pgTx{
		books:   inventory.NewPostgresRepo(db, p.timeout),
		loans:   loan.NewPostgresRepo(db, p.timeout),
		journal: NewJournalPG(db, p.timeout),
	}
}

type pgTx struct {
	books   *inventory.PostgresRepo
	loans   *loan.PostgresRepo
	journal *JournalPG
}

func (t pgTx) Books() inventory.Ledger    { return t.books }
func (t pgTx) Loans() loan.Store          { return t.loans }
func (t pgTx) Journal() borrowing.Journal { return t.journal }
