package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lendinglibrary/internal/platform/pgutil"

	"github.com/jackc/pgx/v5"
)

const bookColumns = `id, title, author, isbn, total_count, available_count, status, created_at, updated_at`

// PostgresRepo is a Ledger over a transaction or pool.
type PostgresRepo struct {
	db      pgutil.DBTX
	timeout time.Duration
}

func NewPostgresRepo(db pgutil.DBTX, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return pgutil.WithTimeout(ctx, r.timeout)
}

func scanBook(row pgx.Row) (Book, error) {
	var b Book
	err := row.Scan(
		&b.ID, &b.Title, &b.Author, &b.ISBN, &b.TotalCount, &b.AvailableCount,
		&b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) || pgutil.IsMalformedID(err) {
		return ErrNotFound
	}
	if pgutil.IsCheckViolation(err) {
		return fmt.Errorf("%w: %v", ErrConsistency, err)
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, bookID string) (Book, error) {
	if !pgutil.ValidID(bookID) {
		return Book{}, ErrNotFound
	}
	const query = `SELECT ` + bookColumns + ` FROM books WHERE id = $1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanBook(r.db.QueryRow(timeoutCtx, query, bookID))
	if err != nil {
		return Book{}, notFoundOr(err)
	}
	return b, nil
}

func (r *PostgresRepo) GetByISBN(ctx context.Context, isbn string) (Book, error) {
	const query = `SELECT ` + bookColumns + ` FROM books WHERE isbn = $1 LIMIT 1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanBook(r.db.QueryRow(timeoutCtx, query, NormalizeISBN(isbn)))
	if err != nil {
		return Book{}, notFoundOr(err)
	}
	return b, nil
}

// TryReserve relies on the row lock taken by UPDATE: a concurrent caller blocks
// until the first commits and then re-evaluates available_count > 0.
func (r *PostgresRepo) TryReserve(ctx context.Context, bookID string) error {
	if !pgutil.ValidID(bookID) {
		return ErrNotFound
	}
	const query = `
		UPDATE books
		SET available_count = available_count - 1, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND available_count > 0
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(timeoutCtx, query, bookID)
	if err != nil {
		return notFoundOr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	b, err := r.Get(ctx, bookID)
	if err != nil {
		return err
	}
	if b.Status != StatusActive {
		return ErrNotFound
	}
	return ErrExhausted
}

func (r *PostgresRepo) Release(ctx context.Context, bookID string) error {
	if !pgutil.ValidID(bookID) {
		return ErrNotFound
	}
	const query = `
		UPDATE books
		SET available_count = available_count + 1, updated_at = NOW()
		WHERE id = $1 AND available_count < total_count
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(timeoutCtx, query, bookID)
	if err != nil {
		return notFoundOr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	b, err := r.Get(ctx, bookID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: release of book %s with available=%d total=%d",
		ErrConsistency, b.ID, b.AvailableCount, b.TotalCount)
}

func (r *PostgresRepo) Resize(ctx context.Context, bookID string, newTotal int) (Book, error) {
	if !pgutil.ValidID(bookID) {
		return Book{}, ErrNotFound
	}
	if newTotal < 0 {
		return Book{}, fmt.Errorf("%w: total_count %d is negative", ErrInvalidArgument, newTotal)
	}
	const query = `
		UPDATE books
		SET available_count = available_count + ($2 - total_count),
		    total_count = $2,
		    updated_at = NOW()
		WHERE id = $1 AND available_count + ($2 - total_count) >= 0
		RETURNING ` + bookColumns
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanBook(r.db.QueryRow(timeoutCtx, query, bookID, newTotal))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Book{}, notFoundOr(err)
	}

	current, err := r.Get(ctx, bookID)
	if err != nil {
		return Book{}, err
	}
	return Book{}, fmt.Errorf("%w: %d copies on loan exceed new total %d",
		ErrInvalidArgument, current.OnLoan(), newTotal)
}

func (r *PostgresRepo) Withdraw(ctx context.Context, bookID string) (Book, error) {
	if !pgutil.ValidID(bookID) {
		return Book{}, ErrNotFound
	}
	const query = `
		UPDATE books
		SET status = 'withdrawn', updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND available_count = total_count
		RETURNING ` + bookColumns
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanBook(r.db.QueryRow(timeoutCtx, query, bookID))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Book{}, notFoundOr(err)
	}

	current, err := r.Get(ctx, bookID)
	if err != nil {
		return Book{}, err
	}
	if current.Status != StatusActive {
		return Book{}, ErrNotFound
	}
	return Book{}, fmt.Errorf("%w: %d copies on loan", ErrActiveLoans, current.OnLoan())
}
