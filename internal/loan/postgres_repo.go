package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lendinglibrary/internal/platform/pgutil"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
)

const (
	tableLoans    = "loan_records"
	colID         = "id"
	colBookID     = "book_id"
	colBorrowerID = "borrower_id"
	colBorrowedAt = "borrowed_at"
	colDueAt      = "due_at"
	colReturnedAt = "returned_at"
	colState      = "state"

	recordColumns = `id, book_id, borrower_id, borrowed_at, due_at, returned_at, state`
)

var dialect = goqu.Dialect("postgres")

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

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.BookID, &rec.BorrowerID, &rec.BorrowedAt, &rec.DueAt, &rec.ReturnedAt, &rec.State)
	return rec, err
}

func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) || pgutil.IsMalformedID(err) {
		return ErrNotFound
	}
	return err
}

// Get locks the row so a concurrent return of the same loan waits for this unit of work.
func (r *PostgresRepo) Get(ctx context.Context, loanID string) (Record, error) {
	if !pgutil.ValidID(loanID) {
		return Record{}, ErrNotFound
	}
	const query = `SELECT ` + recordColumns + ` FROM loan_records WHERE id = $1 FOR UPDATE`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rec, err := scanRecord(r.db.QueryRow(timeoutCtx, query, loanID))
	if err != nil {
		return Record{}, notFoundOr(err)
	}
	return rec, nil
}

func (r *PostgresRepo) HasActiveLoan(ctx context.Context, bookID, borrowerID string) (bool, error) {
	if !pgutil.ValidID(bookID) {
		return false, nil
	}
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM loan_records
			WHERE book_id = $1 AND borrower_id = $2 AND state = 'active'
		)`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var exists bool
	if err := r.db.QueryRow(timeoutCtx, query, bookID, borrowerID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// CreateActive leans on the partial unique index loan_records_one_active_idx.
func (r *PostgresRepo) CreateActive(ctx context.Context, bookID, borrowerID string, borrowedAt, dueAt time.Time) (Record, error) {
	if !pgutil.ValidID(bookID) {
		return Record{}, ErrNotFound
	}
	const query = `
		INSERT INTO loan_records (id, book_id, borrower_id, borrowed_at, due_at, state)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 'active')
		RETURNING ` + recordColumns
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rec, err := scanRecord(r.db.QueryRow(timeoutCtx, query, bookID, borrowerID, borrowedAt, dueAt))
	if err != nil {
		if pgutil.IsUniqueViolation(err) {
			return Record{}, fmt.Errorf("%w: book %s borrower %s", ErrConflict, bookID, borrowerID)
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *PostgresRepo) CloseActive(ctx context.Context, loanID string, returnedAt time.Time) (Record, error) {
	if !pgutil.ValidID(loanID) {
		return Record{}, ErrNotFound
	}
	const query = `
		UPDATE loan_records
		SET state = 'returned', returned_at = $2
		WHERE id = $1 AND state = 'active'
		RETURNING ` + recordColumns
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rec, err := scanRecord(r.db.QueryRow(timeoutCtx, query, loanID, returnedAt))
	if err != nil {
		return Record{}, notFoundOr(err)
	}
	return rec, nil
}

func (r *PostgresRepo) FindActiveByBook(ctx context.Context, bookID, borrowerID string) (Record, error) {
	if !pgutil.ValidID(bookID) {
		return Record{}, ErrNotFound
	}
	const query = `
		SELECT ` + recordColumns + ` FROM loan_records
		WHERE book_id = $1 AND borrower_id = $2 AND state = 'active'
		FOR UPDATE`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rec, err := scanRecord(r.db.QueryRow(timeoutCtx, query, bookID, borrowerID))
	if err != nil {
		return Record{}, notFoundOr(err)
	}
	return rec, nil
}

func (r *PostgresRepo) ListOverdue(ctx context.Context, asOf time.Time) ([]Record, error) {
	return r.query(ctx, overdueDataset(asOf))
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.BookID != "" && !pgutil.ValidID(f.BookID) {
		return []Record{}, nil
	}
	return r.query(ctx, listDataset(f))
}

func selectRecords() *goqu.SelectDataset {
	return dialect.From(tableLoans).
		Prepared(true).
		Select(colID, colBookID, colBorrowerID, colBorrowedAt, colDueAt, colReturnedAt, colState)
}

func overdueDataset(asOf time.Time) *goqu.SelectDataset {
	return selectRecords().
		Where(
			goqu.C(colState).Eq(string(StateActive)),
			goqu.C(colDueAt).Lt(asOf),
		).
		Order(goqu.C(colDueAt).Asc(), goqu.C(colID).Asc())
}

func listDataset(f Filter) *goqu.SelectDataset {
	ds := selectRecords()
	if f.BorrowerID != "" {
		ds = ds.Where(goqu.C(colBorrowerID).Eq(f.BorrowerID))
	}
	if f.BookID != "" {
		ds = ds.Where(goqu.C(colBookID).Eq(f.BookID))
	}
	if f.State != "" {
		ds = ds.Where(goqu.C(colState).Eq(string(f.State)))
	}
	ds = ds.Order(goqu.C(colBorrowedAt).Desc(), goqu.C(colID).Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	return ds
}

func (r *PostgresRepo) query(ctx context.Context, ds *goqu.SelectDataset) ([]Record, error) {
	sql, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
