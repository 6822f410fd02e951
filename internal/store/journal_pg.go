package store

import (
	"context"
	"time"

	"lendinglibrary/internal/borrowing"
	"lendinglibrary/internal/platform/pgutil"
)

// JournalPG appends to operation_logs.
type JournalPG struct {
	db      pgutil.DBTX
	timeout time.Duration
}

func NewJournalPG(db pgutil.DBTX, timeout time.Duration) *JournalPG {
	return &JournalPG{db: db, timeout: timeout}
}

func (j *JournalPG) Record(ctx context.Context, e borrowing.Entry) error {
	const query = `
		INSERT INTO operation_logs (actor_id, action, book_id, loan_id, borrower_id, detail, created_at)
		VALUES (NULLIF($1, ''), $2, $3, NULLIF($4, '')::uuid, NULLIF($5, ''), $6, $7)
	`
	timeoutCtx, cancel := pgutil.WithTimeout(ctx, j.timeout)
	defer cancel()
	_, err := j.db.Exec(timeoutCtx, query, e.ActorID, string(e.Action), e.BookID, e.LoanID, e.BorrowerID, e.Detail, e.At)
	return err
}

// Recent returns the latest entries for bookID, newest first.
func (j *JournalPG) Recent(ctx context.Context, bookID string, limit int) ([]borrowing.Entry, error) {
	if !pgutil.ValidID(bookID) {
		return []borrowing.Entry{}, nil
	}
	const query = `
		SELECT COALESCE(actor_id, ''), action, book_id, COALESCE(loan_id::text, ''),
		       COALESCE(borrower_id, ''), detail, created_at
		FROM operation_logs
		WHERE book_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	timeoutCtx, cancel := pgutil.WithTimeout(ctx, j.timeout)
	defer cancel()
	rows, err := j.db.Query(timeoutCtx, query, bookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []borrowing.Entry{}
	for rows.Next() {
		var e borrowing.Entry
		var action string
		if err := rows.Scan(&e.ActorID, &action, &e.BookID, &e.LoanID, &e.BorrowerID, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		e.Action = borrowing.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
