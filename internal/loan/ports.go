package loan

import (
	"context"
	"time"
)

// Store is the loan ledger. The pair (book, borrower) has at most one active record,
// and the store enforces that independently of its callers.
type Store interface {
	Get(ctx context.Context, loanID string) (Record, error)
	HasActiveLoan(ctx context.Context, bookID, borrowerID string) (bool, error)
	CreateActive(ctx context.Context, bookID, borrowerID string, borrowedAt, dueAt time.Time) (Record, error)
	CloseActive(ctx context.Context, loanID string, returnedAt time.Time) (Record, error)
	FindActiveByBook(ctx context.Context, bookID, borrowerID string) (Record, error)
	// ListOverdue yields active loans with due_at < asOf, earliest due first.
	ListOverdue(ctx context.Context, asOf time.Time) ([]Record, error)
	// List yields records matching f, most recently borrowed first.
	List(ctx context.Context, f Filter) ([]Record, error)
}
