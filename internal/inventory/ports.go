package inventory

import (
	"context"
)

// Ledger is the source of truth for copy counts. Implementations are bound to a
// single unit of work; every mutation is visible only after that unit commits.
type Ledger interface {
	Get(ctx context.Context, bookID string) (Book, error)
	GetByISBN(ctx context.Context, isbn string) (Book, error)
	// TryReserve takes one copy of an active book. It returns ErrNotFound for a
	// missing or withdrawn book and ErrExhausted when available_count is 0.
	TryReserve(ctx context.Context, bookID string) error
	// Release puts one copy back. Exceeding total_count is an ErrConsistency.
	Release(ctx context.Context, bookID string) error
	// Resize sets total_count and moves available_count by the same delta.
	Resize(ctx context.Context, bookID string, newTotal int) (Book, error)
	// Withdraw retires an active book that has no copies in circulation.
	Withdraw(ctx context.Context, bookID string) (Book, error)
}
