package borrowing

import (
	"context"
	"time"

	"lendinglibrary/internal/inventory"
	"lendinglibrary/internal/loan"
)

// UnitOfWork scopes ledger and loan store access to one atomic transaction.
//
// Do commits when fn returns nil and rolls back on any error or panic; nothing fn
// wrote survives a rollback. Implementations may replay fn after a transient
// serialization failure, so fn must not have side effects outside tx.
// View runs fn without exclusivity, for reads only.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	Books() inventory.Ledger
	Loans() loan.Store
	Journal() Journal
}

type Action string

const (
	ActionBorrow   Action = "borrow"
	ActionReturn   Action = "return"
	ActionResize   Action = "resize"
	ActionWithdraw Action = "withdraw"
)

// Entry is one line of the operation journal.
type Entry struct {
	Action     Action    `json:"action"`
	ActorID    string    `json:"actor_id,omitempty"`
	BookID     string    `json:"book_id"`
	LoanID     string    `json:"loan_id,omitempty"`
	BorrowerID string    `json:"borrower_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Journal appends operation entries inside the unit of work that caused them.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	// Recent yields up to limit entries for bookID, newest first.
	Recent(ctx context.Context, bookID string, limit int) ([]Entry, error)
}
