package loan

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no matching active loan exists.
	ErrNotFound = errors.New("loan not found")
	// ErrConflict is returned when a second active loan for the same book and borrower is created.
	ErrConflict = errors.New("active loan already exists")
)

type State string

const (
	StateActive   State = "active"
	StateReturned State = "returned"
)

// Record is one borrow event. It is created active, closed exactly once and never deleted.
type Record struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	BorrowerID string     `json:"borrower_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	State      State      `json:"state"`
}

func (r Record) Active() bool {
	return r.State == StateActive
}

// Filter narrows list queries. Zero values mean "any".
type Filter struct {
	BorrowerID string
	BookID     string
	State      State
	Limit      int
}
