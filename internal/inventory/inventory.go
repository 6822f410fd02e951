package inventory

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a book does not exist or is not active.
	ErrNotFound = errors.New("book not found")
	// ErrExhausted is returned when no copy of an active book is available.
	ErrExhausted = errors.New("no copies available")
	// ErrInvalidArgument is returned when a resize would leave fewer copies than are lent out.
	ErrInvalidArgument = errors.New("invalid inventory change")
	// ErrConsistency marks a count that broke 0 <= available <= total.
	ErrConsistency = errors.New("inventory consistency violated")
	// ErrActiveLoans is returned when a book with copies in circulation is withdrawn.
	ErrActiveLoans = errors.New("book has active loans")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusWithdrawn Status = "withdrawn"
)

// Book is a catalog title together with its copy counts.
type Book struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Author         string    `json:"author"`
	ISBN           *string   `json:"isbn,omitempty"`
	TotalCount     int       `json:"total_count"`
	AvailableCount int       `json:"available_count"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OnLoan is the number of copies currently attributed to active loans.
func (b Book) OnLoan() int {
	return b.TotalCount - b.AvailableCount
}

// Check verifies 0 <= available_count <= total_count.
func (b Book) Check() error {
	if b.AvailableCount < 0 || b.AvailableCount > b.TotalCount {
		return ErrConsistency
	}
	return nil
}

// NormalizeISBN strips hyphens and spaces and upper-cases the ISBN-10 check
// digit. Books are stored and looked up by the normalized form.
func NormalizeISBN(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ToUpper(s)
}
