// Package policy holds the borrowing rules: duration bounds, due dates and fines.
// Everything here is a pure function of its arguments.
package policy

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	DefaultMinDays    = 1
	DefaultMaxDays    = 60
	DefaultFinePerDay = 0.5
	// DefaultLoanDays is used when a borrower does not ask for a duration.
	DefaultLoanDays = 30
)

var (
	ErrOutOfRange      = errors.New("requested duration out of range")
	ErrInvalidSettings = errors.New("invalid borrowing policy settings")
)

const day = 24 * time.Hour

// Settings are owned by administration and read fresh on every borrow.
type Settings struct {
	MinDays    int     `json:"min_days"`
	MaxDays    int     `json:"max_days"`
	FinePerDay float64 `json:"fine_per_day"`
}

func DefaultSettings() Settings {
	return Settings{MinDays: DefaultMinDays, MaxDays: DefaultMaxDays, FinePerDay: DefaultFinePerDay}
}

// Validate checks 1 <= min_days <= max_days and fine_per_day >= 0.
func (s Settings) Validate() error {
	if s.MinDays < 1 {
		return fmt.Errorf("%w: min_days %d < 1", ErrInvalidSettings, s.MinDays)
	}
	if s.MaxDays < s.MinDays {
		return fmt.Errorf("%w: max_days %d < min_days %d", ErrInvalidSettings, s.MaxDays, s.MinDays)
	}
	if s.FinePerDay < 0 || math.IsNaN(s.FinePerDay) || math.IsInf(s.FinePerDay, 0) {
		return fmt.Errorf("%w: fine_per_day %v", ErrInvalidSettings, s.FinePerDay)
	}
	return nil
}

func ValidateDuration(requestedDays int, s Settings) error {
	if requestedDays < s.MinDays || requestedDays > s.MaxDays {
		return fmt.Errorf("%w: %d days, allowed %d to %d", ErrOutOfRange, requestedDays, s.MinDays, s.MaxDays)
	}
	return nil
}

// ComputeDueDate adds calendar days, keeping the wall clock time.
func ComputeDueDate(now time.Time, requestedDays int) time.Time {
	return now.AddDate(0, 0, requestedDays)
}

// ComputeOverdue counts whole days past dueAt; a partial day does not count.
func ComputeOverdue(now, dueAt time.Time) (bool, int) {
	if !now.After(dueAt) {
		return false, 0
	}
	return true, int(now.Sub(dueAt) / day)
}

// ComputeFine is rounded to cents and never negative.
func ComputeFine(overdueDays int, finePerDay float64) float64 {
	if overdueDays <= 0 || finePerDay <= 0 {
		return 0
	}
	return math.Round(float64(overdueDays)*finePerDay*100) / 100
}
