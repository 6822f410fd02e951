package policy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"lendinglibrary/internal/platform/pgutil"
)

const (
	KeyMinBorrowDays = "min_borrow_days"
	KeyMaxBorrowDays = "max_borrow_days"
	KeyFinePerDay    = "fine_per_day"
)

// PostgresRepo reads settings from the system_settings key/value table.
// Missing keys fall back to the defaults.
type PostgresRepo struct {
	db      pgutil.DBTX
	timeout time.Duration
}

func NewPostgresRepo(db pgutil.DBTX, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) Current(ctx context.Context) (Settings, error) {
	const query = `SELECT key, value FROM system_settings WHERE key = ANY($1)`
	timeoutCtx, cancel := pgutil.WithTimeout(ctx, r.timeout)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query, []string{KeyMinBorrowDays, KeyMaxBorrowDays, KeyFinePerDay})
	if err != nil {
		return Settings{}, err
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Settings{}, err
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return Settings{}, err
	}
	return ParseSettings(values)
}

// ParseSettings converts raw key/value rows into validated Settings.
func ParseSettings(values map[string]string) (Settings, error) {
	s := DefaultSettings()
	if v, ok := values[KeyMinBorrowDays]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %s=%q", ErrInvalidSettings, KeyMinBorrowDays, v)
		}
		s.MinDays = n
	}
	if v, ok := values[KeyMaxBorrowDays]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %s=%q", ErrInvalidSettings, KeyMaxBorrowDays, v)
		}
		s.MaxDays = n
	}
	if v, ok := values[KeyFinePerDay]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %s=%q", ErrInvalidSettings, KeyFinePerDay, v)
		}
		s.FinePerDay = f
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
