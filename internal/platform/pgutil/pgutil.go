// Package pgutil holds the small pieces every Postgres-backed repository shares:
// the query interface satisfied by pools and transactions, statement timeouts and
// SQLSTATE classification.
package pgutil

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories react to.
const (
	CodeUniqueViolation      = "23505"
	CodeCheckViolation       = "23514"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeInvalidText          = "22P02"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTimeout bounds a single statement. A zero timeout leaves ctx untouched.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Code returns the SQLSTATE of err, or "" when err is not a server error.
func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool { return Code(err) == CodeUniqueViolation }

func IsCheckViolation(err error) bool { return Code(err) == CodeCheckViolation }

// IsMalformedID reports an identifier Postgres refused to cast, e.g. a non-uuid key.
func IsMalformedID(err error) bool { return Code(err) == CodeInvalidText }

// ValidID reports whether id can be compared against a uuid key. Repositories check
// it before querying: a failed cast aborts the surrounding transaction.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// IsRetryable reports whether the transaction that produced err can be replayed as is.
func IsRetryable(err error) bool {
	switch Code(err) {
	case CodeSerializationFailure, CodeDeadlockDetected:
		return true
	}
	return false
}
