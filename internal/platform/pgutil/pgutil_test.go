package pgutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	wrapped := fmt.Errorf("insert loan: %w", &pgconn.PgError{Code: CodeUniqueViolation})

	assert.Equal(t, CodeUniqueViolation, Code(wrapped))
	assert.Equal(t, "", Code(errors.New("plain")))
	assert.True(t, IsUniqueViolation(wrapped))
	assert.False(t, IsCheckViolation(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: CodeSerializationFailure}))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: CodeDeadlockDetected}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: CodeUniqueViolation}))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), 0)
	defer cancel()
	_, ok := ctx.Deadline()
	assert.False(t, ok)

	ctx2, cancel2 := WithTimeout(context.Background(), time.Second)
	defer cancel2()
	_, ok = ctx2.Deadline()
	assert.True(t, ok)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("6f1d2c9e-3a4b-4c5d-8e9f-0a1b2c3d4e5f"))
	assert.False(t, ValidID("book-1"))
	assert.False(t, ValidID(""))
}
