package loan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverdueDataset(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sql, args, err := overdueDataset(asOf).ToSQL()
	require.NoError(t, err)

	assert.Contains(t, sql, `FROM "loan_records"`)
	assert.Contains(t, sql, `"state" = $1`)
	assert.Contains(t, sql, `"due_at" < $2`)
	assert.Contains(t, sql, `ORDER BY "due_at" ASC, "id" ASC`)
	assert.Equal(t, []any{"active", asOf}, args)
}

func TestListDataset(t *testing.T) {
	t.Run("no filter", func(t *testing.T) {
		sql, args, err := listDataset(Filter{}).ToSQL()
		require.NoError(t, err)
		assert.NotContains(t, sql, "WHERE")
		assert.Contains(t, sql, `ORDER BY "borrowed_at" DESC, "id" ASC`)
		assert.Empty(t, args)
	})

	t.Run("active loans of one borrower", func(t *testing.T) {
		sql, args, err := listDataset(Filter{BorrowerID: "reader-1", State: StateActive}).ToSQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `"borrower_id" = $1`)
		assert.Contains(t, sql, `"state" = $2`)
		assert.Equal(t, []any{"reader-1", "active"}, args)
	})

	t.Run("limit", func(t *testing.T) {
		sql, args, err := listDataset(Filter{BookID: "b-1", Limit: 5}).ToSQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `"book_id" = $1`)
		assert.Contains(t, sql, "LIMIT $2")
		assert.Len(t, args, 2)
	})
}

func TestRecord_Active(t *testing.T) {
	assert.True(t, Record{State: StateActive}.Active())
	assert.False(t, Record{State: StateReturned}.Active())
}
