package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"lendinglibrary/internal/borrowing"
	"lendinglibrary/internal/inventory"
	"lendinglibrary/internal/loan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestDo_CommitsOnSuccess(t *testing.T) {
	s := New()
	b := s.AddBook(inventory.Book{Title: "Dune", TotalCount: 2, AvailableCount: 2, ISBN: strPtr("978-0441013593")})
	require.NotNil(t, b.ISBN)
	assert.Equal(t, "9780441013593", *b.ISBN)
	ctx := context.Background()

	err := s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		if err := tx.Books().TryReserve(ctx, b.ID); err != nil {
			return err
		}
		_, err := tx.Loans().CreateActive(ctx, b.ID, "alice", time.Now(), time.Now().AddDate(0, 0, 7))
		return err
	})
	require.NoError(t, err)

	err = s.View(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		got, err := tx.Books().GetByISBN(ctx, "978-0441013593")
		require.NoError(t, err)
		assert.Equal(t, 1, got.AvailableCount)
		ok, err := tx.Loans().HasActiveLoan(ctx, b.ID, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Verify())
}

func TestDo_DiscardsOnError(t *testing.T) {
	s := New()
	b := s.AddBook(inventory.Book{Title: "Dune", TotalCount: 1, AvailableCount: 1})
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		require.NoError(t, tx.Books().TryReserve(ctx, b.ID))
		_, err := tx.Loans().CreateActive(ctx, b.ID, "alice", time.Now(), time.Now())
		require.NoError(t, err)
		require.NoError(t, tx.Journal().Record(ctx, borrowing.Entry{Action: borrowing.ActionBorrow, BookID: b.ID}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_ = s.View(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		got, err := tx.Books().Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.AvailableCount)
		return nil
	})
	assert.Empty(t, s.Entries())
	require.NoError(t, s.Verify())
}

func TestDo_ReleasesLockOnPanic(t *testing.T) {
	s := New()
	b := s.AddBook(inventory.Book{Title: "Dune", TotalCount: 1, AvailableCount: 1})
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
			_ = tx.Books().TryReserve(ctx, b.ID)
			panic("handler bug")
		})
	})

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		return tx.Books().TryReserve(ctx, b.ID)
	})
	require.NoError(t, err)
}

func TestDo_UncommittedWritesInvisible(t *testing.T) {
	s := New()
	b := s.AddBook(inventory.Book{Title: "Dune", TotalCount: 1, AvailableCount: 1})
	ctx := context.Background()

	reserved := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
			if err := tx.Books().TryReserve(ctx, b.ID); err != nil {
				return err
			}
			close(reserved)
			<-finish
			return nil
		})
	}()

	<-reserved
	_ = s.View(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		got, err := tx.Books().Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.AvailableCount)
		return nil
	})
	close(finish)
	require.NoError(t, <-done)

	_ = s.View(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		got, err := tx.Books().Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.AvailableCount)
		return nil
	})
}

func TestLock_HonoursContext(t *testing.T) {
	s := New()
	b := s.AddBook(inventory.Book{Title: "Dune", TotalCount: 2, AvailableCount: 2})

	held := make(chan struct{})
	finish := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), func(ctx context.Context, tx borrowing.Tx) error {
			_ = tx.Books().TryReserve(ctx, b.ID)
			close(held)
			<-finish
			return nil
		})
	}()
	<-held
	defer close(finish)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		return tx.Books().TryReserve(ctx, b.ID)
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLedger_Rules(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := s.AddBook(inventory.Book{Title: "Dune", TotalCount: 1, AvailableCount: 0})

	err := s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		return tx.Books().TryReserve(ctx, b.ID)
	})
	assert.ErrorIs(t, err, inventory.ErrExhausted)

	err = s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		return tx.Books().TryReserve(ctx, "missing")
	})
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	full := s.AddBook(inventory.Book{Title: "Emma", TotalCount: 1, AvailableCount: 1})
	err = s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		return tx.Books().Release(ctx, full.ID)
	})
	assert.ErrorIs(t, err, inventory.ErrConsistency)
}

func TestLedger_ResizeAndWithdraw(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := s.AddBook(inventory.Book{Title: "Dune", TotalCount: 3, AvailableCount: 1})

	var resized inventory.Book
	err := s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) (err error) {
		resized, err = tx.Books().Resize(ctx, b.ID, 5)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 5, resized.TotalCount)
	assert.Equal(t, 3, resized.AvailableCount)

	err = s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		_, err := tx.Books().Resize(ctx, b.ID, 1)
		return err
	})
	assert.ErrorIs(t, err, inventory.ErrInvalidArgument)

	err = s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		_, err := tx.Books().Withdraw(ctx, b.ID)
		return err
	})
	assert.ErrorIs(t, err, inventory.ErrActiveLoans)

	idle := s.AddBook(inventory.Book{Title: "Emma", TotalCount: 2, AvailableCount: 2})
	err = s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		w, err := tx.Books().Withdraw(ctx, idle.ID)
		assert.Equal(t, inventory.StatusWithdrawn, w.Status)
		return err
	})
	require.NoError(t, err)

	err = s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		return tx.Books().TryReserve(ctx, idle.ID)
	})
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestLoanStore_CloseAndList(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := s.AddBook(inventory.Book{Title: "Dune", TotalCount: 2, AvailableCount: 2})
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	var first, second loan.Record
	err := s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) (err error) {
		first, err = tx.Loans().CreateActive(ctx, b.ID, "alice", base, base.AddDate(0, 0, 3))
		if err != nil {
			return err
		}
		if _, err = tx.Loans().CreateActive(ctx, b.ID, "alice", base, base); !errors.Is(err, loan.ErrConflict) {
			t.Errorf("expected conflict, got %v", err)
		}
		second, err = tx.Loans().CreateActive(ctx, b.ID, "bob", base.Add(time.Hour), base.AddDate(0, 0, 1))
		return err
	})
	require.NoError(t, err)

	err = s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		_, err := tx.Loans().CloseActive(ctx, first.ID, base.AddDate(0, 0, 2))
		return err
	})
	require.NoError(t, err)

	err = s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		_, err := tx.Loans().CloseActive(ctx, first.ID, base.AddDate(0, 0, 2))
		return err
	})
	assert.ErrorIs(t, err, loan.ErrNotFound)

	_ = s.View(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		all, err := tx.Loans().List(ctx, loan.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID)

		active, err := tx.Loans().List(ctx, loan.Filter{State: loan.StateActive})
		require.NoError(t, err)
		require.Len(t, active, 1)

		overdue, err := tx.Loans().ListOverdue(ctx, base.AddDate(0, 0, 10))
		require.NoError(t, err)
		require.Len(t, overdue, 1)
		assert.Equal(t, second.ID, overdue[0].ID)

		_, err = tx.Loans().FindActiveByBook(ctx, b.ID, "alice")
		assert.ErrorIs(t, err, loan.ErrNotFound)
		return nil
	})
}

func TestVerify_DetectsDrift(t *testing.T) {
	s := New()
	s.AddBook(inventory.Book{Title: "Dune", TotalCount: 2, AvailableCount: 1})
	assert.Error(t, s.Verify())
}

func TestJournal_RecentNewestFirst(t *testing.T) {
	s := New()
	b := s.AddBook(inventory.Book{Title: "Dune", TotalCount: 1, AvailableCount: 1})
	other := s.AddBook(inventory.Book{Title: "Kindred", TotalCount: 1, AvailableCount: 1})
	ctx := context.Background()

	require.NoError(t, s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		for _, e := range []borrowing.Entry{
			{Action: borrowing.ActionBorrow, BookID: b.ID, Detail: "first"},
			{Action: borrowing.ActionBorrow, BookID: other.ID},
			{Action: borrowing.ActionReturn, BookID: b.ID, Detail: "second"},
		} {
			if err := tx.Journal().Record(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	err := s.Do(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		require.NoError(t, tx.Journal().Record(ctx, borrowing.Entry{Action: borrowing.ActionResize, BookID: b.ID, Detail: "staged"}))

		got, err := tx.Journal().Recent(ctx, b.ID, 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "staged", got[0].Detail)
		assert.Equal(t, "second", got[1].Detail)
		assert.Equal(t, "first", got[2].Detail)

		got, err = tx.Journal().Recent(ctx, b.ID, 2)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		return errors.New("discard")
	})
	require.Error(t, err)

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx borrowing.Tx) error {
		got, err := tx.Journal().Recent(ctx, b.ID, 0)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		return nil
	}))
}
