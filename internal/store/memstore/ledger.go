package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lendinglibrary/internal/borrowing"
	"lendinglibrary/internal/inventory"
	"lendinglibrary/internal/loan"
)

type ledger struct{ t *tx }

func (l ledger) Get(_ context.Context, bookID string) (inventory.Book, error) {
	b, ok := l.t.book(bookID)
	if !ok {
		return inventory.Book{}, inventory.ErrNotFound
	}
	return b, nil
}

func (l ledger) GetByISBN(ctx context.Context, isbn string) (inventory.Book, error) {
	l.t.s.mu.RLock()
	id, ok := l.t.s.isbn[inventory.NormalizeISBN(isbn)]
	l.t.s.mu.RUnlock()
	if !ok {
		return inventory.Book{}, inventory.ErrNotFound
	}
	return l.Get(ctx, id)
}

// mutate runs change against the locked, current version of the book and stages
// the result.
func (l ledger) mutate(ctx context.Context, bookID string, change func(*inventory.Book) error) (inventory.Book, error) {
	if err := l.t.lock(ctx, bookID); err != nil {
		return inventory.Book{}, err
	}
	b, ok := l.t.book(bookID)
	if !ok {
		return inventory.Book{}, inventory.ErrNotFound
	}
	if err := change(&b); err != nil {
		return inventory.Book{}, err
	}
	if err := b.Check(); err != nil {
		return inventory.Book{}, fmt.Errorf("book %s: %w", bookID, err)
	}
	b.UpdatedAt = l.t.s.now()
	l.t.books[bookID] = b
	return b, nil
}

func (l ledger) TryReserve(ctx context.Context, bookID string) error {
	_, err := l.mutate(ctx, bookID, func(b *inventory.Book) error {
		if b.Status != inventory.StatusActive {
			return inventory.ErrNotFound
		}
		if b.AvailableCount <= 0 {
			return inventory.ErrExhausted
		}
		b.AvailableCount--
		return nil
	})
	return err
}

func (l ledger) Release(ctx context.Context, bookID string) error {
	_, err := l.mutate(ctx, bookID, func(b *inventory.Book) error {
		if b.AvailableCount >= b.TotalCount {
			return fmt.Errorf("%w: release of book %s with available=%d total=%d",
				inventory.ErrConsistency, b.ID, b.AvailableCount, b.TotalCount)
		}
		b.AvailableCount++
		return nil
	})
	return err
}

func (l ledger) Resize(ctx context.Context, bookID string, newTotal int) (inventory.Book, error) {
	if newTotal < 0 {
		return inventory.Book{}, fmt.Errorf("%w: total_count %d is negative", inventory.ErrInvalidArgument, newTotal)
	}
	return l.mutate(ctx, bookID, func(b *inventory.Book) error {
		delta := newTotal - b.TotalCount
		if b.AvailableCount+delta < 0 {
			return fmt.Errorf("%w: %d copies on loan exceed new total %d",
				inventory.ErrInvalidArgument, b.OnLoan(), newTotal)
		}
		b.TotalCount = newTotal
		b.AvailableCount += delta
		return nil
	})
}

func (l ledger) Withdraw(ctx context.Context, bookID string) (inventory.Book, error) {
	return l.mutate(ctx, bookID, func(b *inventory.Book) error {
		if b.Status != inventory.StatusActive {
			return inventory.ErrNotFound
		}
		if b.OnLoan() > 0 {
			return fmt.Errorf("%w: %d copies on loan", inventory.ErrActiveLoans, b.OnLoan())
		}
		b.Status = inventory.StatusWithdrawn
		return nil
	})
}

type loanStore struct{ t *tx }

// Get locks the loan's book and re-reads the record, so the result cannot be
// closed by another unit of work before this one ends.
func (ls loanStore) Get(ctx context.Context, loanID string) (loan.Record, error) {
	rec, ok := ls.t.loan(loanID)
	if !ok {
		return loan.Record{}, loan.ErrNotFound
	}
	if err := ls.t.lock(ctx, rec.BookID); err != nil {
		return loan.Record{}, err
	}
	rec, _ = ls.t.loan(loanID)
	return rec, nil
}

func (ls loanStore) HasActiveLoan(ctx context.Context, bookID, borrowerID string) (bool, error) {
	if err := ls.t.lock(ctx, bookID); err != nil {
		return false, err
	}
	_, ok := ls.t.activeFor(bookID, borrowerID)
	return ok, nil
}

func (ls loanStore) CreateActive(ctx context.Context, bookID, borrowerID string, borrowedAt, dueAt time.Time) (loan.Record, error) {
	if err := ls.t.lock(ctx, bookID); err != nil {
		return loan.Record{}, err
	}
	if _, ok := ls.t.activeFor(bookID, borrowerID); ok {
		return loan.Record{}, fmt.Errorf("%w: book %s borrower %s", loan.ErrConflict, bookID, borrowerID)
	}
	rec := loan.Record{
		ID:         ls.t.s.newID(),
		BookID:     bookID,
		BorrowerID: borrowerID,
		BorrowedAt: borrowedAt,
		DueAt:      dueAt,
		State:      loan.StateActive,
	}
	ls.t.loans[rec.ID] = rec
	return rec, nil
}

func (ls loanStore) CloseActive(ctx context.Context, loanID string, returnedAt time.Time) (loan.Record, error) {
	rec, err := ls.Get(ctx, loanID)
	if err != nil {
		return loan.Record{}, err
	}
	if !rec.Active() {
		return loan.Record{}, loan.ErrNotFound
	}
	rec.State = loan.StateReturned
	rec.ReturnedAt = &returnedAt
	ls.t.loans[rec.ID] = rec
	return rec, nil
}

func (ls loanStore) FindActiveByBook(ctx context.Context, bookID, borrowerID string) (loan.Record, error) {
	if err := ls.t.lock(ctx, bookID); err != nil {
		return loan.Record{}, err
	}
	rec, ok := ls.t.activeFor(bookID, borrowerID)
	if !ok {
		return loan.Record{}, loan.ErrNotFound
	}
	return rec, nil
}

func (ls loanStore) ListOverdue(_ context.Context, asOf time.Time) ([]loan.Record, error) {
	out := ls.t.records(func(rec loan.Record) bool {
		return rec.Active() && rec.DueAt.Before(asOf)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (ls loanStore) List(_ context.Context, f loan.Filter) ([]loan.Record, error) {
	out := ls.t.records(func(rec loan.Record) bool {
		return (f.BorrowerID == "" || rec.BorrowerID == f.BorrowerID) &&
			(f.BookID == "" || rec.BookID == f.BookID) &&
			(f.State == "" || rec.State == f.State)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BorrowedAt.Equal(out[j].BorrowedAt) {
			return out[i].BorrowedAt.After(out[j].BorrowedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type journal struct{ t *tx }

func (j journal) Record(_ context.Context, e borrowing.Entry) error {
	if j.t.readOnly {
		return fmt.Errorf("journal: read-only unit of work")
	}
	j.t.journal = append(j.t.journal, e)
	return nil
}

// Recent walks the staged entries and then the committed ones backwards, so
// the newest entry comes first.
func (j journal) Recent(_ context.Context, bookID string, limit int) ([]borrowing.Entry, error) {
	j.t.s.mu.RLock()
	all := make([]borrowing.Entry, 0, len(j.t.s.journal)+len(j.t.journal))
	all = append(all, j.t.s.journal...)
	j.t.s.mu.RUnlock()
	all = append(all, j.t.journal...)

	out := []borrowing.Entry{}
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if all[i].BookID == bookID {
			out = append(out, all[i])
		}
	}
	return out, nil
}
