// Package memstore is an in-memory unit of work for the borrowing engine.
//
// It has no constraint support of its own, so mutations of a book are serialized
// with a per-book lock taken on first touch and held until the unit of work ends.
// Writes are staged in the unit of work and applied to the shared state only on
// commit; View and concurrent units of work never observe uncommitted changes.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lendinglibrary/internal/borrowing"
	"lendinglibrary/internal/inventory"
	"lendinglibrary/internal/loan"

	"github.com/google/uuid"
)

type pair struct {
	bookID     string
	borrowerID string
}

type Store struct {
	mu      sync.RWMutex
	books   map[string]inventory.Book
	isbn    map[string]string
	loans   map[string]loan.Record
	active  map[pair]string
	journal []borrowing.Entry

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	newID func() string
	now   func() time.Time
}

func New() *Store {
	return &Store{
		books:  map[string]inventory.Book{},
		isbn:   map[string]string{},
		loans:  map[string]loan.Record{},
		active: map[pair]string{},
		locks:  map[string]chan struct{}{},
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// AddBook stores b as committed state. An empty ID is generated, an empty
// status defaults to active and the ISBN is stored normalized.
func (s *Store) AddBook(b inventory.Book) inventory.Book {
	if b.ID == "" {
		b.ID = s.newID()
	}
	if b.Status == "" {
		b.Status = inventory.StatusActive
	}
	now := s.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[b.ID] = b
	if b.ISBN != nil && *b.ISBN != "" {
		isbn := inventory.NormalizeISBN(*b.ISBN)
		b.ISBN = &isbn
		s.isbn[isbn] = b.ID
	}
	return b
}

// Entries returns a copy of the committed journal.
func (s *Store) Entries() []borrowing.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]borrowing.Entry, len(s.journal))
	copy(out, s.journal)
	return out
}

// Verify checks every committed book against the loan ledger:
// 0 <= available <= total and total - available equals its active loans.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	onLoan := map[string]int{}
	seen := map[pair]bool{}
	for _, rec := range s.loans {
		if !rec.Active() {
			continue
		}
		p := pair{rec.BookID, rec.BorrowerID}
		if seen[p] {
			return fmt.Errorf("book %s borrower %s: two active loans", rec.BookID, rec.BorrowerID)
		}
		seen[p] = true
		onLoan[rec.BookID]++
	}
	for id, b := range s.books {
		if err := b.Check(); err != nil {
			return fmt.Errorf("book %s: %w", id, err)
		}
		if b.OnLoan() != onLoan[id] {
			return fmt.Errorf("book %s: %d copies out, %d active loans", id, b.OnLoan(), onLoan[id])
		}
	}
	return nil
}

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx borrowing.Tx) error) (err error) {
	t := s.begin(false)
	defer func() {
		if p := recover(); p != nil {
			t.release()
			panic(p)
		}
		if err == nil {
			t.commit()
		}
		t.release()
	}()
	return fn(ctx, t)
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx borrowing.Tx) error) error {
	return fn(ctx, s.begin(true))
}

func (s *Store) bookLock(bookID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[bookID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[bookID] = l
	}
	return l
}

type tx struct {
	s        *Store
	readOnly bool

	held map[string]chan struct{}

	books   map[string]inventory.Book
	loans   map[string]loan.Record
	journal []borrowing.Entry
}

func (s *Store) begin(readOnly bool) *tx {
	return &tx{
		s:        s,
		readOnly: readOnly,
		held:     map[string]chan struct{}{},
		books:    map[string]inventory.Book{},
		loans:    map[string]loan.Record{},
	}
}

func (t *tx) Books() inventory.Ledger    { return ledger{t} }
func (t *tx) Loans() loan.Store          { return loanStore{t} }
func (t *tx) Journal() borrowing.Journal { return journal{t} }

// lock acquires the book's lock for the rest of the unit of work. A unit of work
// is expected to touch a single book, so no lock ordering is imposed.
func (t *tx) lock(ctx context.Context, bookID string) error {
	if t.readOnly {
		return nil
	}
	if _, ok := t.held[bookID]; ok {
		return nil
	}
	l := t.s.bookLock(bookID)
	select {
	case l <- struct{}{}:
		t.held[bookID] = l
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tx) release() {
	for id, l := range t.held {
		<-l
		delete(t.held, id)
	}
}

func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range t.books {
		s.books[id] = b
	}
	for id, rec := range t.loans {
		s.loans[id] = rec
		p := pair{rec.BookID, rec.BorrowerID}
		switch {
		case rec.Active():
			s.active[p] = id
		case s.active[p] == id:
			delete(s.active, p)
		}
	}
	s.journal = append(s.journal, t.journal...)
}

func (t *tx) book(bookID string) (inventory.Book, bool) {
	if b, ok := t.books[bookID]; ok {
		return b, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	b, ok := t.s.books[bookID]
	return b, ok
}

func (t *tx) loan(loanID string) (loan.Record, bool) {
	if rec, ok := t.loans[loanID]; ok {
		return rec, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	rec, ok := t.s.loans[loanID]
	return rec, ok
}

func (t *tx) activeFor(bookID, borrowerID string) (loan.Record, bool) {
	for _, rec := range t.loans {
		if rec.BookID == bookID && rec.BorrowerID == borrowerID && rec.Active() {
			return rec, true
		}
	}
	t.s.mu.RLock()
	id, ok := t.s.active[pair{bookID, borrowerID}]
	t.s.mu.RUnlock()
	if !ok {
		return loan.Record{}, false
	}
	rec, ok := t.loan(id)
	if !ok || !rec.Active() {
		return loan.Record{}, false
	}
	return rec, true
}

// records merges committed loans with the ones staged in this unit of work.
func (t *tx) records(keep func(loan.Record) bool) []loan.Record {
	t.s.mu.RLock()
	merged := make(map[string]loan.Record, len(t.s.loans)+len(t.loans))
	for id, rec := range t.s.loans {
		merged[id] = rec
	}
	t.s.mu.RUnlock()
	for id, rec := range t.loans {
		merged[id] = rec
	}

	out := []loan.Record{}
	for _, rec := range merged {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}
