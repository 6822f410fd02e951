package borrowing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lendinglibrary/internal/inventory"
	"lendinglibrary/internal/loan"
	"lendinglibrary/internal/policy"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lendinglibrary/borrowing"

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Engine orchestrates the borrowing lifecycle. Every mutating call runs as one
// unit of work spanning the inventory ledger, the loan store and the journal.
type Engine struct {
	uow      UnitOfWork
	settings policy.SettingsSource
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func NewEngine(uow UnitOfWork, settings policy.SettingsSource, opts ...Option) *Engine {
	e := &Engine{
		uow:      uow,
		settings: settings,
		now:      time.Now,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Borrow reserves one copy of bookID for borrowerID for requestedDays.
func (e *Engine) Borrow(ctx context.Context, bookID, borrowerID string, requestedDays int) (rec loan.Record, err error) {
	const op = "borrow"
	ctx, span := e.tracer.Start(ctx, "borrowing.Borrow", trace.WithAttributes(
		attribute.String("book.id", bookID),
		attribute.String("borrower.id", borrowerID),
		attribute.Int("loan.days", requestedDays),
	))
	defer func() { endSpan(span, err) }()

	if bookID == "" {
		return loan.Record{}, newError(op, KindNotFound, errors.New("empty book id"))
	}
	if borrowerID == "" {
		return loan.Record{}, newError(op, KindMissingBorrower, nil)
	}

	settings, err := e.settings.Current(ctx)
	if err != nil {
		return loan.Record{}, fmt.Errorf("%s: read settings: %w", op, err)
	}
	if err := policy.ValidateDuration(requestedDays, settings); err != nil {
		return loan.Record{}, newError(op, KindInvalidDuration, err)
	}

	err = e.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		active, err := tx.Loans().HasActiveLoan(ctx, bookID, borrowerID)
		if err != nil {
			return err
		}
		if active {
			return newError(op, KindAlreadyBorrowed, nil)
		}
		if err := tx.Books().TryReserve(ctx, bookID); err != nil {
			return err
		}

		now := e.now()
		rec, err = tx.Loans().CreateActive(ctx, bookID, borrowerID, now, policy.ComputeDueDate(now, requestedDays))
		if err != nil {
			return err
		}
		return tx.Journal().Record(ctx, Entry{
			Action:     ActionBorrow,
			ActorID:    borrowerID,
			BookID:     bookID,
			LoanID:     rec.ID,
			BorrowerID: borrowerID,
			Detail:     fmt.Sprintf("due %s", rec.DueAt.Format(time.DateOnly)),
			At:         now,
		})
	})
	if err != nil {
		return loan.Record{}, e.translate(ctx, op, err)
	}

	span.SetAttributes(attribute.String("loan.id", rec.ID))
	e.logger.InfoContext(ctx, "book borrowed",
		slog.String("loan_id", rec.ID),
		slog.String("book_id", bookID),
		slog.String("borrower_id", borrowerID),
		slog.Time("due_at", rec.DueAt),
	)
	return rec, nil
}

// Return closes loanID. Members may return only their own loans.
func (e *Engine) Return(ctx context.Context, loanID string, caller Identity) (rec loan.Record, err error) {
	const op = "return"
	ctx, span := e.tracer.Start(ctx, "borrowing.Return", trace.WithAttributes(
		attribute.String("loan.id", loanID),
		attribute.String("caller.id", caller.ID),
	))
	defer func() { endSpan(span, err) }()

	if caller.ID == "" {
		return loan.Record{}, newError(op, KindForbidden, errors.New("anonymous caller"))
	}

	err = e.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.Loans().Get(ctx, loanID)
		if err != nil {
			return err
		}
		if !current.Active() {
			return newError(op, KindNotFound, fmt.Errorf("loan %s already returned", loanID))
		}
		if err := authorize(op, caller, current.BorrowerID); err != nil {
			return err
		}
		rec, err = e.closeLoan(ctx, tx, current, caller)
		return err
	})
	if err != nil {
		return loan.Record{}, e.translate(ctx, op, err)
	}

	e.logReturn(ctx, rec, caller)
	return rec, nil
}

// ReturnByIdentifier closes the active loan of a book found by its external
// identifier, matched in normalized ISBN form. borrowerHint names the borrower; members without a hint return
// their own loan, elevated callers must name one.
func (e *Engine) ReturnByIdentifier(ctx context.Context, externalID, borrowerHint string, caller Identity) (rec loan.Record, err error) {
	const op = "return by identifier"
	ctx, span := e.tracer.Start(ctx, "borrowing.ReturnByIdentifier", trace.WithAttributes(
		attribute.String("book.isbn", externalID),
		attribute.String("caller.id", caller.ID),
	))
	defer func() { endSpan(span, err) }()

	if caller.ID == "" {
		return loan.Record{}, newError(op, KindForbidden, errors.New("anonymous caller"))
	}

	borrowerID := borrowerHint
	if borrowerID == "" {
		if caller.Elevated() {
			return loan.Record{}, newError(op, KindMissingBorrower, nil)
		}
		borrowerID = caller.ID
	}
	if err := authorize(op, caller, borrowerID); err != nil {
		return loan.Record{}, err
	}

	err = e.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		book, err := tx.Books().GetByISBN(ctx, inventory.NormalizeISBN(externalID))
		if err != nil {
			return err
		}
		current, err := tx.Loans().FindActiveByBook(ctx, book.ID, borrowerID)
		if err != nil {
			return err
		}
		rec, err = e.closeLoan(ctx, tx, current, caller)
		return err
	})
	if err != nil {
		return loan.Record{}, e.translate(ctx, op, err)
	}

	e.logReturn(ctx, rec, caller)
	return rec, nil
}

func (e *Engine) closeLoan(ctx context.Context, tx Tx, current loan.Record, caller Identity) (loan.Record, error) {
	now := e.now()
	closed, err := tx.Loans().CloseActive(ctx, current.ID, now)
	if err != nil {
		return loan.Record{}, err
	}
	if err := tx.Books().Release(ctx, closed.BookID); err != nil {
		return loan.Record{}, err
	}
	detail := ""
	if overdue, days := policy.ComputeOverdue(now, closed.DueAt); overdue {
		detail = fmt.Sprintf("returned %d days late", days)
	}
	err = tx.Journal().Record(ctx, Entry{
		Action:     ActionReturn,
		ActorID:    caller.ID,
		BookID:     closed.BookID,
		LoanID:     closed.ID,
		BorrowerID: closed.BorrowerID,
		Detail:     detail,
		At:         now,
	})
	return closed, err
}

func (e *Engine) logReturn(ctx context.Context, rec loan.Record, caller Identity) {
	e.logger.InfoContext(ctx, "book returned",
		slog.String("loan_id", rec.ID),
		slog.String("book_id", rec.BookID),
		slog.String("borrower_id", rec.BorrowerID),
		slog.String("actor_id", caller.ID),
	)
}

// ListActive yields active loans, most recent first. An empty borrowerID lists all.
func (e *Engine) ListActive(ctx context.Context, borrowerID string) (out []loan.Record, err error) {
	ctx, span := e.tracer.Start(ctx, "borrowing.ListActive", trace.WithAttributes(
		attribute.String("borrower.id", borrowerID),
	))
	defer func() { endSpan(span, err) }()

	err = e.uow.View(ctx, func(ctx context.Context, tx Tx) error {
		out, err = tx.Loans().List(ctx, loan.Filter{BorrowerID: borrowerID, State: loan.StateActive})
		return err
	})
	if err != nil {
		return nil, e.translate(ctx, "list active", err)
	}
	return out, nil
}

// History yields every loan of borrowerID, returned ones included, most recent first.
func (e *Engine) History(ctx context.Context, borrowerID string) (out []loan.Record, err error) {
	const op = "history"
	ctx, span := e.tracer.Start(ctx, "borrowing.History", trace.WithAttributes(
		attribute.String("borrower.id", borrowerID),
	))
	defer func() { endSpan(span, err) }()

	if borrowerID == "" {
		return nil, newError(op, KindMissingBorrower, nil)
	}
	err = e.uow.View(ctx, func(ctx context.Context, tx Tx) error {
		out, err = tx.Loans().List(ctx, loan.Filter{BorrowerID: borrowerID})
		return err
	})
	if err != nil {
		return nil, e.translate(ctx, op, err)
	}
	return out, nil
}

// ListOverdue yields overdue loans, earliest due first, priced with the current fine rate.
func (e *Engine) ListOverdue(ctx context.Context) (out []OverdueLoan, err error) {
	const op = "list overdue"
	ctx, span := e.tracer.Start(ctx, "borrowing.ListOverdue")
	defer func() { endSpan(span, err) }()

	settings, err := e.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: read settings: %w", op, err)
	}

	now := e.now()
	var records []loan.Record
	err = e.uow.View(ctx, func(ctx context.Context, tx Tx) error {
		records, err = tx.Loans().ListOverdue(ctx, now)
		return err
	})
	if err != nil {
		return nil, e.translate(ctx, op, err)
	}

	out = make([]OverdueLoan, 0, len(records))
	for _, rec := range records {
		_, days := policy.ComputeOverdue(now, rec.DueAt)
		out = append(out, OverdueLoan{
			Record:      rec,
			OverdueDays: days,
			Fine:        policy.ComputeFine(days, settings.FinePerDay),
		})
	}
	span.SetAttributes(attribute.Int("loans.overdue", len(out)))
	return out, nil
}

// Inventory returns the current counts of bookID.
func (e *Engine) Inventory(ctx context.Context, bookID string) (book inventory.Book, err error) {
	ctx, span := e.tracer.Start(ctx, "borrowing.Inventory", trace.WithAttributes(
		attribute.String("book.id", bookID),
	))
	defer func() { endSpan(span, err) }()

	err = e.uow.View(ctx, func(ctx context.Context, tx Tx) error {
		book, err = tx.Books().Get(ctx, bookID)
		return err
	})
	if err != nil {
		return inventory.Book{}, e.translate(ctx, "inventory", err)
	}
	return book, nil
}

// Records lists loan records for staff, filtered by borrower, book and state,
// most recently borrowed first. A zero limit means the default page size.
func (e *Engine) Records(ctx context.Context, f loan.Filter, caller Identity) (out []loan.Record, err error) {
	const op = "records"
	ctx, span := e.tracer.Start(ctx, "borrowing.Records", trace.WithAttributes(
		attribute.String("borrower.id", f.BorrowerID),
		attribute.String("book.id", f.BookID),
		attribute.String("loan.state", string(f.State)),
	))
	defer func() { endSpan(span, err) }()

	if !caller.Elevated() {
		return nil, newError(op, KindForbidden, nil)
	}
	switch f.State {
	case "", loan.StateActive, loan.StateReturned:
	default:
		return nil, newError(op, KindInvalidArgument, fmt.Errorf("unknown state %q", f.State))
	}
	if f.Limit, err = pageSize(op, f.Limit); err != nil {
		return nil, err
	}

	err = e.uow.View(ctx, func(ctx context.Context, tx Tx) error {
		out, err = tx.Loans().List(ctx, f)
		return err
	})
	if err != nil {
		return nil, e.translate(ctx, op, err)
	}
	return out, nil
}

// Journal yields the latest operation entries of bookID, newest first.
func (e *Engine) Journal(ctx context.Context, bookID string, limit int, caller Identity) (out []Entry, err error) {
	const op = "journal"
	ctx, span := e.tracer.Start(ctx, "borrowing.Journal", trace.WithAttributes(
		attribute.String("book.id", bookID),
	))
	defer func() { endSpan(span, err) }()

	if !caller.Elevated() {
		return nil, newError(op, KindForbidden, nil)
	}
	if limit, err = pageSize(op, limit); err != nil {
		return nil, err
	}

	err = e.uow.View(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Books().Get(ctx, bookID); err != nil {
			return err
		}
		out, err = tx.Journal().Recent(ctx, bookID, limit)
		return err
	})
	if err != nil {
		return nil, e.translate(ctx, op, err)
	}
	return out, nil
}

func pageSize(op string, limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, newError(op, KindInvalidArgument, fmt.Errorf("limit %d is negative", limit))
	case limit == 0:
		return defaultPageSize, nil
	case limit > maxPageSize:
		return maxPageSize, nil
	}
	return limit, nil
}

// Resize sets the number of copies owned. Copies already lent out stay attributed
// to their loans, so newTotal may not drop below the number on loan.
func (e *Engine) Resize(ctx context.Context, bookID string, newTotal int, caller Identity) (book inventory.Book, err error) {
	const op = "resize"
	ctx, span := e.tracer.Start(ctx, "borrowing.Resize", trace.WithAttributes(
		attribute.String("book.id", bookID),
		attribute.Int("book.total", newTotal),
	))
	defer func() { endSpan(span, err) }()

	if !caller.Elevated() {
		return inventory.Book{}, newError(op, KindForbidden, nil)
	}
	if newTotal < 0 {
		return inventory.Book{}, newError(op, KindInvalidArgument, fmt.Errorf("total %d is negative", newTotal))
	}

	err = e.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		book, err = tx.Books().Resize(ctx, bookID, newTotal)
		if err != nil {
			return err
		}
		return tx.Journal().Record(ctx, Entry{
			Action:  ActionResize,
			ActorID: caller.ID,
			BookID:  bookID,
			Detail:  fmt.Sprintf("total=%d available=%d", book.TotalCount, book.AvailableCount),
			At:      e.now(),
		})
	})
	if err != nil {
		return inventory.Book{}, e.translate(ctx, op, err)
	}

	e.logger.InfoContext(ctx, "book resized",
		slog.String("book_id", bookID),
		slog.Int("total_count", book.TotalCount),
		slog.Int("available_count", book.AvailableCount),
		slog.String("actor_id", caller.ID),
	)
	return book, nil
}

// Withdraw retires a book. It is refused while any copy is on loan.
func (e *Engine) Withdraw(ctx context.Context, bookID string, caller Identity) (book inventory.Book, err error) {
	const op = "withdraw"
	ctx, span := e.tracer.Start(ctx, "borrowing.Withdraw", trace.WithAttributes(
		attribute.String("book.id", bookID),
	))
	defer func() { endSpan(span, err) }()

	if !caller.Elevated() {
		return inventory.Book{}, newError(op, KindForbidden, nil)
	}

	err = e.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		book, err = tx.Books().Withdraw(ctx, bookID)
		if err != nil {
			return err
		}
		return tx.Journal().Record(ctx, Entry{
			Action:  ActionWithdraw,
			ActorID: caller.ID,
			BookID:  bookID,
			At:      e.now(),
		})
	})
	if err != nil {
		return inventory.Book{}, e.translate(ctx, op, err)
	}

	e.logger.InfoContext(ctx, "book withdrawn", slog.String("book_id", bookID), slog.String("actor_id", caller.ID))
	return book, nil
}

func authorize(op string, caller Identity, borrowerID string) error {
	if caller.Elevated() || caller.ID == borrowerID {
		return nil
	}
	return newError(op, KindForbidden, fmt.Errorf("%s may not act for %s", caller.ID, borrowerID))
}

// translate maps store and policy failures onto the engine taxonomy.
func (e *Engine) translate(ctx context.Context, op string, err error) error {
	var typed *Error
	switch {
	case errors.As(err, &typed):
		if typed.Kind == KindConsistencyFault {
			e.logger.ErrorContext(ctx, "inventory consistency fault", slog.String("op", op), slog.Any("error", err))
		}
		return err
	case errors.Is(err, inventory.ErrNotFound), errors.Is(err, loan.ErrNotFound):
		return newError(op, KindNotFound, err)
	case errors.Is(err, inventory.ErrExhausted):
		return newError(op, KindExhausted, err)
	case errors.Is(err, inventory.ErrInvalidArgument):
		return newError(op, KindInvalidArgument, err)
	case errors.Is(err, inventory.ErrActiveLoans), errors.Is(err, loan.ErrConflict):
		return newError(op, KindConflict, err)
	case errors.Is(err, policy.ErrOutOfRange):
		return newError(op, KindInvalidDuration, err)
	case errors.Is(err, inventory.ErrConsistency):
		e.logger.ErrorContext(ctx, "inventory consistency fault", slog.String("op", op), slog.Any("error", err))
		return newError(op, KindConsistencyFault, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
