package borrowing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"lendinglibrary/internal/httpx"
	"lendinglibrary/internal/inventory"
	"lendinglibrary/internal/loan"
	"lendinglibrary/internal/policy"
)

type HTTPHandler struct {
	engine *Engine
	logger *slog.Logger
}

func NewHTTPHandler(engine *Engine, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{engine: engine, logger: logger}
}

// Register mounts every route on mux. authenticated wraps all of them; staffOnly
// additionally wraps the routes reserved for elevated roles.
func (h *HTTPHandler) Register(mux *http.ServeMux, authenticated, staffOnly func(http.Handler) http.Handler) {
	member := func(fn http.HandlerFunc) http.Handler { return authenticated(fn) }
	staff := func(fn http.HandlerFunc) http.Handler { return authenticated(staffOnly(fn)) }

	mux.Handle("POST /books/{bookID}/borrow", member(h.Borrow))
	mux.Handle("GET /books/{bookID}/inventory", member(h.Inventory))
	mux.Handle("PATCH /books/{bookID}/copies", staff(h.Resize))
	mux.Handle("POST /books/{bookID}/withdraw", staff(h.Withdraw))
	mux.Handle("GET /books/{bookID}/journal", staff(h.Journal))

	mux.Handle("POST /loans/{loanID}/return", member(h.Return))
	mux.Handle("POST /loans/return-by-isbn", member(h.ReturnByISBN))
	mux.Handle("GET /loans/active", member(h.ListActive))
	mux.Handle("GET /loans/history", member(h.History))
	mux.Handle("GET /loans/overdue", staff(h.ListOverdue))
	mux.Handle("GET /loans", staff(h.Records))
}

func identityFrom(r *http.Request) Identity {
	return Identity{ID: httpx.UserIDFrom(r), Role: ParseRole(httpx.RoleFrom(r))}
}

type borrowRequest struct {
	Days       *int   `json:"days" validate:"omitempty,gte=1"`
	BorrowerID string `json:"borrower_id"`
}

// Borrow handles POST /books/{bookID}/borrow
func (h *HTTPHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller := identityFrom(r)
	borrowerID := caller.ID
	if req.BorrowerID != "" && req.BorrowerID != caller.ID {
		if !caller.Elevated() {
			h.writeError(w, r, newError("borrow", KindForbidden, nil))
			return
		}
		borrowerID = req.BorrowerID
	}
	days := policy.DefaultLoanDays
	if req.Days != nil {
		days = *req.Days
	}

	rec, err := h.engine.Borrow(r.Context(), r.PathValue("bookID"), borrowerID, days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONCreated(w, r, rec)
}

// Return handles POST /loans/{loanID}/return
func (h *HTTPHandler) Return(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Return(r.Context(), r.PathValue("loanID"), identityFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, rec, nil)
}

type returnByISBNRequest struct {
	ISBN       string `json:"isbn" validate:"required,isbn"`
	BorrowerID string `json:"borrower_id"`
}

// ReturnByISBN handles POST /loans/return-by-isbn
func (h *HTTPHandler) ReturnByISBN(w http.ResponseWriter, r *http.Request) {
	var req returnByISBNRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.engine.ReturnByIdentifier(r.Context(), httpx.NormalizeISBN(strings.TrimSpace(req.ISBN)), req.BorrowerID, identityFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, rec, nil)
}

// borrowerScope resolves ?borrower_id= for list routes. Members are pinned to
// themselves; elevated callers may leave it empty.
func borrowerScope(r *http.Request, op string) (string, error) {
	caller := identityFrom(r)
	requested := r.URL.Query().Get("borrower_id")
	if caller.Elevated() {
		return requested, nil
	}
	if requested != "" && requested != caller.ID {
		return "", newError(op, KindForbidden, nil)
	}
	return caller.ID, nil
}

// ListActive handles GET /loans/active
func (h *HTTPHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	borrowerID, err := borrowerScope(r, "list active")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.engine.ListActive(r.Context(), borrowerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, records, map[string]any{"count": len(records)})
}

// History handles GET /loans/history
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	borrowerID, err := borrowerScope(r, "history")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.engine.History(r.Context(), borrowerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, records, map[string]any{"count": len(records)})
}

// queryLimit reads ?limit=. Absent means the engine default.
func queryLimit(r *http.Request, op string) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, newError(op, KindInvalidArgument, errors.New("limit must be a positive integer"))
	}
	return n, nil
}

// Records handles GET /loans
func (h *HTTPHandler) Records(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, "records")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	records, err := h.engine.Records(r.Context(), loan.Filter{
		BorrowerID: q.Get("borrower_id"),
		BookID:     q.Get("book_id"),
		State:      loan.State(q.Get("state")),
		Limit:      limit,
	}, identityFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, records, map[string]any{"count": len(records)})
}

// Journal handles GET /books/{bookID}/journal
func (h *HTTPHandler) Journal(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, "journal")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.engine.Journal(r.Context(), r.PathValue("bookID"), limit, identityFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, entries, map[string]any{"count": len(entries)})
}

type overdueResponse struct {
	Loan        loan.Record `json:"loan"`
	OverdueDays int         `json:"overdue_days"`
	Fine        float64     `json:"fine"`
}

// ListOverdue handles GET /loans/overdue
func (h *HTTPHandler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	overdue, err := h.engine.ListOverdue(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]overdueResponse, 0, len(overdue))
	for _, o := range overdue {
		out = append(out, overdueResponse{Loan: o.Record, OverdueDays: o.OverdueDays, Fine: o.Fine})
	}
	httpx.JSONSuccess(w, r, out, map[string]any{"count": len(out)})
}

// Inventory handles GET /books/{bookID}/inventory
func (h *HTTPHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	book, err := h.engine.Inventory(r.Context(), r.PathValue("bookID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, book, map[string]any{"on_loan": book.OnLoan()})
}

type resizeRequest struct {
	TotalCount *int `json:"total_count" validate:"required,gte=0"`
}

// Resize handles PATCH /books/{bookID}/copies
func (h *HTTPHandler) Resize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	book, err := h.engine.Resize(r.Context(), r.PathValue("bookID"), *req.TotalCount, identityFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, book, nil)
}

// Withdraw handles POST /books/{bookID}/withdraw
func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	book, err := h.engine.Withdraw(r.Context(), r.PathValue("bookID"), identityFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, book, nil)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.JSONError(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil)
			return false
		}
		httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_JSON", "Malformed request body", nil)
		return false
	}
	if details := httpx.ValidateStruct(dst); details != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", details)
		return false
	}
	return true
}

var statusByKind = map[Kind]struct {
	status int
	code   string
}{
	KindNotFound:         {http.StatusNotFound, "NOT_FOUND"},
	KindExhausted:        {http.StatusConflict, "NO_COPIES_AVAILABLE"},
	KindAlreadyBorrowed:  {http.StatusConflict, "ALREADY_BORROWED"},
	KindConflict:         {http.StatusConflict, "CONFLICT"},
	KindInvalidDuration:  {http.StatusBadRequest, "INVALID_DURATION"},
	KindInvalidArgument:  {http.StatusBadRequest, "INVALID_ARGUMENT"},
	KindMissingBorrower:  {http.StatusBadRequest, "MISSING_BORROWER"},
	KindForbidden:        {http.StatusForbidden, "FORBIDDEN"},
	KindConsistencyFault: {http.StatusInternalServerError, "CONSISTENCY_FAULT"},
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if mapped, ok := statusByKind[KindOf(err)]; ok {
		message := KindOf(err).String()
		if mapped.status == http.StatusBadRequest || mapped.status == http.StatusConflict {
			message = publicMessage(err)
		}
		httpx.JSONError(w, r, mapped.status, mapped.code, message, nil)
		return
	}
	h.logger.ErrorContext(r.Context(), "request failed",
		slog.String("request_id", httpx.RequestIDFrom(r)),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
}

// publicMessage keeps client-facing detail for validation and conflict failures,
// where the cause is about the request rather than the server.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, policy.ErrOutOfRange), errors.Is(err, inventory.ErrInvalidArgument),
		KindOf(err) == KindInvalidArgument:
		return err.Error()
	}
	return KindOf(err).String()
}
