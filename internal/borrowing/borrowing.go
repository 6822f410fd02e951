package borrowing

import (
	"errors"
	"fmt"

	"lendinglibrary/internal/loan"
)

type Role string

const (
	RoleMember     Role = "member"
	RoleStaff      Role = "staff"
	RoleSuperstaff Role = "superstaff"
)

// ParseRole maps a token role onto a Role. Unknown roles get no privileges.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleStaff, RoleSuperstaff:
		return Role(s)
	default:
		return RoleMember
	}
}

// Identity is the authenticated caller as resolved by the auth layer.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Elevated identities may act on behalf of other borrowers.
func (i Identity) Elevated() bool {
	return i.Role == RoleStaff || i.Role == RoleSuperstaff
}

// OverdueLoan is an active loan past its due date with the fine owed so far.
type OverdueLoan struct {
	loan.Record
	OverdueDays int     `json:"overdue_days"`
	Fine        float64 `json:"fine"`
}

// Kind classifies every failure the engine returns.
type Kind uint8

const (
	KindNotFound Kind = iota + 1
	KindExhausted
	KindAlreadyBorrowed
	KindInvalidDuration
	KindForbidden
	KindMissingBorrower
	KindConflict
	KindConsistencyFault
	KindInvalidArgument
)

var kindText = map[Kind]string{
	KindNotFound:         "not found",
	KindExhausted:        "no copies available",
	KindAlreadyBorrowed:  "already borrowed",
	KindInvalidDuration:  "invalid duration",
	KindForbidden:        "forbidden",
	KindMissingBorrower:  "missing borrower",
	KindConflict:         "conflict",
	KindConsistencyFault: "consistency fault",
	KindInvalidArgument:  "invalid argument",
}

func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the typed failure crossing the engine boundary. errors.Is matches it
// against the Err* sentinels by Kind; Unwrap exposes the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrExhausted        = &Error{Kind: KindExhausted}
	ErrAlreadyBorrowed  = &Error{Kind: KindAlreadyBorrowed}
	ErrInvalidDuration  = &Error{Kind: KindInvalidDuration}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrMissingBorrower  = &Error{Kind: KindMissingBorrower}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrConsistencyFault = &Error{Kind: KindConsistencyFault}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
)

// KindOf returns the Kind of err, or 0 when err did not come from the engine.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
