package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every ledger operation. Match with errors.Is.
var (
	ErrNotFound            = errors.New("NOT_FOUND")
	ErrInvalidArgument     = errors.New("INVALID_ARGUMENT")
	ErrInsufficientFunds   = errors.New("INSUFFICIENT_FUNDS")
	ErrConstraintViolation = errors.New("CONSTRAINT_VIOLATION")
)

// Error is a typed ledger error. Code is one of the sentinels above.
// EnvelopeID/EnvelopeName are set when the failure concerns a specific envelope.
type Error struct {
	Code         error
	Message      string
	EnvelopeID   int64
	EnvelopeName string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Code
}

func newError(code error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NOT_FOUND error for the given entity and id.
func NotFound(entity string, id int64) *Error {
	return newError(ErrNotFound, "%s %d not found", entity, id)
}

// InvalidArgument builds an INVALID_ARGUMENT error.
func InvalidArgument(format string, args ...any) *Error {
	return newError(ErrInvalidArgument, format, args...)
}

// ConstraintViolation builds a CONSTRAINT_VIOLATION error.
func ConstraintViolation(format string, args ...any) *Error {
	return newError(ErrConstraintViolation, format, args...)
}

// InsufficientFunds builds an INSUFFICIENT_FUNDS error naming the envelope.
func InsufficientFunds(env Envelope) *Error {
	return &Error{
		Code:         ErrInsufficientFunds,
		Message:      fmt.Sprintf("not enough budget in envelope named: %s with id: %d", env.Name, env.ID),
		EnvelopeID:   env.ID,
		EnvelopeName: env.Name,
	}
}

// WithEnvelope attaches envelope diagnostics to a ledger error. Errors that
// are not *Error are returned unchanged.
func WithEnvelope(err error, env Envelope) error {
	var le *Error
	if !errors.As(err, &le) {
		return err
	}
	if errors.Is(le.Code, ErrInsufficientFunds) {
		return InsufficientFunds(env)
	}
	out := *le
	out.EnvelopeID = env.ID
	out.EnvelopeName = env.Name
	out.Message = fmt.Sprintf("envelope %q (id %d): %s", env.Name, env.ID, le.Message)
	return &out
}

// CodeOf returns the taxonomy name for err, or "INTERNAL" when err is not a
// ledger error.
func CodeOf(err error) string {
	for _, code := range []error{ErrNotFound, ErrInvalidArgument, ErrInsufficientFunds, ErrConstraintViolation} {
		if errors.Is(err, code) {
			return code.Error()
		}
	}
	return "INTERNAL"
}
