package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the category an engine error belongs to. Callers branch on the
// kind, never on the message.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindNotFound             ErrorKind = "not_found"
	KindReferentialIntegrity ErrorKind = "referential_integrity"
	KindConcurrencyTimeout   ErrorKind = "concurrency_timeout"
	KindStorage              ErrorKind = "storage"
)

// Error is the tagged error returned by every engine operation.
type Error struct {
	Kind ErrorKind
	// Field names the offending input field for validation errors.
	Field string
	Msg   string
	Err   error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrReferentialIntegrity = &Error{Kind: KindReferentialIntegrity}
	ErrConcurrencyTimeout   = &Error{Kind: KindConcurrencyTimeout}
	ErrStorage              = &Error{Kind: KindStorage}
)

// Validation causes.
var (
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrNegativeBudget   = errors.New("budget amount cannot be negative")
	ErrInvalidKind      = errors.New("kind must be income or expense")
	ErrInvalidDate      = errors.New("date must use format YYYY-MM-DD")
	ErrInvalidMonth     = errors.New("month must use format YYYY-MM")
	ErrEmptyName        = errors.New("name cannot be empty")
	ErrDuplicateName    = errors.New("name already in use")
	ErrSameMethod       = errors.New("source and destination payment methods must differ")
	ErrMissingReference = errors.New("reference id is required")
	ErrKindMismatch     = errors.New("kind does not match the referenced category")
	ErrInvalidReference = errors.New("referenced entity does not exist")
)

func (e *Error) Error() string {
	msg := e.Msg
	switch {
	case msg == "" && e.Err != nil:
		msg = e.Err.Error()
	case msg != "" && e.Err != nil:
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind when the target is a bare
// sentinel (no message, no cause).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil && t.Field == ""
}

// Invalid tags cause as a validation error on field.
func Invalid(field string, cause error) error {
	return &Error{Kind: KindValidation, Field: field, Err: cause}
}

func Invalidf(field, format string, args ...any) error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity. Entities owned by another user are
// reported the same way.
func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s %q not found", entity, id)}
}

func Referential(format string, args ...any) error {
	return &Error{Kind: KindReferentialIntegrity, Msg: fmt.Sprintf(format, args...)}
}

func Timeout(cause error) error {
	return &Error{Kind: KindConcurrencyTimeout, Msg: "timed out waiting for payment method lock", Err: cause}
}

// Storage wraps a persistence failure. Already tagged errors pass through.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: KindStorage, Msg: op, Err: err}
}

// KindOf returns the kind of err, or KindStorage for untagged errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindStorage
}
