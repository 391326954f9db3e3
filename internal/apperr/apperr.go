// Package apperr classifies failures so the transport can map them to responses.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an operation.
type Kind string

const (
	KindUnknown    Kind = "UNKNOWN"
	KindValidation Kind = "VALIDATION"
	KindAuth       Kind = "AUTH"
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindCapacity   Kind = "CAPACITY"
	KindStorage    Kind = "STORAGE"
)

// Error carries a Kind, a client-facing message and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind != "" && e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrCapacity   = &Error{Kind: KindCapacity}
	ErrStorage    = &Error{Kind: KindStorage}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error { return New(KindValidation, msg) }
func NotFound(msg string) *Error   { return New(KindNotFound, msg) }
func Conflict(msg string) *Error   { return New(KindConflict, msg) }
func Capacity(msg string) *Error   { return New(KindCapacity, msg) }
func Auth(msg string) *Error       { return New(KindAuth, msg) }

// Storage wraps an unexpected filesystem failure.
func Storage(msg string, err error) *Error { return Wrap(KindStorage, msg, err) }

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the client-facing message of err. Storage and unknown
// failures collapse to fallback so internals are not leaked.
func Message(err error, fallback string) string {
	var e *Error
	if !errors.As(err, &e) {
		return fallback
	}
	if e.Kind == KindStorage || e.Message == "" {
		return fallback
	}
	return e.Message
}
