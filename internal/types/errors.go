package types

import (
	"errors"
	"fmt"
)

// ErrorKind partitions kernel failures for adapters: CLI exit codes and HTTP
// statuses dispatch on the kind, never on message text.
type ErrorKind string

const (
	ErrNotFound           ErrorKind = "not_found"
	ErrPreconditionFailed ErrorKind = "precondition_failed"
	ErrBlockedByDeps      ErrorKind = "blocked_by_deps"
	ErrPolicyDenied       ErrorKind = "policy_denied"
	ErrSchemaMismatch     ErrorKind = "schema_mismatch"
	ErrLockTimeout        ErrorKind = "lock_timeout"
	ErrIO                 ErrorKind = "io_error"
	ErrIntegrity          ErrorKind = "integrity_error"
)

// Error is a structured kernel failure. The engine returns these across its
// boundary instead of throwing; adapters unwrap the kind for presentation.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a kernel error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kernel error kind, defaulting to io_error for plain
// errors that escaped without classification.
func KindOf(err error) ErrorKind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ErrIO
}
