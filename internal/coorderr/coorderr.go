// Package coorderr defines the typed error kinds returned across the
// coordination engine's public boundary. Every engine operation resolves to
// either a success value or exactly one of these kinds; nothing panics or
// throws across the boundary.
package coorderr

import (
	"errors"
	"fmt"
)

// Kind identifies an error category. Kinds are stable wire values: the HTTP
// surface returns them verbatim in error bodies and the CLI maps them to
// exit codes, so they must never be renamed.
type Kind string

const (
	KindDuplicateAgent    Kind = "DuplicateAgent"
	KindAgentNotFound     Kind = "AgentNotFound"
	KindAgentOverCapacity Kind = "AgentOverCapacity"
	KindWorkItemNotFound  Kind = "WorkItemNotFound"
	KindAlreadyClaimed    Kind = "AlreadyClaimed"
	KindInvalidTransition Kind = "InvalidTransition"
	KindStoreUnavailable  Kind = "StoreUnavailable"
	KindValidationFailed  Kind = "ValidationFailed"
)

// Retryable reports whether callers may retry the failed operation.
// StoreUnavailable is the only transient kind; all others indicate a
// caller-side logic error (wrong state, wrong ID).
func (k Kind) Retryable() bool {
	return k == KindStoreUnavailable
}

// Error is a coordination error carrying a Kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Unknown errors report
// StoreUnavailable and false: anything that escapes the engine without a
// kind is, by construction, an infrastructure failure.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindStoreUnavailable, false
}
