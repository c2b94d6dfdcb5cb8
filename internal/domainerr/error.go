// Package domainerr defines the kernel's error taxonomy. Handlers and
// components return *Error (or a wrapped one); the Dispatcher reports a
// failed call to the client as an MCP tool-result error whose text is the
// error's Error() string ("<kind>: <message>"). No Kind is mapped to a
// JSON-RPC error code.
package domainerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories defined by the orchestration kernel's
// error handling design. Every outward-facing failure fits exactly one.
type Kind string

const (
	Unauthenticated Kind = "unauthenticated"
	Forbidden       Kind = "forbidden"
	RateLimited     Kind = "rate_limited"
	InvalidArgument Kind = "invalid_argument"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	Misconfigured   Kind = "misconfigured"
	Unavailable     Kind = "unavailable"
	DeadlineExceeded Kind = "deadline_exceeded"
	Cancelled       Kind = "cancelled"
	Internal        Kind = "internal"
)

// Error is the concrete error type returned by every kernel component.
// Message is always safe to show a client; internal detail (stack frames,
// paths, secrets) must never be put there — see New vs Wrap below.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	cause         error
}

func (e *Error) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s: %s (correlation_id=%s)", e.Kind, e.Message, e.CorrelationID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a domain error with a formatted client-safe message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an internal cause to a domain error without leaking its
// detail to Message. Use this when the cause may contain paths, driver
// errors, or other information unsafe to return to a client.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// As extracts a *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it (or something it wraps) is a
// *Error, else Internal.
func KindOf(err error) Kind {
	if de, ok := As(err); ok {
		return de.Kind
	}
	return Internal
}
