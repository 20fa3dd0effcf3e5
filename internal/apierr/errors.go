// Package apierr defines the closed error taxonomy used across the core.
//
// Every handler, store operation, and kernel check returns one of these
// kinds (or wraps a lower-level error with one). The transport boundary
// (internal/grpcapi) is the only place a Kind is mapped to a wire error;
// nothing below it should know about gRPC status codes.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of error categories, per spec §7.
type Kind int

const (
	// KindUnknown is never intentionally returned; its presence means a
	// caller forgot to classify an error.
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidArgument
	KindUnauthenticated
	KindPermissionDenied
	KindConflict
	KindUnavailable
	// KindFatal marks an error the process cannot recover from: store
	// corruption, a poisoned lock, a field-registry mismatch at startup.
	// Callers that see a KindFatal error should abort, not retry.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindPermissionDenied:
		return "permission_denied"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a Kind and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for a node, event, subscriber, or key.
func NotFound(format string, args ...interface{}) error { return newf(KindNotFound, format, args...) }

// InvalidArgument builds an error for a malformed ID, access-key shape,
// PEM, or filter.
func InvalidArgument(format string, args ...interface{}) error {
	return newf(KindInvalidArgument, format, args...)
}

// Unauthenticated builds an error for a missing, expired, or unverifiable
// token.
func Unauthenticated(format string, args ...interface{}) error {
	return newf(KindUnauthenticated, format, args...)
}

// PermissionDenied builds an error for an unsatisfied authorization context.
func PermissionDenied(format string, args ...interface{}) error {
	return newf(KindPermissionDenied, format, args...)
}

// Conflict builds an error for a unique-name violation, stale edge, or
// duplicate proposal.
func Conflict(format string, args ...interface{}) error { return newf(KindConflict, format, args...) }

// Unavailable builds an error for a consensus transport stalled below
// quorum.
func Unavailable(format string, args ...interface{}) error {
	return newf(KindUnavailable, format, args...)
}

// Fatal wraps err as a server-fatal condition: store I/O, field-map
// mismatch, or a poisoned lock. The caller is expected to abort the process.
func Fatal(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindFatal, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Wrap attaches kind to err, preserving err as the cause. If err is already
// an *Error, its kind is kept and only the message is prefixed.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Kind: existing.Kind, Message: msg + ": " + existing.Message, Cause: existing.Cause}
	}
	return &Error{Kind: kind, Message: msg, Cause: err}
}

// KindOf extracts the Kind of err, defaulting to KindUnknown for plain
// errors that never went through this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }
