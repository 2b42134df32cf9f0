// Package apperr implements the explicit result/error-kind model called for
// by the design notes: every public operation across the daemon returns
// either a value or a typed *Error, and HTTP adapters translate that into a
// status code and error envelope. This replaces the teacher's ad-hoc
// sentinel-error-plus-status-code pattern (internal/api/errors.go,
// response.go) with one shared, explicit type used everywhere.
package apperr

import "fmt"

// Kind enumerates the error classifications from the failure semantics
// section of the specification (§4.11 / §7).
type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindBusy                 Kind = "busy"
	KindTimeout              Kind = "timeout"
	KindHardwareUnavailable  Kind = "hardware_unavailable"
	KindStorageError         Kind = "storage_error"
	KindIntegrityError       Kind = "integrity_error"
	KindInternalError        Kind = "internal_error"
	KindInUse                Kind = "in_use"
	KindDuplicateHash        Kind = "duplicate_hash"
	KindMismatchedSet        Kind = "mismatched_set"
	KindUnknownOperation     Kind = "unknown_operation"
)

// Error is the typed error carried through every component boundary.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/As to reach the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a lower-level cause to a typed error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured detail fields and returns the receiver for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind from err, defaulting to KindInternalError.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternalError
}

// Validation, NotFound, Conflict, Busy, Timeout are small convenience
// constructors mirroring the kinds most frequently produced by components.
func Validation(format string, args ...interface{}) *Error {
	return Newf(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return Newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return Newf(KindConflict, format, args...)
}

func Busy(format string, args ...interface{}) *Error {
	return Newf(KindBusy, format, args...)
}

func Timeout(format string, args ...interface{}) *Error {
	return Newf(KindTimeout, format, args...)
}

func Internal(format string, args ...interface{}) *Error {
	return Newf(KindInternalError, format, args...)
}
