// Package errors provides the error taxonomy shared by all upload
// components. Every remote or validation failure is wrapped into an *Error
// carrying a Class, and the retry layer consults the class to decide whether
// an operation may be attempted again.
package errors

import (
	"errors"
	"fmt"
)

// Class identifies how an upload failure must be handled.
type Class int

const (
	// ClassValidation marks malformed caller input: missing files, negative
	// sizes, unreadable paths. Never retried.
	ClassValidation Class = iota

	// ClassAuth marks a credential rejected by the Dataverse API. Never
	// retried, the affected file fails immediately.
	ClassAuth

	// ClassNetwork marks connection failures, timeouts and 5xx responses.
	// Retried with backoff.
	ClassNetwork

	// ClassLockConflict marks server-side dataset locks hit during
	// registration. Retried with backoff, same as network failures.
	ClassLockConflict

	// ClassPackaging marks a violated upload-contract invariant, such as a
	// part-size mismatch or a ticket without usable URLs. Indicates a logic
	// or server bug and is never retried.
	ClassPackaging
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassAuth:
		return "auth"
	case ClassNetwork:
		return "network"
	case ClassLockConflict:
		return "lock conflict"
	case ClassPackaging:
		return "packaging"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this class may be attempted again.
func (c Class) Retryable() bool {
	return c == ClassNetwork || c == ClassLockConflict
}

// Error is an upload operation failure with its handling class attached.
type Error struct {
	// Op is the operation that failed, e.g. "allocate" or "upload chunk".
	Op string

	// Class decides retry handling.
	Class Class

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error may be attempted again.
func (e *Error) Retryable() bool {
	return e.Class.Retryable()
}

// New creates an Error for the given operation and class.
func New(op string, class Class, err error) *Error {
	return &Error{Op: op, Class: class, Err: err}
}

// Newf creates an Error with a formatted message as its cause.
func Newf(op string, class Class, format string, args ...interface{}) *Error {
	return &Error{Op: op, Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf extracts the class of err. The second return value is false when
// err does not carry one, in which case the caller should treat it as fatal.
func ClassOf(err error) (Class, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return 0, false
}

// IsRetryable reports whether err carries a retryable class. Unclassified
// errors are not retryable.
func IsRetryable(err error) bool {
	class, ok := ClassOf(err)
	return ok && class.Retryable()
}
