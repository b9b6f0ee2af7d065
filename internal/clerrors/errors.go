// Package clerrors provides a structured error type for clcache's internal
// packages, carrying a stable code alongside the wrapped cause.
package clerrors

import (
	"fmt"
	"time"
)

// Code identifies the kind of failure a clcache component raised.
type Code string

const (
	// ErrCodeLockTimeout is returned when the cross-process cache lock could
	// not be acquired within the configured timeout.
	ErrCodeLockTimeout Code = "LOCK_TIMEOUT"
	// ErrCodePreprocessorFailed is returned when the real compiler, invoked
	// with /EP or /E to derive a fingerprint, exits non-zero.
	ErrCodePreprocessorFailed Code = "PREPROCESSOR_FAILED"
	// ErrCodeCompilerFailed is returned when the real compiler fails on a
	// cache miss.
	ErrCodeCompilerFailed Code = "COMPILER_FAILED"
	// ErrCodeEntryWriteFailed is returned when an object store insertion
	// could not complete (disk full, permission denied, etc).
	ErrCodeEntryWriteFailed Code = "ENTRY_WRITE_FAILED"
	// ErrCodeConfigCorrupt marks a config/stats document that failed to
	// parse; callers absorb this into an empty document rather than
	// surfacing it further, per the documented error-handling philosophy.
	ErrCodeConfigCorrupt Code = "CONFIG_CORRUPT"
	// ErrCodeCompilerNotFound is returned when a binary the wrapper must
	// exec is not available; the dispatcher raises it when no wrapper
	// executable is configured for fan-out children.
	ErrCodeCompilerNotFound Code = "COMPILER_NOT_FOUND"
)

// Error is clcache's structured error type: a stable Code, the component
// that raised it, and the wrapped cause (if any).
type Error struct {
	Code      Code
	Component string
	Message   string
	Cause     error
	Retryable bool
	Timestamp time.Time
}

// New builds an Error with the given code, component, and message.
func New(code Code, component, message string) *Error {
	return &Error{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap builds an Error wrapping cause.
func Wrap(code Code, component string, cause error) *Error {
	return &Error{
		Code:      code,
		Component: component,
		Message:   cause.Error(),
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// WithRetryable marks the error as retryable and returns it for chaining.
func (e *Error) WithRetryable() *Error {
	e.Retryable = true
	return e
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap enables errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error.
func CodeOf(err error) (Code, bool) {
	var ce *Error
	for err != nil {
		if c, ok := err.(*Error); ok {
			ce = c
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ce == nil {
		return "", false
	}
	return ce.Code, true
}
