// Package errors provides a minimal error type supporting sentinel
// values that can be enriched with an underlying cause, without
// resorting to fmt.Errorf("%w", err) at every call site.
package errors

import (
	stderr "errors"
)

var _ error = New("")

// New creates a sentinel error with a fixed message.
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error is an error with an optional wrapped cause.
//
// Wrapping a cause returns a copy, so package-level sentinels are
// never mutated by call sites.
type Error struct {
	msg string
	err error
}

// Error message
func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

// Unwrap the underlying cause, if any
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap returns a copy of this error with the cause attached.
func (e *Error) Wrap(err error) *Error {
	return &Error{msg: e.msg, err: err}
}

// WrapMessage returns a copy of this error with a fixed-message cause attached.
func (e *Error) WrapMessage(msg string) *Error {
	return &Error{msg: e.msg, err: New(msg)}
}

// Is reports a match on the sentinel itself or on another sentinel
// carrying the same message.
func (e *Error) Is(target error) bool {
	if e == target {
		return true
	}
	if o, ok := target.(*Error); ok && e.msg == o.msg && o.err == nil {
		return true
	}
	return false
}

// As finds the first error in err's chain that matches target
// (a shortcut to the standard library errors.As)
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to the standard library errors.Is)
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
