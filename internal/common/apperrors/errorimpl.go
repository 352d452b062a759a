package apperrors

import (
	"errors"
	"strings"
)

// appError is the concrete Error implementation. Values are treated as
// immutable: every modifier returns a copy so package-level sentinel errors
// stay safe for concurrent use.
type appError struct {
	msg           string  // primary error message
	base          error   // base error for errors.Is/As compatibility
	wrappedErrors []error // additional wrapped errors
	statuscode    int     // HTTP status code
	expandError   bool    // controls error message expansion
}

func (e *appError) Error() string {
	return e.msg
}

// ErrorAll returns the message joined with all wrapped errors when expansion
// is enabled, and the plain message otherwise. Handlers use this to decide how
// much detail leaves the process.
func (e *appError) ErrorAll() string {
	if !e.expandError {
		return e.Error()
	}
	var b strings.Builder
	b.WriteString(e.Error())
	for _, err := range e.wrappedErrors {
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the base error for errors.Is / errors.As.
func (e *appError) Unwrap() error {
	return e.base
}

// UnwrapAll returns all wrapped errors in the order they were added.
func (e *appError) UnwrapAll() []error {
	return e.wrappedErrors
}

// Msg creates a new error with the given message that wraps the original.
// Status code and expansion flag are inherited.
func (e *appError) Msg(msg string) Error {
	return &appError{
		msg:           msg,
		base:          e,
		wrappedErrors: append([]error{e}, e.wrappedErrors...),
		statuscode:    e.statuscode,
		expandError:   e.expandError,
	}
}

// New derives a fresh error from the current one. The result matches the
// original under errors.Is but carries no wrapped chain of its own.
func (e *appError) New(msg string) Error {
	return &appError{
		msg:         msg,
		base:        e,
		statuscode:  e.statuscode,
		expandError: e.expandError,
	}
}

// MsgErr creates a new error with the given message that wraps the original
// plus any additional errors.
func (e *appError) MsgErr(msg string, errs ...error) Error {
	all := append([]error{e}, errs...)
	return &appError{
		msg:           msg,
		base:          e,
		wrappedErrors: all,
		statuscode:    e.statuscode,
		expandError:   e.expandError,
	}
}

// Err attaches additional errors while keeping the current message.
func (e *appError) Err(errs ...error) Error {
	all := append([]error{e}, errs...)
	return &appError{
		msg:           e.msg,
		base:          e,
		wrappedErrors: all,
		statuscode:    e.statuscode,
		expandError:   e.expandError,
	}
}

// SetExpandError returns a copy with the expansion flag updated.
func (e *appError) SetExpandError(flag bool) Error {
	cp := *e
	cp.expandError = flag
	return &cp
}

// SetStatusCode returns a copy with the status code updated.
func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.statuscode = code
	return &cp
}

// StatusCode returns the HTTP status code carried by the error.
func (e *appError) StatusCode() int {
	return e.statuscode
}

// New creates a root-level error with the given message. Packages declare
// their error taxonomy as values built from New at init time.
func New(msg string) Error {
	return &appError{
		msg: msg,
	}
}

// Is reports whether the error matches the target through either the base
// error or any wrapped error.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, err := range e.wrappedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
