// Package apperrors defines the error type used across the relay. It extends
// the standard error interface with status-code management and error chaining
// so that a handler can map any error produced by the service layers onto an
// HTTP response without type switches at the call site.
package apperrors

// Error is the interface all relay errors implement. Methods return Error to
// support chaining; none of them mutate the receiver.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // derives a fresh error using current as template
	Msg(msg string) Error                  // new message, wraps the original
	MsgErr(msg string, err ...error) Error // new message, wraps original plus extra errors
	Err(err ...error) Error                // attaches additional errors, keeps the message
	SetExpandError(bool) Error             // controls whether ErrorAll includes wrapped errors
	SetStatusCode(int) Error               // sets the HTTP status code carried by the error
	StatusCode() int                       // returns the carried status code
	ErrorAll() string                      // message including wrapped errors when expansion is on
	UnwrapAll() []error                    // all wrapped errors
}
