package stream

import (
	"errors"
	"fmt"
)

var (
	ErrTransport  = errors.New("transport error")
	ErrCancelled  = errors.New("exchange cancelled")
	ErrConsumed   = errors.New("response body already consumed")
	ErrNoResponse = errors.New("exchange finished without a response")

	ErrContentLengthMismatch = errors.New("content length mismatch")
	ErrChecksumMismatch      = errors.New("checksum mismatch")

	// ErrReadTimeout and ErrStalled report Timeout() == true.
	ErrReadTimeout error = &timeoutError{msg: "timeout reading response body"}
	ErrStalled     error = &timeoutError{msg: "response body not read in time"}
)

type timeoutError struct{ msg string }

func (e *timeoutError) Error() string { return e.msg }
func (e *timeoutError) Timeout() bool { return true }

// TransportError is a failure that happened after the request was handed
// to the pool: leasing, connecting, sending or reading the body.
type TransportError struct {
	Op   string
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Host, e.Err)
}

// Unwrap exposes both ErrTransport and the underlying cause.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// Timeout reports whether any error in the chain is a timeout.
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// Error wraps a sentinel error with additional detail.
type Error struct {
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}
