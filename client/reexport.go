package client

import (
	"errors"
	"hash"

	"github.com/adamwoolhether/asynchttp/client/pool"
	"github.com/adamwoolhether/asynchttp/client/stream"
)

var (
	// ErrConfiguration wraps invalid client settings, malformed URLs and
	// invalid header fields. It is always returned synchronously.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrEncoding reports a request body that cannot be represented in the
	// charset declared by its Content-Type.
	ErrEncoding = errors.New("cannot encode request body")
)

// --------------------------------------------------------------------
// Type aliases - re-export user-facing types from [stream].
// --------------------------------------------------------------------

type (
	// Exchange is the handle returned by [Client.Execute].
	Exchange = stream.Exchange

	// Response carries the status line, header fields and body stream.
	Response = stream.Response

	// TransportError wraps failures that happen after dispatch.
	TransportError = stream.TransportError

	// SaveOption configures [stream.Response.SaveTo].
	SaveOption = stream.SaveOption
)

// --------------------------------------------------------------------
// Sentinel errors
// --------------------------------------------------------------------

var (
	// ErrTransport is matched by every [TransportError].
	ErrTransport = stream.ErrTransport

	// ErrCancelled ends the stream of an exchange that was cancelled or
	// whose consumer stopped reading.
	ErrCancelled = stream.ErrCancelled

	// ErrConsumed is yielded when a response body is read a second time.
	ErrConsumed = stream.ErrConsumed

	// ErrReadTimeout indicates the body produced no data within SocketTimeout.
	ErrReadTimeout = stream.ErrReadTimeout

	// ErrStalled indicates nobody started reading the body in time.
	ErrStalled = stream.ErrStalled

	// ErrChecksumMismatch indicates the saved body did not match the expected checksum.
	ErrChecksumMismatch = stream.ErrChecksumMismatch

	// ErrContentLengthMismatch indicates the byte count did not match Content-Length.
	ErrContentLengthMismatch = stream.ErrContentLengthMismatch

	// ErrClosed is returned for work submitted to, or in flight on, a stopped client.
	ErrClosed = pool.ErrClosed

	// ErrNotStarted is returned by Execute before Start has been called.
	ErrNotStarted = pool.ErrNotStarted

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = pool.ErrAlreadyStarted

	// ErrLeaseTimeout indicates no connection slot became free within LeaseTimeout.
	ErrLeaseTimeout = pool.ErrLeaseTimeout
)

// --------------------------------------------------------------------
// Save option forwarding functions
// --------------------------------------------------------------------

// WithChecksum enables checksum validation of a saved body.
// h is a [hash.Hash] instance (e.g. sha256.New()), and expected is the
// hex-encoded expected checksum string.
func WithChecksum(h hash.Hash, expected string) SaveOption {
	return stream.WithChecksum(h, expected)
}

// WithProgress enables periodic progress logging while saving a body.
func WithProgress() SaveOption { return stream.WithProgress() }

// WithSkipExisting makes SaveTo return nil immediately when the
// destination file already exists.
func WithSkipExisting() SaveOption { return stream.WithSkipExisting() }
