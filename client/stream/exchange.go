package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultStallTimeout bounds how long an unread body may wait for its
	// consumer when no stall timeout is configured.
	DefaultStallTimeout = 30 * time.Second

	chunkSize = 32 << 10
)

// Config describes one exchange.
type Config struct {
	ID   uuid.UUID
	Host string

	// ReadTimeout bounds each read of the response body. Zero disables it.
	ReadTimeout time.Duration

	// StallTimeout bounds how long delivered headers wait for the consumer
	// to start reading the body before the exchange is aborted. Once the
	// body is subscribed the consumer sets the pace. Zero means
	// DefaultStallTimeout; a negative value disables the check.
	StallTimeout time.Duration

	Logger *slog.Logger
}

// Exchange is the caller's handle on one asynchronous request/response
// exchange. It is returned before anything has been sent; the response
// becomes available once its headers arrive.
type Exchange struct {
	id           uuid.UUID
	host         string
	readTimeout  time.Duration
	stallTimeout time.Duration
	logger       *slog.Logger
	cancel       context.CancelCauseFunc

	ready     chan struct{}
	readyOnce sync.Once
	resp      *Response

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// New returns an Exchange and the context its producer must run under.
// The context is cancelled when the consumer cancels or abandons the
// exchange.
func New(ctx context.Context, cfg Config) (*Exchange, context.Context) {
	ctx, cancel := context.WithCancelCause(ctx)

	x := &Exchange{
		id:           cfg.ID,
		host:         cfg.Host,
		readTimeout:  cfg.ReadTimeout,
		stallTimeout: cfg.StallTimeout,
		logger:       cfg.Logger,
		cancel:       cancel,
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}

	if x.id == uuid.Nil {
		x.id = uuid.New()
	}
	if x.stallTimeout == 0 {
		x.stallTimeout = DefaultStallTimeout
	}
	if x.logger == nil {
		x.logger = slog.Default()
	}

	return x, ctx
}

// ID identifies the exchange in logs and traces.
func (x *Exchange) ID() uuid.UUID { return x.id }

// Ready is closed once the response headers are available or the
// exchange failed before any arrived.
func (x *Exchange) Ready() <-chan struct{} { return x.ready }

// Done is closed once the exchange has finished and its lease is released.
func (x *Exchange) Done() <-chan struct{} { return x.done }

// Err blocks until the exchange finishes and returns its terminal error.
// A body read to completion yields nil.
func (x *Exchange) Err() error {
	<-x.done
	return x.err
}

// Cancel aborts the exchange. Pending and future reads of the body end
// with ErrCancelled. Cancelling a finished exchange has no effect.
func (x *Exchange) Cancel() {
	x.cancel(ErrCancelled)
}

// Response waits for the response headers.
func (x *Exchange) Response(ctx context.Context) (*Response, error) {
	select {
	case <-x.ready:
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}

	if x.resp == nil {
		return nil, x.err
	}
	return x.resp, nil
}

// Chunks waits for the response and then yields its body chunks.
func (x *Exchange) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		resp, err := x.Response(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for chunk, err := range resp.seq(ctx) {
			if !yield(chunk, err) {
				return
			}
		}
	}
}

// Aggregate waits for the response and returns its decoded body.
func (x *Exchange) Aggregate(ctx context.Context) (string, error) {
	resp, err := x.Response(ctx)
	if err != nil {
		return "", err
	}
	return resp.Aggregate(ctx)
}

// Bytes waits for the response and returns its raw body.
func (x *Exchange) Bytes(ctx context.Context) ([]byte, error) {
	resp, err := x.Response(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Bytes(ctx)
}

// Deliver publishes hr's headers and then pumps its body to the consumer,
// one chunk per read, until EOF, failure or cancellation. It closes the
// body before returning. ctx must be the context returned by New or one
// derived from it.
func (x *Exchange) Deliver(ctx context.Context, hr *http.Response) error {
	defer func() {
		if err := hr.Body.Close(); err != nil {
			x.logger.Debug("closing response body", "exchange", x.id, "error", err)
		}
	}()

	resp := newResponse(hr, x.cancel, x.logger)
	x.readyOnce.Do(func() {
		x.resp = resp
		close(x.ready)
	})

	x.logger.Debug("exchange response", "exchange", x.id, "host", x.host, "status", resp.StatusCode)

	err := x.pump(ctx, hr.Body, resp)
	resp.err = err
	close(resp.chunks)

	return err
}

// Finish records the exchange's terminal error and closes Done. An
// exchange that never delivered a response fails Response with err, or
// with ErrNoResponse when err is nil.
func (x *Exchange) Finish(err error) {
	x.doneOnce.Do(func() {
		if x.resp == nil && err == nil {
			err = ErrNoResponse
		}
		x.err = err
		x.readyOnce.Do(func() { close(x.ready) })
		x.cancel(context.Canceled)
		close(x.done)

		if err != nil {
			x.logger.Debug("exchange failed", "exchange", x.id, "host", x.host, "error", err)
		}
	})
}

func (x *Exchange) pump(ctx context.Context, body io.Reader, resp *Response) error {
	timer := time.AfterFunc(time.Hour, func() { x.cancel(ErrReadTimeout) })
	timer.Stop()
	defer timer.Stop()

	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			return x.failure(ctx, "read", ctx.Err())
		}

		if x.readTimeout > 0 {
			timer.Reset(x.readTimeout)
		}
		n, err := body.Read(buf)
		timer.Stop()

		if n > 0 {
			if err := x.emit(ctx, resp, bytes.Clone(buf[:n])); err != nil {
				return err
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return x.failure(ctx, "read", err)
		}
	}
}

// emit hands chunk to the consumer. The stall timer only runs until the
// body is subscribed.
func (x *Exchange) emit(ctx context.Context, resp *Response, chunk []byte) error {
	subscribed := resp.subscribed

	var stall <-chan time.Time
	select {
	case <-subscribed:
		subscribed = nil
	default:
		if x.stallTimeout > 0 {
			timer := time.NewTimer(x.stallTimeout)
			defer timer.Stop()
			stall = timer.C
		}
	}

	for {
		select {
		case resp.chunks <- chunk:
			return nil
		case <-ctx.Done():
			return x.failure(ctx, "deliver", ctx.Err())
		case <-subscribed:
			subscribed, stall = nil, nil
		case <-stall:
			x.logger.Warn("exchange stalled, body never read", "exchange", x.id, "host", x.host, "timeout", x.stallTimeout)
			x.cancel(ErrStalled)
			return &TransportError{Op: "deliver", Host: x.host, Err: ErrStalled}
		}
	}
}

// failure maps a producer-side error onto the stream's error kinds:
// timeouts and I/O failures become TransportErrors, while cancellation and
// shutdown surface their own cause.
func (x *Exchange) failure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, ErrReadTimeout) || errors.Is(cause, ErrStalled) {
			return &TransportError{Op: op, Host: x.host, Err: cause}
		}
		return cause
	}
	return &TransportError{Op: op, Host: x.host, Err: err}
}
