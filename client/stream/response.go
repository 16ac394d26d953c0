package stream

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/text/transform"
)

// Response is the metadata of a received response together with its body
// stream. The body can be consumed once, through exactly one of Chunks,
// Aggregate, Bytes or SaveTo.
type Response struct {
	StatusCode    int
	Status        string
	Proto         string
	Header        http.Header
	ContentLength int64

	chunks     chan []byte
	subscribed chan struct{}
	err        error
	consumed   atomic.Bool
	cancel     context.CancelCauseFunc
	logger     *slog.Logger
}

// newResponse maps a transport response onto a Response. The body is not
// touched; chunks are fed in by the exchange's producer.
func newResponse(hr *http.Response, cancel context.CancelCauseFunc, logger *slog.Logger) *Response {
	return &Response{
		StatusCode:    hr.StatusCode,
		Status:        hr.Status,
		Proto:         hr.Proto,
		Header:        hr.Header.Clone(),
		ContentLength: hr.ContentLength,
		chunks:        make(chan []byte),
		subscribed:    make(chan struct{}),
		cancel:        cancel,
		logger:        logger,
	}
}

// Chunks yields the body in arrival order, one chunk per read of the
// connection. Data that is already buffered when a read happens arrives
// as a single chunk. The sequence ends when the server finishes the body;
// a failure ends it with a final (nil, err) pair instead. Stopping the
// iteration early cancels the exchange and frees its connection.
func (r *Response) Chunks() iter.Seq2[[]byte, error] {
	return r.seq(context.Background())
}

func (r *Response) seq(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if !r.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrConsumed)
			return
		}
		close(r.subscribed)

		for {
			select {
			case chunk, ok := <-r.chunks:
				if !ok {
					if r.err != nil {
						yield(nil, r.err)
					}
					return
				}
				if !yield(chunk, nil) {
					r.cancel(ErrCancelled)
					return
				}
			case <-ctx.Done():
				r.cancel(ErrCancelled)
				yield(nil, context.Cause(ctx))
				return
			}
		}
	}
}

// Aggregate reads the whole body and decodes it with the charset declared
// in Content-Type, UTF-8 when none is declared or the declared one is
// unknown.
func (r *Response) Aggregate(ctx context.Context) (string, error) {
	enc, name, ok := LookupCharset(r.Header.Get("Content-Type"))
	if !ok {
		r.logger.Debug("unsupported response charset, decoding as utf-8", "charset", name)
	}

	var sb strings.Builder
	w := transform.NewWriter(&sb, enc.NewDecoder())

	for chunk, err := range r.seq(ctx) {
		if err != nil {
			return "", err
		}
		if _, err := w.Write(chunk); err != nil {
			return "", fmt.Errorf("decoding %s body: %w", name, err)
		}
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("decoding %s body: %w", name, err)
	}

	return sb.String(), nil
}

// Bytes reads the whole body without decoding it.
func (r *Response) Bytes(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if r.ContentLength > 0 {
		buf.Grow(int(r.ContentLength))
	}

	for chunk, err := range r.seq(ctx) {
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}

	return buf.Bytes(), nil
}
