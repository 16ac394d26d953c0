package client

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/asynchttp/client/auth"
	"github.com/adamwoolhether/asynchttp/client/throttle"
)

// Option is a functional option for configuring a [Client] via [New].
type Option func(*options) error

type options struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	userAgent string
	throttle  *throttle.Config
	tlsConfig *tls.Config
	authCache *auth.Cache
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(c *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTracer records a span per exchange with the given tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		c.tracer = tracer
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing requests.
func WithUserAgent(header string) Option {
	return func(c *options) error {
		c.userAgent = header
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting of dispatches with the
// given requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(c *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		c.throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithTLSConfig sets the TLS configuration used for https hosts.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *options) error {
		if cfg == nil {
			return errors.New("tls config must not be nil")
		}
		c.tlsConfig = cfg.Clone()
		return nil
	}
}

// WithAuthCache shares an existing preemptive auth cache with the [Client].
func WithAuthCache(cache *auth.Cache) Option {
	return func(c *options) error {
		if cache == nil {
			return errors.New("auth cache must not be nil")
		}
		c.authCache = cache
		return nil
	}
}

// RequestOption is a functional option for [NewRequest].
type RequestOption func(options *requestOpts) error

type requestOpts struct {
	text        *string
	raw         []byte
	contentType *string
	cookies     []*http.Cookie
	headers     []Header
}

// WithBody sets a text body. It is encoded with the charset declared by the
// Content-Type, "text/plain; charset=utf-8" unless overridden.
func WithBody(text string) RequestOption {
	return func(opts *requestOpts) error {
		opts.text = &text
		opts.raw = nil
		return nil
	}
}

// WithBytes sets a body sent as-is, "application/octet-stream" unless the
// Content-Type is overridden.
func WithBytes(b []byte) RequestOption {
	return func(opts *requestOpts) error {
		opts.raw = slices.Clone(b)
		if opts.raw == nil {
			opts.raw = []byte{}
		}
		opts.text = nil
		return nil
	}
}

// WithJSON sets the JSON encoding of v as the body, "application/json"
// unless the Content-Type is overridden.
func WithJSON(v any) RequestOption {
	return func(opts *requestOpts) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: encoding json payload: %w", ErrEncoding, err)
		}
		opts.raw = b
		opts.text = nil
		if opts.contentType == nil {
			ct := "application/json"
			opts.contentType = &ct
		}
		return nil
	}
}

// WithContentType overrides the default Content-Type of the body.
func WithContentType(contentType string) RequestOption {
	return func(opts *requestOpts) error {
		if contentType == "" {
			return errors.New("cannot use empty content type")
		}

		opts.contentType = &contentType

		return nil
	}
}

// WithHeader appends a header field. Fields keep the order they were added
// in, and a name may repeat.
func WithHeader(name, value string) RequestOption {
	return func(opts *requestOpts) error {
		opts.headers = append(opts.headers, Header{Name: name, Value: value})
		return nil
	}
}

// WithHeaders appends the given header fields, ordered by name.
func WithHeaders(headers map[string][]string) RequestOption {
	return func(opts *requestOpts) error {
		for _, name := range slices.Sorted(maps.Keys(headers)) {
			for _, value := range headers[name] {
				opts.headers = append(opts.headers, Header{Name: name, Value: value})
			}
		}
		return nil
	}
}

// WithCookies attaches the given cookies to the outgoing request.
func WithCookies(cookies ...*http.Cookie) RequestOption {
	return func(opts *requestOpts) error {
		for _, c := range cookies {
			if c == nil {
				return errors.New("cookie must not be nil")
			}
		}
		opts.cookies = append(opts.cookies, cookies...)
		return nil
	}
}

// URLOption is a functional option for [URL].
type URLOption func(options *urlOpts)

type urlOpts struct {
	queryStrings map[string]string
	port         *int
}

// WithQueryStrings appends query parameters to the URL.
func WithQueryStrings(queryKV map[string]string) URLOption {
	return func(opts *urlOpts) {
		opts.queryStrings = queryKV
	}
}

// WithPort sets the port number on the URL's host.
func WithPort(port int) URLOption {
	return func(opts *urlOpts) {
		opts.port = &port
	}
}
