package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/asynchttp/client/auth"
	"github.com/adamwoolhether/asynchttp/client/pool"
	"github.com/adamwoolhether/asynchttp/client/stream"
	"github.com/adamwoolhether/asynchttp/client/throttle"
)

// maxChallengeBodySize caps how much of a 401 body is drained before the
// challenge is answered on the same connection.
const maxChallengeBodySize = 4 << 10 // 4KB

// Client issues requests asynchronously over a bounded connection pool.
// Every request returns an [Exchange] immediately; the response and its
// body arrive on it as the pool's goroutines make progress.
type Client struct {
	cfg       Config
	creds     auth.Credentials
	cache     *auth.Cache
	pool      *pool.Pool
	logger    *slog.Logger
	tracer    trace.Tracer
	userAgent string
}

// New validates cfg and builds a Client. Nothing is started: call
// [Client.Start] before executing requests and [Client.Stop] when done.
func New(cfg Config, optFns ...Option) (*Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("%w: applying client option: %w", ErrConfiguration, err)
		}
	}

	c := &Client{
		cfg:       cfg,
		creds:     auth.Credentials{Username: cfg.Username, Password: cfg.Password},
		cache:     opts.authCache,
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer("asynchttp"),
		userAgent: opts.userAgent,
	}
	if c.cache == nil {
		c.cache = auth.NewCache()
	}
	if opts.logger != nil {
		c.logger = opts.logger
	}
	if opts.tracer != nil {
		c.tracer = opts.tracer
	}

	var limiter *throttle.Limiter
	if opts.throttle != nil {
		var err error
		limiter, err = throttle.New(*opts.throttle, c.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: configuring throttle: %w", ErrConfiguration, err)
		}
	}

	p, err := pool.New(pool.Config{
		ConnectTimeout:   cfg.ConnectTimeout,
		SocketTimeout:    cfg.SocketTimeout,
		LeaseTimeout:     cfg.LeaseTimeout,
		MaxConnsPerRoute: cfg.MaxConnsPerRoute,
		MaxConnsTotal:    cfg.MaxConnsTotal,
		TLSConfig:        opts.tlsConfig,
	}, pool.WithLogger(c.logger), pool.WithThrottle(limiter))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	c.pool = p

	return c, nil
}

// Start starts the connection pool. It may be called once.
func (c *Client) Start() error {
	return c.pool.Start()
}

// Stop fails every in-flight exchange with ErrClosed, waits for the pool's
// goroutines and closes idle connections. Problems while closing are
// logged, never returned.
func (c *Client) Stop() {
	c.pool.Stop()
}

// EnablePreemptiveBasicAuth sends Basic credentials with every subsequent
// request to host without waiting for a challenge. An empty or invalid
// host is ignored.
func (c *Client) EnablePreemptiveBasicAuth(host string) {
	if !c.cache.EnableBasic(host) {
		c.logger.Debug("preemptive basic auth ignored", "host", host)
	}
}

// EnablePreemptiveDigestAuth sends Digest credentials computed from realm
// and nonce with every subsequent request to host. An empty or invalid
// host is ignored.
func (c *Client) EnablePreemptiveDigestAuth(host, realm, nonce string) {
	if !c.cache.EnableDigest(host, realm, nonce) {
		c.logger.Debug("preemptive digest auth ignored", "host", host)
	}
}

// Get executes a GET request for rawURL.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Exchange, error) {
	return c.execute(ctx, http.MethodGet, rawURL, opts)
}

// Post executes a POST request for rawURL carrying body as text.
func (c *Client) Post(ctx context.Context, rawURL, body string, opts ...RequestOption) (*Exchange, error) {
	return c.execute(ctx, http.MethodPost, rawURL, append([]RequestOption{WithBody(body)}, opts...))
}

// Put executes a PUT request for rawURL carrying body as text.
func (c *Client) Put(ctx context.Context, rawURL, body string, opts ...RequestOption) (*Exchange, error) {
	return c.execute(ctx, http.MethodPut, rawURL, append([]RequestOption{WithBody(body)}, opts...))
}

// Delete executes a DELETE request for rawURL.
func (c *Client) Delete(ctx context.Context, rawURL string, opts ...RequestOption) (*Exchange, error) {
	return c.execute(ctx, http.MethodDelete, rawURL, opts)
}

func (c *Client) execute(ctx context.Context, method, rawURL string, opts []RequestOption) (*Exchange, error) {
	req, err := NewRequest(method, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, req)
}

// Execute hands req to the pool and returns without waiting for the
// network. Only failures that happen before dispatch are returned here;
// everything later, including lease timeouts, ends the exchange's stream.
//
// The exchange runs under ctx: cancelling it aborts the exchange.
func (c *Client) Execute(ctx context.Context, req *Request) (*Exchange, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request must not be nil", ErrConfiguration)
	}

	id := uuid.New()

	ctx, span := c.tracer.Start(ctx, "client.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("exchange.id", id.String()),
			attribute.String("http.request.method", req.method),
			attribute.String("url.full", req.url.Redacted()),
			attribute.String("server.address", req.host.Name),
			attribute.Int("server.port", req.host.Port),
		),
	)

	x, xctx := stream.New(ctx, stream.Config{
		ID:           id,
		Host:         req.host.String(),
		ReadTimeout:  c.cfg.SocketTimeout,
		StallTimeout: c.cfg.StallTimeout,
		Logger:       c.logger,
	})

	err := c.pool.Go(xctx, func(ctx context.Context) {
		err := c.run(ctx, x, req, span)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		x.Finish(err)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		x.Finish(err)
		return nil, err
	}

	return x, nil
}

// run drives one exchange on a pool goroutine: lease a slot, send, answer
// at most one authentication challenge, then stream the body to the
// consumer. The lease is released before the exchange is finished.
func (c *Client) run(ctx context.Context, x *Exchange, req *Request, span trace.Span) error {
	lease, err := c.pool.Lease(ctx, req.host)
	if err != nil {
		return transportErr(ctx, "lease", req.host, err)
	}
	defer lease.Release()

	span.AddEvent("lease acquired", trace.WithAttributes(attribute.String("lease.id", lease.ID.String())))

	scheme, _ := c.cache.Get(req.host)

	resp, err := c.send(ctx, req, scheme)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && !c.creds.IsZero() {
		if challenge, ok := auth.ParseChallenge(resp.Header); ok {
			discard(resp, c.logger)

			resp, err = c.send(ctx, req, challenge)
			if err != nil {
				return err
			}

			if resp.StatusCode != http.StatusUnauthorized {
				c.cache.Put(req.host, challenge)
				c.logger.Debug("auth challenge answered", "exchange", x.ID(), "host", req.host, "scheme", challenge.Name())
			}
		}
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	return x.Deliver(ctx, resp)
}

// send builds and round-trips one attempt of req, presenting scheme's
// credentials when scheme is set.
func (c *Client) send(ctx context.Context, req *Request, scheme auth.Scheme) (*http.Response, error) {
	hr, err := req.httpRequest(ctx)
	if err != nil {
		return nil, err
	}

	if c.userAgent != "" {
		hr.Header.Set("User-Agent", c.userAgent)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(hr.Header))

	if scheme != nil {
		if err := scheme.Authorize(hr, c.creds); err != nil {
			c.logger.Warn("sending without credentials", "host", req.host, "scheme", scheme.Name(), "error", err)
		}
	}

	resp, err := c.pool.RoundTrip(hr)
	if err != nil {
		return nil, transportErr(ctx, "round trip", req.host, err)
	}

	return resp, nil
}

// transportErr classifies a failure that happened after dispatch.
// Shutdown and cancellation keep their own identity; everything else is
// a TransportError.
func transportErr(ctx context.Context, op string, host auth.Host, err error) error {
	switch {
	case errors.Is(err, pool.ErrClosed), errors.Is(err, stream.ErrCancelled):
		return err
	case errors.Is(err, pool.ErrLeaseTimeout):
		return &TransportError{Op: op, Host: host.String(), Err: pool.ErrLeaseTimeout}
	case ctx.Err() != nil:
		return context.Cause(ctx)
	}
	return &TransportError{Op: op, Host: host.String(), Err: err}
}

// discard drains a small remainder of an unused body so the connection can
// be reused, then closes it.
func discard(resp *http.Response, logger *slog.Logger) {
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxChallengeBodySize)); err != nil {
		logger.Debug("failed to discard unused body", "error", err)
	}
	if err := resp.Body.Close(); err != nil {
		logger.Debug("failed to close response body", "error", err)
	}
}
