package pool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/adamwoolhether/asynchttp/client/auth"
	"github.com/adamwoolhether/asynchttp/client/throttle"
)

var (
	ErrInvalidConfig  = errors.New("invalid pool config")
	ErrNotStarted     = errors.New("pool not started")
	ErrAlreadyStarted = errors.New("pool already started")
	ErrClosed         = errors.New("pool closed")

	// ErrLeaseTimeout reports Timeout() == true.
	ErrLeaseTimeout error = &timeoutError{msg: "timeout waiting for connection from pool"}
)

type timeoutError struct{ msg string }

func (e *timeoutError) Error() string { return e.msg }
func (e *timeoutError) Timeout() bool { return true }

const idleConnTimeout = 90 * time.Second

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Config bounds the pool. Zero timeouts disable the corresponding limit.
type Config struct {
	ConnectTimeout   time.Duration
	SocketTimeout    time.Duration
	LeaseTimeout     time.Duration
	MaxConnsPerRoute int
	MaxConnsTotal    int
	TLSConfig        *tls.Config
}

// Pool owns the transport, the admission semaphores and the goroutines that
// drive every in-flight exchange. It has an explicit New/Start/Stop
// lifecycle; nothing runs until Start.
type Pool struct {
	cfg     Config
	logger  *slog.Logger
	limiter *throttle.Limiter

	mu        sync.Mutex
	state     state
	ctx       context.Context
	cancel    context.CancelCauseFunc
	wg        sync.WaitGroup
	transport *http.Transport
	total     *semaphore.Weighted
	routes    map[auth.Host]*route

	leased  atomic.Int64
	waiting atomic.Int64
}

// route is one host's admission state. refs counts the waiters and leases
// holding it; the pool forgets a route once refs drops to zero.
type route struct {
	sem    *semaphore.Weighted
	leased int
	refs   int
}

// New validates cfg and returns an unstarted Pool.
func New(cfg Config, optFns ...Option) (*Pool, error) {
	if cfg.MaxConnsPerRoute <= 0 || cfg.MaxConnsTotal <= 0 {
		return nil, fmt.Errorf("%w: connection limits must be positive, per route[%d] total[%d]", ErrInvalidConfig, cfg.MaxConnsPerRoute, cfg.MaxConnsTotal)
	}
	if cfg.ConnectTimeout < 0 || cfg.SocketTimeout < 0 || cfg.LeaseTimeout < 0 {
		return nil, fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}

	var opts options
	for _, opt := range optFns {
		opt(&opts)
	}

	p := &Pool{
		cfg:     cfg,
		logger:  slog.Default(),
		limiter: opts.limiter,
		routes:  make(map[auth.Host]*route),
	}
	if opts.logger != nil {
		p.logger = opts.logger
	}

	return p, nil
}

// Start builds the transport and the background context. It may be called
// once; later calls return ErrAlreadyStarted, or ErrClosed after Stop.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrClosed
	}

	dialer := &net.Dialer{
		Timeout:   p.cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	p.transport = &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       p.cfg.TLSConfig,
		TLSHandshakeTimeout:   p.cfg.ConnectTimeout,
		ResponseHeaderTimeout: p.cfg.SocketTimeout,
		MaxConnsPerHost:       p.cfg.MaxConnsPerRoute,
		MaxIdleConnsPerHost:   p.cfg.MaxConnsPerRoute,
		MaxIdleConns:          p.cfg.MaxConnsTotal,
		IdleConnTimeout:       idleConnTimeout,
		DisableCompression:    true,
		// HTTP/1.1 only; one lease is one connection.
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
	p.total = semaphore.NewWeighted(int64(p.cfg.MaxConnsTotal))
	p.ctx, p.cancel = context.WithCancelCause(context.Background())
	p.state = stateRunning

	p.logger.Info("pool started", "maxConnsPerRoute", p.cfg.MaxConnsPerRoute, "maxConnsTotal", p.cfg.MaxConnsTotal)

	return nil
}

// Stop cancels every in-flight exchange with ErrClosed, waits for the pool
// goroutines to return and closes idle connections. It never fails; only
// the first call has any effect.
func (p *Pool) Stop() {
	p.mu.Lock()
	prev := p.state
	p.state = stateStopped
	p.mu.Unlock()

	if prev != stateRunning {
		return
	}

	p.logger.Info("pool stopping", "leased", p.leased.Load(), "waiting", p.waiting.Load())

	p.cancel(ErrClosed)
	p.wg.Wait()
	p.transport.CloseIdleConnections()

	if n := p.leased.Load(); n != 0 {
		p.logger.Error("pool stopped with outstanding leases", "leased", n)
		return
	}

	p.logger.Info("pool stopped")
}

// Go runs fn on a pool goroutine. The context handed to fn is derived from
// ctx and is also cancelled, with cause ErrClosed, when the pool stops.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if err := p.usableLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.wg.Add(1)
	poolCtx := p.ctx
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		stop := context.AfterFunc(poolCtx, func() {
			cancel(context.Cause(poolCtx))
		})
		defer stop()

		fn(ctx)
	}()

	return nil
}

// RoundTrip sends req over the pool's transport. Callers must hold a Lease
// for the request's host.
func (p *Pool) RoundTrip(req *http.Request) (*http.Response, error) {
	p.mu.Lock()
	t := p.transport
	err := p.usableLocked()
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return t.RoundTrip(req)
}

// Stats is a snapshot of pool admission.
type Stats struct {
	Leased   int
	Waiting  int
	PerRoute map[auth.Host]int

	// Routes is the number of hosts with a waiter or a lease.
	Routes int
}

// Stats returns the current lease counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	perRoute := make(map[auth.Host]int, len(p.routes))
	for h, r := range p.routes {
		if r.leased > 0 {
			perRoute[h] = r.leased
		}
	}

	return Stats{
		Leased:   int(p.leased.Load()),
		Waiting:  int(p.waiting.Load()),
		PerRoute: perRoute,
		Routes:   len(p.routes),
	}
}

func (p *Pool) usableLocked() error {
	switch p.state {
	case stateIdle:
		return ErrNotStarted
	case stateStopped:
		return ErrClosed
	}
	return nil
}
