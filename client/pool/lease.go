package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/adamwoolhether/asynchttp/client/auth"
)

// Lease is an admission ticket for one exchange with one host. The physical
// connection stays with the pool's transport; a Lease only bounds how many
// exchanges may hold one at the same time.
type Lease struct {
	ID   uuid.UUID
	Host auth.Host

	pool  *Pool
	route *route
	once  sync.Once
}

// Release returns the lease's permits. It is safe to call more than once.
func (l *Lease) Release() {
	if l == nil {
		return
	}

	l.once.Do(func() {
		p := l.pool

		l.route.sem.Release(1)
		p.total.Release(1)
		p.leased.Add(-1)

		p.mu.Lock()
		l.route.leased--
		p.unrefLocked(l.Host, l.route)
		p.mu.Unlock()

		p.logger.Debug("lease released", "lease", l.ID, "host", l.Host)
	})
}

// Lease waits for a free slot on host's route and then for a free slot in
// the pool. Waiters are admitted in arrival order. The wait is bounded by
// Config.LeaseTimeout, or Config.ConnectTimeout when that is zero; when it
// elapses Lease fails with ErrLeaseTimeout. A pool stopped during the wait
// fails it with ErrClosed.
func (p *Pool) Lease(ctx context.Context, host auth.Host) (*Lease, error) {
	p.mu.Lock()
	if err := p.usableLocked(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	poolCtx := p.ctx
	r := p.routeLocked(host)
	p.mu.Unlock()

	var admitted bool
	defer func() {
		if !admitted {
			p.mu.Lock()
			p.unrefLocked(host, r)
			p.mu.Unlock()
		}
	}()

	if err := p.limiter.Wait(ctx, host.String()); err != nil {
		return nil, fmt.Errorf("lease %s: %w", host, err)
	}

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := context.AfterFunc(poolCtx, func() {
		cancel(context.Cause(poolCtx))
	})
	defer stop()

	if d := p.leaseTimeout(); d > 0 {
		var cancelTimeout context.CancelFunc
		waitCtx, cancelTimeout = context.WithTimeoutCause(waitCtx, d, ErrLeaseTimeout)
		defer cancelTimeout()
	}

	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	if err := r.sem.Acquire(waitCtx, 1); err != nil {
		return nil, p.leaseErr(ctx, waitCtx, host, err)
	}

	if err := p.total.Acquire(waitCtx, 1); err != nil {
		r.sem.Release(1)
		return nil, p.leaseErr(ctx, waitCtx, host, err)
	}

	p.mu.Lock()
	r.leased++
	p.mu.Unlock()
	p.leased.Add(1)
	admitted = true

	l := &Lease{
		ID:    uuid.New(),
		Host:  host,
		pool:  p,
		route: r,
	}

	p.logger.Debug("lease acquired", "lease", l.ID, "host", host)

	return l, nil
}

// routeLocked returns host's route, creating it on first use, and takes a
// reference on it.
func (p *Pool) routeLocked(host auth.Host) *route {
	r, ok := p.routes[host]
	if !ok {
		r = &route{sem: semaphore.NewWeighted(int64(p.cfg.MaxConnsPerRoute))}
		p.routes[host] = r
	}
	r.refs++
	return r
}

func (p *Pool) unrefLocked(host auth.Host, r *route) {
	r.refs--
	if r.refs == 0 && p.routes[host] == r {
		delete(p.routes, host)
	}
}

func (p *Pool) leaseTimeout() time.Duration {
	if p.cfg.LeaseTimeout > 0 {
		return p.cfg.LeaseTimeout
	}
	return p.cfg.ConnectTimeout
}

// leaseErr reports why an admission wait ended. The caller's own
// cancellation wins over the pool's lease timeout and shutdown.
func (p *Pool) leaseErr(parent, waitCtx context.Context, host auth.Host, err error) error {
	cause := context.Cause(waitCtx)
	if parent.Err() != nil {
		cause = context.Cause(parent)
	}
	if cause == nil {
		cause = err
	}

	if errors.Is(cause, ErrLeaseTimeout) {
		p.logger.Warn("lease timed out", "host", host, "timeout", p.leaseTimeout())
	}

	return fmt.Errorf("lease %s: %w", host, cause)
}
