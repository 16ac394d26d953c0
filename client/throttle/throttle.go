package throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the throttler's
// Requests Per Second and Burst Rate
type Config struct {
	RPS   int
	Burst int
}

// Limiter gates request dispatch with a token bucket shared by every
// host the client talks to. It runs ahead of connection leasing so a
// throttled request never holds a pool slot while it waits.
type Limiter struct {
	limiter *rate.Limiter
	rps     int
	burst   int
	logger  *slog.Logger
}

// New returns a Limiter admitting rps dispatches per second with the given
// burst. A nil logger disables the exhaustion log lines.
func New(cfg Config, logger *slog.Logger) (*Limiter, error) {
	if cfg.RPS <= 0 || cfg.Burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", cfg.RPS, cfg.Burst, ErrMustNotBeZero)
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		rps:     cfg.RPS,
		burst:   cfg.Burst,
		logger:  logger,
	}, nil
}

// Wait blocks until a token is available for a dispatch to host, or ctx ends.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if l == nil {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w early: %w", ErrContextEnded, context.Cause(ctx))
	}

	// Allow consumes the token on success, so only fall through to Wait
	// when the bucket is empty.
	if l.limiter.Allow() {
		return nil
	}

	var waited time.Duration
	if l.logger != nil {
		l.logger.Info("throttle tokens exhausted", "rate", l.rps, "burst", l.burst, "host", host)

		defer func() {
			l.logger.Info("throttle wait complete", "waited", waited.String(), "host", host)
		}()
	}

	start := time.Now()

	err := l.limiter.Wait(ctx)
	waited = time.Since(start)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if err := ctx.Err(); err != nil { // Check context hasn't expired again.
		return fmt.Errorf("%w post-wait: %w", ErrContextEnded, context.Cause(ctx))
	}

	return nil
}
