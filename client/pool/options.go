package pool

import (
	"log/slog"

	"github.com/adamwoolhether/asynchttp/client/throttle"
)

// Option is a functional option for [New].
type Option func(*options)

type options struct {
	logger  *slog.Logger
	limiter *throttle.Limiter
}

// WithLogger sets the logger used for lifecycle and lease events.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithThrottle gates every [Pool.Lease] behind the given limiter.
// A nil limiter disables throttling.
func WithThrottle(l *throttle.Limiter) Option {
	return func(opts *options) {
		opts.limiter = l
	}
}
