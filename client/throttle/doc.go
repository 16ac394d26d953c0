// Package throttle provides a token-bucket dispatch [Limiter] built on
// [golang.org/x/time/rate].
//
// # Usage
//
// The pool consults the limiter before admitting a request:
//
//	l, err := throttle.New(throttle.Config{RPS: 10, Burst: 5}, slog.Default())
//	if err != nil { ... }
//	if err := l.Wait(ctx, "api.example.com"); err != nil { ... }
//
// When the rate limit is exceeded, dispatch blocks until a token becomes
// available or the context ends.
package throttle
