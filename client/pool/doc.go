// Package pool bounds and drives concurrent HTTP exchanges.
//
// A [Pool] owns one [net/http.Transport] and caps how many exchanges may be
// in flight, both per route (scheme, host and port) and in total. Callers
// take a [Lease] before sending and release it when the response body has
// been consumed or abandoned. Work submitted with [Pool.Go] runs on
// pool-owned goroutines that [Pool.Stop] cancels and waits for.
//
// A Pool has an explicit two-phase lifecycle:
//
//	p, err := pool.New(pool.Config{MaxConnsPerRoute: 2, MaxConnsTotal: 20})
//	if err != nil {
//		return err
//	}
//	if err := p.Start(); err != nil {
//		return err
//	}
//	defer p.Stop()
package pool
