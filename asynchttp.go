// Package asynchttp exposes a ready-to-use asynchronous HTTP client. See
// package client for the request API and client/stream for consuming
// responses.
package asynchttp

import (
	"fmt"
	"time"

	"github.com/adamwoolhether/asynchttp/client"
)

// DefaultConfig returns a Config with conservative timeouts and a small
// pool: two connections per route and twenty in total.
func DefaultConfig() client.Config {
	return client.Config{
		ConnectTimeout:   10 * time.Second,
		SocketTimeout:    30 * time.Second,
		MaxConnsPerRoute: 2,
		MaxConnsTotal:    20,
	}
}

// NewClient builds a client from cfg and starts its connection pool. The
// caller owns the returned client and must call Stop on it.
func NewClient(cfg client.Config, opts ...client.Option) (*client.Client, error) {
	c, err := client.New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("starting client: %w", err)
	}

	return c, nil
}
