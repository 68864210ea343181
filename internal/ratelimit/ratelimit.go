// Package ratelimit bounds inbound request concurrency per caller. Each
// service keys the limiter by peer identity: the service claim from the
// request token when present, the client IP otherwise. Upstream services
// treat the resulting 429 as retryable with backoff, so the limiter is the
// backpressure edge of the platform.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed.
	// The key is opaque — callers construct it (e.g. "svc:learner", "ip:10.0.0.9").
	// Returning an error signals a limiter malfunction; callers should
	// treat errors as fail-open (permit the request) rather than blocking traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
