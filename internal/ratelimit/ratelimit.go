// Package ratelimit provides the two throttling primitives the assistant
// uses: a token-bucket limiter for the HTTP front door, and a named-timer
// store periodic jobs use to self-throttle inside tick hooks.
//
// Both stores are process-local and reset on restart. That is intentional:
// neither protects anything durable.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. The key is
	// opaque — callers construct it (e.g. "chat:<client>"). Errors signal
	// a limiter malfunction; callers should fail open rather than block
	// traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
