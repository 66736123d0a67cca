// Package cache defines the C9 cache contract the gateway core depends on:
// get/set with TTL, SETNX, EXPIRE, DEL, and Pub/Sub publish/subscribe. The
// Redis-backed implementation is the primary target; an in-memory shim backs
// single-worker deployments or Redis outages (graceful fallback, see
// pkg/codeexec and pkg/pool).
package cache

import (
	"context"
	"time"
)

// Message is one Pub/Sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live Pub/Sub subscription.
type Subscription interface {
	// Channel returns the delivery channel. Closed when the subscription is
	// closed or the underlying connection is lost.
	Channel() <-chan Message
	Close() error
}

// Cache is the contract C4 (session ownership), C5 (pool ownership), C7
// (cancellation bus), and C8 (code-exec session registry) are all written
// against. C5's circuit-breaker counters live in the pool's own memory,
// not in the cache.
type Cache interface {
	// Get returns the value and true if present, false if absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value with the given TTL; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX atomically creates key only if absent; returns true if this
	// call created it.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Expire refreshes the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Del removes a key; no error if absent.
	Del(ctx context.Context, key string) error
	// Publish fires a message on channel; fire-and-forget.
	Publish(ctx context.Context, channel string, payload string) error
	// Subscribe opens a subscription on channel. The caller must Close it.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	// Close releases the underlying connection(s).
	Close() error
}

// Degraded reports whether this Cache instance is running in single-worker
// fallback mode (see the in-memory implementation). Pool and session code
// use this to skip cross-worker affinity checks that would otherwise be
// silently wrong.
type Degraded interface {
	Degraded() bool
}
