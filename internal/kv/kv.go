// Package kv provides the persistent key/value store backing the cache's
// durable tier. Implementations: Redis for deployments with a sidecar and
// SQLite for a purely local install.
package kv

import "context"

// Store is the durable key/value boundary. Values are opaque strings; expiry
// bookkeeping lives in the cache envelope, not here.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Keys lists every key currently stored.
	Keys(ctx context.Context) ([]string, error)
	// RemoveMany removes the given keys, continuing past per-key failures.
	RemoveMany(ctx context.Context, keys []string) error
	Close() error
}
