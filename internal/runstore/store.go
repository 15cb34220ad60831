// Package runstore persists run state and active-run pointers with a
// bounded retention window. Redis is used when configured and reachable;
// otherwise an in-process map with the same behavior stands in.
package runstore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store is keyed, last-write-wins persistence with per-key TTL. There is no
// read-modify-write guarantee across concurrent writers.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
	// Backend names the implementation ("redis" or "memory").
	Backend() string
	Close() error
}

// Open returns a RedisStore when redisURL is set and reachable, and a
// MemoryStore otherwise. An unreachable Redis is logged, not returned.
func Open(ctx context.Context, redisURL string, opts ...RedisOption) Store {
	if redisURL == "" {
		zap.L().Info("runstore: redis not configured, using in-process memory")
		return NewMemoryStore()
	}
	rs, err := NewRedisStore(ctx, redisURL, opts...)
	if err != nil {
		zap.L().Warn("runstore: redis unavailable, falling back to in-process memory",
			zap.Error(err),
		)
		return NewMemoryStore()
	}
	return rs
}
