package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const defaultNamespace = "discovery"

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithNamespace sets the key prefix.
func WithNamespace(ns string) RedisOption {
	return func(s *RedisStore) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// RedisStore implements Store on Redis strings with EX expiry.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore connects to redisURL (e.g. "redis://localhost:6379/0") and
// pings it.
func NewRedisStore(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "runstore: parse redis url")
	}
	client := redis.NewClient(redisOpts)

	s := &RedisStore{client: client, namespace: defaultNamespace}
	for _, opt := range opts {
		opt(s)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "runstore: redis ping")
	}
	return s, nil
}

// Client exposes the underlying connection so the lock and event packages
// can share it.
func (s *RedisStore) Client() *redis.Client { return s.client }

// Namespace returns the key prefix.
func (s *RedisStore) Namespace() string { return s.namespace }

// Backend returns "redis".
func (s *RedisStore) Backend() string { return "redis" }

func (s *RedisStore) key(k string) string {
	return s.namespace + ":" + k
}

// Put sets the namespaced key with SET EX.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return eris.Wrapf(err, "runstore: set %s", key)
	}
	return nil
}

// Get reads the namespaced key. A missing key yields ok=false.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "runstore: get %s", key)
	}
	return b, true, nil
}

// Delete removes the namespaced key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return eris.Wrapf(err, "runstore: del %s", key)
	}
	return nil
}

// Close closes the client, which the lock and event packages may share.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
