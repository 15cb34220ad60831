// Package lock provides the short-lived, best-effort start lock that
// collapses concurrent "start discovery for sponsor X" requests.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Locker acquires and releases expiring tokens keyed by string.
type Locker interface {
	// TryAcquire makes one attempt. ok is false when another holder owns key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees key only if it is still held with token.
	Release(ctx context.Context, key, token string) error
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client    *redis.Client
	namespace string
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client *redis.Client, namespace string) *RedisLocker {
	return &RedisLocker{client: client, namespace: namespace}
}

func (l *RedisLocker) key(k string) string {
	if l.namespace == "" {
		return k
	}
	return l.namespace + ":" + k
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(key), token, ttl).Result()
	if err != nil {
		return "", false, eris.Wrapf(err, "lock: setnx %s", key)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(key)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return eris.Wrapf(err, "lock: release %s", key)
	}
	return nil
}

type memoryHold struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker. It only deduplicates within one
// process.
type MemoryLocker struct {
	mu    sync.Mutex
	holds map[string]memoryHold
	now   func() time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holds: make(map[string]memoryHold), now: time.Now}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.holds[key]; ok && now.Before(h.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.holds[key] = memoryHold{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holds[key]; ok && h.token == token {
		delete(l.holds, key)
	}
	return nil
}
