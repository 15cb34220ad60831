package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	tok, ok, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, tok)

	_, ok, err = l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "k", "wrong-token"))
	_, ok, _ = l.TryAcquire(ctx, "k", time.Second)
	assert.False(t, ok, "release with a foreign token must not free the lock")

	require.NoError(t, l.Release(ctx, "k", tok))
	_, ok, _ = l.TryAcquire(ctx, "k", time.Second)
	assert.True(t, ok)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, ok, _ := l.TryAcquire(ctx, "k", 10*time.Second)
	require.True(t, ok)

	now = now.Add(11 * time.Second)
	_, ok, _ = l.TryAcquire(ctx, "k", 10*time.Second)
	assert.True(t, ok)
}

func TestSponsorKey(t *testing.T) {
	assert.Equal(t, "lock:start:acme capital", SponsorKey("  Acme Capital "))
	assert.Equal(t, SponsorKey("ACME CAPITAL"), SponsorKey("acme capital"))
}

func TestWithLock_ReleasesAfterFn(t *testing.T) {
	l := NewMemoryLocker()
	c := NewCoordinator(l)
	ctx := context.Background()

	got, err := WithLock(ctx, c, "k", func(context.Context) (string, error) {
		_, held, _ := l.TryAcquire(ctx, "k", time.Second)
		assert.False(t, held, "lock must be held while fn runs")
		return "run-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", got)

	_, ok, _ := l.TryAcquire(ctx, "k", time.Second)
	assert.True(t, ok, "lock must be released after fn")
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	l := NewMemoryLocker()
	c := NewCoordinator(l)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := WithLock(ctx, c, "k", func(context.Context) (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	_, ok, _ := l.TryAcquire(ctx, "k", time.Second)
	assert.True(t, ok)
}

func TestWithLock_RunsFnWhenHeld(t *testing.T) {
	l := NewMemoryLocker()
	c := &Coordinator{Locker: l, TTL: time.Minute, WaitBudget: 150 * time.Millisecond}
	ctx := context.Background()

	_, ok, _ := l.TryAcquire(ctx, "k", time.Minute)
	require.True(t, ok)

	start := time.Now()
	got, err := WithLock(ctx, c, "k", func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "should wait before proceeding")
}

type brokenLocker struct{ calls int32 }

func (b *brokenLocker) TryAcquire(context.Context, string, time.Duration) (string, bool, error) {
	atomic.AddInt32(&b.calls, 1)
	return "", false, errors.New("connection refused")
}

func (b *brokenLocker) Release(context.Context, string, string) error { return nil }

func TestWithLock_LockerDownRunsDirectly(t *testing.T) {
	b := &brokenLocker{}
	c := NewCoordinator(b)

	got, err := WithLock(context.Background(), c, "k", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&b.calls), "locker errors are not retried")
}

func TestWithLock_NilCoordinator(t *testing.T) {
	got, err := WithLock(context.Background(), nil, "k", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

// Concurrent starters that check-then-create under the lock produce exactly
// one creation.
func TestWithLock_CollapsesConcurrentStarts(t *testing.T) {
	c := &Coordinator{Locker: NewMemoryLocker(), TTL: 5 * time.Second, WaitBudget: 3 * time.Second}
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  string
		created int32
	)
	start := func(context.Context) (string, error) {
		mu.Lock()
		cur := active
		mu.Unlock()
		if cur != "" {
			return cur, nil
		}
		time.Sleep(5 * time.Millisecond)
		id := fmt.Sprintf("run-%d", atomic.AddInt32(&created, 1))
		mu.Lock()
		active = id
		mu.Unlock()
		return id, nil
	}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := WithLock(ctx, c, SponsorKey("Acme Capital"), start)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
	for _, id := range ids {
		assert.Equal(t, "run-1", id)
	}
}

func TestRedisLocker_Integration(t *testing.T) {
	url := os.Getenv("DISCOVERY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DISCOVERY_TEST_REDIS_URL not set, skipping Redis integration test")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLocker(client, fmt.Sprintf("discovery-test-%d", time.Now().UnixNano()))
	ctx := context.Background()

	tok, ok, err := l.TryAcquire(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "k", "other"))
	_, ok, _ = l.TryAcquire(ctx, "k", 5*time.Second)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "k", tok))
	_, ok, _ = l.TryAcquire(ctx, "k", 5*time.Second)
	assert.True(t, ok)
}
