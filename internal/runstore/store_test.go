package runstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "run:1", []byte(`{"a":1}`), time.Hour))

	v, ok, err := s.Get(ctx, "run:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(v))
}

func TestMemoryStore_Missing(t *testing.T) {
	s := NewMemoryStore()
	v, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestMemoryStore_LastWriteWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("one"), time.Hour))
	require.NoError(t, s.Put(ctx, "k", []byte("two"), time.Hour))

	v, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "two", string(v))
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "short", []byte("x"), time.Minute))
	require.NoError(t, s.Put(ctx, "long", []byte("y"), time.Hour))
	require.NoError(t, s.Put(ctx, "forever", []byte("z"), 0))

	now = now.Add(2 * time.Minute)

	_, ok, _ := s.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "long")
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", buf, time.Hour))
	buf[0] = 'z'

	v, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(v))
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ := s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestOpen_FallsBackToMemory(t *testing.T) {
	s := Open(context.Background(), "")
	assert.Equal(t, "memory", s.Backend())

	// Unreachable port: Open must degrade rather than fail.
	s = Open(context.Background(), "redis://127.0.0.1:1/0")
	assert.Equal(t, "memory", s.Backend())
}

func TestOpen_BadURLFallsBack(t *testing.T) {
	s := Open(context.Background(), "not a url")
	assert.Equal(t, "memory", s.Backend())
}

func TestRedisStore_Integration(t *testing.T) {
	url := os.Getenv("DISCOVERY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DISCOVERY_TEST_REDIS_URL not set, skipping Redis integration test")
	}
	ctx := context.Background()
	ns := fmt.Sprintf("discovery-test-%d", time.Now().UnixNano())

	s, err := NewRedisStore(ctx, url, WithNamespace(ns))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Put(ctx, "run:1", []byte("state"), time.Minute))
	v, ok, err := s.Get(ctx, "run:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "state", string(v))

	require.NoError(t, s.Delete(ctx, "run:1"))
	_, ok, err = s.Get(ctx, "run:1")
	require.NoError(t, err)
	assert.False(t, ok)
}
