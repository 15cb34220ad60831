package events

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "run:abc", RunTopic("abc"))
	assert.Equal(t, "user:u1", UserTopic("u1"))
	assert.True(t, IsRunTopic("run:abc"))
	assert.False(t, IsRunTopic("user:u1"))
}

func TestHub_DeliversToTopicOnly(t *testing.T) {
	h := NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runCh := h.Subscribe(ctx, RunTopic("r1"))
	otherCh := h.Subscribe(ctx, RunTopic("r2"))

	h.Publish(ctx, RunTopic("r1"), []byte("snap"))

	select {
	case evt := <-runCh:
		assert.Equal(t, "run:r1", evt.Topic)
		assert.Equal(t, "snap", string(evt.Payload))
	case <-time.After(time.Second):
		t.Fatal("expected event on run:r1")
	}

	select {
	case <-otherCh:
		t.Fatal("run:r2 should not receive run:r1 events")
	default:
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.Subscribe(ctx, "run:slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(ctx, "run:slow", []byte(fmt.Sprint(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	evt := <-ch
	assert.Equal(t, "0", string(evt.Payload))
}

func TestHub_UnsubscribeOnCancel(t *testing.T) {
	h := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx, "user:u1")
	assert.Equal(t, 1, h.Subscribers("user:u1"))

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("user:u1"))
}

type recordingPublisher struct {
	topics []string
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, _ []byte) {
	r.topics = append(r.topics, topic)
}

func TestMulti(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	m := Multi{a, nil, b, Nop{}}
	m.Publish(context.Background(), "run:x", nil)

	assert.Equal(t, []string{"run:x"}, a.topics)
	assert.Equal(t, []string{"run:x"}, b.topics)
}

func TestRedisBridge_Integration(t *testing.T) {
	url := os.Getenv("DISCOVERY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DISCOVERY_TEST_REDIS_URL not set, skipping Redis integration test")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ns := fmt.Sprintf("discovery-test-%d", time.Now().UnixNano())
	hub := NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := hub.Subscribe(ctx, RunTopic("r1"))
	go func() { _ = NewBridge(client, ns, hub).Run(ctx) }()

	pub := NewRedisPublisher(client, ns)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case evt := <-sub:
			assert.Equal(t, "snap", string(evt.Payload))
			return
		case <-tick.C:
			// The bridge subscribes asynchronously; keep publishing until it lands.
			pub.Publish(ctx, RunTopic("r1"), []byte("snap"))
		case <-deadline:
			t.Fatal("bridge did not relay event")
		}
	}
}
