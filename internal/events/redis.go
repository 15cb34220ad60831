package events

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RedisPublisher publishes on Redis pub/sub channels named
// "{namespace}:{topic}". Failures are logged and dropped.
type RedisPublisher struct {
	client    *redis.Client
	namespace string
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client *redis.Client, namespace string) *RedisPublisher {
	return &RedisPublisher{client: client, namespace: namespace}
}

func (p *RedisPublisher) channel(topic string) string {
	if p.namespace == "" {
		return topic
	}
	return p.namespace + ":" + topic
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) {
	if err := p.client.Publish(ctx, p.channel(topic), payload).Err(); err != nil {
		zap.L().Warn("events: redis publish failed",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

// Bridge relays Redis pub/sub messages for the run and user families into
// a local Hub, so observers connected to this process see writes made by
// drivers in other processes.
type Bridge struct {
	client    *redis.Client
	namespace string
	hub       *Hub
}

// NewBridge creates a Bridge. Call Run to start relaying.
func NewBridge(client *redis.Client, namespace string, hub *Hub) *Bridge {
	return &Bridge{client: client, namespace: namespace, hub: hub}
}

func (b *Bridge) prefix() string {
	if b.namespace == "" {
		return ""
	}
	return b.namespace + ":"
}

// Run blocks relaying messages until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	pfx := b.prefix()
	ps := b.client.PSubscribe(ctx, pfx+runPrefix+"*", pfx+userPrefix+"*")
	defer ps.Close() //nolint:errcheck

	if _, err := ps.Receive(ctx); err != nil {
		return eris.Wrap(err, "events: psubscribe")
	}
	zap.L().Info("events: redis bridge subscribed", zap.String("namespace", b.namespace))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, pfx)
			b.hub.Publish(ctx, topic, []byte(msg.Payload))
		}
	}
}
