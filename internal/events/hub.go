package events

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 16

type subscriber struct {
	topic string
	ch    chan Event
}

// Hub is an in-process Publisher with per-topic subscribers.
type Hub struct {
	nextID uint64
	mu     sync.RWMutex
	subs   map[uint64]subscriber
	buffer int
}

// NewHub creates a Hub. buffer is the per-subscriber channel capacity.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[uint64]subscriber),
		buffer: buffer,
	}
}

// Subscribe registers a listener on topic. The returned channel is closed
// once ctx is done.
func (h *Hub) Subscribe(ctx context.Context, topic string) <-chan Event {
	ch := make(chan Event, h.buffer)
	id := atomic.AddUint64(&h.nextID, 1)

	h.mu.Lock()
	h.subs[id] = subscriber{topic: topic, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers to every subscriber of topic, dropping the event for any
// subscriber whose buffer is full.
func (h *Hub) Publish(_ context.Context, topic string, payload []byte) {
	evt := Event{Topic: topic, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		if s.topic != topic {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// Subscribers returns the number of listeners on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.subs {
		if s.topic == topic {
			n++
		}
	}
	return n
}
