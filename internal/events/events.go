// Package events fans run-state snapshots and user lifecycle events out to
// observers. Delivery is at-most-once and publishing never blocks.
package events

import (
	"context"
	"strings"
)

const (
	runPrefix  = "run:"
	userPrefix = "user:"
)

// Event is one message on a topic.
type Event struct {
	Topic   string
	Payload []byte
}

// Publisher emits payloads on a topic. Implementations must not block on
// slow or absent subscribers and must not return delivery errors.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte)
}

// RunTopic is the channel carrying full RunState snapshots for one run.
func RunTopic(runID string) string { return runPrefix + runID }

// UserTopic is the channel carrying terminal lifecycle events for one user.
func UserTopic(userID string) string { return userPrefix + userID }

// IsRunTopic reports whether topic belongs to the run family.
func IsRunTopic(topic string) bool { return strings.HasPrefix(topic, runPrefix) }

// Multi publishes every event to each of its publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, payload []byte) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, topic, payload)
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) {}
