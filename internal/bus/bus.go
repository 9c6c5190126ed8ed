// Package bus carries EventMessages between the owning services over a
// partitioned, durable log. Delivery is at-least-once; nothing here assumes
// a partition key, so handlers must tolerate duplicates and reordering.
package bus

import (
	"context"
	"errors"

	"github.com/ddubbert/dd-services/internal/domain"
)

// ErrBusUnavailable is returned by Publish when the broker cannot be reached
// after producer-level retry.
var ErrBusUnavailable = errors.New("event bus unavailable")

// Publisher sends a batch of event messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msgs []domain.EventMessage) error
}

// Handler consumes a single validated event message. A returned error is
// logged and counted by the dispatcher but never retried and never stops the
// subscription; the lossy-consistency tradeoff is deliberate.
type Handler func(ctx context.Context, msg domain.EventMessage) error

// Registry collects the per-topic handler table. It is populated during
// startup and sealed by the consumer; there is no runtime mutation after the
// consumer starts.
type Registry struct {
	handlers map[string][]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Handler)}
}

// On registers a handler for a topic. Handlers for the same topic run in
// registration order for each message; no ordering holds between handlers of
// different messages.
func (r *Registry) On(topic string, h Handler) {
	r.handlers[topic] = append(r.handlers[topic], h)
}

// Topics returns every topic with at least one handler.
func (r *Registry) Topics() []string {
	out := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		out = append(out, topic)
	}
	return out
}

func (r *Registry) handlersFor(topic string) []Handler {
	return r.handlers[topic]
}

// FilterEvent wraps a handler so it only fires for one event kind.
func FilterEvent(event domain.MessageEvent, h Handler) Handler {
	return func(ctx context.Context, msg domain.EventMessage) error {
		if msg.Event != event {
			return nil
		}
		return h(ctx, msg)
	}
}
