package bus

import (
	"context"

	"github.com/ddubbert/dd-services/internal/domain"
)

// Memory is an in-process bus that dispatches published messages
// synchronously to the handlers of a registry. It backs pipeline tests that
// exercise the cascade of events across services without a broker.
type Memory struct {
	registry *Registry
	// Published records every message in publish order per topic.
	Published map[string][]domain.EventMessage
}

func NewMemory(registry *Registry) *Memory {
	return &Memory{registry: registry, Published: make(map[string][]domain.EventMessage)}
}

// Publish validates and dispatches each message in order. Handler errors are
// discarded, matching the swallow-and-continue policy of the real consumer.
func (m *Memory) Publish(ctx context.Context, topic string, msgs []domain.EventMessage) error {
	for _, msg := range msgs {
		if err := msg.Validate(); err != nil {
			continue
		}
		m.Published[topic] = append(m.Published[topic], msg)
		for _, h := range m.registry.handlersFor(topic) {
			_ = h(ctx, msg)
		}
	}
	return nil
}
