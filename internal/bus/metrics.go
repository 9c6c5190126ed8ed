package bus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "dd-services/bus"

// counters make the swallow-and-continue failure policy observable. A
// processor failure is never retried, so the counter is the only place the
// loss shows up beyond logs.
type counters struct {
	malformed metric.Int64Counter
	failures  metric.Int64Counter
}

func newCounters() counters {
	meter := otel.Meter(meterName)
	malformed, _ := meter.Int64Counter("consumer.malformed",
		metric.WithDescription("event messages dropped for failing validation"))
	failures, _ := meter.Int64Counter("processor.failures",
		metric.WithDescription("processor errors swallowed without retry"))
	return counters{malformed: malformed, failures: failures}
}

func (c counters) countMalformed(ctx context.Context, topic string) {
	c.malformed.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (c counters) countFailure(ctx context.Context, topic string) {
	c.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
