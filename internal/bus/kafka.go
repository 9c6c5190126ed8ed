package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/ddubbert/dd-services/internal/domain"
)

// messageWriter is the slice of kafka.Writer the producer needs; tests
// substitute a fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes event message batches to Kafka. Messages carry no key,
// so per-entity partition affinity is not provided and consumers must not
// rely on cross-message ordering.
type Producer struct {
	writer messageWriter
	logger *log.Logger
}

// NewProducer builds a producer for the given brokers. The writer retries
// transient broker errors itself; once its attempts are exhausted Publish
// reports ErrBusUnavailable.
func NewProducer(brokers []string, logger *log.Logger) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            10,
			BatchTimeout:           5 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// Publish sends the batch to the topic, preserving batch order on write.
func (p *Producer) Publish(ctx context.Context, topic string, msgs []domain.EventMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		value, err := sonic.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode event message: %w", err)
		}
		batch = append(batch, kafka.Message{Topic: topic, Value: value})
	}
	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.logger.WithFields(log.Fields{"topic": topic, "messages": len(batch)}).
			Errorf("publish failed: %v", err)
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return nil
}

// Close flushes and releases the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
