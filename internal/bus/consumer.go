package bus

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/ddubbert/dd-services/internal/domain"
)

// messageReader is the slice of kafka.Reader the consumer needs per topic.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer runs one sequential subscription per registered topic. Each
// subscription fetches, dispatches to every handler for the topic, then
// commits; a slow handler stalls only its own topic. Messages are committed
// even when handlers fail, because the failure policy is swallow-and-count,
// not redelivery.
type Consumer struct {
	registry  *Registry
	newReader func(topic string) messageReader
	logger    *log.Logger
	counters  counters
}

// NewConsumer builds a consumer group member reading every topic the
// registry has handlers for. The registry must be fully populated before
// Run is called; it is not consulted for new topics afterwards.
func NewConsumer(brokers []string, group string, registry *Registry, logger *log.Logger) *Consumer {
	return &Consumer{
		registry: registry,
		newReader: func(topic string) messageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers: brokers,
				GroupID: group,
				Topic:   topic,
			})
		},
		logger:   logger,
		counters: newCounters(),
	}
}

// Run consumes until the context is cancelled and never returns earlier
// while healthy. A terminal error on any subscription is logged, cancels
// the sibling subscriptions and ends the run; a partially consuming unit
// would silently miss events. The message in flight when cancellation
// arrives is handled to completion; nothing is abandoned mid-processing.
func (c *Consumer) Run(ctx context.Context) error {
	topics := c.registry.Topics()
	if len(topics) == 0 {
		return errors.New("no handlers registered")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(topics))
	for _, topic := range topics {
		reader := c.newReader(topic)
		wg.Add(1)
		go func(topic string, reader messageReader) {
			defer wg.Done()
			defer reader.Close()
			if err := c.consumeTopic(ctx, topic, reader); err != nil {
				c.logger.WithField("topic", topic).Errorf("subscription failed: %v", err)
				errCh <- err
				cancel()
			}
		}(topic, reader)
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

func (c *Consumer) consumeTopic(ctx context.Context, topic string, reader messageReader) error {
	for {
		raw, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		c.dispatch(ctx, topic, raw.Value)
		if err := reader.CommitMessages(ctx, raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// dispatch decodes, validates and fans the message out to the topic's
// handlers. Malformed messages are dropped: retrying cannot make them
// well-formed.
func (c *Consumer) dispatch(ctx context.Context, topic string, value []byte) {
	var msg domain.EventMessage
	if err := sonic.Unmarshal(value, &msg); err != nil {
		c.logger.WithField("topic", topic).Warnf("event message in wrong format: %v", err)
		c.counters.countMalformed(ctx, topic)
		return
	}
	if err := msg.Validate(); err != nil {
		c.logger.WithField("topic", topic).Warnf("event message in wrong format: %v", err)
		c.counters.countMalformed(ctx, topic)
		return
	}
	if msg.Snapshot != "" {
		c.logger.WithFields(log.Fields{"topic": topic, "entity": msg.Entity.ID}).
			Debug(msg.Snapshot)
	}
	for _, h := range c.registry.handlersFor(topic) {
		if err := h(ctx, msg); err != nil {
			c.logger.WithFields(log.Fields{
				"topic":  topic,
				"event":  msg.Event,
				"entity": msg.Entity.ID,
			}).Errorf("processor failed, continuing: %v", err)
			c.counters.countFailure(ctx, topic)
		}
	}
}
