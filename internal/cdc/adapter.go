// Package cdc turns each store's raw change feed into event messages on the
// bus. One adapter runs per owning store; the adapter is the only component
// allowed to publish events about that store's rows.
package cdc

import (
	"context"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/ddubbert/dd-services/internal/bus"
	"github.com/ddubbert/dd-services/internal/domain"
	"github.com/ddubbert/dd-services/internal/store"
)

// State reports where an adapter is in its lifecycle.
type State int32

const (
	StateStopped State = iota
	StateWatching
	StateEmitting
)

func (s State) String() string {
	switch s {
	case StateWatching:
		return "watching"
	case StateEmitting:
		return "emitting"
	default:
		return "stopped"
	}
}

// RowDeleter is the store's own delete operation, used when a local
// existence rule turns false. The delete re-enters the same change feed and
// is published from its delete branch, never from the update that caused it.
type RowDeleter interface {
	DeleteRow(ctx context.Context, id string) error
}

// EventSource translates one raw change into the event messages to publish.
// A source may call back into its own store (local existence rules); it
// never touches another store.
type EventSource interface {
	Topic() string
	Changed(ctx context.Context, change store.ChangeEvent) ([]domain.EventMessage, error)
}

// Adapter drives an EventSource from a change feed and publishes the result.
type Adapter struct {
	source EventSource
	feed   store.ChangeFeed
	bus    bus.Publisher
	logger *log.Logger
	state  atomic.Int32
}

func NewAdapter(source EventSource, feed store.ChangeFeed, publisher bus.Publisher, logger *log.Logger) *Adapter {
	return &Adapter{source: source, feed: feed, bus: publisher, logger: logger}
}

// State is safe to call from the health endpoint while Run is looping.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Run watches the feed until the context ends or the feed fails. A feed
// failure is terminal: the cursor may have advanced past unread changes, so
// the adapter surfaces the error to its supervisor instead of resuming
// blindly. Source errors (a failed local delete, an undecodable row) are
// logged and the loop continues.
func (a *Adapter) Run(ctx context.Context) error {
	a.state.Store(int32(StateWatching))
	defer a.state.Store(int32(StateStopped))
	defer a.feed.Close(context.Background())

	for {
		change, err := a.feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s adapter: %w", a.source.Topic(), err)
		}

		a.state.Store(int32(StateEmitting))
		msgs, err := a.source.Changed(ctx, change)
		if err != nil {
			a.logger.WithFields(log.Fields{
				"topic": a.source.Topic(),
				"op":    change.Op,
				"id":    change.ID,
			}).Errorf("change handling: %v", err)
		}
		if len(msgs) > 0 {
			if err := a.bus.Publish(ctx, a.source.Topic(), msgs); err != nil {
				return fmt.Errorf("%s adapter: %w", a.source.Topic(), err)
			}
		}
		a.state.Store(int32(StateWatching))
	}
}
