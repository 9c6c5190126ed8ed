package files

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ddubbert/dd-services/internal/bus"
	"github.com/ddubbert/dd-services/internal/domain"
)

// Processors enforces the file store's cascading invariants in response to
// events about other stores. Every action is phrased remove-if-present, so
// duplicate and out-of-order deliveries are no-ops.
type Processors struct {
	store  Store
	logger *log.Logger
}

func NewProcessors(store Store, logger *log.Logger) *Processors {
	return &Processors{store: store, logger: logger}
}

// Register wires the processors into the handler table. Called once during
// startup, before the consumer runs.
func (p *Processors) Register(registry *bus.Registry) {
	registry.On(domain.TopicUsers, bus.FilterEvent(domain.EventDeleted, p.UserDeleted))
	registry.On(domain.TopicSessions, bus.FilterEvent(domain.EventDeleted, p.SessionDeleted))
}

// UserDeleted clears the dead user's ownership, then deletes every file left
// with no references at all.
func (p *Processors) UserDeleted(ctx context.Context, msg domain.EventMessage) error {
	userID := msg.Entity.ID
	cleared, err := p.store.ClearOwner(ctx, userID)
	if err != nil {
		return fmt.Errorf("clear owner %s: %w", userID, err)
	}
	deleted, err := p.store.DeleteOrphans(ctx)
	if err != nil {
		return fmt.Errorf("delete orphans after user %s: %w", userID, err)
	}
	p.logger.WithFields(log.Fields{"user": userID, "cleared": cleared, "deleted": deleted}).
		Debug("user deletion applied to files")
	return nil
}

// SessionDeleted pulls the dead session out of every file, then deletes the
// files that became orphans.
func (p *Processors) SessionDeleted(ctx context.Context, msg domain.EventMessage) error {
	sessionID := msg.Entity.ID
	removed, err := p.store.RemoveSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("remove session %s: %w", sessionID, err)
	}
	deleted, err := p.store.DeleteOrphans(ctx)
	if err != nil {
		return fmt.Errorf("delete orphans after session %s: %w", sessionID, err)
	}
	p.logger.WithFields(log.Fields{"session": sessionID, "removed": removed, "deleted": deleted}).
		Debug("session deletion applied to files")
	return nil
}
