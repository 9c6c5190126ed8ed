package sessions

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ddubbert/dd-services/internal/bus"
	"github.com/ddubbert/dd-services/internal/domain"
)

// Processors enforces the session store's cascading invariants. A removal
// that empties a session is not finished here: the session's own CDC adapter
// observes the update and applies the existence rule, which is how the
// cascade recurses without any processor calling another.
type Processors struct {
	store  Store
	logger *log.Logger
}

func NewProcessors(store Store, logger *log.Logger) *Processors {
	return &Processors{store: store, logger: logger}
}

func (p *Processors) Register(registry *bus.Registry) {
	registry.On(domain.TopicUsers, bus.FilterEvent(domain.EventDeleted, p.UserDeleted))
	registry.On(domain.TopicSessions, bus.FilterEvent(domain.EventDeleted, p.SessionDeleted))
}

// UserDeleted pulls the dead user out of every session's owners and
// participants, parent and child sessions alike.
func (p *Processors) UserDeleted(ctx context.Context, msg domain.EventMessage) error {
	userID := msg.Entity.ID
	removed, err := p.store.RemoveUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("remove user %s from sessions: %w", userID, err)
	}
	p.logger.WithFields(log.Fields{"user": userID, "sessions": removed}).
		Debug("user removed from sessions")
	return nil
}

// SessionDeleted deletes the direct children of the dead session. Only one
// level is cascaded here; see DeleteChildren.
func (p *Processors) SessionDeleted(ctx context.Context, msg domain.EventMessage) error {
	sessionID := msg.Entity.ID
	deleted, err := p.store.DeleteChildren(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete children of %s: %w", sessionID, err)
	}
	p.logger.WithFields(log.Fields{"session": sessionID, "children": deleted}).
		Debug("child sessions deleted")
	return nil
}
