package users

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ddubbert/dd-services/internal/bus"
	"github.com/ddubbert/dd-services/internal/domain"
)

// Processors cleans up ephemeral users once nothing references them.
type Processors struct {
	store  Store
	logger *log.Logger
}

func NewProcessors(store Store, logger *log.Logger) *Processors {
	return &Processors{store: store, logger: logger}
}

func (p *Processors) Register(registry *bus.Registry) {
	registry.On(domain.TopicSessions, bus.FilterEvent(domain.EventDeleted, p.SessionDeleted))
}

// SessionDeleted removes the ephemeral users of a deleted leaf session. A
// session that was still connected to other sessions keeps its users alive:
// those sessions reference them, and their own deletes will come around.
func (p *Processors) SessionDeleted(ctx context.Context, msg domain.EventMessage) error {
	if len(msg.Entity.Connected(domain.EntitySession)) > 0 {
		return nil
	}
	userIDs := msg.Entity.ConnectedIDs(domain.EntityUser)
	if len(userIDs) == 0 {
		return nil
	}
	deleted, err := p.store.DeleteEphemeral(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("delete ephemeral users of session %s: %w", msg.Entity.ID, err)
	}
	p.logger.WithFields(log.Fields{"session": msg.Entity.ID, "users": deleted}).
		Debug("ephemeral users deleted")
	return nil
}
