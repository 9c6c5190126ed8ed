package cdc

import (
	"context"

	"github.com/ddubbert/dd-services/internal/domain"
	"github.com/ddubbert/dd-services/internal/store"
)

// UserSource publishes user events. Users reference no other entities, so
// their messages carry no adjacency and no existence rule applies.
type UserSource struct{}

func (UserSource) Topic() string { return domain.TopicUsers }

func (UserSource) Changed(ctx context.Context, change store.ChangeEvent) ([]domain.EventMessage, error) {
	entity := domain.Entity{ID: change.ID, Type: domain.EntityUser}
	switch change.Op {
	case store.OpInsert:
		return []domain.EventMessage{{Event: domain.EventCreated, Entity: entity}}, nil
	case store.OpUpdate:
		before := domain.Entity{ID: change.ID, Type: domain.EntityUser}
		return []domain.EventMessage{{Event: domain.EventUpdated, Entity: entity, EntityBefore: &before}}, nil
	case store.OpDelete:
		return []domain.EventMessage{{Event: domain.EventDeleted, Entity: entity}}, nil
	}
	return nil, nil
}
