package cdc

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ddubbert/dd-services/internal/domain"
	"github.com/ddubbert/dd-services/internal/store"
)

type sessionRow struct {
	ParentSession string   `bson:"parentSession,omitempty"`
	Owners        []string `bson:"owners"`
	Participants  []string `bson:"participants"`
}

// sessionAdjacency snapshots the one-hop references of a session row:
// parent session first, then owners, then participants.
func sessionAdjacency(row sessionRow) []domain.Entity {
	var out []domain.Entity
	if row.ParentSession != "" {
		out = append(out, domain.Entity{ID: row.ParentSession, Type: domain.EntitySession})
	}
	for _, id := range row.Owners {
		out = append(out, domain.Entity{ID: id, Type: domain.EntityUser})
	}
	for _, id := range row.Participants {
		out = append(out, domain.Entity{ID: id, Type: domain.EntityUser})
	}
	return out
}

// SessionSource publishes session events and enforces the session existence
// rule: a session with neither owners nor participants is deleted locally.
type SessionSource struct {
	deleter RowDeleter
}

func NewSessionSource(deleter RowDeleter) SessionSource {
	return SessionSource{deleter: deleter}
}

func (SessionSource) Topic() string { return domain.TopicSessions }

func (s SessionSource) Changed(ctx context.Context, change store.ChangeEvent) ([]domain.EventMessage, error) {
	entity := domain.Entity{ID: change.ID, Type: domain.EntitySession}

	switch change.Op {
	case store.OpInsert:
		row, err := decodeSession(change.Document)
		if err != nil {
			return nil, err
		}
		entity.ConnectedTo = sessionAdjacency(row)
		return []domain.EventMessage{{Event: domain.EventCreated, Entity: entity}}, nil

	case store.OpUpdate:
		if len(change.Document) == 0 {
			// Row vanished before the post-image lookup; its delete follows
			// on the feed, nothing to publish for this update.
			return nil, nil
		}
		row, err := decodeSession(change.Document)
		if err != nil {
			return nil, err
		}
		// The rule runs after every update: an update can be the operation
		// that empties both member lists.
		if len(row.Owners)+len(row.Participants) == 0 {
			if err := s.deleter.DeleteRow(ctx, change.ID); err != nil {
				return nil, fmt.Errorf("delete emptied session: %w", err)
			}
			return nil, nil
		}
		entity.ConnectedTo = sessionAdjacency(row)
		before := domain.Entity{ID: change.ID, Type: domain.EntitySession}
		if rowBefore, err := decodeSession(change.Before); err == nil {
			before.ConnectedTo = sessionAdjacency(rowBefore)
		}
		return []domain.EventMessage{{Event: domain.EventUpdated, Entity: entity, EntityBefore: &before}}, nil

	case store.OpDelete:
		if row, err := decodeSession(change.Before); err == nil {
			entity.ConnectedTo = sessionAdjacency(row)
		}
		return []domain.EventMessage{{Event: domain.EventDeleted, Entity: entity}}, nil
	}
	return nil, nil
}

func decodeSession(raw bson.Raw) (sessionRow, error) {
	var row sessionRow
	if len(raw) == 0 {
		return row, fmt.Errorf("missing session image")
	}
	if err := bson.Unmarshal(raw, &row); err != nil {
		return row, fmt.Errorf("decode session row: %w", err)
	}
	return row, nil
}
