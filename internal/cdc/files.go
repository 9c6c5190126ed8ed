package cdc

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ddubbert/dd-services/internal/blob"
	"github.com/ddubbert/dd-services/internal/domain"
	"github.com/ddubbert/dd-services/internal/store"
)

type fileRow struct {
	LocalID  string   `bson:"localId"`
	Owner    string   `bson:"owner,omitempty"`
	Sessions []string `bson:"sessions"`
}

func fileAdjacency(row fileRow) []domain.Entity {
	var out []domain.Entity
	if row.Owner != "" {
		out = append(out, domain.Entity{ID: row.Owner, Type: domain.EntityUser})
	}
	for _, id := range row.Sessions {
		out = append(out, domain.Entity{ID: id, Type: domain.EntitySession})
	}
	return out
}

// FileSource publishes file events, enforces the file existence rule (a
// file needs an owner or at least one session) and releases the stored blob
// when a row is deleted.
type FileSource struct {
	deleter RowDeleter
	blobs   blob.Releaser
	logger  *log.Logger
}

func NewFileSource(deleter RowDeleter, blobs blob.Releaser, logger *log.Logger) FileSource {
	return FileSource{deleter: deleter, blobs: blobs, logger: logger}
}

func (FileSource) Topic() string { return domain.TopicFiles }

func (f FileSource) Changed(ctx context.Context, change store.ChangeEvent) ([]domain.EventMessage, error) {
	entity := domain.Entity{ID: change.ID, Type: domain.EntityFile}

	switch change.Op {
	case store.OpInsert:
		row, err := decodeFile(change.Document)
		if err != nil {
			return nil, err
		}
		entity.ConnectedTo = fileAdjacency(row)
		return []domain.EventMessage{{Event: domain.EventCreated, Entity: entity}}, nil

	case store.OpUpdate:
		if len(change.Document) == 0 {
			return nil, nil
		}
		row, err := decodeFile(change.Document)
		if err != nil {
			return nil, err
		}
		if row.Owner == "" && len(row.Sessions) == 0 {
			if err := f.deleter.DeleteRow(ctx, change.ID); err != nil {
				return nil, fmt.Errorf("delete orphaned file: %w", err)
			}
			return nil, nil
		}
		entity.ConnectedTo = fileAdjacency(row)
		before := domain.Entity{ID: change.ID, Type: domain.EntityFile}
		if rowBefore, err := decodeFile(change.Before); err == nil {
			before.ConnectedTo = fileAdjacency(rowBefore)
		}
		return []domain.EventMessage{{Event: domain.EventUpdated, Entity: entity, EntityBefore: &before}}, nil

	case store.OpDelete:
		if row, err := decodeFile(change.Before); err == nil {
			entity.ConnectedTo = fileAdjacency(row)
			if row.LocalID != "" {
				// Best effort: a failed release leaks the blob, which is an
				// accepted bounded failure; the deleted event still goes out.
				if err := f.blobs.Release(row.LocalID); err != nil {
					f.logger.WithFields(log.Fields{"file": change.ID, "localId": row.LocalID}).
						Errorf("could not release blob: %v", err)
				}
			}
		}
		return []domain.EventMessage{{Event: domain.EventDeleted, Entity: entity}}, nil
	}
	return nil, nil
}

func decodeFile(raw bson.Raw) (fileRow, error) {
	var row fileRow
	if len(raw) == 0 {
		return row, fmt.Errorf("missing file image")
	}
	if err := bson.Unmarshal(raw, &row); err != nil {
		return row, fmt.Errorf("decode file row: %w", err)
	}
	return row, nil
}
