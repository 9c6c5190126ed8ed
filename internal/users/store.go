// Package users holds the user store's consistency processors and store
// access. Users are permanent or ephemeral; ephemeral users only live as
// long as a session references them.
package users

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ddubbert/dd-services/internal/store"
)

type collection interface {
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Store is the narrow contract the user processors need.
type Store interface {
	// DeleteEphemeral removes the given users, but only those flagged as
	// not permanent. Permanent users never match, whatever ids are passed.
	DeleteEphemeral(ctx context.Context, ids []string) (int64, error)
	// DeleteRow is the store's own delete operation for a single user.
	DeleteRow(ctx context.Context, id string) error
}

// MongoStore implements Store on the users collection.
type MongoStore struct {
	col collection
}

func NewMongoStore(col collection) *MongoStore {
	return &MongoStore{col: col}
}

func (s *MongoStore) DeleteEphemeral(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	values := make(bson.A, 0, len(ids))
	for _, id := range ids {
		values = append(values, store.IDValue(id))
	}
	res, err := s.col.DeleteMany(ctx, bson.M{
		"isPermanent": false,
		"_id":         bson.M{"$in": values},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteRow(ctx context.Context, id string) error {
	_, err := s.col.DeleteOne(ctx, store.IDFilter(id))
	return err
}
