// Package sessions holds the session store's consistency processors and its
// store access. Sessions reference an optional parent session plus owner and
// participant users; a session with no members is deleted.
package sessions

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ddubbert/dd-services/internal/store"
)

type collection interface {
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Store is the narrow contract the processors and the CDC adapter need.
type Store interface {
	// RemoveUser pulls the user from owners and participants of every
	// session, whatever role the user held.
	RemoveUser(ctx context.Context, user string) (int64, error)
	// DeleteChildren removes every session whose parentSession is the given
	// id. One level only; grandchildren are reached through the change feed
	// when their own parent's delete is observed.
	DeleteChildren(ctx context.Context, parent string) (int64, error)
	// DeleteRow is the store's own delete operation for a single session.
	DeleteRow(ctx context.Context, id string) error
}

// MongoStore implements Store on the sessions collection.
type MongoStore struct {
	col collection
}

func NewMongoStore(col collection) *MongoStore {
	return &MongoStore{col: col}
}

func (s *MongoStore) RemoveUser(ctx context.Context, user string) (int64, error) {
	res, err := s.col.UpdateMany(ctx,
		bson.M{"$or": bson.A{
			bson.M{"owners": user},
			bson.M{"participants": user},
		}},
		store.Stamp(bson.M{"$pull": bson.M{"owners": user, "participants": user}}),
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) DeleteChildren(ctx context.Context, parent string) (int64, error) {
	if parent == "" {
		return 0, nil
	}
	res, err := s.col.DeleteMany(ctx, bson.M{"parentSession": parent})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteRow(ctx context.Context, id string) error {
	_, err := s.col.DeleteOne(ctx, store.IDFilter(id))
	return err
}
