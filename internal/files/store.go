// Package files holds the file store's consistency processors and its store
// access. Files reference an owning user and member sessions; a file with
// neither is an orphan and gets deleted.
package files

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ddubbert/dd-services/internal/store"
)

// collection is the slice of *mongo.Collection the store uses; tests
// substitute fakes that record the filters they receive.
type collection interface {
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Store is the narrow contract the processors and the CDC adapter need.
type Store interface {
	// ClearOwner unsets the owner on every file owned by the user.
	ClearOwner(ctx context.Context, owner string) (int64, error)
	// RemoveSession pulls the session from every file's session list.
	RemoveSession(ctx context.Context, session string) (int64, error)
	// DeleteOrphans removes every file with no owner and no sessions.
	DeleteOrphans(ctx context.Context) (int64, error)
	// DeleteRow is the store's own delete operation for a single file.
	DeleteRow(ctx context.Context, id string) error
}

// MongoStore implements Store on the files collection. Bulk mutations are a
// single store command; atomicity is per matched document, which is all the
// processors rely on.
type MongoStore struct {
	col collection
}

func NewMongoStore(col collection) *MongoStore {
	return &MongoStore{col: col}
}

func (s *MongoStore) ClearOwner(ctx context.Context, owner string) (int64, error) {
	res, err := s.col.UpdateMany(ctx,
		bson.M{"owner": owner},
		store.Stamp(bson.M{"$unset": bson.M{"owner": ""}}),
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) RemoveSession(ctx context.Context, session string) (int64, error) {
	res, err := s.col.UpdateMany(ctx,
		bson.M{"sessions": session},
		store.Stamp(bson.M{"$pull": bson.M{"sessions": session}}),
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) DeleteOrphans(ctx context.Context) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"owner": bson.M{"$exists": false}},
				bson.M{"owner": nil},
			}},
			bson.M{"$or": bson.A{
				bson.M{"sessions": bson.M{"$exists": false}},
				bson.M{"sessions": nil},
				bson.M{"sessions": bson.M{"$size": 0}},
			}},
		},
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
