// Package store narrows the document store down to the contract the
// consistency processors and CDC adapters depend on. Everything speaks this
// contract; nothing outside a store's own service writes to its rows.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect opens a client and returns the named database. The caller owns the
// client's lifetime through the returned close function.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetTimeout(10*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping store: %w", err)
	}
	return client.Database(database), client.Disconnect, nil
}

// IDFilter matches a single row by id, accepting both object ids and plain
// string ids so fixtures and production rows filter the same way.
func IDFilter(id string) bson.M {
	return bson.M{"_id": IDValue(id)}
}

// IDValue converts an id to the value IDFilter matches with, for building
// $in clauses over mixed id shapes.
func IDValue(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

// Stamp adds the updatedAt bookkeeping every mutation carries.
func Stamp(update bson.M) bson.M {
	set, ok := update["$set"].(bson.M)
	if !ok {
		set = bson.M{}
	}
	set["updatedAt"] = time.Now().UTC()
	update["$set"] = set
	return update
}
