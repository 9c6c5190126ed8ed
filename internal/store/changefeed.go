package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChangeOp is the raw mutation kind reported by a store's change feed.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is one raw delta from a store's mutation log. Document holds
// the post-image (insert and update), Before the pre-image (update and
// delete). Pre-images are required: without them a delete cannot tell the
// rest of the system what was removed.
type ChangeEvent struct {
	Op       ChangeOp
	ID       string
	Document bson.Raw
	Before   bson.Raw
}

// ChangeFeed yields change events until the feed fails or the context ends.
type ChangeFeed interface {
	Next(ctx context.Context) (ChangeEvent, error)
	Close(ctx context.Context) error
}

// changeStream is the slice of *mongo.ChangeStream the feed consumes.
type changeStream interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

type mongoFeed struct {
	stream changeStream
}

// Watcher is the slice of *mongo.Collection needed to open a change stream.
type Watcher interface {
	Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (*mongo.ChangeStream, error)
}

// WatchCollection tails the collection's change stream with post-images
// looked up and pre-images required, skipping operation types the adapters
// do not handle.
func WatchCollection(ctx context.Context, col Watcher) (ChangeFeed, error) {
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.Required)
	stream, err := col.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, fmt.Errorf("watch collection: %w", err)
	}
	return &mongoFeed{stream: stream}, nil
}

type rawChange struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID interface{} `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.Raw `bson:"fullDocument"`
	FullDocumentBeforeChange bson.Raw `bson:"fullDocumentBeforeChange"`
}

func (f *mongoFeed) Next(ctx context.Context) (ChangeEvent, error) {
	for f.stream.Next(ctx) {
		var raw rawChange
		if err := f.stream.Decode(&raw); err != nil {
			return ChangeEvent{}, fmt.Errorf("decode change: %w", err)
		}
		op := ChangeOp(raw.OperationType)
		switch op {
		case OpInsert, OpUpdate, OpDelete:
		default:
			continue
		}
		return ChangeEvent{
			Op:       op,
			ID:       renderID(raw.DocumentKey.ID),
			Document: raw.FullDocument,
			Before:   raw.FullDocumentBeforeChange,
		}, nil
	}
	if err := f.stream.Err(); err != nil {
		return ChangeEvent{}, fmt.Errorf("change feed: %w", err)
	}
	if ctx.Err() != nil {
		return ChangeEvent{}, ctx.Err()
	}
	// A cleanly exhausted stream means the cursor is gone; resuming blindly
	// could silently skip changes, so this is terminal for the adapter.
	return ChangeEvent{}, fmt.Errorf("change feed closed")
}

func (f *mongoFeed) Close(ctx context.Context) error {
	return f.stream.Close(ctx)
}

func renderID(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
