package store

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type scriptedStream struct {
	docs []bson.M
	err  error
	pos  int
}

func (s *scriptedStream) Next(ctx context.Context) bool {
	return s.pos < len(s.docs)
}

func (s *scriptedStream) Decode(val interface{}) error {
	raw, err := bson.Marshal(s.docs[s.pos])
	if err != nil {
		return err
	}
	s.pos++
	return bson.Unmarshal(raw, val)
}

func (s *scriptedStream) Err() error                    { return s.err }
func (s *scriptedStream) Close(ctx context.Context) error { return nil }

func TestFeedMapsOperationsAndImages(t *testing.T) {
	oid := primitive.NewObjectID()
	stream := &scriptedStream{docs: []bson.M{
		{
			"operationType": "insert",
			"documentKey":   bson.M{"_id": oid},
			"fullDocument":  bson.M{"_id": oid, "owner": "u1"},
		},
		{
			"operationType":            "delete",
			"documentKey":              bson.M{"_id": "f2"},
			"fullDocumentBeforeChange": bson.M{"_id": "f2", "localId": "blob-2"},
		},
	}}
	feed := &mongoFeed{stream: stream}
	ctx := context.Background()

	ev, err := feed.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Op != OpInsert || ev.ID != oid.Hex() {
		t.Fatalf("unexpected insert event: %#v", ev)
	}
	var doc struct {
		Owner string `bson:"owner"`
	}
	if err := bson.Unmarshal(ev.Document, &doc); err != nil || doc.Owner != "u1" {
		t.Fatalf("post-image lost: %v %#v", err, doc)
	}

	ev, err = feed.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Op != OpDelete || ev.ID != "f2" {
		t.Fatalf("unexpected delete event: %#v", ev)
	}
	var before struct {
		LocalID string `bson:"localId"`
	}
	if err := bson.Unmarshal(ev.Before, &before); err != nil || before.LocalID != "blob-2" {
		t.Fatalf("pre-image lost: %v %#v", err, before)
	}
}

func TestFeedSkipsUnhandledOperations(t *testing.T) {
	stream := &scriptedStream{docs: []bson.M{
		{"operationType": "invalidate", "documentKey": bson.M{"_id": "x"}},
		{
			"operationType":            "update",
			"documentKey":              bson.M{"_id": "s1"},
			"fullDocument":             bson.M{"_id": "s1"},
			"fullDocumentBeforeChange": bson.M{"_id": "s1"},
		},
	}}
	feed := &mongoFeed{stream: stream}

	ev, err := feed.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Op != OpUpdate || ev.ID != "s1" {
		t.Fatalf("expected the update event, got %#v", ev)
	}
}

func TestFeedSurfacesTerminalErrors(t *testing.T) {
	stream := &scriptedStream{err: errors.New("cursor lost")}
	feed := &mongoFeed{stream: stream}

	if _, err := feed.Next(context.Background()); err == nil {
		t.Fatal("expected a terminal error")
	}
}

func TestFeedReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	feed := &mongoFeed{stream: &scriptedStream{}}
	if _, err := feed.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIDFilter(t *testing.T) {
	oid := primitive.NewObjectID()
	f := IDFilter(oid.Hex())
	if got, ok := f["_id"].(primitive.ObjectID); !ok || got != oid {
		t.Fatalf("expected object id filter, got %#v", f)
	}
	f = IDFilter("plain-id")
	if f["_id"] != "plain-id" {
		t.Fatalf("expected string id filter, got %#v", f)
	}
}
