package cdc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ddubbert/dd-services/internal/domain"
	"github.com/ddubbert/dd-services/internal/store"
)

type scriptedFeed struct {
	events  []store.ChangeEvent
	err     error
	closed  bool
	drained chan struct{}
	once    sync.Once
}

func (f *scriptedFeed) Next(ctx context.Context) (store.ChangeEvent, error) {
	if len(f.events) == 0 {
		if f.err != nil {
			return store.ChangeEvent{}, f.err
		}
		f.once.Do(func() { close(f.drained) })
		<-ctx.Done()
		return store.ChangeEvent{}, ctx.Err()
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, nil
}

func (f *scriptedFeed) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

type recordingBus struct {
	topics []string
	msgs   []domain.EventMessage
	err    error
}

func (b *recordingBus) Publish(ctx context.Context, topic string, msgs []domain.EventMessage) error {
	if b.err != nil {
		return b.err
	}
	for range msgs {
		b.topics = append(b.topics, topic)
	}
	b.msgs = append(b.msgs, msgs...)
	return nil
}

type recordingDeleter struct {
	deleted []string
	err     error
}

func (d *recordingDeleter) DeleteRow(ctx context.Context, id string) error {
	if d.err != nil {
		return d.err
	}
	d.deleted = append(d.deleted, id)
	return nil
}

type recordingReleaser struct {
	released []string
	err      error
}

func (r *recordingReleaser) Release(localID string) error {
	if r.err != nil {
		return r.err
	}
	r.released = append(r.released, localID)
	return nil
}

func marshal(t *testing.T, doc bson.M) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return raw
}

func runAdapter(t *testing.T, source EventSource, feed *scriptedFeed, publisher *recordingBus) error {
	t.Helper()
	feed.drained = make(chan struct{})
	logger, _ := test.NewNullLogger()
	adapter := NewAdapter(source, feed, publisher, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- adapter.Run(ctx) }()
	// The scripted feed signals once every event was handed over, then
	// blocks; cancel to end the run.
	<-feed.drained
	cancel()
	return <-done
}

func TestSessionInsertPublishesCreatedWithAdjacency(t *testing.T) {
	feed := &scriptedFeed{events: []store.ChangeEvent{{
		Op: store.OpInsert,
		ID: "s1",
		Document: marshal(t, bson.M{
			"parentSession": "s0",
			"owners":        []string{"u1"},
			"participants":  []string{"u2"},
		}),
	}}}
	publisher := &recordingBus{}
	deleter := &recordingDeleter{}

	if err := runAdapter(t, NewSessionSource(deleter), feed, publisher); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(publisher.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(publisher.msgs))
	}
	msg := publisher.msgs[0]
	if msg.Event != domain.EventCreated || msg.Entity.ID != "s1" {
		t.Fatalf("unexpected message: %#v", msg)
	}
	want := []domain.Entity{
		{ID: "s0", Type: domain.EntitySession},
		{ID: "u1", Type: domain.EntityUser},
		{ID: "u2", Type: domain.EntityUser},
	}
	if len(msg.Entity.ConnectedTo) != len(want) {
		t.Fatalf("unexpected adjacency: %#v", msg.Entity.ConnectedTo)
	}
	for i, e := range want {
		got := msg.Entity.ConnectedTo[i]
		if got.ID != e.ID || got.Type != e.Type {
			t.Fatalf("adjacency[%d] = %#v, want %#v", i, got, e)
		}
	}
	if !feed.closed {
		t.Fatal("feed not closed on shutdown")
	}
}

func TestSessionUpdateCarriesBeforeAdjacency(t *testing.T) {
	feed := &scriptedFeed{events: []store.ChangeEvent{{
		Op:       store.OpUpdate,
		ID:       "s1",
		Document: marshal(t, bson.M{"owners": []string{"u1"}, "participants": []string{"u2", "u3"}}),
		Before:   marshal(t, bson.M{"owners": []string{"u1"}, "participants": []string{"u2"}}),
	}}}
	publisher := &recordingBus{}

	if err := runAdapter(t, NewSessionSource(&recordingDeleter{}), feed, publisher); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(publisher.msgs) != 1 || publisher.msgs[0].Event != domain.EventUpdated {
		t.Fatalf("expected one updated message: %#v", publisher.msgs)
	}
	before := publisher.msgs[0].EntityBefore
	if before == nil || len(before.ConnectedTo) != 2 {
		t.Fatalf("pre-image adjacency missing: %#v", before)
	}
}

func TestSessionUpdateEmptyingMembersDeletesLocally(t *testing.T) {
	feed := &scriptedFeed{events: []store.ChangeEvent{{
		Op:       store.OpUpdate,
		ID:       "s1",
		Document: marshal(t, bson.M{"owners": []string{}, "participants": []string{}}),
		Before:   marshal(t, bson.M{"owners": []string{"u1"}, "participants": []string{}}),
	}}}
	publisher := &recordingBus{}
	deleter := &recordingDeleter{}

	if err := runAdapter(t, NewSessionSource(deleter), feed, publisher); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(publisher.msgs) != 0 {
		t.Fatalf("no update may be published for a row about to be deleted: %#v", publisher.msgs)
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0] != "s1" {
		t.Fatalf("expected local delete of s1, got %v", deleter.deleted)
	}
}

func TestSessionDeletePublishesPreImageAdjacency(t *testing.T) {
	feed := &scriptedFeed{events: []store.ChangeEvent{{
		Op:     store.OpDelete,
		ID:     "s1",
		Before: marshal(t, bson.M{"owners": []string{"u1"}, "participants": []string{"u2"}}),
	}}}
	publisher := &recordingBus{}

	if err := runAdapter(t, NewSessionSource(&recordingDeleter{}), feed, publisher); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(publisher.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(publisher.msgs))
	}
	msg := publisher.msgs[0]
	if msg.Event != domain.EventDeleted || len(msg.Entity.ConnectedTo) != 2 {
		t.Fatalf("unexpected deleted message: %#v", msg)
	}
}

func TestFileUpdateWithoutReferencesDeletesLocally(t *testing.T) {
	logger, _ := test.NewNullLogger()
	deleter := &recordingDeleter{}
	source := NewFileSource(deleter, &recordingReleaser{}, logger)

	feed := &scriptedFeed{events: []store.ChangeEvent{{
		Op:       store.OpUpdate,
		ID:       "f1",
		Document: marshal(t, bson.M{"localId": "blob-1", "sessions": []string{}}),
		Before:   marshal(t, bson.M{"localId": "blob-1", "owner": "u1", "sessions": []string{}}),
	}}}
	publisher := &recordingBus{}

	if err := runAdapter(t, source, feed, publisher); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(publisher.msgs) != 0 {
		t.Fatalf("orphaned file update must not publish: %#v", publisher.msgs)
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0] != "f1" {
		t.Fatalf("expected local delete of f1, got %v", deleter.deleted)
	}
}

func TestFileDeleteReleasesBlobBestEffort(t *testing.T) {
	logger, _ := test.NewNullLogger()
	releaser := &recordingReleaser{}
	source := NewFileSource(&recordingDeleter{}, releaser, logger)

	feed := &scriptedFeed{events: []store.ChangeEvent{{
		Op:     store.OpDelete,
		ID:     "f1",
		Before: marshal(t, bson.M{"localId": "blob-1", "owner": "u1", "sessions": []string{"s1"}}),
	}}}
	publisher := &recordingBus{}

	if err := runAdapter(t, source, feed, publisher); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(releaser.released) != 1 || releaser.released[0] != "blob-1" {
		t.Fatalf("expected blob release, got %v", releaser.released)
	}
	if len(publisher.msgs) != 1 || publisher.msgs[0].Event != domain.EventDeleted {
		t.Fatalf("expected deleted message: %#v", publisher.msgs)
	}
}

func TestFileDeletePublishesEvenWhenReleaseFails(t *testing.T) {
	logger, _ := test.NewNullLogger()
	releaser := &recordingReleaser{err: errors.New("storage offline")}
	source := NewFileSource(&recordingDeleter{}, releaser, logger)

	feed := &scriptedFeed{events: []store.ChangeEvent{{
		Op:     store.OpDelete,
		ID:     "f1",
		Before: marshal(t, bson.M{"localId": "blob-1", "owner": "u1", "sessions": []string{}}),
	}}}
	publisher := &recordingBus{}

	if err := runAdapter(t, source, feed, publisher); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(publisher.msgs) != 1 || publisher.msgs[0].Event != domain.EventDeleted {
		t.Fatalf("deleted event must still be published: %#v", publisher.msgs)
	}
}

func TestUserSourceEvents(t *testing.T) {
	feed := &scriptedFeed{events: []store.ChangeEvent{
		{Op: store.OpInsert, ID: "u1"},
		{Op: store.OpUpdate, ID: "u1"},
		{Op: store.OpDelete, ID: "u1"},
	}}
	publisher := &recordingBus{}

	if err := runAdapter(t, UserSource{}, feed, publisher); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(publisher.msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(publisher.msgs))
	}
	wantEvents := []domain.MessageEvent{domain.EventCreated, domain.EventUpdated, domain.EventDeleted}
	for i, want := range wantEvents {
		if publisher.msgs[i].Event != want {
			t.Fatalf("message %d = %s, want %s", i, publisher.msgs[i].Event, want)
		}
	}
}

func TestAdapterStopsOnFeedError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	feed := &scriptedFeed{err: errors.New("cursor lost")}
	adapter := NewAdapter(UserSource{}, feed, &recordingBus{}, logger)

	err := adapter.Run(context.Background())
	if err == nil {
		t.Fatal("expected a terminal error")
	}
	if adapter.State() != StateStopped {
		t.Fatalf("adapter should be stopped, state=%s", adapter.State())
	}
}

func TestAdapterStopsWhenBusUnavailable(t *testing.T) {
	logger, _ := test.NewNullLogger()
	feed := &scriptedFeed{events: []store.ChangeEvent{{Op: store.OpInsert, ID: "u1"}}}
	publisher := &recordingBus{err: errors.New("broker down")}
	adapter := NewAdapter(UserSource{}, feed, publisher, logger)

	if err := adapter.Run(context.Background()); err == nil {
		t.Fatal("expected the adapter to surface the publish failure")
	}
}
