package users

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ddubbert/dd-services/internal/domain"
)

type memStore struct {
	permanent map[string]bool
	err       error
}

func newMemStore() *memStore {
	return &memStore{permanent: make(map[string]bool)}
}

func (m *memStore) add(id string, permanent bool) {
	m.permanent[id] = permanent
}

func (m *memStore) DeleteEphemeral(ctx context.Context, ids []string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, id := range ids {
		permanent, ok := m.permanent[id]
		if ok && !permanent {
			delete(m.permanent, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteRow(ctx context.Context, id string) error {
	delete(m.permanent, id)
	return nil
}

func newProcessors(store Store) *Processors {
	logger, _ := test.NewNullLogger()
	return &Processors{store: store, logger: logger}
}

func sessionDeleted(id string, connected ...domain.Entity) domain.EventMessage {
	return domain.EventMessage{
		Event:  domain.EventDeleted,
		Entity: domain.Entity{ID: id, Type: domain.EntitySession, ConnectedTo: connected},
	}
}

func TestLeafSessionDeleteRemovesEphemeralUsers(t *testing.T) {
	store := newMemStore()
	store.add("u1", false)
	store.add("u2", true)

	p := newProcessors(store)
	msg := sessionDeleted("s1",
		domain.Entity{ID: "u1", Type: domain.EntityUser},
		domain.Entity{ID: "u2", Type: domain.EntityUser},
	)
	if err := p.SessionDeleted(context.Background(), msg); err != nil {
		t.Fatalf("session deleted: %v", err)
	}
	if _, ok := store.permanent["u1"]; ok {
		t.Fatal("ephemeral u1 should be gone")
	}
	if _, ok := store.permanent["u2"]; !ok {
		t.Fatal("permanent u2 must survive")
	}
}

func TestConnectedSessionKeepsUsersAlive(t *testing.T) {
	store := newMemStore()
	store.add("u1", false)

	p := newProcessors(store)
	msg := sessionDeleted("s1",
		domain.Entity{ID: "u1", Type: domain.EntityUser},
		domain.Entity{ID: "s2", Type: domain.EntitySession},
	)
	if err := p.SessionDeleted(context.Background(), msg); err != nil {
		t.Fatalf("session deleted: %v", err)
	}
	if _, ok := store.permanent["u1"]; !ok {
		t.Fatal("u1 is still referenced by s2 and must survive")
	}
}

func TestAlreadyDeletedUserIsNoOp(t *testing.T) {
	store := newMemStore()
	p := newProcessors(store)
	msg := sessionDeleted("s1", domain.Entity{ID: "u1", Type: domain.EntityUser})
	if err := p.SessionDeleted(context.Background(), msg); err != nil {
		t.Fatalf("replay against empty store: %v", err)
	}
}

func TestSessionWithoutUsersSkipsStore(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("must not be called")
	p := newProcessors(store)
	if err := p.SessionDeleted(context.Background(), sessionDeleted("s1")); err != nil {
		t.Fatalf("no users means no store access: %v", err)
	}
}

func TestSessionDeletedSurfacesStoreErrors(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("store unreachable")
	p := newProcessors(store)
	msg := sessionDeleted("s1", domain.Entity{ID: "u1", Type: domain.EntityUser})
	if err := p.SessionDeleted(context.Background(), msg); err == nil {
		t.Fatal("expected error")
	}
}
