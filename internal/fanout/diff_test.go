package fanout

import (
	"reflect"
	"testing"

	"github.com/ddubbert/dd-services/internal/domain"
)

func users(ids ...string) []domain.Entity {
	entities := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, domain.Entity{ID: id, Type: domain.EntityUser})
	}
	return entities
}

func changedIDs(c Change) []string {
	ids := make([]string, 0, len(c.Entities))
	for _, e := range c.Entities {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestDiffGrownListYieldsOnlyNewMembers(t *testing.T) {
	c := DiffConnected(users("u1", "u2"), users("u1", "u2", "u3"))
	if c.Kind != Added {
		t.Fatalf("expected Added, got %v", c.Kind)
	}
	if got := changedIDs(c); !reflect.DeepEqual(got, []string{"u3"}) {
		t.Fatalf("expected exactly [u3], got %v", got)
	}
}

func TestDiffShrunkListYieldsMissingMembers(t *testing.T) {
	c := DiffConnected(users("u1", "u2", "u3"), users("u1"))
	if c.Kind != Removed {
		t.Fatalf("expected Removed, got %v", c.Kind)
	}
	if got := changedIDs(c); !reflect.DeepEqual(got, []string{"u2", "u3"}) {
		t.Fatalf("expected [u2 u3], got %v", got)
	}
}

func TestDiffRemovedEntriesCarryOnlyIDAndType(t *testing.T) {
	before := []domain.Entity{{
		ID:          "u1",
		Type:        domain.EntityUser,
		ConnectedTo: []domain.Entity{{ID: "s1", Type: domain.EntitySession}},
	}}
	c := DiffConnected(before, nil)
	if len(c.Entities) != 1 || c.Entities[0].ConnectedTo != nil {
		t.Fatalf("removed entry must be stripped: %#v", c.Entities)
	}
}

// A same-size membership swap is invisible to the size rule and reports as
// Unchanged. This pins the behavior; changing it is a deliberate decision.
func TestDiffEqualSizeSwapReportsUnchanged(t *testing.T) {
	c := DiffConnected(users("u1", "u2"), users("u1", "u3"))
	if c.Kind != Unchanged {
		t.Fatalf("expected Unchanged for equal-size swap, got %v", c.Kind)
	}
	if len(c.Entities) != 0 {
		t.Fatalf("unchanged diff must carry no entities: %#v", c.Entities)
	}
}

func TestDiffEmptyToEmptyIsUnchanged(t *testing.T) {
	if c := DiffConnected(nil, nil); c.Kind != Unchanged {
		t.Fatalf("expected Unchanged, got %v", c.Kind)
	}
}
