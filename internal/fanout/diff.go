// Package fanout converts coarse store events into per-recipient
// notifications and maintains the session membership index along the way.
package fanout

import "github.com/ddubbert/dd-services/internal/domain"

// ChangeKind classifies how a connected-entity list changed between the
// before and after images of an update.
type ChangeKind int

const (
	// Unchanged covers equal-length lists. A same-size swap of members is
	// reported as Unchanged too; the size rule cannot see it.
	Unchanged ChangeKind = iota
	Added
	Removed
)

// Change is the outcome of differencing one connected-entity type.
type Change struct {
	Kind     ChangeKind
	Entities []domain.Entity
}

// DiffConnected compares the before and after lists of one connected type.
// A grown list yields the entries new to after; a shrunk list yields the
// entries missing from after, reduced to their id and type.
func DiffConnected(before, after []domain.Entity) Change {
	if len(before) == len(after) {
		return Change{Kind: Unchanged}
	}
	if len(after) > len(before) {
		var added []domain.Entity
		for _, e := range after {
			if !containsID(before, e.ID) {
				added = append(added, e)
			}
		}
		return Change{Kind: Added, Entities: added}
	}
	var removed []domain.Entity
	for _, e := range before {
		if !containsID(after, e.ID) {
			removed = append(removed, domain.Entity{ID: e.ID, Type: e.Type})
		}
	}
	return Change{Kind: Removed, Entities: removed}
}

func containsID(entities []domain.Entity, id string) bool {
	for _, e := range entities {
		if e.ID == id {
			return true
		}
	}
	return false
}
