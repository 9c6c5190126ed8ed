package domain

// EntityType identifies which owning service an entity belongs to.
type EntityType string

const (
	EntityUser    EntityType = "user"
	EntitySession EntityType = "session"
	EntityFile    EntityType = "file"
)

// Entity is a typed, identified node as seen by the event model. ConnectedTo
// holds the one-hop adjacency of the entity at the moment of the event: the
// owner/creator user, member sessions and so on. It is a snapshot of direct
// references, never a graph traversal.
type Entity struct {
	ID          string     `json:"id"`
	Type        EntityType `json:"type"`
	ConnectedTo []Entity   `json:"connectedTo,omitempty"`
}

// Connected returns the adjacency entries of the given type, preserving order.
func (e Entity) Connected(t EntityType) []Entity {
	var out []Entity
	for _, c := range e.ConnectedTo {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// ConnectedIDs returns the ids of the adjacency entries of the given type.
func (e Entity) ConnectedIDs(t EntityType) []string {
	var out []string
	for _, c := range e.ConnectedTo {
		if c.Type == t {
			out = append(out, c.ID)
		}
	}
	return out
}

func validEntityType(t EntityType) bool {
	switch t {
	case EntityUser, EntitySession, EntityFile:
		return true
	}
	return false
}
