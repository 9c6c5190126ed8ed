package domain

import (
	"errors"
	"fmt"
)

// MessageEvent is the mutation kind an EventMessage describes.
type MessageEvent string

const (
	EventCreated MessageEvent = "created"
	EventUpdated MessageEvent = "updated"
	EventDeleted MessageEvent = "deleted"
)

// Topic names, one per entity type.
const (
	TopicUsers    = "users"
	TopicSessions = "sessions"
	TopicFiles    = "files"
)

// TopicFor maps an entity type to its bus topic.
func TopicFor(t EntityType) string {
	switch t {
	case EntityUser:
		return TopicUsers
	case EntitySession:
		return TopicSessions
	default:
		return TopicFiles
	}
}

// EventMessage is the unit published on the bus. It is immutable once
// published and may be delivered more than once; consumers must not assume
// single delivery. EntityBefore is present only for updated events and
// carries the pre-mutation adjacency needed for differencing.
type EventMessage struct {
	Event        MessageEvent `json:"event"`
	Entity       Entity       `json:"entity"`
	EntityBefore *Entity      `json:"entityBefore,omitempty"`
	Snapshot     string       `json:"snapshot,omitempty"`
}

// ErrMalformed marks messages that failed structural validation. Such
// messages are dropped at the consumer boundary, never retried.
var ErrMalformed = errors.New("malformed event message")

// Validate checks that the message has a recognized event and a well-formed
// entity, recursing through the adjacency.
func (m EventMessage) Validate() error {
	switch m.Event {
	case EventCreated, EventUpdated, EventDeleted:
	default:
		return fmt.Errorf("%w: unknown event %q", ErrMalformed, m.Event)
	}
	if err := validateEntity(m.Entity); err != nil {
		return err
	}
	if m.EntityBefore != nil {
		return validateEntity(*m.EntityBefore)
	}
	return nil
}

func validateEntity(e Entity) error {
	if e.ID == "" {
		return fmt.Errorf("%w: entity is missing an id", ErrMalformed)
	}
	if !validEntityType(e.Type) {
		return fmt.Errorf("%w: unknown entity type %q", ErrMalformed, e.Type)
	}
	for _, c := range e.ConnectedTo {
		if err := validateEntity(c); err != nil {
			return err
		}
	}
	return nil
}
