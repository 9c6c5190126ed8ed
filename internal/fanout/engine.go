package fanout

import (
	"context"
	"fmt"

	"github.com/ddubbert/dd-services/internal/bus"
	"github.com/ddubbert/dd-services/internal/domain"
	"github.com/ddubbert/dd-services/internal/membership"
)

// Engine turns store events into channel notifications and keeps the
// membership index in step with session events. Notifications go out before
// the index write, so subscribers learn about a change before late joiners
// can see its effect in the index.
type Engine struct {
	index    membership.Store
	notifier Notifier
}

func NewEngine(index membership.Store, notifier Notifier) *Engine {
	return &Engine{index: index, notifier: notifier}
}

func (e *Engine) Register(registry *bus.Registry) {
	registry.On(domain.TopicUsers, bus.FilterEvent(domain.EventDeleted, e.UserDeleted))
	registry.On(domain.TopicSessions, e.SessionEvent)
	registry.On(domain.TopicFiles, e.FileEvent)
}

// UserDeleted tells the user's own subscribers and nothing else. The user
// is gone; there is no adjacency left to fan out over.
func (e *Engine) UserDeleted(ctx context.Context, msg domain.EventMessage) error {
	return e.notifier.NotifyUser(ctx, msg.Entity.ID, UserDeleted, msg.Entity)
}

func (e *Engine) SessionEvent(ctx context.Context, msg domain.EventMessage) error {
	session := msg.Entity
	users := session.Connected(domain.EntityUser)
	neighbors := session.Connected(domain.EntitySession)

	switch msg.Event {
	case domain.EventCreated:
		for _, user := range users {
			if err := e.notifier.NotifyUser(ctx, user.ID, SessionAdded, session); err != nil {
				return fmt.Errorf("notify session created: %w", err)
			}
		}
		for _, neighbor := range neighbors {
			if err := e.notifier.NotifySession(ctx, neighbor.ID, ConnectedSessionUpdated, session); err != nil {
				return fmt.Errorf("notify session created: %w", err)
			}
		}
		if err := e.index.Put(ctx, session.ID, session.ConnectedIDs(domain.EntityUser)); err != nil {
			return fmt.Errorf("index session %s: %w", session.ID, err)
		}

	case domain.EventUpdated:
		if msg.EntityBefore != nil {
			if err := e.sessionUpdated(ctx, session, users, neighbors, *msg.EntityBefore); err != nil {
				return err
			}
		}
		if err := e.index.Put(ctx, session.ID, session.ConnectedIDs(domain.EntityUser)); err != nil {
			return fmt.Errorf("index session %s: %w", session.ID, err)
		}

	case domain.EventDeleted:
		if err := e.notifier.NotifySession(ctx, session.ID, SessionDeleted, session); err != nil {
			return fmt.Errorf("notify session deleted: %w", err)
		}
		for _, user := range users {
			if err := e.notifier.NotifyUser(ctx, user.ID, SessionRemoved, session); err != nil {
				return fmt.Errorf("notify session deleted: %w", err)
			}
		}
		for _, neighbor := range neighbors {
			if err := e.notifier.NotifySession(ctx, neighbor.ID, ConnectedSessionRemoved, session); err != nil {
				return fmt.Errorf("notify session deleted: %w", err)
			}
		}
		if err := e.index.Delete(ctx, session.ID); err != nil {
			return fmt.Errorf("unindex session %s: %w", session.ID, err)
		}
	}
	return nil
}

func (e *Engine) sessionUpdated(ctx context.Context, session domain.Entity, users, neighbors []domain.Entity, before domain.Entity) error {
	change := DiffConnected(before.Connected(domain.EntityUser), users)
	switch change.Kind {
	case Added:
		for _, user := range change.Entities {
			if err := e.notifier.NotifySession(ctx, session.ID, UserAdded, user); err != nil {
				return fmt.Errorf("notify member added: %w", err)
			}
		}
	case Removed:
		for _, user := range change.Entities {
			if err := e.notifier.NotifySession(ctx, session.ID, UserRemoved, user); err != nil {
				return fmt.Errorf("notify member removed: %w", err)
			}
		}
	case Unchanged:
		if err := e.notifier.NotifySession(ctx, session.ID, SessionUpdated, session); err != nil {
			return fmt.Errorf("notify session updated: %w", err)
		}
		for _, user := range users {
			if err := e.notifier.NotifyUser(ctx, user.ID, SessionChanged, session); err != nil {
				return fmt.Errorf("notify session updated: %w", err)
			}
		}
		for _, neighbor := range neighbors {
			if err := e.notifier.NotifySession(ctx, neighbor.ID, ConnectedSessionUpdated, session); err != nil {
				return fmt.Errorf("notify session updated: %w", err)
			}
		}
	}
	return nil
}

func (e *Engine) FileEvent(ctx context.Context, msg domain.EventMessage) error {
	file := msg.Entity
	sessions := file.Connected(domain.EntitySession)
	users := file.Connected(domain.EntityUser)

	switch msg.Event {
	case domain.EventCreated:
		return e.notifyFile(ctx, sessions, users, FileAdded, UserFileAdded, file)

	case domain.EventUpdated:
		var sessionsBefore, usersBefore []domain.Entity
		if msg.EntityBefore != nil {
			sessionsBefore = msg.EntityBefore.Connected(domain.EntitySession)
			usersBefore = msg.EntityBefore.Connected(domain.EntityUser)
		}
		if err := e.notifyFileChange(ctx, DiffConnected(sessionsBefore, sessions), true, file); err != nil {
			return err
		}
		return e.notifyFileChange(ctx, DiffConnected(usersBefore, users), false, file)

	case domain.EventDeleted:
		return e.notifyFile(ctx, sessions, users, FileRemoved, UserFileRemoved, file)
	}
	return nil
}

func (e *Engine) notifyFile(ctx context.Context, sessions, users []domain.Entity, sessionEvent SessionEvent, userEvent UserEvent, file domain.Entity) error {
	for _, session := range sessions {
		if err := e.notifier.NotifySession(ctx, session.ID, sessionEvent, file); err != nil {
			return fmt.Errorf("notify file %s: %w", file.ID, err)
		}
	}
	for _, user := range users {
		if err := e.notifier.NotifyUser(ctx, user.ID, userEvent, file); err != nil {
			return fmt.Errorf("notify file %s: %w", file.ID, err)
		}
	}
	return nil
}

// notifyFileChange fans a file diff out to the channels that gained or lost
// the file. An Unchanged diff emits nothing; there is no generic file-updated
// notification kind.
func (e *Engine) notifyFileChange(ctx context.Context, change Change, toSessions bool, file domain.Entity) error {
	if change.Kind == Unchanged {
		return nil
	}
	sessionEvent, userEvent := FileAdded, UserFileAdded
	if change.Kind == Removed {
		sessionEvent, userEvent = FileRemoved, UserFileRemoved
	}
	for _, target := range change.Entities {
		var err error
		if toSessions {
			err = e.notifier.NotifySession(ctx, target.ID, sessionEvent, file)
		} else {
			err = e.notifier.NotifyUser(ctx, target.ID, userEvent, file)
		}
		if err != nil {
			return fmt.Errorf("notify file %s: %w", file.ID, err)
		}
	}
	return nil
}
