package fanout

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/ddubbert/dd-services/internal/domain"
)

// Channel key prefixes. A channel carries everything one user or one
// session's subscribers should see.
const (
	ChannelUserPrefix    = "user_"
	ChannelSessionPrefix = "session_"
)

// UserEvent is a notification kind delivered on a user channel.
type UserEvent string

const (
	UserUpdated     UserEvent = "user_updated"
	UserDeleted     UserEvent = "user_deleted"
	SessionAdded    UserEvent = "session_added"
	SessionChanged  UserEvent = "session_updated"
	SessionRemoved  UserEvent = "session_removed"
	UserFileAdded   UserEvent = "file_added"
	UserFileRemoved UserEvent = "file_removed"
)

// SessionEvent is a notification kind delivered on a session channel.
type SessionEvent string

const (
	SessionUpdated          SessionEvent = "session_updated"
	SessionDeleted          SessionEvent = "session_deleted"
	UserAdded               SessionEvent = "user_added"
	UserRemoved             SessionEvent = "user_removed"
	ConnectedSessionUpdated SessionEvent = "connected_session_updated"
	ConnectedSessionRemoved SessionEvent = "connected_session_removed"
	FileAdded               SessionEvent = "file_added"
	FileRemoved             SessionEvent = "file_removed"
)

// Envelope event discriminators.
const (
	envelopeUser    = "user_event"
	envelopeSession = "session_event"
)

// Notification is the wire shape published on a channel.
type Notification struct {
	Event   string  `json:"event"`
	Content Payload `json:"content"`
}

// Payload carries the concrete notification and the entity it is about.
type Payload struct {
	Event  string        `json:"event"`
	Entity domain.Entity `json:"entity"`
}

// Notifier delivers notifications to user and session channels. The actual
// push transport sits behind the channels and is not this package's concern.
type Notifier interface {
	NotifyUser(ctx context.Context, userID string, event UserEvent, entity domain.Entity) error
	NotifySession(ctx context.Context, sessionID string, event SessionEvent, entity domain.Entity) error
}

// RedisNotifier publishes notifications on redis pub/sub channels.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) NotifyUser(ctx context.Context, userID string, event UserEvent, entity domain.Entity) error {
	return n.publish(ctx, ChannelUserPrefix+userID, Notification{
		Event:   envelopeUser,
		Content: Payload{Event: string(event), Entity: entity},
	})
}

func (n *RedisNotifier) NotifySession(ctx context.Context, sessionID string, event SessionEvent, entity domain.Entity) error {
	return n.publish(ctx, ChannelSessionPrefix+sessionID, Notification{
		Event:   envelopeSession,
		Content: Payload{Event: string(event), Entity: entity},
	})
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, notification Notification) error {
	data, err := sonic.Marshal(notification)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, channel, data).Err()
}
