package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ddubbert/dd-services/internal/membership"
)

// ErrNotMember rejects a subscription from a user outside one of the
// requested sessions.
var ErrNotMember = errors.New("user is not a member of every requested session")

// Subscriber checks membership once at subscribe time and then relays
// channel notifications until the context ends. A user removed from a
// session mid-subscription keeps receiving until they disconnect; the check
// is not repeated.
type Subscriber struct {
	index  membership.Store
	rdb    *redis.Client
	logger *log.Logger
}

func NewSubscriber(index membership.Store, rdb *redis.Client, logger *log.Logger) *Subscriber {
	return &Subscriber{index: index, rdb: rdb, logger: logger}
}

// MemberOfAll reports whether the user appears in the membership index of
// every given session. A session the index does not know rejects everyone.
func (s *Subscriber) MemberOfAll(ctx context.Context, user string, sessions []string) (bool, error) {
	for _, session := range sessions {
		users, err := s.index.Get(ctx, session)
		if err != nil {
			return false, fmt.Errorf("membership of %s: %w", session, err)
		}
		member := false
		for _, u := range users {
			if u == user {
				member = true
				break
			}
		}
		if !member {
			return false, nil
		}
	}
	return true, nil
}

// SessionUpdates authorizes the user against every requested session, then
// delivers that session's notifications until ctx ends. The user's own
// channel rides along so session removals reach them too.
func (s *Subscriber) SessionUpdates(ctx context.Context, user string, sessions []string, deliver func(channel string, n Notification)) error {
	ok, err := s.MemberOfAll(ctx, user, sessions)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	channels := make([]string, 0, len(sessions)+1)
	for _, session := range sessions {
		channels = append(channels, ChannelSessionPrefix+session)
	}
	channels = append(channels, ChannelUserPrefix+user)
	s.listen(ctx, channels, deliver)
	return nil
}

// UserUpdates delivers the user's own channel without any membership check;
// users always may watch themselves.
func (s *Subscriber) UserUpdates(ctx context.Context, user string, deliver func(channel string, n Notification)) {
	s.listen(ctx, []string{ChannelUserPrefix + user}, deliver)
}

func (s *Subscriber) listen(ctx context.Context, channels []string, deliver func(channel string, n Notification)) {
	for {
		sub := s.rdb.Subscribe(ctx, channels...)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var n Notification
				if err := sonic.UnmarshalString(msg.Payload, &n); err != nil {
					s.logger.WithError(err).WithField("channel", msg.Channel).Error("unparseable notification")
					continue
				}
				deliver(msg.Channel, n)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
