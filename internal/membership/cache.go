package membership

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const cacheKeyPrefix = "mi:"

// CachedStore layers a read-through redis cache over a Store. Cache trouble
// never fails a call; the table remains the source of truth and a miss just
// costs a table read.
type CachedStore struct {
	inner  Store
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewCachedStore(inner Store, rdb *redis.Client, ttl time.Duration, logger *log.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &CachedStore{inner: inner, redis: rdb, ttl: ttl, logger: logger}
}

func cacheKey(session string) string {
	return cacheKeyPrefix + session
}

func (c *CachedStore) Get(ctx context.Context, session string) ([]string, error) {
	data, err := c.redis.Get(ctx, cacheKey(session)).Result()
	if err == nil {
		var users []string
		if err := sonic.UnmarshalString(data, &users); err == nil {
			return users, nil
		}
		c.logger.WithField("session", session).Warn("corrupt membership cache entry, rereading")
	} else if err != redis.Nil {
		c.logger.WithError(err).WithField("session", session).Warn("membership cache read failed")
	}

	users, err := c.inner.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	if users != nil {
		if encoded, err := sonic.MarshalString(users); err == nil {
			if err := c.redis.Set(ctx, cacheKey(session), encoded, c.ttl).Err(); err != nil {
				c.logger.WithError(err).WithField("session", session).Warn("membership cache write failed")
			}
		}
	}
	return users, nil
}

func (c *CachedStore) Put(ctx context.Context, session string, users []string) error {
	if err := c.inner.Put(ctx, session, users); err != nil {
		return err
	}
	c.invalidate(ctx, session)
	return nil
}

func (c *CachedStore) Delete(ctx context.Context, session string) error {
	if err := c.inner.Delete(ctx, session); err != nil {
		return err
	}
	c.invalidate(ctx, session)
	return nil
}

func (c *CachedStore) invalidate(ctx context.Context, session string) {
	if err := c.redis.Del(ctx, cacheKey(session)).Err(); err != nil {
		c.logger.WithError(err).WithField("session", session).Warn("membership cache invalidation failed")
	}
}
