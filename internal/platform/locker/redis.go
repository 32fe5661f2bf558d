package locker

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/platform/redis"
	"github.com/fatflowers/membership/pkg/tool"
)

const (
	defaultTTL   = 30 * time.Second
	pollInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our owner token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisStore interface {
	goredis.Scripter
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *goredis.BoolCmd
}

// Redis locks with SET NX and a per-acquisition owner token, so instances
// sharing a database also share locks. A lock outliving ttl expires on its own.
type Redis struct {
	store redisStore
	key   func(string) string
	ttl   time.Duration
	log   *zap.SugaredLogger
}

func NewRedis(c *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{
		store: c,
		key:   func(k string) string { return c.Key("lock", k) },
		ttl:   ttl,
		log:   log,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		unlock, err := r.TryLock(ctx, key)
		if err != ErrNotAcquired {
			return unlock, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Redis) TryLock(ctx context.Context, key string) (Unlock, error) {
	k := r.key(key)
	owner := tool.NewToken()
	ok, err := r.store.SetNX(ctx, k, owner, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx %s: %w", k, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.store, []string{k}, owner).Err(); err != nil {
				r.log.Warnw("failed to release lock", "key", k, "error", err)
			}
		})
	}, nil
}
