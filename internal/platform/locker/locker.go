// Package locker serialises work per key: webhook and sweep transitions per
// member, scheduled jobs per job name.
package locker

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/platform/redis"
	"github.com/fatflowers/membership/pkg/config"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
	// TryLock returns ErrNotAcquired when key is held elsewhere.
	TryLock(ctx context.Context, key string) (Unlock, error)
}

func newLocker(cfg *config.Config, rc *redis.Client, log *zap.SugaredLogger) Locker {
	if rc == nil {
		return NewLocal()
	}
	return NewRedis(rc, cfg.Membership.LockTTL, log)
}

var Module = fx.Options(
	fx.Provide(newLocker),
)
