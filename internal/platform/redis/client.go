// Package redis builds the shared redis connection used for cross-instance locks.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/pkg/config"
)

// Client wraps a go-redis client with the configured key namespace.
type Client struct {
	*redis.Client
	prefix string
}

// Key joins parts under the configured prefix, e.g. "membership:lock:member:42".
func (c *Client) Key(parts ...string) string {
	if c.prefix == "" {
		return strings.Join(parts, ":")
	}
	return c.prefix + ":" + strings.Join(parts, ":")
}

// New returns nil when redis is not configured; callers fall back to in-process
// coordination in that case.
func New(cfg *config.Config, lc fx.Lifecycle, log *zap.SugaredLogger) (*Client, error) {
	if !cfg.Redis.Enabled() {
		log.Infow("redis not configured, using in-process locks")
		return nil, nil
	}
	opts, err := optionsFromConfig(cfg.Redis)
	if err != nil {
		return nil, err
	}
	c := &Client{Client: redis.NewClient(opts), prefix: cfg.Redis.Prefix}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping redis: %w", err)
			}
			log.Infow("redis connection established", "addr", opts.Addr)
			return nil
		},
		OnStop: func(context.Context) error {
			return c.Close()
		},
	})
	return c, nil
}

func NewWithClient(raw *redis.Client, prefix string) *Client {
	return &Client{Client: raw, prefix: prefix}
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" && cfg.Addr == "" {
		return nil, errors.New("redis url or addr is required")
	}
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		if opts.DB == 0 {
			opts.DB = cfg.DB
		}
		return opts, nil
	}
	return &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
