package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares cached outputs between forecaster instances.
type Redis struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis stores entries under prefix+key. A zero ttl never expires them.
func NewRedis(rc *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl < 0 {
		ttl = 0
	}
	return &Redis{rc: rc, prefix: prefix, ttl: ttl}
}

func (c *Redis) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	b, err := c.rc.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache: %w", err)
	}
	if !json.Valid(b) {
		return nil, false, fmt.Errorf("failed to get cache: %s holds invalid json", c.prefix+key)
	}
	return json.RawMessage(b), true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := c.rc.Set(ctx, c.prefix+key, []byte(value), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.rc.Ping(ctx).Err()
}
