package cache

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/genoplot/genoplot-backend/internal/logger"
)

// Cache is a thin redis wrapper for plot payloads. A nil *Cache is valid and
// behaves as a permanent miss, so callers never branch on whether redis is
// configured.
type Cache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// New returns (nil, nil) when REDIS_ADDR is unset.
func New(log *logger.Logger, ttl time.Duration) (*Cache, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		log.Info("REDIS_ADDR not set, running without cache")
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Cache{
		log: log.With("service", "Cache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn("cache get failed (ignored)", "key", key, "error", err)
		return nil, false
	}
	return raw, true
}

func (c *Cache) Set(ctx context.Context, key string, raw []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("cache set failed (ignored)", "key", key, "error", err)
	}
}

func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
