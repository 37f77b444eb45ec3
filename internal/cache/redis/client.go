package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/excelgpt/backend/pkg/config"
	"github.com/excelgpt/backend/pkg/logger"
)

// ErrMiss is returned when the key is absent.
var ErrMiss = errors.New("cache miss")

// Client caches rendered query results in Redis. A nil *Client is valid and
// behaves as an always-miss cache, so callers never branch on whether the
// cache is enabled.
type Client struct {
	rdb    *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ttl := time.Duration(cfg.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Client{rdb: rdb, ttl: ttl, logger: logger.GetLogger()}, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c == nil {
		return "", ErrMiss
	}

	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		c.logger.Warn("Redis get failed", zap.String("key", key), zap.Error(err))
		return "", ErrMiss
	}
	return val, nil
}

func (c *Client) Set(ctx context.Context, key, value string) {
	if c == nil {
		return
	}

	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("Redis set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
