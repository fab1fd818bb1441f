package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "proxy:dfsp:"

// Client maps DFSP ids to the proxy participant that fronts them.
type Client interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	LookupProxyByDfspID(ctx context.Context, fspID string) (string, error)
	AddDfspIDToProxyMapping(ctx context.Context, fspID, proxyID string) error
}

// RedisClient is the Redis-backed proxy mapping cache.
type RedisClient struct {
	rdb       *redis.Client
	connected atomic.Bool
	logger    *zap.Logger
}

func NewRedis(addr string, db int, pass string, logger *zap.Logger) *RedisClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisClient{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			DB:       db,
			Password: pass,
		}),
		logger: logger.Named("proxy"),
	}
}

func (c *RedisClient) IsConnected() bool { return c.connected.Load() }

// Connect pings Redis and marks the client usable.
func (c *RedisClient) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.connected.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	c.connected.Store(true)
	c.logger.Info("proxy.cache_connected")
	return nil
}

// LookupProxyByDfspID returns "" when no mapping exists.
func (c *RedisClient) LookupProxyByDfspID(ctx context.Context, fspID string) (string, error) {
	proxyID, err := c.rdb.Get(ctx, keyPrefix+fspID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup proxy for %s: %w", fspID, err)
	}
	return proxyID, nil
}

func (c *RedisClient) AddDfspIDToProxyMapping(ctx context.Context, fspID, proxyID string) error {
	if err := c.rdb.Set(ctx, keyPrefix+fspID, proxyID, 0).Err(); err != nil {
		return fmt.Errorf("add proxy mapping %s->%s: %w", fspID, proxyID, err)
	}
	c.logger.Info("proxy.mapping_added", zap.String("fsp_id", fspID), zap.String("proxy_id", proxyID))
	return nil
}

// HealthCheck reports whether Redis answers a ping.
func (c *RedisClient) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	c.connected.Store(false)
	return c.rdb.Close()
}
