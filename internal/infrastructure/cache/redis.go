package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
	"github.com/nerrad567/nodelink-core/internal/node"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultKeyPrefix      = "nodelink:node:"
)

// RedisCache stores nodes as JSON documents in Redis.
//
// Thread Safety: safe for concurrent use; go-redis pools connections.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Compile-time check that RedisCache satisfies node.Cache.
var _ node.Cache = (*RedisCache)(nil)

// Connect creates a Redis client from cfg and verifies it with a ping
// bounded by ctx and the connect timeout.
// ErrDisabled is returned when the cache is switched off.
func Connect(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return New(client, cfg.KeyPrefix, time.Duration(cfg.TTL)*time.Second), nil
}

// New wraps an existing client. An empty prefix uses the default, and a
// zero ttl keeps entries until they are overwritten or deleted.
func New(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the cached node, or false when no entry exists.
func (c *RedisCache) Get(ctx context.Context, id string) (*node.Node, bool, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting node %s: %w", id, err)
	}

	var n node.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, false, fmt.Errorf("%w: node %s: %w", ErrCorruptEntry, id, err)
	}
	return &n, true, nil
}

// Set stores n under its ID with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, n *node.Node) error {
	if n == nil {
		return nil
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding node %s: %w", n.ID, err)
	}
	if err := c.client.Set(ctx, c.key(n.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("setting node %s: %w", n.ID, err)
	}
	return nil
}

// Delete removes the entry for id. A missing entry is not an error.
func (c *RedisCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting node %s: %w", id, err)
	}
	return nil
}

// HealthCheck pings the Redis server.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(id string) string {
	return c.prefix + id
}
