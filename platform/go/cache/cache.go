// Package cache provides best-effort Redis access for session revocation and
// tenant cache purges. Nothing here is load-bearing for correctness: when
// Redis is unreachable the callers log and move on.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection. A nil inner client is valid and turns every
// operation into a no-op, mirroring how the app degrades when Redis is down.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis using either a redis:// URL or a bare host:port
// address. Connection failures return an error so the caller can decide to
// continue without a cache.
func New(ctx context.Context, addr string) (*Client, error) {
	if addr == "" {
		return &Client{}, nil
	}

	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewFromClient wraps an existing client; used by tests with miniredis.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Available reports whether a live Redis connection is held.
func (c *Client) Available() bool {
	return c != nil && c.rdb != nil
}

// Keys returns keys matching the pattern via SCAN, never KEYS, to avoid
// blocking the shared instance.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	if !c.Available() {
		return nil, nil
	}

	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return keys, nil
}

// Delete removes the given keys and returns how many existed.
func (c *Client) Delete(ctx context.Context, keys []string) (int64, error) {
	if !c.Available() || len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete keys: %w", err)
	}
	return n, nil
}

// PurgePattern deletes everything matching the pattern and returns the count.
func (c *Client) PurgePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := c.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return c.Delete(ctx, keys)
}

// Close releases the underlying connection; safe on a nil or empty client.
func (c *Client) Close() error {
	if !c.Available() {
		return nil
	}
	return c.rdb.Close()
}

// SessionPattern is the key layout the session middleware writes under.
func SessionPattern(tenantID string) string {
	return "session:tenant:" + tenantID + ":*"
}

// TenantCachePattern covers derived caches (org charts, document listings).
func TenantCachePattern(tenantID string) string {
	return "cache:tenant:" + tenantID + ":*"
}
