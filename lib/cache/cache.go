/*
 * Northstar
 * Copyright (C) 2025  Northstar Analytics, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package cache provides the Redis backed side cache: analytical query
// results, dashboard snapshots and rate limit counters live here. The cache
// is an accelerator, not a source of truth; every caller must survive a
// missing or failing cache.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/northstarhq/northstar"
	"github.com/northstarhq/northstar/lib/defaults"
	"github.com/northstarhq/northstar/lib/observability/metrics"
)

// Cache is a flat string keyed cache with optional expiry. A missing key
// resolves to trace.NotFound, an unreachable backend to
// trace.ConnectionProblem.
type Cache interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. A zero ttl stores without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes a key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key matching the glob style pattern and
	// returns how many went away.
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	// IncrWithTTL atomically increments the counter under key and returns
	// the new value. The ttl is applied only when the increment created
	// the key, so the expiry of a live window is never extended.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases held resources.
	Close() error
}

// Config holds the Redis cache configuration.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string
	// Password authenticates the connection when set.
	Password string
	// DB selects the logical Redis database.
	DB int
	// MaxConnections caps the connection pool.
	MaxConnections int
	// SocketTimeout bounds dials, reads and writes.
	SocketTimeout time.Duration
	// Prefix namespaces every key. Defaults to "analytics:".
	Prefix string
	// Logger emits cache level logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("missing Addr")
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = defaults.CacheMaxConnections
	}
	if c.MaxConnections < 1 {
		return trace.BadParameter("MaxConnections must be positive, got %v", c.MaxConnections)
	}
	if c.SocketTimeout == 0 {
		c.SocketTimeout = defaults.CacheSocketTimeout
	}
	if c.Prefix == "" {
		c.Prefix = defaults.CachePrefix
	}
	if c.Logger == nil {
		c.Logger = slog.With(northstar.ComponentKey, northstar.ComponentCache)
	}
	return nil
}

// scanBatch is the COUNT hint passed to SCAN during pattern deletes.
const scanBatch = 500

// Client implements Cache on Redis.
type Client struct {
	cfg     Config
	client  redis.UniversalClient
	metrics *cacheMetrics
}

var _ Cache = (*Client)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m, err := newCacheMetrics()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		DialTimeout:  cfg.SocketTimeout,
		ReadTimeout:  cfg.SocketTimeout,
		WriteTimeout: cfg.SocketTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, convertError(err)
	}
	cfg.Logger.InfoContext(ctx, "Connected to Redis cache.", "addr", cfg.Addr, "db", cfg.DB)
	return &Client{cfg: cfg, client: client, metrics: m}, nil
}

func (c *Client) key(key string) string {
	return c.cfg.Prefix + key
}

// Get implements Cache.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.misses.Inc()
			return "", trace.NotFound("key %v is not cached", key)
		}
		return "", convertError(err)
	}
	c.metrics.hits.Inc()
	return value, nil
}

// Set implements Cache.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return convertError(c.client.Set(ctx, c.key(key), value, ttl).Err())
}

// Delete implements Cache.
func (c *Client) Delete(ctx context.Context, key string) error {
	return convertError(c.client.Del(ctx, c.key(key)).Err())
}

// DeletePattern implements Cache.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := c.client.Scan(ctx, 0, c.key(pattern), scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return convertError(err)
		}
		deleted += n
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, trace.Wrap(err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, convertError(err)
	}
	if err := flush(); err != nil {
		return deleted, trace.Wrap(err)
	}
	return deleted, nil
}

// IncrWithTTL implements Cache.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, c.key(key)).Result()
	if err != nil {
		return 0, convertError(err)
	}
	if n == 1 && ttl > 0 {
		if err := c.client.Expire(ctx, c.key(key), ttl).Err(); err != nil {
			return 0, convertError(err)
		}
	}
	return n, nil
}

// Exists implements Cache.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, convertError(err)
	}
	return n > 0, nil
}

// Ping implements Cache.
func (c *Client) Ping(ctx context.Context) error {
	return convertError(c.client.Ping(ctx).Err())
}

// Close implements Cache.
func (c *Client) Close() error {
	return convertError(c.client.Close())
}

// Disabled returns a cache that stores nothing. Reads miss, counters reset
// on every call, writes vanish. It keeps the callers free of nil checks
// when no Redis is configured.
func Disabled() Cache {
	return disabled{}
}

type disabled struct{}

func (disabled) Get(ctx context.Context, key string) (string, error) {
	return "", trace.NotFound("cache is disabled")
}
func (disabled) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (disabled) Delete(ctx context.Context, key string) error                        { return nil }
func (disabled) DeletePattern(ctx context.Context, pattern string) (int64, error)    { return 0, nil }
func (disabled) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 1, nil
}
func (disabled) Exists(ctx context.Context, key string) (bool, error) { return false, nil }
func (disabled) Ping(ctx context.Context) error                       { return nil }
func (disabled) Close() error                                         { return nil }

func convertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return trace.NotFound("key is not cached")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return trace.ConnectionProblem(err, "redis is unreachable")
	}
	return trace.Wrap(err)
}

type cacheMetrics struct {
	hits   prometheus.Counter
	misses prometheus.Counter
}

func newCacheMetrics() (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricCacheHits,
			Help:      "Number of cache reads answered from the cache",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricCacheMisses,
			Help:      "Number of cache reads that missed",
		}),
	}
	return m, trace.Wrap(metrics.RegisterCollectors(m.hits, m.misses))
}
