package quota

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// MemoryCache keeps one snapshot in process memory.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.RWMutex
	snap Snapshot
	set  bool
}

// NewMemoryCache returns a cache whose entries expire after ttl as
// measured by now (time.Now when nil).
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{ttl: ttl, now: now}
}

// Get returns the snapshot if it is younger than the TTL.
func (c *MemoryCache) Get(context.Context) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set || c.now().Sub(c.snap.FetchedAt) >= c.ttl {
		return Snapshot{}, false
	}
	return c.snap, true
}

// Stale returns the last snapshot regardless of age.
func (c *MemoryCache) Stale() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap, c.set
}

// Set replaces the snapshot.
func (c *MemoryCache) Set(_ context.Context, s Snapshot) {
	c.mu.Lock()
	c.snap, c.set = s, true
	c.mu.Unlock()
}

// RedisCache shares the snapshot between processes (the MCP server and
// the webhook server) through a single key with a Redis-side expiry.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to the Redis server at url
// (redis://[:password@]host:port/db).
func NewRedisCache(url string, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: redis.NewClient(opts),
		key:    "linebot:quota",
		ttl:    ttl,
		logger: logger.With("component", "quota_cache"),
	}, nil
}

// Get returns the shared snapshot. Redis errors behave as a miss.
func (c *RedisCache) Get(ctx context.Context) (Snapshot, bool) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("quota cache read failed", "error", err)
		}
		return Snapshot{}, false
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, false
	}
	return s, true
}

// Set stores s with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, s Snapshot) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("quota cache write failed", "error", err)
	}
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
