// Package cache provides a typed, organization-scoped cache for analytics
// reports. Entries carry their own freshness timestamp so callers can fall
// back to a stale value when the primary store is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key identifies one cached report. Keys are structured rather than
// free-form strings so invalidation never relies on substring matching.
type Key struct {
	OrganizationID string
	Scope          string
}

// Config makes the cache's timing behavior explicit.
type Config struct {
	// TTL is how long an entry counts as fresh.
	TTL time.Duration
	// FallbackToStale allows callers to serve an expired entry when
	// recomputing it fails.
	FallbackToStale bool
	// Scopes lists every scope the cache may hold; Invalidate with no
	// explicit scope clears all of them for the organization.
	Scopes []string
	// Now is the clock used for freshness checks. Defaults to time.Now.
	Now func() time.Time
}

// Result reports what a Get found.
type Result int

const (
	Miss Result = iota
	Stale
	Fresh
)

// Expired entries are retained in Redis for a multiple of the TTL so the
// stale-fallback path has something to read.
const staleRetentionFactor = 10

type envelope struct {
	CachedAt time.Time       `json:"cached_at"`
	Payload  json.RawMessage `json:"payload"`
}

// Redis is a Redis-backed report cache.
type Redis struct {
	client          *redis.Client
	prefix          string
	ttl             time.Duration
	fallbackToStale bool
	scopes          []string
	now             func() time.Time
}

// NewRedis creates a report cache from a Redis URL.
func NewRedis(redisURL string, cfg Config) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient creates a report cache from an existing Redis client.
func NewRedisWithClient(client *redis.Client, cfg Config) *Redis {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{
		client:          client,
		prefix:          "report:",
		ttl:             ttl,
		fallbackToStale: cfg.FallbackToStale,
		scopes:          cfg.Scopes,
		now:             now,
	}
}

func (c *Redis) key(k Key) string {
	return c.prefix + k.OrganizationID + ":" + k.Scope
}

// Put stores a report under the key. The Redis expiry is stretched beyond
// the freshness TTL so stale entries stay readable for fallback.
func (c *Redis) Put(ctx context.Context, k Key, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}
	entry, err := json.Marshal(envelope{CachedAt: c.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(k), entry, c.ttl*staleRetentionFactor).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Get loads the entry for the key into target and reports whether it was
// fresh, stale, or absent. Redis errors surface as a miss with the error.
func (c *Redis) Get(ctx context.Context, k Key, target any) (Result, error) {
	raw, err := c.client.Get(ctx, c.key(k)).Result()
	if err == redis.Nil {
		return Miss, nil
	}
	if err != nil {
		return Miss, fmt.Errorf("cache get: %w", err)
	}

	var entry envelope
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Miss, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	if err := json.Unmarshal(entry.Payload, target); err != nil {
		return Miss, fmt.Errorf("unmarshal cache payload: %w", err)
	}

	if c.now().Sub(entry.CachedAt) > c.ttl {
		return Stale, nil
	}
	return Fresh, nil
}

// Invalidate drops cached reports for the organization. With no scopes it
// clears every registered scope.
func (c *Redis) Invalidate(ctx context.Context, organizationID string, scopes ...string) error {
	if len(scopes) == 0 {
		scopes = c.scopes
	}
	keys := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		keys = append(keys, c.key(Key{OrganizationID: organizationID, Scope: scope}))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// FallbackToStale reports whether callers may serve stale entries on error.
func (c *Redis) FallbackToStale() bool {
	return c.fallbackToStale
}

// Close closes the Redis connection.
func (c *Redis) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
