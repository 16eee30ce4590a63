// Package redis provides Redis-backed caches for the engine: expected
// snapshots keyed by (profile, as-of) and a read-through tier cache in
// front of the subscription store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/garrison-ledger/entitlement-engine/payaudit"
)

const (
	snapshotKeyPrefix = "engine:"
	tierKeyPrefix     = "engine:tier:"

	// DefaultSnapshotTTL bounds how long a snapshot can outlive a rate
	// table change.
	DefaultSnapshotTTL = 6 * time.Hour
	DefaultTierTTL     = 5 * time.Minute
)

// New connects to the Redis server at url. Returns nil if url is empty
// (Redis not configured).
func New(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// =============================================================================
// SNAPSHOT CACHE (payaudit.SnapshotCache)
// =============================================================================

// SnapshotCache stores expected snapshots as JSON with a TTL.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func (c *SnapshotCache) Get(ctx context.Context, key string) (payaudit.ExpectedSnapshot, bool, error) {
	data, err := c.client.Get(ctx, snapshotKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return payaudit.ExpectedSnapshot{}, false, nil
	}
	if err != nil {
		return payaudit.ExpectedSnapshot{}, false, err
	}

	var snap payaudit.ExpectedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return payaudit.ExpectedSnapshot{}, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snap, true, nil
}

func (c *SnapshotCache) Set(ctx context.Context, key string, snap payaudit.ExpectedSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	return c.client.Set(ctx, snapshotKeyPrefix+key, data, c.ttl).Err()
}

// =============================================================================
// TIER CACHE (payaudit.TierResolver)
// =============================================================================

// TierCache is a read-through cache in front of another TierResolver.
// Redis failures fall through to the underlying resolver.
type TierCache struct {
	client *redis.Client
	next   payaudit.TierResolver
	ttl    time.Duration
	logger *slog.Logger
}

func NewTierCache(client *redis.Client, next payaudit.TierResolver, ttl time.Duration, logger *slog.Logger) *TierCache {
	if ttl <= 0 {
		ttl = DefaultTierTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TierCache{client: client, next: next, ttl: ttl, logger: logger}
}

func (c *TierCache) GetTier(ctx context.Context, userID string) (payaudit.Tier, error) {
	key := tierKeyPrefix + userID

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return payaudit.Tier(cached), nil
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "tier cache read failed", "user_id", userID, "error", err)
	}

	tier, err := c.next.GetTier(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, key, string(tier), c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "tier cache write failed", "user_id", userID, "error", err)
	}
	return tier, nil
}

// Invalidate drops a cached tier after a subscription change.
func (c *TierCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, tierKeyPrefix+userID).Err()
}
