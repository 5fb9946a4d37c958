package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
)

const (
	defaultStatsKeyPrefix = "jobs:stats"
	minCacheTTL           = time.Second
)

// RedisStatsCache implements core.StatsCache on Redis.
type RedisStatsCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStatsCache creates a RedisStatsCache. An empty prefix selects "jobs:stats".
func NewRedisStatsCache(client redis.UniversalClient, prefix string) *RedisStatsCache {
	if prefix == "" {
		prefix = defaultStatsKeyPrefix
	}
	return &RedisStatsCache{client: client, prefix: prefix}
}

var _ core.StatsCache = (*RedisStatsCache)(nil)

func (r *RedisStatsCache) snapshotKey() string { return r.prefix + ":snapshot" }
func (r *RedisStatsCache) lockKey() string     { return r.prefix + ":refresh_lock" }

// GetStats returns the cached snapshot, or nil when the key is missing.
func (r *RedisStatsCache) GetStats(ctx context.Context) (*model.EngineStats, error) {
	raw, err := r.client.Get(ctx, r.snapshotKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var stats model.EngineStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		// A snapshot written by an incompatible build is treated as a miss.
		return nil, nil //nolint:nilerr // corrupt cache entries are rebuilt
	}
	return &stats, nil
}

// SetStats stores the snapshot with the given TTL.
func (r *RedisStatsCache) SetStats(ctx context.Context, stats *model.EngineStats, ttl time.Duration) error {
	if stats == nil {
		return errors.New("stats cannot be nil")
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := r.client.Set(ctx, r.snapshotKey(), raw, max(ttl, minCacheTTL)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// TryLockRefresh atomically claims the rebuild lock for ttl.
func (r *RedisStatsCache) TryLockRefresh(ctx context.Context, ttl time.Duration) (bool, error) {
	// SET NX with TTL in one command; SETNX followed by EXPIRE can leak the lock.
	status, err := r.client.SetArgs(ctx, r.lockKey(), "1", redis.SetArgs{Mode: "NX", TTL: max(ttl, minCacheTTL)}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis SET NX: %w", err)
	}
	return status == "OK", nil
}

// Invalidate drops the snapshot and any refresh lock.
func (r *RedisStatsCache) Invalidate(ctx context.Context) error {
	if err := r.client.Del(ctx, r.snapshotKey(), r.lockKey()).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Health checks the health of the Redis connection.
func (r *RedisStatsCache) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
