package approvals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const statsCacheKey = "approvals:statistics"

// StatsCache serves statistics snapshots out of Redis, recomputing on
// miss. A cache failure is logged and falls through to a fresh compute;
// statistics are advisory and must never fail a request over Redis.
type StatsCache struct {
	inner  *StatisticsService
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewStatsCache(inner *StatisticsService, client *redis.Client, ttl time.Duration, logger *zap.Logger) *StatsCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StatsCache{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *StatsCache) Compute(ctx context.Context) (*Statistics, error) {
	if c.client != nil {
		data, err := c.client.Get(ctx, statsCacheKey).Bytes()
		if err == nil {
			var stats Statistics
			if err := json.Unmarshal(data, &stats); err == nil {
				return &stats, nil
			}
			c.logger.Warn("discarding unreadable statistics snapshot", zap.Error(err))
		} else if err != redis.Nil {
			c.logger.Warn("statistics cache read failed", zap.Error(err))
		}
	}

	stats, err := c.inner.Compute(ctx)
	if err != nil {
		return nil, err
	}
	if c.client != nil {
		data, err := json.Marshal(stats)
		if err != nil {
			return stats, nil
		}
		if err := c.client.Set(ctx, statsCacheKey, data, c.ttl).Err(); err != nil {
			c.logger.Warn("statistics cache write failed", zap.Error(err))
		}
	}
	return stats, nil
}

// Invalidate drops the snapshot, forcing the next read to recompute.
func (c *StatsCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, statsCacheKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate statistics cache: %w", err)
	}
	return nil
}
