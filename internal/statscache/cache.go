// Package statscache puts a short-TTL Redis cache in front of the
// aggregate stats query. Dashboards poll stats far more often than the
// numbers move, so slightly stale reads are acceptable there while the
// authoritative counters stay in Postgres.
package statscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/open-tracker/internal/beacon"
	"github.com/ignite/open-tracker/internal/pkg/logger"
)

const statsKey = "tracking:stats"

// StatsSource is the authoritative stats backend; *beacon.Store implements it.
type StatsSource interface {
	Stats(ctx context.Context) (*beacon.TrackingStats, error)
}

// Cache serves stats from Redis when fresh, falling through to the source
// otherwise. A nil client disables caching entirely. Redis failures are
// logged and ignored: the cache must never make the stats read less
// available than the database alone.
type Cache struct {
	client *redis.Client
	source StatsSource
	ttl    time.Duration
}

// New creates a stats cache. client may be nil.
func New(client *redis.Client, source StatsSource, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, source: source, ttl: ttl}
}

// Stats returns the aggregate metrics, at most ttl stale.
func (c *Cache) Stats(ctx context.Context) (*beacon.TrackingStats, error) {
	if c.client == nil {
		return c.source.Stats(ctx)
	}

	if data, err := c.client.Get(ctx, statsKey).Bytes(); err == nil {
		var stats beacon.TrackingStats
		if err := json.Unmarshal(data, &stats); err == nil {
			return &stats, nil
		}
		logger.Warn("stats cache held unparseable payload, refreshing")
	} else if err != redis.Nil {
		logger.Warn("stats cache read failed", "error", err)
	}

	stats, err := c.source.Stats(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(stats); err == nil {
		if err := c.client.Set(ctx, statsKey, data, c.ttl).Err(); err != nil {
			logger.Warn("stats cache write failed", "error", err)
		}
	}
	return stats, nil
}
