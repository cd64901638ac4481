package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rmax-ai/psyflow/pkg/store"
)

const experimentsSet = "psyflow:experiments"

// DefaultCacheTTL bounds how long a cached experiment may be served.
const DefaultCacheTTL = 5 * time.Minute

// ExperimentCache keeps remote copies of experiment records in Redis so
// repeated reads do not hit the API. Failures are logged and treated as
// misses; the cache is never the source of truth.
type ExperimentCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewExperimentCache creates a cache with the given entry TTL. A zero ttl uses
// DefaultCacheTTL.
func NewExperimentCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *ExperimentCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExperimentCache{client: client, ttl: ttl, logger: logger}
}

func (c *ExperimentCache) makeKey(id string) string {
	return fmt.Sprintf("psyflow:experiment:%s", id)
}

// Set stores exp under its ID.
func (c *ExperimentCache) Set(ctx context.Context, exp *store.Experiment) {
	if exp == nil || exp.ID == "" {
		return
	}
	key := c.makeKey(exp.ID)
	data, err := json.Marshal(exp)
	if err != nil {
		c.logger.Warn("cache_marshal_failed", "experiment_id", exp.ID, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache_set_failed", "key", key, "error", err)
		return
	}
	if err := c.client.SAdd(ctx, experimentsSet, key).Err(); err != nil {
		c.logger.Warn("cache_index_failed", "key", key, "error", err)
	}
}

// Get returns the cached record for id.
func (c *ExperimentCache) Get(ctx context.Context, id string) (*store.Experiment, bool) {
	key := c.makeKey(id)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache_get_failed", "key", key, "error", err)
		}
		return nil, false
	}
	var exp store.Experiment
	if err := json.Unmarshal([]byte(data), &exp); err != nil {
		c.logger.Warn("cache_unmarshal_failed", "key", key, "error", err)
		return nil, false
	}
	return &exp, true
}

// Invalidate drops the cached record for id.
func (c *ExperimentCache) Invalidate(ctx context.Context, id string) {
	key := c.makeKey(id)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache_invalidate_failed", "key", key, "error", err)
	}
	if err := c.client.SRem(ctx, experimentsSet, key).Err(); err != nil {
		c.logger.Warn("cache_index_failed", "key", key, "error", err)
	}
}

// Clear drops every cached experiment.
func (c *ExperimentCache) Clear(ctx context.Context) {
	keys, err := c.client.SMembers(ctx, experimentsSet).Result()
	if err != nil {
		c.logger.Warn("cache_clear_failed", "error", err)
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn("cache_clear_failed", "error", err)
		}
	}
	if err := c.client.Del(ctx, experimentsSet).Err(); err != nil {
		c.logger.Warn("cache_clear_failed", "error", err)
	}
}
