package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"Willowmere/server/internal/config"
	"Willowmere/server/internal/interfaces"
	"Willowmere/server/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/atomic"
)

const decisionCachePrefix = "decision:cache:"

// cacheEntry is the stored value for one fingerprint: the decision plus the
// field names its fingerprint depended on, which drives partial invalidation.
type cacheEntry struct {
	Result   *models.DecisionResult `json:"result"`
	Fields   []string               `json:"fields"`
	CachedAt time.Time              `json:"cached_at"`
}

// RedisDecisionCache caches decision results per agent in a Redis hash keyed
// by input fingerprint.
type RedisDecisionCache struct {
	client *redis.Client
	ttl    time.Duration

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

func NewRedisDecisionCache(cfg config.RedisConfig, ttl time.Duration) (*RedisDecisionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisDecisionCache{client: client, ttl: ttl}, nil
}

// NewRedisDecisionCacheWithClient wraps an existing client, used by tests.
func NewRedisDecisionCacheWithClient(client *redis.Client, ttl time.Duration) *RedisDecisionCache {
	return &RedisDecisionCache{client: client, ttl: ttl}
}

func agentCacheKey(agentName string) string {
	return decisionCachePrefix + agentName
}

func (c *RedisDecisionCache) Get(ctx context.Context, req *models.DecisionRequest) (*models.DecisionResult, bool) {
	fingerprint, _ := req.Fingerprint()

	data, err := c.client.HGet(ctx, agentCacheKey(req.Snapshot.Name), fingerprint).Result()
	if err == redis.Nil {
		c.misses.Inc()
		return nil, false
	}
	if err != nil {
		// Cache trouble is never fatal; treat as a miss.
		log.Printf("[DecisionCache] get failed for %s: %v", req.Snapshot.Name, err)
		c.misses.Inc()
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		log.Printf("[DecisionCache] corrupt entry for %s, dropping: %v", req.Snapshot.Name, err)
		c.client.HDel(ctx, agentCacheKey(req.Snapshot.Name), fingerprint)
		c.misses.Inc()
		return nil, false
	}

	c.hits.Inc()
	return entry.Result, true
}

func (c *RedisDecisionCache) Put(ctx context.Context, req *models.DecisionRequest, res *models.DecisionResult) error {
	fingerprint, fields := req.Fingerprint()

	data, err := json.Marshal(cacheEntry{
		Result:   res,
		Fields:   fields,
		CachedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	key := agentCacheKey(req.Snapshot.Name)
	if err := c.client.HSet(ctx, key, fingerprint, data).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	// Refresh the whole hash TTL on every write.
	if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
		log.Printf("[DecisionCache] failed to set TTL on %s: %v", key, err)
	}
	return nil
}

func (c *RedisDecisionCache) Invalidate(ctx context.Context, agentName string, changedFields []string) (int, error) {
	key := agentCacheKey(agentName)

	entries, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache scan: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	changed := make(map[string]bool, len(changedFields))
	for _, f := range changedFields {
		changed[f] = true
	}

	var stale []string
	for fingerprint, raw := range entries {
		var entry cacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			stale = append(stale, fingerprint)
			continue
		}
		for _, f := range entry.Fields {
			if changed[f] {
				stale = append(stale, fingerprint)
				break
			}
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := c.client.HDel(ctx, key, stale...).Err(); err != nil {
		return 0, fmt.Errorf("cache invalidate: %w", err)
	}
	c.invalidations.Add(int64(len(stale)))
	return len(stale), nil
}

func (c *RedisDecisionCache) Stats(ctx context.Context) interfaces.CacheStats {
	stats := interfaces.CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	keys, err := c.client.Keys(ctx, decisionCachePrefix+"*").Result()
	if err == nil {
		for _, key := range keys {
			if n, err := c.client.HLen(ctx, key).Result(); err == nil {
				stats.Entries += n
			}
		}
	}
	return stats
}

func (c *RedisDecisionCache) Close() error {
	return c.client.Close()
}
