package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ScoreCache memoizes importance scores by content hash.
type ScoreCache interface {
	Get(ctx context.Context, key string) (int, bool)
	Set(ctx context.Context, key string, score int)
}

// CacheKey returns the cache key for a memory's content.
func CacheKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RistrettoCache is an in-process ScoreCache.
type RistrettoCache struct {
	cache *ristretto.Cache
}

// NewRistrettoCache creates a cache holding roughly maxEntries scores.
func NewRistrettoCache(maxEntries int64) (*RistrettoCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create score cache: %w", err)
	}
	return &RistrettoCache{cache: c}, nil
}

func (c *RistrettoCache) Get(_ context.Context, key string) (int, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return 0, false
	}
	score, ok := v.(int)
	return score, ok
}

func (c *RistrettoCache) Set(_ context.Context, key string, score int) {
	c.cache.Set(key, score, 1)
}

// Wait blocks until buffered writes are applied.
func (c *RistrettoCache) Wait() { c.cache.Wait() }

// Close releases the cache's goroutines.
func (c *RistrettoCache) Close() { c.cache.Close() }

const scoreKeyPrefix = "smalltown:importance:"

// RedisCache is a ScoreCache shared between processes.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (int, bool) {
	n, err := c.rdb.Get(ctx, scoreKeyPrefix+key).Int()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("score cache get failed", zap.Error(err))
		}
		return 0, false
	}
	return n, true
}

func (c *RedisCache) Set(ctx context.Context, key string, score int) {
	if err := c.rdb.Set(ctx, scoreKeyPrefix+key, score, c.ttl).Err(); err != nil {
		c.logger.Debug("score cache set failed", zap.Error(err))
	}
}

// Close closes the Redis client.
func (c *RedisCache) Close() error { return c.rdb.Close() }
