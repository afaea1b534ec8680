package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SymbolCacheEntry represents a cached instrument list with metadata
type SymbolCacheEntry struct {
	Symbols   []string  `json:"symbols"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SymbolCacheStats tracks cache performance metrics
type SymbolCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// RedisSymbolCache keeps discovered instrument lists per quote asset so a
// restart does not need to hit exchangeInfo again.
type RedisSymbolCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger

	mu    sync.Mutex
	stats SymbolCacheStats
}

// NewRedisSymbolCache creates a new Redis-based symbol cache
func NewRedisSymbolCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisSymbolCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisSymbolCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "symbol_cache:",
		logger: logger,
	}
}

// Get returns the cached instruments for a quote asset.
func (c *RedisSymbolCache) Get(ctx context.Context, quoteAsset string) ([]string, bool) {
	data, err := c.redis.Get(ctx, c.prefix+quoteAsset).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("quote_asset", quoteAsset).Warn("Redis error getting cached symbols")
		}
		c.record(func(s *SymbolCacheStats) { s.Misses++ })
		return nil, false
	}

	var entry SymbolCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.WithError(err).WithField("quote_asset", quoteAsset).Warn("Error deserializing cached symbols")
		c.record(func(s *SymbolCacheStats) { s.Misses++ })
		return nil, false
	}

	c.record(func(s *SymbolCacheStats) { s.Hits++ })
	return entry.Symbols, true
}

// Set stores the instruments for a quote asset with the configured TTL.
func (c *RedisSymbolCache) Set(ctx context.Context, quoteAsset string, symbols []string) {
	now := time.Now()
	data, err := json.Marshal(SymbolCacheEntry{
		Symbols:   symbols,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	})
	if err != nil {
		c.logger.WithError(err).Warn("Error serializing symbols")
		return
	}

	if err := c.redis.Set(ctx, c.prefix+quoteAsset, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("quote_asset", quoteAsset).Warn("Redis error caching symbols")
		return
	}

	c.record(func(s *SymbolCacheStats) { s.Sets++ })
	c.logger.WithFields(logrus.Fields{
		"quote_asset": quoteAsset,
		"symbols":     len(symbols),
		"ttl":         c.ttl,
	}).Debug("Cached instrument list")
}

// GetOrFetch returns the cached list or calls fetch and caches its result.
func (c *RedisSymbolCache) GetOrFetch(ctx context.Context, quoteAsset string, fetch func(context.Context) ([]string, error)) ([]string, error) {
	if symbols, ok := c.Get(ctx, quoteAsset); ok && len(symbols) > 0 {
		return symbols, nil
	}
	symbols, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, quoteAsset, symbols)
	return symbols, nil
}

// GetStats returns current cache statistics
func (c *RedisSymbolCache) GetStats() SymbolCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *RedisSymbolCache) record(update func(*SymbolCacheStats)) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
}
