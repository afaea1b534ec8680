package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// Redis keys written by the correlation cache.
const (
	LatestKey      = "correlation:latest"
	InstrumentsKey = "correlation:instruments"
	ChangesKey     = "correlation:changes"
	keyPrefix      = "correlation:"
)

// CorrelationCacheStats tracks cache reads and writes
type CorrelationCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Writes int64 `json:"writes"`
	Errors int64 `json:"errors"`
}

// CorrelationCache publishes the latest snapshot and the recent change feed to Redis.
type CorrelationCache struct {
	redis      *redis.Client
	ttl        time.Duration
	maxChanges int64
	logger     *logrus.Logger

	mu    sync.Mutex
	stats CorrelationCacheStats
}

// NewCorrelationCache creates a cache. maxChanges caps the change list.
func NewCorrelationCache(redisClient *redis.Client, ttl time.Duration, maxChanges int, logger *logrus.Logger) *CorrelationCache {
	if maxChanges <= 0 {
		maxChanges = 1000
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CorrelationCache{
		redis:      redisClient,
		ttl:        ttl,
		maxChanges: int64(maxChanges),
		logger:     logger,
	}
}

// Name identifies the sink in logs.
func (c *CorrelationCache) Name() string {
	return "redis"
}

// snapshotKey maps an output prefix to its snapshot key.
func snapshotKey(prefix string) string {
	if prefix == "" || prefix == models.PrefixRealtime {
		return LatestKey
	}
	return keyPrefix + prefix
}

// Persist writes the snapshot, the per-instrument breakdown and the new
// changes in one transaction. Historical runs only write their snapshot key.
func (c *CorrelationCache) Persist(ctx context.Context, out *models.AnalysisOutput) error {
	report, err := json.Marshal(out.Report())
	if err != nil {
		return c.fail("encode snapshot", err)
	}

	realtime := snapshotKey(out.Prefix) == LatestKey
	instruments := make(map[string]interface{})
	if realtime && out.Result != nil {
		for symbol, ic := range out.Result.ByInstrument {
			data, err := json.Marshal(ic)
			if err != nil {
				return c.fail("encode instrument", err)
			}
			instruments[symbol] = data
		}
	}

	changes := make([]interface{}, 0, len(out.Changes))
	if realtime {
		for _, ch := range out.Changes {
			data, err := json.Marshal(ch)
			if err != nil {
				return c.fail("encode change", err)
			}
			changes = append(changes, data)
		}
	}

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, snapshotKey(out.Prefix), report, c.ttl)
		if realtime && out.Result != nil {
			pipe.Del(ctx, InstrumentsKey)
			if len(instruments) > 0 {
				pipe.HSet(ctx, InstrumentsKey, instruments)
				if c.ttl > 0 {
					pipe.Expire(ctx, InstrumentsKey, c.ttl)
				}
			}
		}
		if len(changes) > 0 {
			// LPUSH in chronological order leaves the newest record at the head.
			pipe.LPush(ctx, ChangesKey, changes...)
			pipe.LTrim(ctx, ChangesKey, 0, c.maxChanges-1)
		}
		return nil
	})
	if err != nil {
		return c.fail("write snapshot", err)
	}

	c.mu.Lock()
	c.stats.Writes++
	c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{
		"key":     snapshotKey(out.Prefix),
		"changes": len(changes),
	}).Debug("Cached correlation snapshot")
	return nil
}

// LatestReport returns the realtime snapshot.
func (c *CorrelationCache) LatestReport(ctx context.Context) (*models.CorrelationReport, error) {
	data, err := c.redis.Get(ctx, LatestKey).Bytes()
	if err != nil {
		return nil, c.readErr(LatestKey, err)
	}
	var report models.CorrelationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", LatestKey, err, utils.ErrMalformedInput)
	}
	c.hit()
	return &report, nil
}

// InstrumentCorrelations returns one instrument's breakdown.
func (c *CorrelationCache) InstrumentCorrelations(ctx context.Context, symbol string) (*models.InstrumentCorrelations, error) {
	data, err := c.redis.HGet(ctx, InstrumentsKey, symbol).Bytes()
	if err != nil {
		return nil, c.readErr(InstrumentsKey+"/"+symbol, err)
	}
	var ic models.InstrumentCorrelations
	if err := json.Unmarshal(data, &ic); err != nil {
		return nil, fmt.Errorf("decode instrument %s: %v: %w", symbol, err, utils.ErrMalformedInput)
	}
	c.hit()
	return &ic, nil
}

// RecentChanges returns up to limit change records, newest first.
func (c *CorrelationCache) RecentChanges(ctx context.Context, limit int) ([]models.ChangeRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	items, err := c.redis.LRange(ctx, ChangesKey, 0, stop).Result()
	if err != nil {
		return nil, c.readErr(ChangesKey, err)
	}
	out := make([]models.ChangeRecord, 0, len(items))
	for _, item := range items {
		var rec models.ChangeRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			c.logger.WithError(err).Warn("Skipping undecodable cached change")
			continue
		}
		out = append(out, rec)
	}
	c.hit()
	return out, nil
}

// GetStats returns current cache statistics
func (c *CorrelationCache) GetStats() CorrelationCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *CorrelationCache) hit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

func (c *CorrelationCache) readErr(key string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errors.Is(err, redis.Nil) {
		c.stats.Misses++
		return fmt.Errorf("%s: %w", key, utils.ErrNotFound)
	}
	c.stats.Errors++
	return fmt.Errorf("redis read %s: %v: %w", key, err, utils.ErrTransient)
}

func (c *CorrelationCache) fail(op string, err error) error {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
	return fmt.Errorf("correlation cache %s: %v: %w", op, err, utils.ErrPersistence)
}
