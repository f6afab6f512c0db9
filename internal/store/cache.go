package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/backtestcore/internal/candle"
)

// hotCache is a best-effort Redis read-through accelerator in front of the
// file store. Synchronous miss-fetch is the caller's concern, this type
// only offers Get/Set/Invalidate; a miss, a marshal failure, or a Redis
// error never surfaces past a log line; the file store remains
// authoritative.
type hotCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

func newHotCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *hotCache {
	return &hotCache{redis: client, ttl: ttl, log: log}
}

func cacheKey(key candle.Key) string {
	return fmt.Sprintf("ohlcv:%s:%s:%s", key.Exchange, key.Symbol, key.Timeframe)
}

// Get returns the cached series for key, or (nil, false) on miss or error.
func (c *hotCache) Get(ctx context.Context, key candle.Key) ([]candle.Candle, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, cacheKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("redis error during cache lookup")
		return nil, false
	}
	var candles []candle.Candle
	if err := json.Unmarshal(raw, &candles); err != nil {
		c.log.Warn().Err(err).Msg("failed to unmarshal cached series")
		return nil, false
	}
	return candles, true
}

// Set stores candles asynchronously; write failures are logged, never
// propagated.
func (c *hotCache) Set(key candle.Key, candles []candle.Candle) {
	if c == nil || c.redis == nil {
		return
	}
	data, err := json.Marshal(candles)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to marshal series for cache")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.redis.Set(ctx, cacheKey(key), data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Msg("failed to cache series")
		}
	}()
}

// Invalidate removes the cached entry for key, used after a fetch appends
// new candles so a stale cached slice is never served.
func (c *hotCache) Invalidate(ctx context.Context, key candle.Key) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, cacheKey(key)).Err(); err != nil {
		c.log.Warn().Err(err).Msg("failed to invalidate cache entry")
	}
}
