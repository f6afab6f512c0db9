// Package store implements an incremental, file-based OHLCV cache: one
// binary file per (exchange, symbol, timeframe), fetched incrementally
// from an upstream exchange client and served as read-only slices.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/backtestcore/internal/candle"
	"github.com/ajitpratap0/backtestcore/internal/coreerr"
)

// Config configures a Store instance.
type Config struct {
	Root      string        // store_root, directory holding <exchange>/<symbol>/<tf>.parquet
	Inception time.Time     // per-exchange earliest date to backfill from on first fetch
	CacheTTL  time.Duration // hot cache entry lifetime; zero disables the cache
}

// Store is the per-process owner of the on-disk OHLCV files. Safe for
// concurrent use: each series key is guarded by its own RWMutex so a fetch
// in flight for one symbol never blocks a read of another.
type Store struct {
	cfg      Config
	exchange ExchangeClient
	cache    *hotCache
	log      zerolog.Logger

	mu    sync.Mutex // guards the locks map itself
	locks map[candle.Key]*sync.RWMutex
}

// New builds a Store. redisClient may be nil to disable the hot cache.
func New(cfg Config, exchange ExchangeClient, redisClient *redis.Client, log zerolog.Logger) *Store {
	var cache *hotCache
	if redisClient != nil && cfg.CacheTTL > 0 {
		cache = newHotCache(redisClient, cfg.CacheTTL, log)
	}
	return &Store{
		cfg:      cfg,
		exchange: exchange,
		cache:    cache,
		log:      log,
		locks:    make(map[candle.Key]*sync.RWMutex),
	}
}

func (s *Store) lockFor(key candle.Key) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) path(key candle.Key) string {
	return filepath.Join(s.cfg.Root, key.Exchange, candle.ToFileForm(key.Symbol), string(key.Timeframe)+".parquet")
}

// FetchRange normalizes the key, runs the incremental protocol if the tail
// is stale, and returns the requested slice. since/until are UTC
// millisecond timestamps; until < 0 means "now".
func (s *Store) FetchRange(ctx context.Context, exchange, rawSymbol, rawTimeframe string, since, until int64) (candle.Series, error) {
	symbol, err := candle.NormalizeSymbol(rawSymbol)
	if err != nil {
		return candle.Series{}, coreerr.Wrap(coreerr.InvalidSymbol, "normalize symbol", err)
	}
	tf, err := candle.NormalizeTimeframe(rawTimeframe)
	if err != nil {
		return candle.Series{}, coreerr.Wrap(coreerr.InvalidInterval, "normalize timeframe", err)
	}
	key := candle.Key{Exchange: exchange, Symbol: symbol, Timeframe: tf}
	if until < 0 {
		until = time.Now().UTC().UnixMilli()
	}

	if err := s.ensureFresh(ctx, key, until); err != nil {
		return candle.Series{}, err
	}

	lock := s.lockFor(key)
	lock.RLock()
	defer lock.RUnlock()

	all, hit := s.cache.Get(ctx, key)
	if !hit {
		var err error
		all, err = readSeriesFile(s.path(key))
		if err != nil {
			return candle.Series{}, coreerr.Wrap(coreerr.DownloadError, "read store file", err)
		}
		s.cache.Set(key, all)
	}
	full := candle.Series{Key: key, Candles: all}
	return full.Slice(since, until), nil
}

// ensureFresh runs the incremental fetch protocol: backfill from scratch if
// the file doesn't exist, or top up the tail if it's stale. The network
// fetch happens into a staging buffer with no lock held; the write lock for
// this key is only taken to merge and atomically rewrite.
func (s *Store) ensureFresh(ctx context.Context, key candle.Key, until int64) error {
	path := s.path(key)
	lastTS, exists, err := readLastTS(path)
	if err != nil {
		return coreerr.Wrap(coreerr.DownloadError, "read store footer", err)
	}

	var fetchSince int64
	if !exists {
		fetchSince = s.cfg.Inception.UTC().UnixMilli()
	} else {
		fetchSince = lastTS + key.Timeframe.Millis()
		if fetchSince > until {
			return nil // tail is fresh, no network I/O needed
		}
	}

	fresh, err := s.fetchAllPages(ctx, key, fetchSince, until)
	if err != nil {
		if !exists {
			return err
		}
		// Already-written candles stay persisted; surface download_error
		// with the last contiguous range rather than losing what's on disk.
		s.log.Warn().Err(err).Int64("last_ts", lastTS).Msg("incremental fetch failed, existing data left on disk")
		return coreerr.Wrap(coreerr.DownloadError, fmt.Sprintf("incremental fetch failed, last contiguous ts=%d", lastTS), err)
	}
	if len(fresh) == 0 {
		return nil
	}

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	existingCandles, err := readSeriesFile(path)
	if err != nil && exists {
		return coreerr.Wrap(coreerr.DownloadError, "re-read store file before merge", err)
	}
	merged := candle.MergeSorted(existingCandles, fresh)
	if err := writeSeriesFile(path, merged); err != nil {
		return coreerr.Wrap(coreerr.DownloadError, "persist merged series", err)
	}
	s.cache.Invalidate(ctx, key)
	return nil
}

// fetchAllPages paginates FetchKlines from since to until, advancing past
// the last candle returned by each page until the upstream reports it has
// no more data in range.
func (s *Store) fetchAllPages(ctx context.Context, key candle.Key, since, until int64) ([]candle.Candle, error) {
	var all []candle.Candle
	cursor := since
	for cursor <= until {
		page, err := s.exchange.FetchKlines(ctx, key.Symbol, key.Timeframe, cursor, until)
		if err != nil {
			return all, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		nextCursor := page[len(page)-1].TS + key.Timeframe.Millis()
		if nextCursor <= cursor {
			break // exchange returned no forward progress; avoid an infinite loop
		}
		cursor = nextCursor
	}
	sort.Slice(all, func(i, j int) bool { return all[i].TS < all[j].TS })
	return dedupCandles(all), nil
}

func dedupCandles(in []candle.Candle) []candle.Candle {
	if len(in) == 0 {
		return in
	}
	out := make([]candle.Candle, 0, len(in))
	out = append(out, in[0])
	for _, c := range in[1:] {
		if c.TS == out[len(out)-1].TS {
			out[len(out)-1] = c // later page wins on conflict
			continue
		}
		out = append(out, c)
	}
	return out
}
