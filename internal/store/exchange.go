package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/backtestcore/internal/candle"
	"github.com/ajitpratap0/backtestcore/internal/coreerr"
)

// ExchangeClient fetches a page of candles from an upstream exchange.
// Implementations must be safe for concurrent use.
type ExchangeClient interface {
	// FetchKlines returns candles in [since, until], inclusive, oldest
	// first, up to the exchange's own page-size limit. Callers paginate by
	// re-calling with since advanced past the last returned candle.
	FetchKlines(ctx context.Context, symbol string, tf candle.Timeframe, since, until int64) ([]candle.Candle, error)
}

const (
	maxRetries     = 3
	baseRetryDelay = 200 * time.Millisecond
)

// BinanceClient adapts github.com/adshao/go-binance/v2's REST kline service
// to ExchangeClient, with exponential-backoff retries for transient errors
// and a gobreaker-wrapped circuit to fail an entire sweep fast once the
// upstream is clearly down rather than retrying per grid combination.
type BinanceClient struct {
	client  *binance.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewBinanceClient builds a client respecting rateLimitPerSec requests/sec.
func NewBinanceClient(apiKey, secretKey string, rateLimitPerSec float64, log zerolog.Logger) *BinanceClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "binance-klines",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &BinanceClient{
		client:  binance.NewClient(apiKey, secretKey),
		limiter: rate.NewLimiter(rate.Limit(rateLimitPerSec), 1),
		breaker: cb,
		log:     log,
	}
}

func (b *BinanceClient) FetchKlines(ctx context.Context, symbol string, tf candle.Timeframe, since, until int64) ([]candle.Candle, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, coreerr.Wrap(coreerr.DownloadError, "rate limiter wait failed", err)
	}

	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.fetchWithRetry(ctx, symbol, tf, since, until)
	})
	if err != nil {
		return nil, coreerr.Wrap(coreerr.DownloadError, fmt.Sprintf("fetch klines for %s/%s", symbol, tf), err)
	}
	return result.([]candle.Candle), nil
}

func (b *BinanceClient) fetchWithRetry(ctx context.Context, symbol string, tf candle.Timeframe, since, until int64) ([]candle.Candle, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<uint(attempt-1))
			b.log.Warn().Int("attempt", attempt).Dur("delay", delay).Err(lastErr).Msg("retrying kline fetch")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		klines, err := b.client.NewKlinesService().
			Symbol(candle.ToProviderForm(symbol)).
			Interval(string(tf)).
			StartTime(since).
			EndTime(until).
			Limit(1000).
			Do(ctx)
		if err == nil {
			return convertKlines(klines)
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func convertKlines(klines []*binance.Kline) ([]candle.Candle, error) {
	out := make([]candle.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := klineToCandle(k)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func klineToCandle(k *binance.Kline) (candle.Candle, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return candle.Candle{}, err
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return candle.Candle{}, err
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return candle.Candle{}, err
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return candle.Candle{}, err
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return candle.Candle{}, err
	}
	return candle.Candle{
		TS:     k.OpenTime,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}

// isRetryableError classifies transient network/rate-limit/server errors.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	retryableSubstrings := []string{
		"connection refused", "connection reset", "timeout",
		"429", "rate limit", "500", "502", "503", "504",
		"internal server error", "service unavailable",
	}
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
