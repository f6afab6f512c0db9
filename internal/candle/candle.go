// Package candle defines the canonical OHLCV record and series used by
// every component downstream of the store.
package candle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one time-binned OHLCV record. Timestamps are UTC milliseconds.
type Candle struct {
	TS     int64
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Time returns the candle's timestamp as a time.Time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.TS).UTC()
}

// Timeframe is one of the closed set of supported bin widths.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF3d  Timeframe = "3d"
	TF1w  Timeframe = "1w"
)

var durations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF2h:  2 * time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
	TF3d:  3 * 24 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
}

// NormalizeTimeframe maps loose provider casing ("4H") to the canonical form
// and rejects anything outside the closed set.
func NormalizeTimeframe(raw string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := durations[tf]; !ok {
		return "", fmt.Errorf("invalid_interval: unrecognized timeframe %q", raw)
	}
	return tf, nil
}

// Duration returns the bar width of a timeframe. Panics if tf was not
// produced by NormalizeTimeframe.
func (tf Timeframe) Duration() time.Duration {
	d, ok := durations[tf]
	if !ok {
		panic(fmt.Sprintf("candle: unknown timeframe %q", tf))
	}
	return d
}

// Millis returns the bar width in milliseconds.
func (tf Timeframe) Millis() int64 {
	return tf.Duration().Milliseconds()
}

// IsFinerThan reports whether tf is strictly smaller than other and evenly
// divides it, the requirement for a valid intraday_tf in precise mode.
func (tf Timeframe) IsFinerThan(other Timeframe) bool {
	a, b := tf.Duration(), other.Duration()
	return a < b && b%a == 0
}

// NormalizeSymbol converts provider-native forms ("BTCUSDT") to the
// canonical BASE/QUOTE form. If the input already contains a separator
// ("/", "-" or "_") it is upper-cased and the separator rewritten to "/";
// otherwise it is split against a list of
// well-known quote currencies, longest match first.
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "/")
	s = strings.ReplaceAll(s, "_", "/")
	if strings.Contains(s, "/") {
		parts := strings.SplitN(s, "/", 2)
		if parts[0] == "" || parts[1] == "" {
			return "", fmt.Errorf("invalid_symbol: malformed symbol %q", raw)
		}
		return parts[0] + "/" + parts[1], nil
	}

	quotes := []string{"USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB", "USD", "EUR"}
	for _, q := range quotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)] + "/" + q, nil
		}
	}
	return "", fmt.Errorf("invalid_symbol: cannot infer quote currency for %q", raw)
}

// ToProviderForm renders the canonical BASE/QUOTE symbol the way most
// exchange REST APIs expect it: no separator.
func ToProviderForm(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// ToFileForm renders the canonical symbol for use as a path segment.
func ToFileForm(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "_")
}

// Key identifies a candle series.
type Key struct {
	Exchange  string
	Symbol    string
	Timeframe Timeframe
}

// Series is a contiguous, ascending, deduplicated run of candles for a Key.
type Series struct {
	Key     Key
	Candles []Candle
}

// Len returns the number of candles.
func (s Series) Len() int { return len(s.Candles) }

// LastTS returns the last candle's timestamp, or -1 if empty.
func (s Series) LastTS() int64 {
	if len(s.Candles) == 0 {
		return -1
	}
	return s.Candles[len(s.Candles)-1].TS
}

// Slice returns the sub-series with ts in [since, until], both UTC millis.
// until < 0 means "no upper bound".
func (s Series) Slice(since, until int64) Series {
	lo := sort.Search(len(s.Candles), func(i int) bool { return s.Candles[i].TS >= since })
	hi := len(s.Candles)
	if until >= 0 {
		hi = sort.Search(len(s.Candles), func(i int) bool { return s.Candles[i].TS > until })
	}
	if lo >= hi {
		return Series{Key: s.Key}
	}
	out := make([]Candle, hi-lo)
	copy(out, s.Candles[lo:hi])
	return Series{Key: s.Key, Candles: out}
}

// MergeSorted merges two ascending candle slices, deduplicating on ts
// (later slice wins on conflict, matching "fetch refreshes the tail").
func MergeSorted(existing, incoming []Candle) []Candle {
	out := make([]Candle, 0, len(existing)+len(incoming))
	i, j := 0, 0
	for i < len(existing) && j < len(incoming) {
		switch {
		case existing[i].TS < incoming[j].TS:
			out = append(out, existing[i])
			i++
		case existing[i].TS > incoming[j].TS:
			out = append(out, incoming[j])
			j++
		default:
			out = append(out, incoming[j])
			i++
			j++
		}
	}
	out = append(out, existing[i:]...)
	out = append(out, incoming[j:]...)
	return out
}
