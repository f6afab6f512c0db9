package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/backtestcore/internal/candle"
	"github.com/ajitpratap0/backtestcore/internal/strategy"
)

// Comparison-op values mirror the iota order declared in
// internal/strategy/ast.go (opLT, opLE, opGT, opGE, opEQ, opNEQ); the type
// itself is unexported, but an untyped integer constant still assigns to
// CompareExpr.Op across package boundaries.
const (
	opLT = 0
	opGE = 3
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func flatCandle(ts int64, o, h, l, c, v float64) candle.Candle {
	return candle.Candle{TS: ts, Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c), Volume: dec(v)}
}

func alwaysFalse() strategy.BoolExpr {
	return &strategy.CompareExpr{Op: opGE, Left: &strategy.NumberLit{Value: 0}, Right: &strategy.NumberLit{Value: 1}}
}

func closeAtLeast(threshold float64) strategy.BoolExpr {
	return &strategy.CompareExpr{Op: opGE, Left: &strategy.Identifier{Name: "close"}, Right: &strategy.NumberLit{Value: threshold}}
}

func TestSimulateEntersAndClosesAtEndOfData(t *testing.T) {
	candles := []candle.Candle{
		flatCandle(0, 100, 101, 99, 100, 10),
		flatCandle(1, 100, 101, 99, 100, 10),
		flatCandle(2, 100, 105, 99, 104, 10),
		flatCandle(3, 104, 110, 103, 108, 10),
	}
	series := candle.Series{Candles: candles}

	ev := &strategy.Evaluator{
		Columns: map[string][]float64{"close": {100, 100, 104, 108}},
		Length:  4,
		Entry:   closeAtLeast(104),
		Exit:    alwaysFalse(),
	}

	cfg := Config{InitialCash: dec(1000), FillMode: FillClose}
	result, err := Simulate(ev, series, cfg)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, ExitEndOfData, trade.ExitReason)
	assert.Equal(t, int64(2), trade.EntryTS)
	assert.Equal(t, int64(3), trade.ExitTS)
	assert.Equal(t, 1, trade.HeldBars)
	assert.True(t, trade.PnL.GreaterThan(decimal.Zero), "price rose from entry to final close, pnl should be positive")
	assert.Len(t, result.Equity, 4)
}

func TestSimulateStopLossTakesPriorityOverTakeProfit(t *testing.T) {
	candles := []candle.Candle{
		flatCandle(0, 100, 101, 99, 100, 10),
		flatCandle(1, 100, 101, 99, 100, 10), // entry bar
		flatCandle(2, 100, 130, 80, 100, 10), // both stop (90) and target (110) touched
	}
	series := candle.Series{Candles: candles}
	ev := &strategy.Evaluator{
		Columns: map[string][]float64{"close": {50, 100, 100}},
		Length:  3,
		Entry:   closeAtLeast(100),
		Exit:    alwaysFalse(),
	}
	stop := dec(0.10)
	target := dec(0.10)
	cfg := Config{InitialCash: dec(1000), FillMode: FillClose, StopLossPct: &stop, TakeProfitPct: &target}
	result, err := Simulate(ev, series, cfg)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, ExitStopLoss, result.Trades[0].ExitReason)
}

func TestSimulateNextOpenFillDefersToFollowingBar(t *testing.T) {
	candles := []candle.Candle{
		flatCandle(0, 100, 101, 99, 100, 10),
		flatCandle(1, 100, 101, 99, 105, 10),  // entry signal fires here
		flatCandle(2, 110, 111, 109, 110, 10), // fill happens at this bar's open
	}
	series := candle.Series{Candles: candles}
	ev := &strategy.Evaluator{
		Columns: map[string][]float64{"close": {100, 105, 110}},
		Length:  3,
		Entry:   closeAtLeast(105),
		Exit:    alwaysFalse(),
	}
	cfg := Config{InitialCash: dec(1000), FillMode: FillNextOpen}
	result, err := Simulate(ev, series, cfg)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.True(t, result.Trades[0].EntryPrice.Equal(dec(110)), "next_open fill should use bar 2's open price")
}

func TestSimulateRejectsPreciseModeWithoutIntradaySeries(t *testing.T) {
	series := candle.Series{Candles: []candle.Candle{flatCandle(0, 1, 1, 1, 1, 1)}}
	ev := &strategy.Evaluator{Columns: map[string][]float64{}, Length: 1}
	_, err := Simulate(ev, series, Config{Mode: ModePrecise})
	assert.Error(t, err)
}

func TestSimulateNoEntrySignalProducesNoTrades(t *testing.T) {
	candles := []candle.Candle{
		flatCandle(0, 100, 101, 99, 100, 10),
		flatCandle(1, 100, 101, 99, 100, 10),
	}
	series := candle.Series{Candles: candles}
	never := alwaysFalse()
	ev := &strategy.Evaluator{Columns: map[string][]float64{}, Length: 2, Entry: never, Exit: never}
	result, err := Simulate(ev, series, Config{InitialCash: dec(1000)})
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Len(t, result.Equity, 2)
}

func TestSimulatePreciseModeResolvesFirstTouchWithinBar(t *testing.T) {
	candles := []candle.Candle{
		flatCandle(0, 100, 101, 99, 100, 10), // entry bar: the close column is already 100 here
		flatCandle(1000, 100, 101, 99, 100, 10),
		flatCandle(2000, 100, 130, 80, 100, 10), // both touched within the bar per sub-candles
	}
	series := candle.Series{Candles: candles}
	intraday := candle.Series{Candles: []candle.Candle{
		flatCandle(2100, 100, 112, 98, 100, 1), // target (110) touched first
		flatCandle(2200, 100, 100, 85, 100, 1), // stop (90) touched second
	}}
	ev := &strategy.Evaluator{
		Columns: map[string][]float64{"close": {100, 100, 100}},
		Length:  3,
		Entry:   closeAtLeast(100),
		Exit:    alwaysFalse(),
	}
	stop := dec(0.10)
	target := dec(0.10)
	cfg := Config{
		InitialCash:    dec(1000),
		FillMode:       FillClose,
		Mode:           ModePrecise,
		StopLossPct:    &stop,
		TakeProfitPct:  &target,
		IntradaySeries: &intraday,
	}
	result, err := Simulate(ev, series, cfg)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, ExitTakeProfit, result.Trades[0].ExitReason, "the finer sub-candle resolves the target as the first touch")
}
