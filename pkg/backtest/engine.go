// Package backtest implements a single-symbol, long-only-spot execution
// simulator: a FLAT/LONG state machine that walks a candle series bar by
// bar, evaluating a compiled strategy's entry/exit predicates and a
// configured stop-loss/take-profit, producing a trade ledger and an equity
// curve.
package backtest

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/backtestcore/internal/candle"
	"github.com/ajitpratap0/backtestcore/internal/coreerr"
	"github.com/ajitpratap0/backtestcore/internal/strategy"
)

// ExitReason records which of the four priority-ordered transitions closed
// a trade.
type ExitReason string

const (
	ExitSignalExit ExitReason = "signal_exit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitEndOfData  ExitReason = "end_of_data"
)

// FillMode controls whether an entry/exit fills at the deciding bar's close
// or at the following bar's open.
type FillMode string

const (
	FillClose    FillMode = "close"
	FillNextOpen FillMode = "next_open"
)

// ExecutionMode selects between fast (bar high/low only) and precise
// (intraday sub-candle walk) stop/target resolution.
type ExecutionMode string

const (
	ModeFast    ExecutionMode = "fast"
	ModePrecise ExecutionMode = "precise"
)

// DefaultFeeRate is the single adopted symmetric fee convention:
// 0.075% of notional on both the entry and exit leg.
var DefaultFeeRate = decimal.NewFromFloat(0.00075)

// Trade is one completed long position.
type Trade struct {
	EntryTS    int64           `json:"entry_ts"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitTS     int64           `json:"exit_ts"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Qty        decimal.Decimal `json:"qty"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPct     decimal.Decimal `json:"pnl_pct"`
	ExitReason ExitReason      `json:"exit_reason"`
	HeldBars   int             `json:"held_bars"`
}

// EquityPoint is the portfolio's mark-to-market state at one bar.
type EquityPoint struct {
	TS            int64           `json:"ts"`
	Cash          decimal.Decimal `json:"cash"`
	PositionValue decimal.Decimal `json:"position_value"`
	Equity        decimal.Decimal `json:"equity"`
}

// Config parameterizes one simulation run.
type Config struct {
	InitialCash    decimal.Decimal
	FeeRate        decimal.Decimal // zero value means "use DefaultFeeRate"
	Slippage       decimal.Decimal
	StopLossPct    *decimal.Decimal
	TakeProfitPct  *decimal.Decimal
	FillMode       FillMode
	Mode           ExecutionMode
	IntradaySeries *candle.Series // required when Mode == ModePrecise
	IntradayTF     *candle.Timeframe
}

func (c Config) feeRate() decimal.Decimal {
	if c.FeeRate.IsZero() {
		return DefaultFeeRate
	}
	return c.FeeRate
}

// Result is the full output of one simulation run.
type Result struct {
	Trades        []Trade
	Equity        []EquityPoint
	ExecutionMode ExecutionMode
	IntradayTF    *candle.Timeframe
}

type openPosition struct {
	entryIdx   int
	entryTS    int64
	entryPrice decimal.Decimal
	qty        decimal.Decimal
	cashSpent  decimal.Decimal // notional + entry fee, for PnL accounting
}

type pendingOrder struct {
	kind       string // "enter" or "exit"
	exitReason ExitReason
}

// Simulate walks series bar by bar, evaluating ev's entry/exit predicates
// and cfg's stop-loss/take-profit, and returns the resulting trade ledger
// and equity curve. Signal generation and execution are interleaved here
// rather than precomputed, because stop/target fills can close a position
// earlier than exit_logic alone would predict.
func Simulate(ev *strategy.Evaluator, series candle.Series, cfg Config) (Result, error) {
	if cfg.Mode == ModePrecise && cfg.IntradaySeries == nil {
		return Result{}, coreerr.New(coreerr.SimulationError, "precise mode requires an intraday series", nil)
	}
	if cfg.FillMode == "" {
		cfg.FillMode = FillClose
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFast
	}

	n := len(series.Candles)
	cash := cfg.InitialCash
	fee := cfg.feeRate()

	var trades []Trade
	equity := make([]EquityPoint, 0, n)
	var pos *openPosition
	var pending *pendingOrder

	for i := 0; i < n; i++ {
		c := series.Candles[i]

		if pending != nil && i > 0 {
			switch pending.kind {
			case "enter":
				p, spent, err := openLong(c, i, cash, cfg, fee)
				if err != nil {
					return Result{}, err
				}
				cash = cash.Sub(spent)
				pos = p
			case "exit":
				fillPrice := c.Open.Mul(decimal.NewFromInt(1).Sub(cfg.Slippage))
				trade, proceeds := closeLong(pos, fillPrice, c.TS, i, pending.exitReason, fee)
				trades = append(trades, trade)
				cash = cash.Add(proceeds)
				pos = nil
			}
			pending = nil
		}

		if i < ev.Warmup {
			equity = append(equity, markToMarket(c.TS, cash, pos, c.Close))
			continue
		}

		if pos != nil {
			reason, price, ts, closed := resolveExit(ev, cfg, series, i, pos)
			if closed {
				if reason == ExitSignalExit && cfg.FillMode == FillNextOpen {
					pending = &pendingOrder{kind: "exit", exitReason: reason}
				} else {
					trade, proceeds := closeLong(pos, price, ts, i, reason, fee)
					trades = append(trades, trade)
					cash = cash.Add(proceeds)
					pos = nil
				}
			}
		} else if pending == nil {
			enter, ok := ev.EvalBool(ev.Entry, i)
			if ok && enter {
				if cfg.FillMode == FillNextOpen {
					pending = &pendingOrder{kind: "enter"}
				} else {
					p, spent, err := openLong(c, i, cash, cfg, fee)
					if err != nil {
						return Result{}, err
					}
					cash = cash.Sub(spent)
					pos = p
				}
			}
		}

		equity = append(equity, markToMarket(c.TS, cash, pos, c.Close))
	}

	if pos != nil {
		last := series.Candles[n-1]
		trade, proceeds := closeLong(pos, last.Close, last.TS, n-1, ExitEndOfData, fee)
		trades = append(trades, trade)
		cash = cash.Add(proceeds)
		if len(equity) > 0 {
			equity[len(equity)-1] = markToMarket(last.TS, cash, nil, last.Close)
		}
	}

	log.Debug().
		Int("bars", n).
		Int("trades", len(trades)).
		Str("mode", string(cfg.Mode)).
		Msg("simulation complete")

	return Result{Trades: trades, Equity: equity, ExecutionMode: cfg.Mode, IntradayTF: cfg.IntradayTF}, nil
}

// resolveExit applies the priority order stop > target > exit-signal for an
// open position at bar i. It never evaluates end-of-data; the caller
// force-closes after the loop.
func resolveExit(ev *strategy.Evaluator, cfg Config, series candle.Series, i int, pos *openPosition) (ExitReason, decimal.Decimal, int64, bool) {
	c := series.Candles[i]

	if cfg.Mode == ModePrecise && cfg.IntradaySeries != nil {
		if reason, price, ts, ok := resolveIntraBarExit(cfg, series, i, pos); ok {
			return reason, price, ts, true
		}
	} else {
		if cfg.StopLossPct != nil {
			stopPrice := pos.entryPrice.Mul(decimal.NewFromInt(1).Sub(*cfg.StopLossPct))
			if c.Low.LessThanOrEqual(stopPrice) {
				return ExitStopLoss, stopPrice, c.TS, true
			}
		}
		if cfg.TakeProfitPct != nil {
			targetPrice := pos.entryPrice.Mul(decimal.NewFromInt(1).Add(*cfg.TakeProfitPct))
			if c.High.GreaterThanOrEqual(targetPrice) {
				return ExitTakeProfit, targetPrice, c.TS, true
			}
		}
	}

	if exit, ok := ev.EvalBool(ev.Exit, i); ok && exit {
		fillPrice := c.Close.Mul(decimal.NewFromInt(1).Sub(cfg.Slippage))
		return ExitSignalExit, fillPrice, c.TS, true
	}
	return "", decimal.Zero, 0, false
}

// resolveIntraBarExit walks the intraday sub-candles covering bar i in
// chronological order, returning the first stop or target touch. This
// disambiguates same-bar stop/target ordering that the fast mode cannot.
func resolveIntraBarExit(cfg Config, series candle.Series, i int, pos *openPosition) (ExitReason, decimal.Decimal, int64, bool) {
	c := series.Candles[i]
	barEnd := c.TS + barDurationMillis(series, i)

	var stopPrice, targetPrice decimal.Decimal
	hasStop := cfg.StopLossPct != nil
	hasTarget := cfg.TakeProfitPct != nil
	if hasStop {
		stopPrice = pos.entryPrice.Mul(decimal.NewFromInt(1).Sub(*cfg.StopLossPct))
	}
	if hasTarget {
		targetPrice = pos.entryPrice.Mul(decimal.NewFromInt(1).Add(*cfg.TakeProfitPct))
	}
	if !hasStop && !hasTarget {
		return "", decimal.Zero, 0, false
	}

	for _, sub := range cfg.IntradaySeries.Candles {
		if sub.TS < c.TS || sub.TS >= barEnd {
			continue
		}
		if hasStop && sub.Low.LessThanOrEqual(stopPrice) {
			return ExitStopLoss, stopPrice, sub.TS, true
		}
		if hasTarget && sub.High.GreaterThanOrEqual(targetPrice) {
			return ExitTakeProfit, targetPrice, sub.TS, true
		}
	}
	return "", decimal.Zero, 0, false
}

func barDurationMillis(series candle.Series, i int) int64 {
	if i+1 < len(series.Candles) {
		return series.Candles[i+1].TS - series.Candles[i].TS
	}
	if i > 0 {
		return series.Candles[i].TS - series.Candles[i-1].TS
	}
	return 0
}

// openLong opens a full-cash, 100% long-only position, filling at price ·
// (1 + slippage) and deducting the entry fee from cash.
func openLong(c candle.Candle, idx int, cash decimal.Decimal, cfg Config, fee decimal.Decimal) (*openPosition, decimal.Decimal, error) {
	fillPrice := c.Close.Mul(decimal.NewFromInt(1).Add(cfg.Slippage))
	if cfg.FillMode == FillNextOpen {
		fillPrice = c.Open.Mul(decimal.NewFromInt(1).Add(cfg.Slippage))
	}
	if fillPrice.LessThanOrEqual(decimal.Zero) {
		return nil, decimal.Zero, coreerr.New(coreerr.SimulationError, fmt.Sprintf("non-positive fill price at ts=%d", c.TS), nil)
	}
	qty := cash.Div(fillPrice.Mul(decimal.NewFromInt(1).Add(fee)))
	notional := qty.Mul(fillPrice)
	entryFee := notional.Mul(fee)
	spent := notional.Add(entryFee)
	return &openPosition{
		entryIdx:   idx,
		entryTS:    c.TS,
		entryPrice: fillPrice,
		qty:        qty,
		cashSpent:  spent,
	}, spent, nil
}

// closeLong liquidates pos at price, returning the recorded Trade and the
// cash proceeds (notional minus exit fee) to credit back.
func closeLong(pos *openPosition, price decimal.Decimal, exitTS int64, exitIdx int, reason ExitReason, fee decimal.Decimal) (Trade, decimal.Decimal) {
	notional := pos.qty.Mul(price)
	exitFee := notional.Mul(fee)
	proceeds := notional.Sub(exitFee)
	pnl := proceeds.Sub(pos.cashSpent)
	var pnlPct decimal.Decimal
	if !pos.cashSpent.IsZero() {
		pnlPct = pnl.Div(pos.cashSpent).Mul(decimal.NewFromInt(100))
	}
	return Trade{
		EntryTS:    pos.entryTS,
		EntryPrice: pos.entryPrice,
		ExitTS:     exitTS,
		ExitPrice:  price,
		Qty:        pos.qty,
		PnL:        pnl,
		PnLPct:     pnlPct,
		ExitReason: reason,
		HeldBars:   exitIdx - pos.entryIdx,
	}, proceeds
}

func markToMarket(ts int64, cash decimal.Decimal, pos *openPosition, lastClose decimal.Decimal) EquityPoint {
	positionValue := decimal.Zero
	if pos != nil {
		positionValue = pos.qty.Mul(lastClose)
	}
	return EquityPoint{
		TS:            ts,
		Cash:          cash,
		PositionValue: positionValue,
		Equity:        cash.Add(positionValue),
	}
}
