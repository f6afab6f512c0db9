// Performance metrics calculation over the simulator's trade ledger and
// equity curve.
package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/backtestcore/internal/candle"
	"github.com/ajitpratap0/backtestcore/internal/indicators"
)

// Summary holds the aggregate performance statistics produced from one
// simulation Result. All ratio fields, including those with a _pct
// suffix, hold fractions (0.2, not 20); conversion to percent happens at
// the boundary.
type Summary struct {
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	CAGR           float64 `json:"cagr"`

	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Sharpe         float64 `json:"sharpe"`

	NumTrades    int      `json:"num_trades"`
	WinRate      float64  `json:"win_rate"`
	ProfitFactor *float64 `json:"profit_factor"` // nil ("undefined") when there are no losing trades to divide by

	AvgWin     float64 `json:"avg_win"`
	AvgLoss    float64 `json:"avg_loss"`
	Expectancy float64 `json:"expectancy"`

	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	Regimes map[string]RegimeBucket `json:"regimes,omitempty"`
}

// RegimeBucket aggregates the trades whose entry fell in one market regime.
type RegimeBucket struct {
	NumTrades int     `json:"num_trades"`
	WinRate   float64 `json:"win_rate"`
	TotalPnL  float64 `json:"total_pnl"`
}

// Compute aggregates a trade ledger and equity curve into a Summary.
// periodsPerYear annualizes Sharpe and CAGR (e.g. 365 for a 1d series, 8760
// for 1h) and must reflect the series' timeframe, not a fixed 252.
func Compute(trades []Trade, equity []EquityPoint, periodsPerYear float64) Summary {
	s := Summary{}
	if len(equity) == 0 {
		return s
	}

	start := equity[0].Equity
	end := equity[len(equity)-1].Equity
	if !start.IsZero() {
		ratio := end.Div(start)
		s.TotalReturn, _ = end.Sub(start).Float64()
		s.TotalReturnPct, _ = ratio.Sub(decimal.NewFromInt(1)).Float64()
	}

	years := float64(len(equity)) / periodsPerYear
	if years > 0 && !start.IsZero() {
		endF, _ := end.Float64()
		startF, _ := start.Float64()
		if endF > 0 && startF > 0 {
			s.CAGR = math.Pow(endF/startF, 1.0/years) - 1.0
		}
	}

	maxDD, maxDDPct := maxDrawdown(equity)
	s.MaxDrawdown = maxDD
	s.MaxDrawdownPct = maxDDPct

	s.Sharpe = sharpeRatio(equity, periodsPerYear)

	computeTradeStats(&s, trades)

	return s
}

// maxDrawdown returns the largest peak-to-trough decline in the equity
// curve, in absolute terms and as a fraction of the peak.
func maxDrawdown(equity []EquityPoint) (float64, float64) {
	if len(equity) == 0 {
		return 0, 0
	}
	peak := equity[0].Equity
	var maxDD, maxDDPct decimal.Decimal
	for _, p := range equity {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(p.Equity)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			maxDDPct = dd.Div(peak)
		}
	}
	ddF, _ := maxDD.Float64()
	ddPctF, _ := maxDDPct.Float64()
	return ddF, ddPctF
}

// sharpeRatio computes the annualized Sharpe ratio from per-bar equity
// returns, assuming a 0% risk-free rate.
func sharpeRatio(equity []EquityPoint, periodsPerYear float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev.IsZero() {
			continue
		}
		r, _ := equity[i].Equity.Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return (mean / stdDev) * math.Sqrt(periodsPerYear)
}

func computeTradeStats(s *Summary, trades []Trade) {
	s.NumTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	var wins, losses int
	var totalWin, totalLoss float64
	var consecutiveLosses, maxConsecutiveLosses int

	for _, t := range trades {
		pnl, _ := t.PnL.Float64()
		if pnl > 0 {
			wins++
			totalWin += pnl
			consecutiveLosses = 0
		} else {
			losses++
			totalLoss += -pnl
			consecutiveLosses++
			if consecutiveLosses > maxConsecutiveLosses {
				maxConsecutiveLosses = consecutiveLosses
			}
		}
	}

	s.MaxConsecutiveLosses = maxConsecutiveLosses
	s.WinRate = float64(wins) / float64(len(trades))

	if wins > 0 {
		s.AvgWin = totalWin / float64(wins)
	}
	if losses > 0 {
		s.AvgLoss = totalLoss / float64(losses)
	}
	if totalLoss > 0 {
		pf := totalWin / totalLoss
		s.ProfitFactor = &pf
	}
	s.Expectancy = s.WinRate*s.AvgWin - (1-s.WinRate)*s.AvgLoss
}

// Regime labels a trade's entry-time market state: "bull" when
// close > SMA(200) else "bear", with "strong_trend" replacing either label
// when ADX(14) > 25. The thresholds are heuristic defaults, not axioms.
type Regime string

const (
	RegimeBull        Regime = "bull"
	RegimeBear        Regime = "bear"
	RegimeStrongTrend Regime = "strong_trend"
)

// BucketByRegime labels each trade by the regime prevailing at its
// entry_ts and aggregates PnL/win-rate per bucket. registry supplies the
// sma/adx indicators used for labeling; series must be the same series the
// trades were generated from.
func BucketByRegime(trades []Trade, series candle.Series, registry *indicators.Registry) (map[string]RegimeBucket, error) {
	if len(trades) == 0 {
		return nil, nil
	}

	smaSpec, err := registry.Lookup("sma")
	if err != nil {
		return nil, err
	}
	smaParams, err := smaSpec.ResolveParams(map[string]float64{"period": 200})
	if err != nil {
		return nil, err
	}
	smaResult, err := smaSpec.Compute(series, smaParams)
	if err != nil {
		return nil, err
	}
	sma200 := smaResult.Columns[""]

	adxSpec, err := registry.Lookup("adx")
	if err != nil {
		return nil, err
	}
	adxParams, err := adxSpec.ResolveParams(map[string]float64{"period": 14})
	if err != nil {
		return nil, err
	}
	adxResult, err := adxSpec.Compute(series, adxParams)
	if err != nil {
		return nil, err
	}
	adx14 := adxResult.Columns[""]

	tsIndex := make(map[int64]int, len(series.Candles))
	for i, c := range series.Candles {
		tsIndex[c.TS] = i
	}

	buckets := make(map[string]RegimeBucket)
	for _, t := range trades {
		idx, ok := tsIndex[t.EntryTS]
		if !ok {
			continue
		}
		label := regimeLabel(series, sma200, adx14, idx)
		pnl, _ := t.PnL.Float64()
		b := buckets[label]
		b.NumTrades++
		b.TotalPnL += pnl
		if pnl > 0 {
			b.WinRate = (b.WinRate*float64(b.NumTrades-1) + 1) / float64(b.NumTrades)
		} else {
			b.WinRate = (b.WinRate * float64(b.NumTrades-1)) / float64(b.NumTrades)
		}
		buckets[label] = b
	}
	return buckets, nil
}

func regimeLabel(series candle.Series, sma200, adx14 []float64, idx int) string {
	label := string(RegimeBear)
	if idx < len(sma200) {
		closeF, _ := series.Candles[idx].Close.Float64()
		if closeF > sma200[idx] {
			label = string(RegimeBull)
		}
	}
	if idx < len(adx14) && adx14[idx] > 25 {
		label = string(RegimeStrongTrend)
	}
	return label
}
