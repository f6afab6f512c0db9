// Result-document assembly: the dataset descriptor, per-template results,
// and run-level wrapper consumed by callers of the core.
package backtest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ajitpratap0/backtestcore/internal/candle"
)

// Dataset describes the candle series a result was computed against. The
// fill mode is always echoed back so consumers never have to guess whether
// entries filled at the deciding bar's close or the next bar's open.
type Dataset struct {
	Exchange    string            `json:"exchange"`
	Symbol      string            `json:"symbol"`
	Timeframe   string            `json:"timeframe"`
	CandleCount int               `json:"candle_count"`
	Precision   ExecutionMode     `json:"precision"`
	FillMode    FillMode          `json:"fill_mode"`
	IntradayTF  *candle.Timeframe `json:"intraday_tf,omitempty"`
}

// NewDataset builds a Dataset from the series the simulation consumed and
// the execution/fill modes it ran with.
func NewDataset(key candle.Key, series candle.Series, mode ExecutionMode, fillMode FillMode, intradayTF *candle.Timeframe) Dataset {
	return Dataset{
		Exchange:    key.Exchange,
		Symbol:      key.Symbol,
		Timeframe:   string(key.Timeframe),
		CandleCount: series.Len(),
		Precision:   mode,
		FillMode:    fillMode,
		IntradayTF:  intradayTF,
	}
}

// Marker annotates a point on the equity/trade timeline for UI
// consumption, e.g. an entry/exit arrow or a regime-change flag. The core
// only emits entry/exit markers derived straight from the trade ledger;
// a caller's visualization layer is free to add more.
type Marker struct {
	TS    int64  `json:"ts"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

// TemplateResult is one named template's outcome within a multi-template
// run.
type TemplateResult struct {
	Metrics Summary       `json:"metrics"`
	Trades  []Trade       `json:"trades"`
	Equity  []EquityPoint `json:"equity"`
	Markers []Marker      `json:"markers"`
}

// BuildTemplateResult assembles a TemplateResult from a simulation Result
// and its computed Summary, deriving entry/exit markers from the trade
// ledger.
func BuildTemplateResult(result Result, summary Summary) TemplateResult {
	markers := make([]Marker, 0, len(result.Trades)*2)
	for _, t := range result.Trades {
		markers = append(markers, Marker{TS: t.EntryTS, Kind: "entry", Label: "ENTER_LONG"})
		markers = append(markers, Marker{TS: t.ExitTS, Kind: "exit", Label: string(t.ExitReason)})
	}
	return TemplateResult{
		Metrics: summary,
		Trades:  result.Trades,
		Equity:  result.Equity,
		Markers: markers,
	}
}

// BacktestResult is the full backtest-result document: a dataset
// descriptor and one TemplateResult per submitted template, keyed by
// template name, plus a run identifier for job/result correlation.
type BacktestResult struct {
	RunID   string                    `json:"run_id"`
	Dataset Dataset                   `json:"dataset"`
	Results map[string]TemplateResult `json:"results"`
}

// NewBacktestResult mints a fresh run_id and wraps dataset/results into the
// result document.
func NewBacktestResult(dataset Dataset, results map[string]TemplateResult) BacktestResult {
	return BacktestResult{
		RunID:   uuid.NewString(),
		Dataset: dataset,
		Results: results,
	}
}

// TextSummary renders a compact, human-readable recap of a BacktestResult
// suitable for a terminal driver (cmd/backtest), one block per template.
func (r BacktestResult) TextSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s %s %s (%d candles, %s)\n",
		r.RunID, r.Dataset.Exchange, r.Dataset.Symbol, r.Dataset.Timeframe, r.Dataset.CandleCount, r.Dataset.Precision)

	names := make([]string, 0, len(r.Results))
	for name := range r.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tr := r.Results[name]
		m := tr.Metrics
		pf := "undefined"
		if m.ProfitFactor != nil {
			pf = fmt.Sprintf("%.2f", *m.ProfitFactor)
		}
		fmt.Fprintf(&b, "\n[%s]\n", name)
		fmt.Fprintf(&b, "  trades=%d  win_rate=%.1f%%  total_return=%.2f%%  cagr=%.2f%%\n",
			m.NumTrades, m.WinRate*100, m.TotalReturnPct*100, m.CAGR*100)
		fmt.Fprintf(&b, "  sharpe=%.2f  max_drawdown=%.2f%%  profit_factor=%s  expectancy=%.4f\n",
			m.Sharpe, m.MaxDrawdownPct*100, pf, m.Expectancy)
		fmt.Fprintf(&b, "  max_consecutive_losses=%d\n", m.MaxConsecutiveLosses)
	}
	return b.String()
}
