// Backtest Runner CLI
// Drives the OHLCV Store, Strategy Compiler, and Execution Simulator over
// historical data to evaluate or optimize a strategy template. This is a
// thin manual driver over the library packages, not the HTTP request layer
// the core is designed to sit behind.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/backtestcore/internal/candle"
	"github.com/ajitpratap0/backtestcore/internal/config"
	"github.com/ajitpratap0/backtestcore/internal/coreerr"
	"github.com/ajitpratap0/backtestcore/internal/indicators"
	"github.com/ajitpratap0/backtestcore/internal/job"
	"github.com/ajitpratap0/backtestcore/internal/store"
	"github.com/ajitpratap0/backtestcore/internal/strategy"
	"github.com/ajitpratap0/backtestcore/pkg/backtest"
)

// ============================================================================
// CLI FLAGS
// ============================================================================

var (
	mode = flag.String("mode", "run", "Operation mode: run, compare, optimize")

	configPath = flag.String("config", "", "Path to config file (optional, defaults searched in ./configs and .)")

	exchangeName = flag.String("exchange", "binance", "Exchange name")
	symbol       = flag.String("symbol", "BTC/USDT", "Trading pair symbol")
	timeframe    = flag.String("timeframe", "1d", "Candle timeframe (1m, 5m, 15m, 1h, 4h, 1d, 1w)")
	since        = flag.String("since", "", "Start date, RFC3339 or YYYY-MM-DD (required)")
	until        = flag.String("until", "", "End date, RFC3339 or YYYY-MM-DD (defaults to now)")

	templatePath = flag.String("template", "", "Path(s) to strategy template JSON files, comma-separated for compare mode (required)")

	cash         = flag.Float64("cash", 10000.0, "Initial cash")
	fee          = flag.Float64("fee", 0.00075, "Per-side fee rate")
	slippage     = flag.Float64("slippage", 0.0, "Slippage rate applied to every fill")
	stopPct      = flag.Float64("stop_pct", 0, "Stop-loss as a fraction of entry price (0.02 = 2%), 0 disables")
	takePct      = flag.Float64("take_pct", 0, "Take-profit as a fraction of entry price (0.02 = 2%), 0 disables")
	fillMode     = flag.String("fill_mode", "close", "Fill mode: close, next_open")
	precision    = flag.String("precision_mode", "fast", "Execution precision: fast, precise")
	intradayTF   = flag.String("intraday_tf", "", "Intraday timeframe for precise mode (e.g. 1h)")

	objective        = flag.String("objective", "", "Optimization objective: sharpe, total_return, profit_factor (defaults to config)")
	optStrategy      = flag.String("opt_strategy", "coarse_to_fine", "Optimization search strategy: grid, coarse_to_fine, coordinate_descent")
	confirmGrid      = flag.Bool("confirm_grid", false, "Confirm running a grid exceeding the configured hard limit")
	seed             = flag.Int64("seed", 42, "Seed driving grid enumeration order; a resumed job reuses its checkpointed seed")
	resumeJobID      = flag.String("resume_job", "", "Resume a previously started optimization job by id")

	outputFile = flag.String("output", "", "Write the JSON result document to this file (optional)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *templatePath == "" {
		fmt.Fprintln(os.Stderr, "Error: -template flag is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("backtest run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	templates, err := loadTemplates(*templatePath)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	registry := indicators.NewRegistry()
	for _, tmpl := range templates {
		if err := tmpl.Validate(registry); err != nil {
			return fmt.Errorf("invalid template %q: %w", tmpl.Name, err)
		}
	}

	sinceTS, err := parseTime(*since)
	if err != nil {
		return fmt.Errorf("parse -since: %w", err)
	}
	untilTS := time.Now().UnixMilli()
	if *until != "" {
		untilTS, err = parseTime(*until)
		if err != nil {
			return fmt.Errorf("parse -until: %w", err)
		}
	}

	st, err := buildStore(cfg)
	if err != nil {
		return err
	}

	series, err := st.FetchRange(ctx, *exchangeName, *symbol, *timeframe, sinceTS, untilTS)
	if err != nil {
		return fmt.Errorf("fetch range: %w", err)
	}
	if series.Len() == 0 {
		return coreerr.New(coreerr.InsufficientData, "requested window returned no candles", map[string]interface{}{
			"exchange": *exchangeName, "symbol": *symbol, "timeframe": *timeframe,
		})
	}

	simCfg, periodsPerYear, err := buildSimConfig(ctx, st, series)
	if err != nil {
		return err
	}

	switch *mode {
	case "optimize":
		return runOptimize(ctx, cfg, registry, templates[0], series, simCfg, periodsPerYear)
	default:
		// "run" and "compare" share one path: compare is a run over
		// several templates collected into the same result document.
		return runTemplates(registry, templates, series, simCfg, periodsPerYear)
	}
}

func runTemplates(registry *indicators.Registry, templates []strategy.Template, series candle.Series, simCfg backtest.Config, periodsPerYear float64) error {
	results := make(map[string]backtest.TemplateResult, len(templates))
	for _, tmpl := range templates {
		ev, err := strategy.Compile(tmpl, registry, series)
		if err != nil {
			return fmt.Errorf("compile template %q: %w", tmpl.Name, err)
		}
		result, err := backtest.Simulate(ev, series, simCfg)
		if err != nil {
			return fmt.Errorf("simulate %q: %w", tmpl.Name, err)
		}
		summary := backtest.Compute(result.Trades, result.Equity, periodsPerYear)
		if regimes, err := backtest.BucketByRegime(result.Trades, series, registry); err == nil {
			summary.Regimes = regimes
		}
		results[tmpl.Name] = backtest.BuildTemplateResult(result, summary)
	}

	dataset := backtest.NewDataset(series.Key, series, simCfg.Mode, simCfg.FillMode, simCfg.IntradayTF)
	br := backtest.NewBacktestResult(dataset, results)

	fmt.Print(br.TextSummary())
	return writeResultIfRequested(br)
}

func runOptimize(ctx context.Context, cfg *config.Config, registry *indicators.Registry, tmpl strategy.Template, series candle.Series, simCfg backtest.Config, periodsPerYear float64) error {
	if tmpl.OptimizationSchema == nil {
		return fmt.Errorf("template %q has no optimization_schema", tmpl.Name)
	}

	obj := backtest.Objective(cfg.Optimizer.DefaultObjective)
	if *objective != "" {
		obj = backtest.Objective(*objective)
	}

	eval := func(_ context.Context, params backtest.ParameterSet) (backtest.Summary, int, error) {
		applied, err := backtest.ApplyParams(tmpl, params)
		if err != nil {
			return backtest.Summary{}, 0, err
		}
		ev, err := strategy.Compile(applied, registry, series)
		if err != nil {
			return backtest.Summary{}, 0, err
		}
		result, err := backtest.Simulate(ev, series, simCfg)
		if err != nil {
			return backtest.Summary{}, 0, err
		}
		summary := backtest.Compute(result.Trades, result.Equity, periodsPerYear)
		return summary, len(result.Trades), nil
	}

	jobsStore, err := job.NewStore(cfg.Jobs.Root)
	if err != nil {
		return fmt.Errorf("create jobs store: %w", err)
	}
	manager := job.NewManager(jobsStore, config.NewJobLogger(""), cfg.Jobs.CheckpointEveryIterations, cfg.Jobs.CheckpointEveryInterval)

	var jb *job.Job
	if *resumeJobID != "" {
		jb, err = manager.Resume(*resumeJobID)
	} else {
		cfgJSON, _ := json.Marshal(tmpl)
		gridJSON, _ := json.Marshal(tmpl.OptimizationSchema)
		jb, err = manager.Start(cfgJSON, gridJSON, *seed, 0)
	}
	if err != nil {
		return fmt.Errorf("job manager: %w", err)
	}
	// A resumed job must replay the grid in its original order, so the
	// checkpointed seed always wins over the flag.
	seedVal := jb.Snapshot().Seed
	log.Info().Str("job_id", jb.ID()).Str("strategy", *optStrategy).Int64("seed", seedVal).Msg("optimization started")

	var best *backtest.CandidateResult
	switch *optStrategy {
	case "grid":
		combos, err := backtest.GenerateGrid(tmpl.OptimizationSchema, seedVal, cfg.Optimizer.GridHardLimit, *confirmGrid)
		if err != nil {
			_ = jb.Finish(job.StatusFailed)
			return fmt.Errorf("generate grid: %w", err)
		}
		results, err := backtest.RunGrid(ctx, combos, cfg.Optimizer.Workers, eval, cfg.Optimizer.FailureThreshold)
		if err != nil {
			_ = jb.Finish(job.StatusFailed)
			return fmt.Errorf("run grid: %w", err)
		}
		for _, r := range results {
			raw, _ := json.Marshal(r)
			_ = jb.RecordIteration(raw, nil)
		}
		best = backtest.Select(results, obj)
	case "coordinate_descent":
		result, err := backtest.CoordinateDescent(ctx, tmpl.OptimizationSchema, nil, 8, cfg.Optimizer.GridHardLimit, cfg.Optimizer.Workers, eval, obj, cfg.Optimizer.FailureThreshold)
		if err != nil {
			_ = jb.Finish(job.StatusFailed)
			return fmt.Errorf("coordinate descent: %w", err)
		}
		best = result.Best
	default:
		_, result, err := backtest.CoarseToFine(ctx, tmpl.OptimizationSchema, seedVal, cfg.Optimizer.GridHardLimit, cfg.Optimizer.Workers, eval, obj, cfg.Optimizer.FailureThreshold)
		if err != nil {
			_ = jb.Finish(job.StatusFailed)
			return fmt.Errorf("coarse-to-fine: %w", err)
		}
		best = result
	}

	if best == nil {
		_ = jb.Finish(job.StatusFailed)
		return fmt.Errorf("optimization produced no viable candidate")
	}
	bestJSON, _ := json.Marshal(best)
	_ = jb.RecordIteration(bestJSON, bestJSON)
	_ = jb.Finish(job.StatusCompleted)

	fmt.Printf("best parameters: %v\n", best.Params)
	fmt.Printf("sharpe=%.3f total_return=%.3f%% num_trades=%d\n",
		best.Metrics.Sharpe, best.Metrics.TotalReturnPct*100, best.NumTrades)
	return nil
}

func buildStore(cfg *config.Config) (*store.Store, error) {
	client := store.NewBinanceClient(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, 1000.0/float64(maxInt(cfg.Exchange.RateLimitMS, 1)), config.NewStoreLogger())

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	}

	storeCfg := store.Config{Root: cfg.Store.Root, Inception: cfg.Store.Inception, CacheTTL: cfg.Cache.TTL}
	return store.New(storeCfg, client, redisClient, config.NewStoreLogger()), nil
}

func buildSimConfig(ctx context.Context, st *store.Store, series candle.Series) (backtest.Config, float64, error) {
	stop := optionalPct(*stopPct)
	take := optionalPct(*takePct)

	fillModeVal := backtest.FillClose
	if *fillMode == "next_open" {
		fillModeVal = backtest.FillNextOpen
	}

	simCfg := backtest.Config{
		InitialCash:   decimalFromFloat(*cash),
		FeeRate:       decimalFromFloat(*fee),
		Slippage:      decimalFromFloat(*slippage),
		StopLossPct:   stop,
		TakeProfitPct: take,
		FillMode:      fillModeVal,
		Mode:          backtest.ModeFast,
	}

	if *precision == "precise" {
		if *intradayTF == "" {
			return backtest.Config{}, 0, fmt.Errorf("-precision_mode=precise requires -intraday_tf")
		}
		tf, err := candle.NormalizeTimeframe(*intradayTF)
		if err != nil {
			return backtest.Config{}, 0, err
		}
		intraday, err := st.FetchRange(ctx, *exchangeName, *symbol, string(tf), series.Candles[0].TS, series.LastTS())
		if err != nil {
			return backtest.Config{}, 0, fmt.Errorf("fetch intraday series: %w", err)
		}
		simCfg.Mode = backtest.ModePrecise
		simCfg.IntradaySeries = &intraday
		simCfg.IntradayTF = &tf
	}

	normalizedTF, err := candle.NormalizeTimeframe(*timeframe)
	if err != nil {
		return backtest.Config{}, 0, err
	}
	periodsPerYear := periodsPerYearFor(normalizedTF)
	return simCfg, periodsPerYear, nil
}

func loadTemplates(paths string) ([]strategy.Template, error) {
	var out []strategy.Template
	for _, path := range strings.Split(paths, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var tmpl strategy.Template
		if err := json.Unmarshal(data, &tmpl); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := tmpl.ValidateQuick(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, tmpl)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no template files given")
	}
	return out, nil
}

func writeResultIfRequested(br backtest.BacktestResult) error {
	if *outputFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(br, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(*outputFile, data, 0o644)
}

func parseTime(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty time value")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UnixMilli(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return 0, fmt.Errorf("unrecognized time format %q", raw)
	}
	return t.UnixMilli(), nil
}

func optionalPct(v float64) *decimal.Decimal {
	if v <= 0 {
		return nil
	}
	d := decimal.NewFromFloat(v)
	return &d
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func periodsPerYearFor(tf candle.Timeframe) float64 {
	day := 24 * time.Hour
	d := tf.Duration()
	if d <= 0 {
		return 365
	}
	return float64(365*day) / float64(d)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
