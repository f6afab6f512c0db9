package backtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/backtestcore/internal/coreerr"
	"github.com/ajitpratap0/backtestcore/internal/strategy"
)

func rangeOf(min, max, step, def float64) strategy.ParameterRange {
	return strategy.ParameterRange{Min: min, Max: max, Step: step, Default: def}
}

func TestGenerateGridCartesianProduct(t *testing.T) {
	schema := &strategy.OptimizationSchema{
		Parameters: map[string]strategy.ParameterRange{
			"ema_short": rangeOf(5, 15, 5, 10),
			"ema_long":  rangeOf(20, 40, 10, 30),
		},
	}
	combos, err := GenerateGrid(schema, 42, 0, false)
	require.NoError(t, err)
	// ema_short: 5,10,15 (3); ema_long: 20,30,40 (3) => 9
	assert.Len(t, combos, 9)
}

func TestGenerateGridIsDeterministicForFixedSeed(t *testing.T) {
	schema := &strategy.OptimizationSchema{
		Parameters: map[string]strategy.ParameterRange{
			"a": rangeOf(1, 3, 1, 1),
			"b": rangeOf(1, 2, 1, 1),
		},
	}
	first, err := GenerateGrid(schema, 42, 0, false)
	require.NoError(t, err)
	second, err := GenerateGrid(schema, 42, 0, false)
	require.NoError(t, err)
	assert.Equal(t, first, second, "identical (schema, seed) must enumerate in identical order")
}

func TestGenerateGridSeedReordersButPreservesSet(t *testing.T) {
	schema := &strategy.OptimizationSchema{
		Parameters: map[string]strategy.ParameterRange{
			"a": rangeOf(1, 10, 1, 1),
			"b": rangeOf(1, 10, 1, 1),
		},
	}
	first, err := GenerateGrid(schema, 1, 0, false)
	require.NoError(t, err)
	second, err := GenerateGrid(schema, 2, 0, false)
	require.NoError(t, err)
	require.Len(t, second, len(first))

	key := func(ps ParameterSet) string { return fmt.Sprintf("%v|%v", ps["a"], ps["b"]) }
	seen := make(map[string]bool, len(first))
	for _, ps := range first {
		seen[key(ps)] = true
	}
	for _, ps := range second {
		assert.True(t, seen[key(ps)], "different seeds must cover the same combination set")
	}
	assert.NotEqual(t, first, second, "different seeds should enumerate in a different order")
}

func TestGenerateGridFiltersCorrelatedGroups(t *testing.T) {
	schema := &strategy.OptimizationSchema{
		Parameters: map[string]strategy.ParameterRange{
			"a": rangeOf(1, 3, 1, 1),
			"b": rangeOf(1, 3, 1, 1),
		},
		CorrelatedGroups: [][]string{{"a", "b"}},
	}
	combos, err := GenerateGrid(schema, 42, 0, false)
	require.NoError(t, err)
	for _, c := range combos {
		assert.Less(t, c["a"], c["b"], "every combination must satisfy a < b")
	}
}

func TestGenerateGridExplosionRequiresConfirmation(t *testing.T) {
	schema := &strategy.OptimizationSchema{
		Parameters: map[string]strategy.ParameterRange{
			"a": rangeOf(1, 100, 1, 1),
			"b": rangeOf(1, 100, 1, 1),
		},
	}
	_, err := GenerateGrid(schema, 42, 500, false)
	require.Error(t, err)
	assert.Equal(t, coreerr.GridExplosion, coreerr.KindOf(err))

	confirmed, err := GenerateGrid(schema, 42, 500, true)
	require.NoError(t, err)
	assert.Len(t, confirmed, 10000)
}

func TestApplyParamsSetsRiskFields(t *testing.T) {
	tmpl := strategy.Template{Name: "t"}
	out, err := ApplyParams(tmpl, ParameterSet{"stop_loss": 0.05, "take_profit": 0.15})
	require.NoError(t, err)
	require.NotNil(t, out.StopLoss)
	require.NotNil(t, out.TakeProfit)
	assert.InDelta(t, 0.05, *out.StopLoss, 1e-9)
	assert.InDelta(t, 0.15, *out.TakeProfit, 1e-9)
}

func TestApplyParamsSetsIndicatorAlias(t *testing.T) {
	tmpl := strategy.Template{
		Name: "t",
		Indicators: []strategy.IndicatorRef{
			{Source: "builtin", Name: "ema", Alias: "ema_short", Params: map[string]float64{"period": 10}},
		},
	}
	out, err := ApplyParams(tmpl, ParameterSet{"ema_short": 7})
	require.NoError(t, err)
	assert.InDelta(t, 7, out.Indicators[0].Params["period"], 1e-9)
}

func TestApplyParamsDottedNameTargetsSpecificParam(t *testing.T) {
	tmpl := strategy.Template{
		Name: "t",
		Indicators: []strategy.IndicatorRef{
			{Source: "builtin", Name: "macd", Alias: "m", Params: map[string]float64{"fast_period": 12, "slow_period": 26}},
		},
	}
	out, err := ApplyParams(tmpl, ParameterSet{"m.slow_period": 30})
	require.NoError(t, err)
	assert.InDelta(t, 30, out.Indicators[0].Params["slow_period"], 1e-9)
	assert.InDelta(t, 12, out.Indicators[0].Params["fast_period"], 1e-9)
}

func TestApplyParamsUnknownNameErrors(t *testing.T) {
	tmpl := strategy.Template{Name: "t"}
	_, err := ApplyParams(tmpl, ParameterSet{"nonexistent": 1})
	assert.Error(t, err)
}

func TestRunGridRecordsFailuresWithoutAborting(t *testing.T) {
	combos := []ParameterSet{{"a": 1}, {"a": 2}}
	eval := func(_ context.Context, params ParameterSet) (Summary, int, error) {
		if params["a"] == 2 {
			return Summary{}, 0, fmt.Errorf("boom")
		}
		return Summary{Sharpe: 1.5}, 3, nil
	}
	results, err := RunGrid(context.Background(), combos, 2, eval, 0.99)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Failed)
	assert.True(t, results[1].Failed)
}

func TestRunGridRecoversWorkerPanic(t *testing.T) {
	combos := []ParameterSet{{"a": 1}, {"a": 2}}
	eval := func(_ context.Context, params ParameterSet) (Summary, int, error) {
		if params["a"] == 2 {
			panic("nil indicator column")
		}
		return Summary{Sharpe: 1.0}, 2, nil
	}
	results, err := RunGrid(context.Background(), combos, 2, eval, 0.99)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Failed)
	assert.True(t, results[1].Failed)
	assert.Contains(t, results[1].Reason, "panic")
}

func TestRunGridAbortsWhenFailureThresholdReached(t *testing.T) {
	combos := []ParameterSet{{"a": 1}, {"a": 2}}
	eval := func(_ context.Context, _ ParameterSet) (Summary, int, error) {
		return Summary{}, 0, fmt.Errorf("boom")
	}
	_, err := RunGrid(context.Background(), combos, 2, eval, 0.5)
	require.Error(t, err)
	assert.Equal(t, coreerr.SimulationError, coreerr.KindOf(err))
}

func TestSelectPrefersHigherObjectiveThenTrades(t *testing.T) {
	results := []CandidateResult{
		{Params: ParameterSet{"a": 1}, Metrics: Summary{Sharpe: 1.0}, NumTrades: 10},
		{Params: ParameterSet{"a": 2}, Metrics: Summary{Sharpe: 2.0}, NumTrades: 5},
		{Params: ParameterSet{"a": 3}, Metrics: Summary{Sharpe: 2.0}, NumTrades: 20},
	}
	best := Select(results, ObjectiveSharpe)
	require.NotNil(t, best)
	assert.Equal(t, float64(3), best.Params["a"], "ties on sharpe break on higher num_trades")
}

func TestSelectSkipsFailedCandidates(t *testing.T) {
	results := []CandidateResult{
		{Params: ParameterSet{"a": 1}, Metrics: Summary{Sharpe: 99}, Failed: true},
		{Params: ParameterSet{"a": 2}, Metrics: Summary{Sharpe: 1}},
	}
	best := Select(results, ObjectiveSharpe)
	require.NotNil(t, best)
	assert.Equal(t, float64(2), best.Params["a"])
}

func TestObjectiveProfitFactorUndefinedScoresAsInfinite(t *testing.T) {
	withNilPF := Summary{ProfitFactor: nil}
	pf := 5.0
	withPF := Summary{ProfitFactor: &pf}
	assert.Greater(t, ObjectiveProfitFactor.Score(withNilPF), ObjectiveProfitFactor.Score(withPF))
}

func TestCoordinateDescentConvergesWhenNoParamImproves(t *testing.T) {
	schema := &strategy.OptimizationSchema{
		Parameters: map[string]strategy.ParameterRange{
			"a": rangeOf(1, 5, 1, 3),
		},
	}
	eval := func(_ context.Context, params ParameterSet) (Summary, int, error) {
		// Sharpe peaks at a==3 regardless of round.
		dist := params["a"] - 3
		return Summary{Sharpe: 10 - dist*dist}, 5, nil
	}
	result, err := CoordinateDescent(context.Background(), schema, ParameterSet{"a": 3}, 5, 0, 1, eval, ObjectiveSharpe, 0.9)
	require.NoError(t, err)
	assert.True(t, result.Converged)
	require.NotNil(t, result.Best)
	assert.InDelta(t, 3, result.Best.Params["a"], 1e-9)
}

func TestCoarseToFineReturnsBestAcrossRounds(t *testing.T) {
	schema := &strategy.OptimizationSchema{
		Parameters: map[string]strategy.ParameterRange{
			"a": rangeOf(0, 20, 5, 10),
		},
	}
	eval := func(_ context.Context, params ParameterSet) (Summary, int, error) {
		dist := params["a"] - 13
		return Summary{Sharpe: 100 - dist*dist}, 5, nil
	}
	rounds, best, err := CoarseToFine(context.Background(), schema, 42, 0, 1, eval, ObjectiveSharpe, 0.9)
	require.NoError(t, err)
	assert.NotEmpty(t, rounds)
	require.NotNil(t, best)
	assert.InDelta(t, 13, best.Params["a"], 3, "coarse-to-fine should land within a few units of the true optimum")
}
