// Parameter-sweep optimizer: grid construction, parallel worker dispatch,
// coarse-to-fine refinement, and coordinate-descent convergence.
package backtest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/backtestcore/internal/coreerr"
	"github.com/ajitpratap0/backtestcore/internal/strategy"
)

// ParameterSet is one grid point: parameter name to resolved numeric value.
type ParameterSet map[string]float64

// Clone returns a deep copy of ps.
func (ps ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(ps))
	for k, v := range ps {
		out[k] = v
	}
	return out
}

// Objective selects the metric the optimizer maximizes.
type Objective string

const (
	ObjectiveSharpe       Objective = "sharpe"
	ObjectiveTotalReturn  Objective = "total_return"
	ObjectiveProfitFactor Objective = "profit_factor"
)

// Score extracts the value Objective maximizes from a Summary. An
// undefined profit_factor (no losing trades) scores as +Inf so a
// flawless run always ranks first under that objective.
func (o Objective) Score(m Summary) float64 {
	switch o {
	case ObjectiveTotalReturn:
		return m.TotalReturnPct
	case ObjectiveProfitFactor:
		if m.ProfitFactor == nil {
			return math.Inf(1)
		}
		return *m.ProfitFactor
	default:
		return m.Sharpe
	}
}

// CandidateResult is one grid point's outcome: either a Summary, or a
// failure recorded against it so the sweep can continue.
type CandidateResult struct {
	Params    ParameterSet `json:"params"`
	Metrics   Summary      `json:"metrics"`
	NumTrades int          `json:"num_trades"`
	Failed    bool         `json:"failed"`
	Reason    string       `json:"reason,omitempty"`
	discovery int          // tie-break: earlier discovery wins
}

// EvalFunc runs one backtest combination and returns its metrics. The
// caller closes over the template, candle frame, and simulation config;
// Compile/Simulate/Compute failures should be returned as errors, which
// RunGrid records against the combination rather than aborting the sweep.
type EvalFunc func(ctx context.Context, params ParameterSet) (Summary, int, error)

// GenerateGrid builds the Cartesian product of schema.Parameters at their
// configured step, filtered by schema.CorrelatedGroups ordering
// constraints. Enumeration order is a pure function of (schema, seed): the
// combinations are built lexically (parameter names sorted, nested loops in
// that order) and then shuffled by a *rand.Rand seeded with seed, so the
// same (schema, seed) always enumerates the same grid in the same order,
// required for checkpoint resume to skip already-evaluated combinations,
// while different seeds spread early evaluations across the whole grid
// instead of clustering them in one corner of parameter space.
//
// If the raw (unfiltered) combination count exceeds hardLimit and
// confirmed is false, it returns a grid_explosion error carrying the
// estimated count in Details; the caller must explicitly confirm
// oversized grids.
func GenerateGrid(schema *strategy.OptimizationSchema, seed int64, hardLimit int, confirmed bool) ([]ParameterSet, error) {
	if schema == nil || len(schema.Parameters) == 0 {
		return []ParameterSet{{}}, nil
	}

	names := make([]string, 0, len(schema.Parameters))
	for name := range schema.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	estimated := 1
	axes := make([][]float64, len(names))
	for i, name := range names {
		rng := schema.Parameters[name]
		axes[i] = axisValues(rng)
		estimated *= len(axes[i])
	}

	if hardLimit > 0 && estimated > hardLimit && !confirmed {
		return nil, coreerr.New(coreerr.GridExplosion,
			fmt.Sprintf("grid of %d combinations exceeds hard limit %d without confirmation", estimated, hardLimit),
			map[string]interface{}{"estimated": estimated, "hard_limit": hardLimit})
	}

	combos := filterCorrelated(cartesian(names, axes), schema.CorrelatedGroups)
	shuffler := rand.New(rand.NewSource(seed)) // #nosec G404 -- Non-cryptographic use: enumeration order needs reproducible randomness for resume
	shuffler.Shuffle(len(combos), func(i, j int) { combos[i], combos[j] = combos[j], combos[i] })
	return combos, nil
}

func axisValues(rng strategy.ParameterRange) []float64 {
	var out []float64
	if rng.Step <= 0 {
		return []float64{rng.Default}
	}
	for v := rng.Min; v <= rng.Max+1e-9; v += rng.Step {
		out = append(out, roundStep(v))
	}
	return out
}

func roundStep(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func cartesian(names []string, axes [][]float64) []ParameterSet {
	combos := []ParameterSet{{}}
	for i, name := range names {
		var next []ParameterSet
		for _, base := range combos {
			for _, v := range axes[i] {
				ps := base.Clone()
				ps[name] = v
				next = append(next, ps)
			}
		}
		combos = next
	}
	return combos
}

func filterCorrelated(combos []ParameterSet, groups [][]string) []ParameterSet {
	if len(groups) == 0 {
		return combos
	}
	out := make([]ParameterSet, 0, len(combos))
	for _, ps := range combos {
		if satisfiesAllGroups(ps, groups) {
			out = append(out, ps)
		}
	}
	return out
}

func satisfiesAllGroups(ps ParameterSet, groups [][]string) bool {
	for _, group := range groups {
		for i := 1; i < len(group); i++ {
			if ps[group[i-1]] >= ps[group[i]] {
				return false
			}
		}
	}
	return true
}

// ApplyParams returns a copy of tmpl with each entry of params substituted
// in: "stop_loss"/"take_profit" set the corresponding Template field
// directly; any other name is resolved against an indicator alias, either
// the dotted "alias.param" form or a bare alias whose primary parameter is
// tuned ("period" when declared or when no parameter is declared, else the
// lexically first declared key; e.g. "ema_short" sets that instance's
// period). A name
// matching neither is an error.
func ApplyParams(tmpl strategy.Template, params ParameterSet) (strategy.Template, error) {
	out := tmpl
	out.Indicators = make([]strategy.IndicatorRef, len(tmpl.Indicators))
	copy(out.Indicators, tmpl.Indicators)

	for name, value := range params {
		switch name {
		case "stop_loss":
			v := value
			out.StopLoss = &v
		case "take_profit":
			v := value
			out.TakeProfit = &v
		default:
			alias, paramKey, dotted := strings.Cut(name, ".")
			idx := indexOfAlias(out.Indicators, alias)
			if idx < 0 {
				return strategy.Template{}, fmt.Errorf("optimization parameter %q matches no indicator alias or risk field", name)
			}
			ref := out.Indicators[idx]
			newParams := make(map[string]float64, len(ref.Params))
			for k, v := range ref.Params {
				newParams[k] = v
			}
			if !dotted {
				paramKey = solePrimaryParam(newParams)
			}
			newParams[paramKey] = value
			ref.Params = newParams
			out.Indicators[idx] = ref
		}
	}
	return out, nil
}

func indexOfAlias(refs []strategy.IndicatorRef, alias string) int {
	for i, r := range refs {
		if r.Alias == alias {
			return i
		}
	}
	return -1
}

// solePrimaryParam returns the key the swept value should land on:
// "period" when present (every builtin single-parameter indicator), else
// the lexically first declared key so the choice is deterministic.
func solePrimaryParam(params map[string]float64) string {
	if _, ok := params["period"]; ok || len(params) == 0 {
		return "period"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}

// RunGrid dispatches combos to a worker pool of size workers (0 means
// runtime.GOMAXPROCS), evaluating each with eval. A combination whose eval
// fails, or panics, is recorded as Failed rather than aborting the sweep:
// panics are recovered at the worker boundary and logged against the
// combination through its Reason field. If the
// fraction of failed combinations reaches failureThreshold, RunGrid returns
// the partial results alongside an error so the caller can abort the
// sweep with a diagnostic.
func RunGrid(ctx context.Context, combos []ParameterSet, workers int, eval EvalFunc, failureThreshold float64) ([]CandidateResult, error) {
	results := make([]CandidateResult, len(combos))

	g, gctx := errgroup.WithContext(ctx)
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)

	for i, ps := range combos {
		i, ps := i, ps
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = CandidateResult{Params: ps, Failed: true, Reason: fmt.Sprintf("panic: %v", r), discovery: i}
				}
			}()
			if gctx.Err() != nil {
				results[i] = CandidateResult{Params: ps, Failed: true, Reason: "cancelled", discovery: i}
				return nil
			}
			metrics, numTrades, err := eval(gctx, ps)
			if err != nil {
				results[i] = CandidateResult{Params: ps, Failed: true, Reason: err.Error(), discovery: i}
				return nil
			}
			results[i] = CandidateResult{Params: ps, Metrics: metrics, NumTrades: numTrades, discovery: i}
			return nil
		})
	}
	_ = g.Wait() // worker goroutines never return an error; failures are recorded per-combination

	if len(combos) > 0 {
		failed := 0
		for _, r := range results {
			if r.Failed {
				failed++
			}
		}
		if float64(failed)/float64(len(combos)) >= failureThreshold {
			return results, coreerr.New(coreerr.SimulationError,
				fmt.Sprintf("%d/%d combinations failed, aborting sweep", failed, len(combos)),
				map[string]interface{}{"failed": failed, "total": len(combos)})
		}
	}
	return results, nil
}

// Select picks the best candidate by obj, descending, tie-broken by higher
// NumTrades then earlier discovery. Failed candidates are never selected.
func Select(results []CandidateResult, obj Objective) *CandidateResult {
	var best *CandidateResult
	for i := range results {
		r := &results[i]
		if r.Failed {
			continue
		}
		if best == nil || better(r, best, obj) {
			best = r
		}
	}
	return best
}

func better(a, b *CandidateResult, obj Objective) bool {
	sa, sb := obj.Score(a.Metrics), obj.Score(b.Metrics)
	if sa != sb {
		return sa > sb
	}
	if a.NumTrades != b.NumTrades {
		return a.NumTrades > b.NumTrades
	}
	return a.discovery < b.discovery
}

// ============================================================================
// COARSE-TO-FINE REFINEMENT
// ============================================================================

// roundSteps are the per-round step multipliers applied to each
// parameter's own configured step: the search starts at 5x the declared
// step and tightens to 1x over four rounds. Scaling the template's own
// step handles integer and fractional parameters uniformly.
var roundSteps = []float64{5, 3, 2, 1}

const topK = 3

// CoarseToFineResult captures one round's top-K candidates, for progress
// reporting and checkpointing by the Job Manager.
type CoarseToFineResult struct {
	Round      int                `json:"round"`
	TopResults []CandidateResult `json:"top_results"`
}

// CoarseToFine runs up to 4 rounds of grid search, each round narrowing
// each parameter's range around the previous round's best values at a
// finer step, branching the top-K (spatially separated) candidates of each
// round so a single local optimum cannot trap the search. seed drives each
// round's enumeration order through GenerateGrid.
func CoarseToFine(ctx context.Context, schema *strategy.OptimizationSchema, seed int64, hardLimit, workers int, eval EvalFunc, obj Objective, failureThreshold float64) ([]CoarseToFineResult, *CandidateResult, error) {
	if schema == nil || len(schema.Parameters) == 0 {
		return nil, nil, fmt.Errorf("coarse-to-fine requires at least one optimization parameter")
	}

	frontier := []strategy.OptimizationSchema{*schema}
	var rounds []CoarseToFineResult
	var globalBest *CandidateResult

	for round := 0; round < len(roundSteps); round++ {
		var roundResults []CandidateResult
		for _, s := range frontier {
			scaled := scaleSchema(s, roundSteps[round])
			combos, err := GenerateGrid(&scaled, seed, hardLimit, true)
			if err != nil {
				return rounds, globalBest, err
			}
			results, err := RunGrid(ctx, combos, workers, eval, failureThreshold)
			if err != nil {
				return rounds, globalBest, err
			}
			roundResults = append(roundResults, results...)
		}

		top := topKSpatiallySeparated(roundResults, obj, topK, schema)
		rounds = append(rounds, CoarseToFineResult{Round: round + 1, TopResults: top})
		for i := range top {
			if globalBest == nil || better(&top[i], globalBest, obj) {
				globalBest = &top[i]
			}
		}
		if len(top) == 0 {
			break
		}

		frontier = frontier[:0]
		for _, cand := range top {
			frontier = append(frontier, narrowSchema(*schema, cand.Params, roundSteps[round]))
		}
	}

	return rounds, globalBest, nil
}

// scaleSchema replaces each parameter's step with its configured step times
// mult, clamped to at least the original step so later rounds never coarsen
// past round 1's resolution.
func scaleSchema(s strategy.OptimizationSchema, mult float64) strategy.OptimizationSchema {
	out := s
	out.Parameters = make(map[string]strategy.ParameterRange, len(s.Parameters))
	for name, rng := range s.Parameters {
		scaled := rng
		scaled.Step = rng.Step * mult
		if scaled.Step <= 0 {
			scaled.Step = rng.Step
		}
		out.Parameters[name] = scaled
	}
	return out
}

// narrowSchema rebuilds a per-parameter range centered on best, width
// ±prevStep (the round just completed), clamped to the declared bounds.
func narrowSchema(base strategy.OptimizationSchema, best ParameterSet, prevMult float64) strategy.OptimizationSchema {
	out := base
	out.Parameters = make(map[string]strategy.ParameterRange, len(base.Parameters))
	for name, rng := range base.Parameters {
		center := best[name]
		width := rng.Step * prevMult
		min := math.Max(rng.Min, center-width)
		max := math.Min(rng.Max, center+width)
		out.Parameters[name] = strategy.ParameterRange{Min: min, Max: max, Step: rng.Step, Default: rng.Default}
	}
	return out
}

// topKSpatiallySeparated returns up to k candidates ranked by obj, skipping
// any candidate whose parameter vector lies within one configured step of
// an already-selected candidate along every axis (spatial separation, so
// the branch set explores distinct basins rather than one neighborhood
// three times over).
func topKSpatiallySeparated(results []CandidateResult, obj Objective, k int, schema *strategy.OptimizationSchema) []CandidateResult {
	sorted := make([]CandidateResult, 0, len(results))
	for _, r := range results {
		if !r.Failed {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return better(&sorted[i], &sorted[j], obj) })

	var picked []CandidateResult
	for _, cand := range sorted {
		if len(picked) >= k {
			break
		}
		separated := true
		for _, p := range picked {
			if isNeighbor(cand.Params, p.Params, schema) {
				separated = false
				break
			}
		}
		if separated {
			picked = append(picked, cand)
		}
	}
	return picked
}

func isNeighbor(a, b ParameterSet, schema *strategy.OptimizationSchema) bool {
	for name, rng := range schema.Parameters {
		step := rng.Step
		if step <= 0 {
			step = 1
		}
		if math.Abs(a[name]-b[name]) > step {
			return false
		}
	}
	return true
}

// ============================================================================
// COORDINATE-DESCENT CONVERGENCE
// ============================================================================

// CoordinateDescentResult reports whether the sweep converged and in how
// many rounds.
type CoordinateDescentResult struct {
	Best      *CandidateResult `json:"best"`
	Rounds    int              `json:"rounds"`
	Converged bool             `json:"converged"`
}

// CoordinateDescent repeats, for up to maxRounds rounds, a sweep of each
// parameter individually (holding every other parameter at its
// current-best value), locking in whichever value improves the objective
// most within that parameter's axis. It declares convergence and stops
// early once a full round changes no parameter's best value.
func CoordinateDescent(ctx context.Context, schema *strategy.OptimizationSchema, start ParameterSet, maxRounds, hardLimit, workers int, eval EvalFunc, obj Objective, failureThreshold float64) (CoordinateDescentResult, error) {
	names := make([]string, 0, len(schema.Parameters))
	for name := range schema.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	current := start.Clone()
	if current == nil {
		current = ParameterSet{}
	}
	for _, name := range names {
		if _, ok := current[name]; !ok {
			current[name] = schema.Parameters[name].Default
		}
	}

	var bestOverall *CandidateResult

	round := 0
	for ; round < maxRounds; round++ {
		changed := false
		for _, name := range names {
			rng := schema.Parameters[name]
			axis := axisValues(rng)

			combos := make([]ParameterSet, 0, len(axis))
			for _, v := range axis {
				ps := current.Clone()
				ps[name] = v
				combos = append(combos, ps)
			}
			results, err := RunGrid(ctx, combos, workers, eval, failureThreshold)
			if err != nil {
				return CoordinateDescentResult{}, err
			}
			best := Select(results, obj)
			if best == nil {
				continue
			}
			if bestOverall == nil || better(best, bestOverall, obj) {
				bestOverall = best
			}
			if current[name] != best.Params[name] {
				current[name] = best.Params[name]
				changed = true
			}
		}
		if !changed {
			return CoordinateDescentResult{Best: bestOverall, Rounds: round + 1, Converged: true}, nil
		}
	}
	return CoordinateDescentResult{Best: bestOverall, Rounds: round, Converged: false}, nil
}
