package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/backtestcore/internal/strategy"
)

func crossPredicate(name string) strategy.BoolExpr {
	return &strategy.PredicateExpr{Call: &strategy.CallExpr{
		Name: name,
		Args: []strategy.ValueExpr{&strategy.Identifier{Name: "fast"}, &strategy.Identifier{Name: "slow"}},
	}}
}

func crossoverEvaluator() *strategy.Evaluator {
	// fast crosses above slow at index 2, crosses back below at index 5.
	fast := []float64{5, 6, 7, 8, 7, 5, 5}
	slow := []float64{6, 6, 6, 6, 6, 6, 6}
	return &strategy.Evaluator{
		Columns: map[string][]float64{"fast": fast, "slow": slow},
		Length:  len(fast),
		Warmup:  0,
		Entry:   crossPredicate("crossover"),
		Exit:    crossPredicate("crossunder"),
	}
}

func TestGenerateEntersOnCrossoverAndExitsOnCrossunder(t *testing.T) {
	ev := crossoverEvaluator()
	signals := Generate(ev)
	require.Len(t, signals, 7)
	assert.Equal(t, EnterLong, signals[2])
	assert.Equal(t, Hold, signals[3])
	assert.Equal(t, Hold, signals[4])
	assert.Equal(t, Exit, signals[5])
	assert.Equal(t, Hold, signals[6])
}

func TestGenerateHoldsBeforeWarmup(t *testing.T) {
	ev := crossoverEvaluator()
	ev.Warmup = 3
	signals := Generate(ev)
	assert.Equal(t, Hold, signals[2], "warmup suppresses the crossover that would otherwise fire at index 2")
}

func TestGenerateNeverOpensTwoPositionsAtOnce(t *testing.T) {
	ev := &strategy.Evaluator{
		Columns: map[string][]float64{
			"fast": {5, 10, 10, 10, 10},
			"slow": {6, 6, 6, 6, 6},
		},
		Length: 5,
		Entry:  crossPredicate("crossover"),
		Exit:   crossPredicate("crossunder"),
	}

	signals := Generate(ev)
	opens := 0
	for _, s := range signals {
		if s == EnterLong {
			opens++
		}
	}
	assert.Equal(t, 1, opens, "fast stays above slow after the first cross, so no repeat ENTER_LONG fires")
}
