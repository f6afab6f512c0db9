package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvaluator() *Evaluator {
	return &Evaluator{
		Columns: map[string][]float64{
			"close":    {10, 11, 9, 12, 14},
			"ema_fast": {5, 6, 7, 8, 9},
			"ema_slow": {6, 6, 6, 6, 6},
		},
		Length: 5,
	}
}

func TestEvalValueNumberLit(t *testing.T) {
	e := testEvaluator()
	v, ok := e.EvalValue(&NumberLit{Value: 42}, 2)
	require.True(t, ok)
	assert.Equal(t, 42.0, v)
}

func TestEvalValueIdentifierInBounds(t *testing.T) {
	e := testEvaluator()
	v, ok := e.EvalValue(&Identifier{Name: "close"}, 3)
	require.True(t, ok)
	assert.Equal(t, 12.0, v)
}

func TestEvalValueIdentifierOutOfBounds(t *testing.T) {
	e := testEvaluator()
	_, ok := e.EvalValue(&Identifier{Name: "close"}, -1)
	assert.False(t, ok)
	_, ok = e.EvalValue(&Identifier{Name: "close"}, 5)
	assert.False(t, ok)
}

func TestEvalValuePrevSuffix(t *testing.T) {
	e := testEvaluator()
	v, ok := e.EvalValue(&Identifier{Name: "close_prev"}, 3)
	require.True(t, ok)
	assert.Equal(t, 9.0, v) // close[2]
}

func TestEvalValueLagCall(t *testing.T) {
	e := testEvaluator()
	call := &CallExpr{Name: "close_lag", Args: []ValueExpr{&NumberLit{Value: 2}}}
	v, ok := e.EvalValue(call, 4)
	require.True(t, ok)
	assert.Equal(t, 9.0, v) // close[2]
}

func TestEvalValueSlopeCall(t *testing.T) {
	e := testEvaluator()
	call := &CallExpr{Name: "close_slope", Args: []ValueExpr{&NumberLit{Value: 1}}}
	v, ok := e.EvalValue(call, 3)
	require.True(t, ok)
	assert.Equal(t, 3.0, v) // close[3]-close[2] = 12-9
}

func TestEvalValueRollmeanCall(t *testing.T) {
	e := testEvaluator()
	call := &CallExpr{Name: "close_rollmean", Args: []ValueExpr{&NumberLit{Value: 3}}}
	v, ok := e.EvalValue(call, 3)
	require.True(t, ok)
	assert.InDelta(t, (11.0+9.0+12.0)/3.0, v, 1e-9)
}

func TestEvalValueRollmeanOutOfBoundsWindow(t *testing.T) {
	e := testEvaluator()
	call := &CallExpr{Name: "close_rollmean", Args: []ValueExpr{&NumberLit{Value: 10}}}
	_, ok := e.EvalValue(call, 3)
	assert.False(t, ok)
}

func TestEvalBoolCompareAndLogic(t *testing.T) {
	e := testEvaluator()
	expr := &AndExpr{
		Left:  &CompareExpr{Op: opGT, Left: &Identifier{Name: "close"}, Right: &NumberLit{Value: 10}},
		Right: &CompareExpr{Op: opLT, Left: &Identifier{Name: "ema_fast"}, Right: &NumberLit{Value: 10}},
	}
	v, ok := e.EvalBool(expr, 1)
	require.True(t, ok)
	assert.True(t, v) // close[1]=11>10, ema_fast[1]=6<10
}

func TestEvalBoolOrShortCircuitsOnTrue(t *testing.T) {
	e := testEvaluator()
	expr := &OrExpr{
		Left:  &CompareExpr{Op: opGT, Left: &Identifier{Name: "close"}, Right: &NumberLit{Value: 0}},
		Right: &CompareExpr{Op: opGT, Left: &Identifier{Name: "missing_column"}, Right: &NumberLit{Value: 0}},
	}
	v, ok := e.EvalBool(expr, 0)
	require.True(t, ok)
	assert.True(t, v)
}

func TestEvalBoolNot(t *testing.T) {
	e := testEvaluator()
	expr := &NotExpr{X: &CompareExpr{Op: opGT, Left: &Identifier{Name: "close"}, Right: &NumberLit{Value: 100}}}
	v, ok := e.EvalBool(expr, 0)
	require.True(t, ok)
	assert.True(t, v)
}

func TestEvalBoolCrossover(t *testing.T) {
	e := testEvaluator()
	// ema_fast: 5,6,7,8,9  ema_slow: 6,6,6,6,6 -> crosses over between index 1 (6<=6) and 2 (7>6)
	pred := &PredicateExpr{Call: &CallExpr{Name: "crossover", Args: []ValueExpr{&Identifier{Name: "ema_fast"}, &Identifier{Name: "ema_slow"}}}}
	v, ok := e.EvalBool(pred, 2)
	require.True(t, ok)
	assert.True(t, v)

	v, ok = e.EvalBool(pred, 3)
	require.True(t, ok)
	assert.False(t, v, "already above, not a fresh cross")
}

func TestEvalBoolCrossunder(t *testing.T) {
	e := &Evaluator{Columns: map[string][]float64{
		"a": {10, 9, 8},
		"b": {9, 9, 9},
	}}
	pred := &PredicateExpr{Call: &CallExpr{Name: "crossunder", Args: []ValueExpr{&Identifier{Name: "a"}, &Identifier{Name: "b"}}}}
	v, ok := e.EvalBool(pred, 2)
	require.True(t, ok)
	assert.True(t, v)
}

func TestEvalBoolCrossoverUnresolvedBeforeSeriesStart(t *testing.T) {
	e := testEvaluator()
	pred := &PredicateExpr{Call: &CallExpr{Name: "crossover", Args: []ValueExpr{&Identifier{Name: "ema_fast"}, &Identifier{Name: "ema_slow"}}}}
	_, ok := e.EvalBool(pred, 0)
	assert.False(t, ok, "bar 0 has no prior bar to compare against")
}
