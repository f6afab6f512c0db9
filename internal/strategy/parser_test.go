package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleComparison(t *testing.T) {
	expr, err := parseExpr("close > sma_fast")
	require.NoError(t, err)
	cmp, ok := expr.(*CompareExpr)
	require.True(t, ok)
	assert.Equal(t, opGT, cmp.Op)
}

func TestParseAndOrPrecedence(t *testing.T) {
	// AND binds tighter than OR: "a OR b AND c" == "a OR (b AND c)"
	expr, err := parseExpr("close > 1 OR close < 1 AND volume > 0")
	require.NoError(t, err)
	or, ok := expr.(*OrExpr)
	require.True(t, ok)
	_, ok = or.Right.(*AndExpr)
	assert.True(t, ok, "right side of OR should be the AND subtree")
}

func TestParseNotBindsTighterThanAnd(t *testing.T) {
	expr, err := parseExpr("NOT close > 1 AND volume > 0")
	require.NoError(t, err)
	and, ok := expr.(*AndExpr)
	require.True(t, ok)
	_, ok = and.Left.(*NotExpr)
	assert.True(t, ok)
}

func TestParseParenthesizedGroup(t *testing.T) {
	expr, err := parseExpr("(close > 1 OR volume > 0) AND close < 100")
	require.NoError(t, err)
	and, ok := expr.(*AndExpr)
	require.True(t, ok)
	_, ok = and.Left.(*OrExpr)
	assert.True(t, ok)
}

func TestParseCrossoverPredicate(t *testing.T) {
	expr, err := parseExpr("crossover(ema_fast, ema_slow)")
	require.NoError(t, err)
	pred, ok := expr.(*PredicateExpr)
	require.True(t, ok)
	assert.Equal(t, "crossover", pred.Call.Name)
	assert.Len(t, pred.Call.Args, 2)
}

func TestParseDerivedColumnInComparison(t *testing.T) {
	expr, err := parseExpr("close_slope(5) > 0")
	require.NoError(t, err)
	cmp, ok := expr.(*CompareExpr)
	require.True(t, ok)
	call, ok := cmp.Left.(*CallExpr)
	require.True(t, ok)
	assert.Equal(t, "close_slope", call.Name)
}

func TestParseRejectsBareNonPredicateCall(t *testing.T) {
	_, err := parseExpr("close_slope(5)")
	assert.Error(t, err)
}

func TestParseRejectsUnbalancedParens(t *testing.T) {
	_, err := parseExpr("(close > 1 AND volume > 0")
	assert.Error(t, err)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := parseExpr("close > 1)")
	assert.Error(t, err)
}

func TestParseNegativeNumberLiteral(t *testing.T) {
	expr, err := parseExpr("close_slope(3) > -1.5")
	require.NoError(t, err)
	cmp := expr.(*CompareExpr)
	lit, ok := cmp.Right.(*NumberLit)
	require.True(t, ok)
	assert.Equal(t, -1.5, lit.Value)
}
