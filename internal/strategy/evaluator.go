package strategy

import "strings"

// Evaluator is a compiled Template bound to one candle series: a resolved
// column frame plus parsed entry/exit boolean-expression trees, evaluated
// one bar at a time.
type Evaluator struct {
	Columns map[string][]float64
	Length  int
	Warmup  int
	Entry   BoolExpr
	Exit    BoolExpr
}

var derivedSuffixes = []string{"_lag", "_slope", "_rollmean"}

// EvalValue resolves a ValueExpr at bar i. ok is false when the reference
// falls outside the series (before index 0, or a lag/slope window reaching
// past the start); callers must treat that bar as HOLD.
func (e *Evaluator) EvalValue(v ValueExpr, i int) (float64, bool) {
	switch t := v.(type) {
	case *NumberLit:
		return t.Value, true
	case *Identifier:
		return e.resolveIdentifier(t.Name, i)
	case *CallExpr:
		return e.evalDerivedCall(t, i)
	default:
		return 0, false
	}
}

// EvalBool resolves a BoolExpr at bar i. AND and OR short-circuit on a
// resolved left operand (false for AND, true for OR) without looking at the
// right one; otherwise ok is false when an operand fell outside the series.
// The signal generator treats an unresolved bar as HOLD.
func (e *Evaluator) EvalBool(b BoolExpr, i int) (bool, bool) {
	switch t := b.(type) {
	case *AndExpr:
		l, lok := e.EvalBool(t.Left, i)
		if lok && !l {
			return false, true
		}
		r, rok := e.EvalBool(t.Right, i)
		if !lok || !rok {
			return false, false
		}
		return l && r, true
	case *OrExpr:
		l, lok := e.EvalBool(t.Left, i)
		if lok && l {
			return true, true
		}
		r, rok := e.EvalBool(t.Right, i)
		if !lok || !rok {
			return false, false
		}
		return l || r, true
	case *NotExpr:
		x, ok := e.EvalBool(t.X, i)
		if !ok {
			return false, false
		}
		return !x, true
	case *CompareExpr:
		return e.evalCompare(t, i)
	case *PredicateExpr:
		return e.evalPredicate(t, i)
	default:
		return false, false
	}
}

func (e *Evaluator) evalCompare(c *CompareExpr, i int) (bool, bool) {
	l, lok := e.EvalValue(c.Left, i)
	r, rok := e.EvalValue(c.Right, i)
	if !lok || !rok {
		return false, false
	}
	switch c.Op {
	case opLT:
		return l < r, true
	case opLE:
		return l <= r, true
	case opGT:
		return l > r, true
	case opGE:
		return l >= r, true
	case opEQ:
		return l == r, true
	case opNEQ:
		return l != r, true
	default:
		return false, false
	}
}

// evalPredicate evaluates crossover(a,b) as a[i-1] <= b[i-1] && a[i] > b[i],
// and crossunder(a,b) as its mirror.
func (e *Evaluator) evalPredicate(p *PredicateExpr, i int) (bool, bool) {
	if len(p.Call.Args) != 2 {
		return false, false
	}
	a, b := p.Call.Args[0], p.Call.Args[1]
	aCur, ok1 := e.EvalValue(a, i)
	bCur, ok2 := e.EvalValue(b, i)
	aPrev, ok3 := e.EvalValue(a, i-1)
	bPrev, ok4 := e.EvalValue(b, i-1)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false, false
	}
	switch p.Call.Name {
	case "crossover":
		return aPrev <= bPrev && aCur > bCur, true
	case "crossunder":
		return aPrev >= bPrev && aCur < bCur, true
	default:
		return false, false
	}
}

func (e *Evaluator) resolveIdentifier(name string, i int) (float64, bool) {
	if col, ok := e.Columns[name]; ok {
		return at(col, i)
	}
	if base, ok := strings.CutSuffix(name, "_prev"); ok {
		if col, ok := e.Columns[base]; ok {
			return at(col, i-1)
		}
	}
	return 0, false
}

func (e *Evaluator) evalDerivedCall(call *CallExpr, i int) (float64, bool) {
	for _, suffix := range derivedSuffixes {
		base, ok := strings.CutSuffix(call.Name, suffix)
		if !ok {
			continue
		}
		col, ok := e.Columns[base]
		if !ok || len(call.Args) != 1 {
			return 0, false
		}
		nVal, ok := e.EvalValue(call.Args[0], i)
		if !ok {
			return 0, false
		}
		n := int(nVal)
		switch suffix {
		case "_lag":
			return at(col, i-n)
		case "_slope":
			cur, ok1 := at(col, i)
			prev, ok2 := at(col, i-n)
			if !ok1 || !ok2 {
				return 0, false
			}
			return cur - prev, true
		case "_rollmean":
			return rollMean(col, i, n)
		}
	}
	return 0, false
}

func at(col []float64, i int) (float64, bool) {
	if i < 0 || i >= len(col) {
		return 0, false
	}
	return col[i], true
}

func rollMean(col []float64, i, n int) (float64, bool) {
	if n <= 0 || i-n+1 < 0 || i >= len(col) {
		return 0, false
	}
	sum := 0.0
	for k := i - n + 1; k <= i; k++ {
		sum += col[k]
	}
	return sum / float64(n), true
}
