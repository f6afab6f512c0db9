// Package signal turns a compiled strategy evaluator into the per-bar
// {HOLD, ENTER_LONG, EXIT} decision vector. The
// Execution Simulator (pkg/backtest) re-derives the same entry/exit
// decisions inline as it walks the series, since fills and position state
// are interleaved with signal evaluation; this package exists so the
// decision vector can be produced and inspected on its own, independent of
// any fee/slippage/stop modeling.
package signal

import "github.com/ajitpratap0/backtestcore/internal/strategy"

// Signal is one bar's decision. Only long-only spot is modeled.
type Signal int

const (
	Hold Signal = iota
	EnterLong
	Exit
)

func (s Signal) String() string {
	switch s {
	case EnterLong:
		return "ENTER_LONG"
	case Exit:
		return "EXIT"
	default:
		return "HOLD"
	}
}

// Generate threads FLAT/LONG state across a single forward pass over the
// evaluator's series, evaluating exit_logic while a position is open and
// entry_logic while flat. Bars before the evaluator's warmup, or any bar
// where the relevant predicate cannot be resolved (a lag/slope/rollmean
// window reaching before index 0), hold. Columns carry no warmup of their
// own: an indicator's leading sentinel values resolve like any other
// number, so a lagged or windowed reference made after the warmup can
// still read them.
func Generate(ev *strategy.Evaluator) []Signal {
	out := make([]Signal, ev.Length)
	open := false
	for i := 0; i < ev.Length; i++ {
		if i < ev.Warmup {
			continue
		}
		if open {
			exit, ok := ev.EvalBool(ev.Exit, i)
			if ok && exit {
				out[i] = Exit
				open = false
			}
			continue
		}
		enter, ok := ev.EvalBool(ev.Entry, i)
		if ok && enter {
			out[i] = EnterLong
			open = true
		}
	}
	return out
}
