// Package indicators implements a pure, side-effect-free indicator
// registry: each entry maps a candle series plus parameters to one or more
// named, warmup-tracked column vectors.
package indicators

import (
	"fmt"

	"github.com/ajitpratap0/backtestcore/internal/candle"
)

// ParamType is the declared type of an indicator parameter.
type ParamType string

const (
	ParamInt   ParamType = "int"
	ParamFloat ParamType = "float"
)

// ParamSpec declares one accepted parameter: its type, default, and a
// Min/Max range. The parameter-sweep optimizer does not read Min/Max; it
// takes its ranges from the template's optimization_schema.
type ParamSpec struct {
	Name    string
	Type    ParamType
	Default float64
	Min     float64
	Max     float64
}

// Result is one indicator's output: a set of named column vectors sharing a
// single warmup count (the number of leading sentinel rows).
type Result struct {
	Columns map[string][]float64
	Warmup  int
}

// ComputeFunc computes an indicator's output columns from a candle series
// and a resolved parameter set (already defaulted/validated by the
// registry). It must be pure: identical inputs produce identical outputs,
// with no I/O.
type ComputeFunc func(series candle.Series, params map[string]float64) (Result, error)

// Spec is one registry entry.
type Spec struct {
	Name    string
	Params  []ParamSpec
	Columns []string // column name suffixes produced, combined with the caller's alias
	Compute ComputeFunc
}

// Registry enumerates the fixed set of builtin indicators. New indicators
// are added by registry entry, never by modifying the signal generator or
// strategy compiler.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry builds the registry with the builtin indicator set:
// sma, ema, rsi, macd, bbands, atr, adx, volume_sma.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]Spec)}
	for _, s := range []Spec{
		smaSpec(), emaSpec(), rsiSpec(), macdSpec(), bbandsSpec(),
		atrSpec(), adxSpec(), volumeSMASpec(),
	} {
		r.specs[s.Name] = s
	}
	return r
}

// Lookup returns the spec for name, or an error if unknown; the compiler
// fails a template referencing an unregistered indicator.
func (r *Registry) Lookup(name string) (Spec, error) {
	s, ok := r.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("unknown indicator %q", name)
	}
	return s, nil
}

// ResolveParams merges user-supplied params over each ParamSpec's default,
// rejecting unknown keys.
func (s Spec) ResolveParams(supplied map[string]float64) (map[string]float64, error) {
	known := make(map[string]bool, len(s.Params))
	out := make(map[string]float64, len(s.Params))
	for _, p := range s.Params {
		known[p.Name] = true
		out[p.Name] = p.Default
	}
	for k, v := range supplied {
		if !known[k] {
			return nil, fmt.Errorf("indicator %q has no parameter %q", s.Name, k)
		}
		out[k] = v
	}
	return out, nil
}

func closeColumn(series candle.Series) []float64 {
	out := make([]float64, len(series.Candles))
	for i, c := range series.Candles {
		f, _ := c.Close.Float64()
		out[i] = f
	}
	return out
}

func volumeColumn(series candle.Series) []float64 {
	out := make([]float64, len(series.Candles))
	for i, c := range series.Candles {
		f, _ := c.Volume.Float64()
		out[i] = f
	}
	return out
}

func highColumn(series candle.Series) []float64 {
	out := make([]float64, len(series.Candles))
	for i, c := range series.Candles {
		f, _ := c.High.Float64()
		out[i] = f
	}
	return out
}

func lowColumn(series candle.Series) []float64 {
	out := make([]float64, len(series.Candles))
	for i, c := range series.Candles {
		f, _ := c.Low.Float64()
		out[i] = f
	}
	return out
}
