package strategy

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/backtestcore/internal/candle"
	"github.com/ajitpratap0/backtestcore/internal/coreerr"
	"github.com/ajitpratap0/backtestcore/internal/indicators"
)

// Compile resolves a Template's indicators against series and parses its
// entry/exit logic into an Evaluator, failing closed with a
// TemplateValidationErr on any unresolved reference.
func Compile(template Template, registry *indicators.Registry, series candle.Series) (*Evaluator, error) {
	base := baseColumns(series)

	warmup := 0
	aliasSeen := make(map[string]bool, len(template.Indicators))

	for _, ref := range template.Indicators {
		if ref.Source != "" && ref.Source != "builtin" {
			return nil, coreerr.New(coreerr.TemplateValidationErr, fmt.Sprintf("indicator %q: unsupported source %q", ref.Alias, ref.Source), nil)
		}
		if ref.Alias == "" {
			return nil, coreerr.New(coreerr.TemplateValidationErr, fmt.Sprintf("indicator %q: alias must not be empty", ref.Name), nil)
		}
		if aliasSeen[ref.Alias] {
			return nil, coreerr.New(coreerr.TemplateValidationErr, fmt.Sprintf("duplicate indicator alias %q", ref.Alias), nil)
		}
		if _, reserved := base[ref.Alias]; reserved {
			return nil, coreerr.New(coreerr.TemplateValidationErr, fmt.Sprintf("indicator alias %q collides with a base OHLCV column", ref.Alias), nil)
		}
		aliasSeen[ref.Alias] = true

		spec, err := registry.Lookup(ref.Name)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.TemplateValidationErr, fmt.Sprintf("indicator %q (alias %q)", ref.Name, ref.Alias), err)
		}
		params, err := spec.ResolveParams(ref.Params)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.TemplateValidationErr, fmt.Sprintf("resolving params for %q", ref.Alias), err)
		}
		result, err := spec.Compute(series, params)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.TemplateValidationErr, fmt.Sprintf("computing %q", ref.Alias), err)
		}
		for suffix, values := range result.Columns {
			colName := ref.Alias
			if suffix != "" {
				colName = ref.Alias + "_" + suffix
			}
			base[colName] = values
		}
		if result.Warmup > warmup {
			warmup = result.Warmup
		}
	}

	entry, err := parseExpr(template.EntryLogic)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TemplateValidationErr, "parsing entry_logic", err)
	}
	exit, err := parseExpr(template.ExitLogic)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TemplateValidationErr, "parsing exit_logic", err)
	}

	known := make(map[string]bool, len(base))
	for name := range base {
		known[name] = true
	}
	if err := checkNamesBool(entry, known); err != nil {
		return nil, coreerr.Wrap(coreerr.TemplateValidationErr, "entry_logic references an unresolved column", err)
	}
	if err := checkNamesBool(exit, known); err != nil {
		return nil, coreerr.Wrap(coreerr.TemplateValidationErr, "exit_logic references an unresolved column", err)
	}

	return &Evaluator{
		Columns: base,
		Length:  len(series.Candles),
		Warmup:  warmup,
		Entry:   entry,
		Exit:    exit,
	}, nil
}

func baseColumns(series candle.Series) map[string][]float64 {
	n := len(series.Candles)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closeCol := make([]float64, n)
	volume := make([]float64, n)
	for i, c := range series.Candles {
		open[i], _ = c.Open.Float64()
		high[i], _ = c.High.Float64()
		low[i], _ = c.Low.Float64()
		closeCol[i], _ = c.Close.Float64()
		volume[i], _ = c.Volume.Float64()
	}
	return map[string][]float64{
		"open":   open,
		"high":   high,
		"low":    low,
		"close":  closeCol,
		"volume": volume,
	}
}

// checkNamesBool walks a boolean expression tree validating every value
// reference resolves against known columns (directly, or via a _prev/_lag/
// _slope/_rollmean derivation) before the Evaluator is ever run.
func checkNamesBool(b BoolExpr, known map[string]bool) error {
	switch t := b.(type) {
	case *AndExpr:
		if err := checkNamesBool(t.Left, known); err != nil {
			return err
		}
		return checkNamesBool(t.Right, known)
	case *OrExpr:
		if err := checkNamesBool(t.Left, known); err != nil {
			return err
		}
		return checkNamesBool(t.Right, known)
	case *NotExpr:
		return checkNamesBool(t.X, known)
	case *CompareExpr:
		if err := checkNamesValue(t.Left, known); err != nil {
			return err
		}
		return checkNamesValue(t.Right, known)
	case *PredicateExpr:
		if _, ok := predicateNames[t.Call.Name]; !ok {
			return fmt.Errorf("unknown predicate %q", t.Call.Name)
		}
		if len(t.Call.Args) != predicateNames[t.Call.Name] {
			return fmt.Errorf("%s expects %d arguments, got %d", t.Call.Name, predicateNames[t.Call.Name], len(t.Call.Args))
		}
		for _, arg := range t.Call.Args {
			if err := checkNamesValue(arg, known); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unrecognized boolean expression node")
	}
}

func checkNamesValue(v ValueExpr, known map[string]bool) error {
	switch t := v.(type) {
	case *NumberLit:
		return nil
	case *Identifier:
		if known[t.Name] {
			return nil
		}
		if base, ok := strings.CutSuffix(t.Name, "_prev"); ok && known[base] {
			return nil
		}
		return fmt.Errorf("unresolved identifier %q", t.Name)
	case *CallExpr:
		for _, suffix := range derivedSuffixes {
			if base, ok := strings.CutSuffix(t.Name, suffix); ok {
				if !known[base] {
					return fmt.Errorf("derived column %q references unknown base %q", t.Name, base)
				}
				if len(t.Args) != 1 {
					return fmt.Errorf("%s expects exactly one argument", t.Name)
				}
				return checkNamesValue(t.Args[0], known)
			}
		}
		return fmt.Errorf("unrecognized derived column or predicate %q used as a value", t.Name)
	default:
		return fmt.Errorf("unrecognized value expression node")
	}
}
