// Package strategy compiles a declarative Template into an Evaluator: a
// resolved column set plus parsed entry/exit boolean-expression ASTs, ready
// to run bar by bar.
package strategy

// IndicatorRef names one indicator instance within a template and the alias
// its output columns are published under in the evaluation frame.
type IndicatorRef struct {
	Source string             `json:"source" mapstructure:"source"` // always "builtin"
	Name   string             `json:"name" mapstructure:"name"`
	Alias  string             `json:"alias" mapstructure:"alias"`
	Params map[string]float64 `json:"params" mapstructure:"params"`
}

// ParameterRange declares the sweep range for one optimizable parameter.
type ParameterRange struct {
	Min     float64 `json:"min" mapstructure:"min"`
	Max     float64 `json:"max" mapstructure:"max"`
	Step    float64 `json:"step" mapstructure:"step"`
	Default float64 `json:"default" mapstructure:"default"`
}

// OptimizationSchema declares which template fields the parameter-sweep
// optimizer is allowed to vary, plus ordering constraints between them.
type OptimizationSchema struct {
	Parameters       map[string]ParameterRange `json:"parameters" mapstructure:"parameters"`
	CorrelatedGroups [][]string                `json:"correlated_groups,omitempty" mapstructure:"correlated_groups"`
}

// Template is a declarative strategy: indicator instances with aliases,
// entry/exit boolean expressions over those aliases, optional stop-loss and
// take-profit fractions, and an optional optimization schema.
type Template struct {
	Name               string              `json:"name" mapstructure:"name"`
	Indicators         []IndicatorRef      `json:"indicators" mapstructure:"indicators"`
	EntryLogic         string              `json:"entry_logic" mapstructure:"entry_logic"`
	ExitLogic          string              `json:"exit_logic" mapstructure:"exit_logic"`
	StopLoss           *float64            `json:"stop_loss" mapstructure:"stop_loss"`
	TakeProfit         *float64            `json:"take_profit" mapstructure:"take_profit"`
	OptimizationSchema *OptimizationSchema `json:"optimization_schema,omitempty" mapstructure:"optimization_schema"`
}
