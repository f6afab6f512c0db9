package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ajitpratap0/backtestcore/internal/indicators"
)

// ValidationError contains details about validation failures
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// ErrInvalidSchema is returned when the schema version is not supported
var ErrInvalidSchema = errors.New("invalid or unsupported schema version")

// ErrMissingRequiredField is returned when a required field is missing
var ErrMissingRequiredField = errors.New("missing required field")

// SupportedSchemaVersions lists all supported schema versions
var SupportedSchemaVersions = []string{"1.0"}

// ValidateQuick performs cheap structural validation that needs neither an
// indicator registry nor a candle series: the checks a caller should run
// before ever touching storage. It returns ValidationErrors with every
// issue found, not just the first.
func (t *Template) ValidateQuick() error {
	var errs ValidationErrors

	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "must not be empty"})
	}

	errs = append(errs, t.validateIndicatorShapes()...)
	errs = append(errs, t.validateLogicSyntax()...)
	errs = append(errs, t.validateRiskFields()...)
	errs = append(errs, t.validateOptimizationSchema()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate performs full validation: ValidateQuick plus resolving every
// indicator reference and its parameters against registry. It does not
// require a candle series; Compile is the step that needs one.
func (t *Template) Validate(registry *indicators.Registry) error {
	var errs ValidationErrors
	if err := t.ValidateQuick(); err != nil {
		if ve, ok := err.(ValidationErrors); ok {
			errs = append(errs, ve...)
		} else {
			errs = append(errs, ValidationError{Field: "template", Message: err.Error()})
		}
	}
	errs = append(errs, t.validateIndicatorsAgainstRegistry(registry)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (t *Template) validateIndicatorShapes() ValidationErrors {
	var errs ValidationErrors
	if len(t.Indicators) == 0 {
		errs = append(errs, ValidationError{Field: "indicators", Message: "template must declare at least one indicator"})
		return errs
	}
	seen := make(map[string]bool, len(t.Indicators))
	for i, ref := range t.Indicators {
		field := fmt.Sprintf("indicators[%d]", i)
		if strings.TrimSpace(ref.Name) == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "must not be empty"})
		}
		if strings.TrimSpace(ref.Alias) == "" {
			errs = append(errs, ValidationError{Field: field + ".alias", Message: "must not be empty"})
		} else if seen[ref.Alias] {
			errs = append(errs, ValidationError{Field: field + ".alias", Message: fmt.Sprintf("duplicate alias %q", ref.Alias)})
		}
		seen[ref.Alias] = true
		if ref.Source != "" && ref.Source != "builtin" {
			errs = append(errs, ValidationError{Field: field + ".source", Message: fmt.Sprintf("unsupported source %q, only \"builtin\" is implemented", ref.Source)})
		}
	}
	return errs
}

func (t *Template) validateLogicSyntax() ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(t.EntryLogic) == "" {
		errs = append(errs, ValidationError{Field: "entry_logic", Message: "must not be empty"})
	} else if _, err := parseExpr(t.EntryLogic); err != nil {
		errs = append(errs, ValidationError{Field: "entry_logic", Message: err.Error()})
	}
	if strings.TrimSpace(t.ExitLogic) == "" {
		errs = append(errs, ValidationError{Field: "exit_logic", Message: "must not be empty"})
	} else if _, err := parseExpr(t.ExitLogic); err != nil {
		errs = append(errs, ValidationError{Field: "exit_logic", Message: err.Error()})
	}
	return errs
}

func (t *Template) validateRiskFields() ValidationErrors {
	var errs ValidationErrors
	if t.StopLoss != nil && (*t.StopLoss <= 0 || *t.StopLoss >= 1) {
		errs = append(errs, ValidationError{Field: "stop_loss", Message: "must be a fraction in (0, 1)"})
	}
	if t.TakeProfit != nil && *t.TakeProfit <= 0 {
		errs = append(errs, ValidationError{Field: "take_profit", Message: "must be a positive fraction"})
	}
	return errs
}

func (t *Template) validateOptimizationSchema() ValidationErrors {
	var errs ValidationErrors
	if t.OptimizationSchema == nil {
		return errs
	}
	for name, rng := range t.OptimizationSchema.Parameters {
		field := fmt.Sprintf("optimization_schema.parameters[%s]", name)
		if rng.Min >= rng.Max {
			errs = append(errs, ValidationError{Field: field, Message: "min must be less than max"})
		}
		if rng.Step <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "step must be positive"})
		}
		if rng.Default < rng.Min || rng.Default > rng.Max {
			errs = append(errs, ValidationError{Field: field, Message: "default must fall within [min, max]"})
		}
	}
	for gi, group := range t.OptimizationSchema.CorrelatedGroups {
		field := fmt.Sprintf("optimization_schema.correlated_groups[%d]", gi)
		if len(group) < 2 {
			errs = append(errs, ValidationError{Field: field, Message: "a correlated group must name at least two parameters"})
			continue
		}
		for _, name := range group {
			if _, ok := t.OptimizationSchema.Parameters[name]; !ok {
				errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("references undeclared parameter %q", name)})
			}
		}
	}
	return errs
}

func (t *Template) validateIndicatorsAgainstRegistry(registry *indicators.Registry) ValidationErrors {
	var errs ValidationErrors
	for i, ref := range t.Indicators {
		field := fmt.Sprintf("indicators[%d]", i)
		if strings.TrimSpace(ref.Name) == "" || strings.TrimSpace(ref.Alias) == "" {
			continue // already reported by validateIndicatorShapes
		}
		spec, err := registry.Lookup(ref.Name)
		if err != nil {
			errs = append(errs, ValidationError{Field: field + ".name", Message: err.Error()})
			continue
		}
		if _, err := spec.ResolveParams(ref.Params); err != nil {
			errs = append(errs, ValidationError{Field: field + ".params", Message: err.Error()})
		}
	}
	return errs
}
