// Package coreerr defines the stable error taxonomy shared across the
// backtesting core's components.
package coreerr

import "fmt"

// Kind is one of the stable, caller-visible error identifiers.
type Kind string

const (
	InvalidSymbol         Kind = "invalid_symbol"
	InvalidInterval       Kind = "invalid_interval"
	DownloadError         Kind = "download_error"
	TemplateValidationErr Kind = "template_validation_error"
	InsufficientData      Kind = "insufficient_data"
	SimulationError       Kind = "simulation_error"
	GridExplosion         Kind = "grid_explosion"
	Timeout               Kind = "timeout"
	Cancelled             Kind = "cancelled"
)

// Error is the caller-visible error shape: a stable kind, a human message,
// and kind-specific structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	cause   error
}

func New(kind Kind, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is allows errors.Is(err, coreerr.InvalidSymbol) by comparing kinds: any
// *Error target matches when its Kind equals e's, whatever its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf unwraps err looking for a *Error and returns its Kind, or "" if err
// does not carry one.
func KindOf(err error) Kind {
	var ce *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ce = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ce == nil {
		return ""
	}
	return ce.Kind
}
