package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Validate performs configuration validation across every section this core
// reads.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateApp()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateJobs()...)
	errs = append(errs, c.validateOptimizer()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateExchange()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errs ValidationErrors
	if c.App.LogLevel == "" {
		errs = append(errs, ValidationError{Field: "app.log_level", Message: "log level is required (debug, info, warn, error)"})
	}
	if c.App.LogFormat != "" && c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errs = append(errs, ValidationError{Field: "app.log_format", Message: "must be 'json' or 'console'"})
	}
	return errs
}

func (c *Config) validateStore() ValidationErrors {
	var errs ValidationErrors
	if c.Store.Root == "" {
		errs = append(errs, ValidationError{Field: "store.root", Message: "store root directory is required"})
	}
	if c.Store.Exchange == "" {
		errs = append(errs, ValidationError{Field: "store.exchange", Message: "default exchange is required"})
	}
	if c.Store.Inception.IsZero() {
		errs = append(errs, ValidationError{Field: "store.inception", Message: "inception date is required"})
	}
	return errs
}

func (c *Config) validateJobs() ValidationErrors {
	var errs ValidationErrors
	if c.Jobs.Root == "" {
		errs = append(errs, ValidationError{Field: "jobs.root", Message: "jobs root directory is required"})
	}
	if c.Jobs.CheckpointEveryIterations < 1 {
		errs = append(errs, ValidationError{Field: "jobs.checkpoint_every_iterations", Message: "must be at least 1"})
	}
	if c.Jobs.CheckpointEveryInterval <= 0 {
		errs = append(errs, ValidationError{Field: "jobs.checkpoint_every_interval", Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateOptimizer() ValidationErrors {
	var errs ValidationErrors
	if c.Optimizer.Workers < 0 {
		errs = append(errs, ValidationError{Field: "optimizer.workers", Message: "must not be negative"})
	}
	if c.Optimizer.GridHardLimit < 1 {
		errs = append(errs, ValidationError{Field: "optimizer.grid_hard_limit", Message: "must be at least 1"})
	}
	switch c.Optimizer.DefaultObjective {
	case "sharpe", "total_return", "profit_factor":
	default:
		errs = append(errs, ValidationError{Field: "optimizer.default_objective", Message: "must be one of: sharpe, total_return, profit_factor"})
	}
	if c.Optimizer.FailureThreshold <= 0 || c.Optimizer.FailureThreshold > 1 {
		errs = append(errs, ValidationError{Field: "optimizer.failure_threshold", Message: "must be in (0, 1]"})
	}
	return errs
}

func (c *Config) validateCache() ValidationErrors {
	var errs ValidationErrors
	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		errs = append(errs, ValidationError{Field: "cache.redis_addr", Message: "required when cache.enabled is true"})
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		errs = append(errs, ValidationError{Field: "cache.ttl", Message: "must be positive when cache.enabled is true"})
	}
	return errs
}

func (c *Config) validateExchange() ValidationErrors {
	var errs ValidationErrors
	if c.Exchange.RateLimitMS < 0 {
		errs = append(errs, ValidationError{Field: "exchange.rate_limit_ms", Message: "must not be negative"})
	}
	return errs
}
