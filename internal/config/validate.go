package config

import (
	"errors"
	"fmt"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Helper == "" {
		errs = append(errs, ValidationError{
			Field:   "helper",
			Message: "spawn helper path is required",
		})
	}

	if cfg.Interpreter == "" {
		errs = append(errs, ValidationError{
			Field:   "interpreter",
			Message: "must not be empty",
		})
	}

	if cfg.EnvVar == "" && cfg.Environment != "" {
		errs = append(errs, ValidationError{
			Field:   "env_var",
			Message: "must not be empty when -env is set",
		})
	}

	if cfg.AppRoot == "" {
		errs = append(errs, ValidationError{
			Field:   "app_root",
			Message: "must not be empty",
		})
	}

	if cfg.Count < 1 {
		errs = append(errs, ValidationError{
			Field:   "count",
			Message: "must be at least 1",
		})
	}

	if cfg.Interval < 0 {
		errs = append(errs, ValidationError{
			Field:   "interval",
			Message: "must not be negative",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
