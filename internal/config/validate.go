package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
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
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	// Exactly one way to reach the master.
	if cfg.ConnectPath != "" && cfg.SocketFD != DefaultConfig().SocketFD {
		errs = append(errs, ValidationError{
			Field:   "connect",
			Message: "-connect and -fd are mutually exclusive",
		})
	}
	if cfg.ConnectPath == "" && cfg.SocketFD < 0 {
		errs = append(errs, ValidationError{
			Field:   "fd",
			Message: "must be a non-negative descriptor",
		})
	}
	if cfg.ConnectPath == "" && cfg.SocketFD <= 2 {
		errs = append(errs, ValidationError{
			Field:   "fd",
			Message: "descriptors 0-2 are stdio; the master socket must be above them",
		})
	}

	if cfg.DefaultTimeout == 0 {
		errs = append(errs, ValidationError{
			Field:   "default_timeout",
			Message: "must be at least 1 second",
		})
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: fmt.Sprintf("not a host:port address: %v", err),
			})
		}
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf(`must be "json" or "text" (got %q)`, cfg.LogFormat),
		})
	}

	return errors.Join(errs...)
}
