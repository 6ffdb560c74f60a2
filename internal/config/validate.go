package config

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-version"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	LogFormatAuto: true,
	LogFormatText: true,
	LogFormatJSON: true,
}

var validPackagers = map[string]bool{
	PackagerAuto: true,
	PackagerGzip: true,
	PackagerPigz: true,
}

// Validate checks all configuration values and returns every error found,
// so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", cfg.LogLevel))
	}

	if !validLogFormats[cfg.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", cfg.LogFormat))
	}

	if !validPackagers[cfg.Packager] {
		errs = append(errs, fmt.Errorf("packager: must be one of auto, gzip, pigz; got %q", cfg.Packager))
	}

	if cfg.DefaultTag == "" {
		errs = append(errs, errors.New("default_tag: must not be empty"))
	}

	if _, err := version.NewVersion(cfg.RequiredConfigVersion); err != nil {
		errs = append(errs, fmt.Errorf("required_config_version: %w", err))
	}

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after every
// override layer has been applied.
func ValidateResolved(r *Resolved) error {
	if err := Validate(&r.Config); err != nil {
		return err
	}

	if r.LedgerPath == "" {
		return errors.New("ledger_path: cannot determine a default location; set it explicitly")
	}

	return nil
}
