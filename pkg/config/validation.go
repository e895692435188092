package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.PVWire.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Adapters.PVWire.Port {
		return fmt.Errorf("metrics.port: %d is already used by the pvwire adapter", cfg.Metrics.Port)
	}

	// Ring modes label an mbbi record; duplicates would make two indexes
	// map to the same label.
	seen := make(map[string]bool, len(cfg.ATIP.RingModes))
	for i, mode := range cfg.ATIP.RingModes {
		if seen[mode] {
			return fmt.Errorf("atip.ring_modes[%d]: duplicate ring mode %q", i, mode)
		}
		seen[mode] = true
	}

	if !cfg.RingMode.SkipLive && len(cfg.CATools.AddrList) == 0 {
		return fmt.Errorf("catools.addr_list: required for the live ring-mode read")
	}

	if cfg.Autosave.Restore && cfg.Autosave.Type == "none" {
		return fmt.Errorf("autosave.restore: requires an autosave store (type is none)")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
