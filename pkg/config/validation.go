package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of cfg and the rules that span fields.
// It does not modify cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return errors.New("telemetry.profiling.endpoint is required when profiling is enabled")
	}

	seen := make(map[string]struct{}, len(cfg.Regions))
	for i, rc := range cfg.Regions {
		if rc.Name == "" {
			return fmt.Errorf("regions[%d].name is required", i)
		}
		if _, dup := seen[rc.Name]; dup {
			return fmt.Errorf("region %q is configured twice", rc.Name)
		}
		seen[rc.Name] = struct{}{}

		if rc.DiskEnabled() && rc.Disk.Path == "" {
			return fmt.Errorf("region %q: disk.path is required when the disk tier is enabled", rc.Name)
		}
	}
	return nil
}

// formatValidationErrors renders each failed field as
// "Config.Logging.Level: failed 'oneof' (INFO)".
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s: failed '%s'", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return errors.New(strings.Join(msgs, "; "))
}
