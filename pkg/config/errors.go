package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field       string
	Value       interface{}
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

func NewConfigValidationError(field string, value interface{}, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// fromValidationErrors converts the first validator failure into a ConfigError
// that names the YAML path of the field.
func fromValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")

	switch fe.Tag() {
	case "required", "required_if":
		cfgErr := NewConfigMissingError(field)
		if fe.Tag() == "required_if" {
			cfgErr.Reason = fmt.Sprintf("required field '%s' is missing for the selected trust mode", field)
		}
		return cfgErr.WithSuggestion(fmt.Sprintf("Add '%s' to the configuration file", field))
	case "oneof":
		return NewConfigValidationError(field, fe.Value(), fmt.Sprintf("must be one of: %s", fe.Param())).
			WithSuggestion(fmt.Sprintf("Use one of: %s", strings.ReplaceAll(fe.Param(), " ", ", ")))
	case "tls_version":
		return NewConfigValidationError(field, fe.Value(), "unsupported TLS version").
			WithSuggestion("Use a valid TLS version: 1.2 or 1.3")
	case "fingerprint":
		return NewConfigValidationError(field, fe.Value(), "not a SHA-256 fingerprint").
			WithSuggestion("Use 64 hex characters, optionally prefixed with 'sha256:' or colon separated")
	case "spiffe_id", "trust_domain":
		return NewConfigValidationError(field, fe.Value(), fmt.Sprintf("not a valid %s", strings.ReplaceAll(fe.Tag(), "_", " "))).
			WithSuggestion("Examples: example.org, spiffe://example.org/service")
	default:
		return NewConfigValidationError(field, fe.Value(), fmt.Sprintf("failed '%s' validation", fe.Tag()))
	}
}
