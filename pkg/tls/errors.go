package tls

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TLSErrorType represents different categories of TLS errors
type TLSErrorType string

const (
	// Configuration errors
	ErrorTypeConfigValidation TLSErrorType = "config_validation"
	ErrorTypeConfigMissing    TLSErrorType = "config_missing"

	// Provider errors
	ErrorTypeSecurityInitialization TLSErrorType = "security_initialization"

	// Certificate errors
	ErrorTypeCertificateUntrusted TLSErrorType = "certificate_untrusted"
	ErrorTypeCertificateParsing   TLSErrorType = "certificate_parsing"
	ErrorTypeHostnameMismatch     TLSErrorType = "hostname_mismatch"

	// File system errors
	ErrorTypeFileNotFound TLSErrorType = "file_not_found"
)

var (
	// ErrSecurityInitialization matches every error raised while the TLS
	// context could not be initialised.
	ErrSecurityInitialization = errors.New("security initialization failed")
	// ErrUntrusted matches every trust rejection.
	ErrUntrusted = errors.New("certificate chain not trusted")
	// ErrHostnameMismatch matches every hostname verification failure.
	ErrHostnameMismatch = errors.New("hostname does not match certificate")
	// ErrFileNotFound matches missing certificate, key and bundle files.
	ErrFileNotFound = errors.New("file not found")
)

// TLSError represents a structured TLS error with context
type TLSError struct {
	Type        TLSErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Suggestions []string
}

// Error implements the error interface
func (e *TLSError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", string(e.Type)))
	parts = append(parts, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for key := range e.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, key := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", key, e.Context[key]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

// Unwrap returns the underlying error for error unwrapping
func (e *TLSError) Unwrap() error {
	return e.Cause
}

// Is reports whether the error belongs to the category represented by target.
func (e *TLSError) Is(target error) bool {
	switch target {
	case ErrSecurityInitialization:
		return e.Type == ErrorTypeSecurityInitialization
	case ErrUntrusted:
		return e.Type == ErrorTypeCertificateUntrusted
	case ErrHostnameMismatch:
		return e.Type == ErrorTypeHostnameMismatch
	case ErrFileNotFound:
		return e.Type == ErrorTypeFileNotFound
	}
	return false
}

// WithContext adds context information to the error
func (e *TLSError) WithContext(key string, value interface{}) *TLSError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for resolving the error
func (e *TLSError) WithSuggestion(suggestion string) *TLSError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// GetDetailedMessage returns a detailed error message with suggestions
func (e *TLSError) GetDetailedMessage() string {
	message := e.Error()

	if len(e.Suggestions) > 0 {
		message += "\n\nSuggestions:"
		for i, suggestion := range e.Suggestions {
			message += fmt.Sprintf("\n  %d. %s", i+1, suggestion)
		}
	}

	return message
}

// NewTLSError creates a new TLS error with the specified type and message
func NewTLSError(errorType TLSErrorType, message string) *TLSError {
	return &TLSError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewTLSErrorWithCause creates a new TLS error with an underlying cause
func NewTLSErrorWithCause(errorType TLSErrorType, message string, cause error) *TLSError {
	return &TLSError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewSecurityInitializationError reports that the provider could not produce a
// usable TLS context.
func NewSecurityInitializationError(reason string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeSecurityInitialization, fmt.Sprintf("cannot initialize TLS context: %s", reason), cause).
		WithContext("reason", reason).
		WithSuggestion("Check the configured TLS protocol versions and cipher suites").
		WithSuggestion("Verify the trust provider can load its root certificates")
}

func NewConfigValidationError(field string, value interface{}, reason string) *TLSError {
	return NewTLSError(ErrorTypeConfigValidation, fmt.Sprintf("invalid configuration field '%s'", field)).
		WithContext("field", field).
		WithContext("value", value).
		WithContext("reason", reason).
		WithSuggestion(fmt.Sprintf("Check the '%s' field in your TLS configuration", field))
}

func NewConfigMissingError(field string) *TLSError {
	return NewTLSError(ErrorTypeConfigMissing, fmt.Sprintf("required configuration field '%s' is missing", field)).
		WithContext("field", field).
		WithSuggestion(fmt.Sprintf("Add the '%s' field to your TLS configuration", field))
}

// NewUntrustedError reports a chain rejected at the given stage.
func NewUntrustedError(stage, subject string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeCertificateUntrusted, "certificate chain rejected", cause).
		WithContext("stage", stage).
		WithContext("subject", subject).
		WithSuggestion("Verify the server presents a complete chain signed by a trusted CA").
		WithSuggestion("Add the issuing CA to the trust bundle or adjust the trust decider")
}

// NewHostnameMismatchError reports that the leaf certificate is not valid for host.
func NewHostnameMismatchError(host string, names []string) *TLSError {
	return NewTLSError(ErrorTypeHostnameMismatch, fmt.Sprintf("certificate is not valid for host %q", host)).
		WithContext("host", host).
		WithContext("certificate_names", strings.Join(names, ",")).
		WithSuggestion("Connect using a hostname listed in the certificate's subject alternative names").
		WithSuggestion("Reissue the certificate with the correct DNS names")
}

func NewCertificateParsingError(source string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeCertificateParsing, "failed to parse certificate data", cause).
		WithContext("source", source).
		WithSuggestion("Ensure the file contains PEM encoded CERTIFICATE blocks")
}

func NewFileNotFoundError(filePath string) *TLSError {
	return NewTLSError(ErrorTypeFileNotFound, fmt.Sprintf("file not found: %s", filePath)).
		WithContext("file_path", filePath).
		WithSuggestion("Verify the file path is correct")
}

// IsSecurityInitializationError reports whether err was raised while building
// a TLS context.
func IsSecurityInitializationError(err error) bool {
	return errors.Is(err, ErrSecurityInitialization)
}

// IsTrustError reports whether err is a trust or hostname rejection.
func IsTrustError(err error) bool {
	return errors.Is(err, ErrUntrusted) || errors.Is(err, ErrHostnameMismatch)
}

func IsConfigurationError(err error) bool {
	var tlsErr *TLSError
	if errors.As(err, &tlsErr) {
		switch tlsErr.Type {
		case ErrorTypeConfigValidation, ErrorTypeConfigMissing:
			return true
		}
	}
	return false
}

// GetRecoverySuggestions returns the suggestions attached to err, if any.
func GetRecoverySuggestions(err error) []string {
	var tlsErr *TLSError
	if errors.As(err, &tlsErr) {
		return tlsErr.Suggestions
	}
	return []string{"Check logs for more details", "Verify TLS configuration is correct"}
}

// Error severity levels
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func GetErrorSeverity(err error) ErrorSeverity {
	var tlsErr *TLSError
	if errors.As(err, &tlsErr) {
		switch tlsErr.Type {
		case ErrorTypeSecurityInitialization, ErrorTypeConfigValidation, ErrorTypeConfigMissing:
			return SeverityCritical
		case ErrorTypeCertificateUntrusted, ErrorTypeHostnameMismatch, ErrorTypeFileNotFound:
			return SeverityError
		case ErrorTypeCertificateParsing:
			return SeverityWarning
		default:
			return SeverityInfo
		}
	}
	return SeverityError
}
