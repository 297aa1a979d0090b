// Package config loads the trust policy configuration file and turns it into
// TLS client configurations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"gopkg.in/yaml.v3"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

// Trust modes.
const (
	ModePlatform  = "platform"
	ModeAcceptAll = "accept_all"
	ModePinned    = "pinned"
	ModeRego      = "rego"
	ModeSPIFFE    = "spiffe"
)

// Hostname verification policies.
const (
	HostnameStrict   = "strict"
	HostnameAllowAll = "allow_all"
)

// Config holds the trust policy configuration.
type Config struct {
	Trust                TrustConfig     `yaml:"trust"`
	HostnameVerification string          `yaml:"hostname_verification" validate:"oneof=strict allow_all"`
	MinVersion           string          `yaml:"min_version,omitempty" validate:"omitempty,tls_version"`
	MaxVersion           string          `yaml:"max_version,omitempty" validate:"omitempty,tls_version"`
	CipherSuites         []string        `yaml:"cipher_suites,omitempty"`
	TrustBundle          *TrustBundle    `yaml:"trust_bundle,omitempty"`
	Logging              LoggingConfig   `yaml:"logging"`
	Telemetry            TelemetryConfig `yaml:"telemetry"`
}

// TrustConfig selects the trust decider.
type TrustConfig struct {
	Mode        string        `yaml:"mode" validate:"required,oneof=platform accept_all pinned rego spiffe"`
	Composition string        `yaml:"composition,omitempty" validate:"omitempty,oneof=require_both override"`
	Pins        []string      `yaml:"pins,omitempty" validate:"required_if=Mode pinned,dive,fingerprint"`
	Rego        *RegoConfig   `yaml:"rego,omitempty" validate:"required_if=Mode rego"`
	SPIFFE      *SPIFFEConfig `yaml:"spiffe,omitempty" validate:"required_if=Mode spiffe"`
}

// RegoConfig configures the Rego trust decider.
type RegoConfig struct {
	Entrypoint string   `yaml:"entrypoint" validate:"required"`
	Files      []string `yaml:"files" validate:"required,min=1,dive,required"`
	// CacheSize bounds the decision cache. Zero selects the default size and
	// -1 disables caching.
	CacheSize int `yaml:"cache_size,omitempty" validate:"gte=-1"`
	// CacheTTL bounds how long a cached decision is reused. Zero selects the
	// engine default.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty" validate:"gte=0"`
}

// SPIFFEConfig configures the SPIFFE trust decider.
type SPIFFEConfig struct {
	TrustDomain string `yaml:"trust_domain" validate:"required,trust_domain"`
	BundleFile  string `yaml:"bundle_file" validate:"required"`
	ID          string `yaml:"id,omitempty" validate:"omitempty,spiffe_id"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Trust: TrustConfig{
			Mode:        ModePlatform,
			Composition: "require_both",
		},
		HostnameVerification: HostnameStrict,
		MinVersion:           "1.2",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
// Relative paths in the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration without touching the filesystem or the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("POLIS_TRUST_MODE"); val != "" {
		cfg.Trust.Mode = val
	}
	if val := os.Getenv("POLIS_TRUST_COMPOSITION"); val != "" {
		cfg.Trust.Composition = val
	}
	if val := os.Getenv("POLIS_TRUST_PINS"); val != "" {
		cfg.Trust.Pins = splitList(val)
	}
	if val := os.Getenv("POLIS_TRUST_HOSTNAME_VERIFICATION"); val != "" {
		cfg.HostnameVerification = val
	}
	if val := os.Getenv("POLIS_TRUST_MIN_VERSION"); val != "" {
		cfg.MinVersion = val
	}
	if val := os.Getenv("POLIS_TRUST_MAX_VERSION"); val != "" {
		cfg.MaxVersion = val
	}
	if val := os.Getenv("POLIS_TRUST_CIPHER_SUITES"); val != "" {
		cfg.CipherSuites = splitList(val)
	}
	if val := os.Getenv("POLIS_TRUST_BUNDLE_PATH"); val != "" {
		if cfg.TrustBundle == nil {
			cfg.TrustBundle = &TrustBundle{Name: "env"}
		}
		cfg.TrustBundle.Path = val
		cfg.TrustBundle.Inline = ""
	}

	if val := os.Getenv("POLIS_TRUST_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("POLIS_TRUST_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("POLIS_TRUST_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("POLIS_TRUST_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) resolvePaths(baseDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	if c.Trust.Rego != nil {
		for i, f := range c.Trust.Rego.Files {
			c.Trust.Rego.Files[i] = resolve(f)
		}
	}
	if c.Trust.SPIFFE != nil {
		c.Trust.SPIFFE.BundleFile = resolve(c.Trust.SPIFFE.BundleFile)
	}
	if c.TrustBundle != nil {
		c.TrustBundle.Path = resolve(c.TrustBundle.Path)
	}
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	c.normalize()

	if err := structValidator().Struct(c); err != nil {
		return fromValidationErrors(err)
	}

	if c.Trust.Mode == ModePlatform && c.Trust.Composition == "override" {
		return NewConfigValidationError("trust.composition", c.Trust.Composition,
			"the platform decider never rejects, so override would accept every chain the platform rejects").
			WithSuggestion("Use 'composition: require_both' with 'mode: platform'").
			WithSuggestion("Pick a decider that can reject (pinned, rego, spiffe) to use override")
	}

	if err := c.validateVersionRange(); err != nil {
		return err
	}

	if _, err := pkgtls.ParseCipherSuites(c.CipherSuites); err != nil {
		return NewConfigValidationError("cipher_suites", c.CipherSuites, err.Error()).
			WithSuggestion("Use secure cipher suites like TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384").
			WithSuggestion("TLS 1.3 suites are not configurable and always enabled")
	}

	if c.TrustBundle != nil {
		if err := c.TrustBundle.Validate(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) normalize() {
	c.Trust.Mode = strings.ToLower(strings.TrimSpace(c.Trust.Mode))
	c.Trust.Composition = strings.ToLower(strings.TrimSpace(c.Trust.Composition))
	c.HostnameVerification = strings.ToLower(strings.TrimSpace(c.HostnameVerification))
	if c.HostnameVerification == "" {
		c.HostnameVerification = HostnameStrict
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validateVersionRange() error {
	minVer, err := pkgtls.ParseVersion(c.MinVersion)
	if err != nil {
		return NewConfigValidationError("min_version", c.MinVersion, err.Error())
	}
	maxVer, err := pkgtls.ParseVersion(c.MaxVersion)
	if err != nil {
		return NewConfigValidationError("max_version", c.MaxVersion, err.Error())
	}
	if minVer != 0 && maxVer != 0 && minVer > maxVer {
		return NewConfigValidationError("version_range",
			fmt.Sprintf("min_version=%s, max_version=%s", c.MinVersion, c.MaxVersion),
			"min_version cannot be greater than max_version").
			WithSuggestion("Ensure min_version is less than or equal to max_version")
	}
	return nil
}

var (
	validatorOnce   sync.Once
	sharedValidator *validator.Validate
)

// structValidator returns the shared validator. validator.Validate caches
// struct metadata and is safe for concurrent use once its tags are registered.
func structValidator() *validator.Validate {
	validatorOnce.Do(func() {
		sharedValidator = newStructValidator()
	})
	return sharedValidator
}

func newStructValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	_ = validate.RegisterValidation("tls_version", func(fl validator.FieldLevel) bool {
		v, err := pkgtls.ParseVersion(fl.Field().String())
		return err == nil && v >= pkgtls.MinSupportedVersion
	})
	_ = validate.RegisterValidation("fingerprint", func(fl validator.FieldLevel) bool {
		_, err := pkgtls.NormalizeFingerprint(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("spiffe_id", func(fl validator.FieldLevel) bool {
		_, err := spiffeid.FromString(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("trust_domain", func(fl validator.FieldLevel) bool {
		_, err := spiffeid.TrustDomainFromString(fl.Field().String())
		return err == nil
	})

	return validate
}
