package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}

	if cfg.Trust.Mode != ModePlatform {
		t.Errorf("Expected mode %q, got %q", ModePlatform, cfg.Trust.Mode)
	}
	if cfg.HostnameVerification != HostnameStrict {
		t.Errorf("Expected strict hostname verification, got %q", cfg.HostnameVerification)
	}
	if cfg.MinVersion != "1.2" {
		t.Errorf("Expected min_version 1.2, got %q", cfg.MinVersion)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected json logging, got %q", cfg.Logging.Format)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "trust.yaml", `
trust:
  mode: rego
  composition: override
  rego:
    entrypoint: trust/decision
    files:
      - policies/trust.rego
      - /etc/polis/extra.rego
hostname_verification: allow_all
min_version: "1.3"
trust_bundle:
  name: corp
  path: roots.pem
logging:
  level: DEBUG
  format: text
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got, want := cfg.Trust.Rego.Files[0], filepath.Join(dir, "policies", "trust.rego"); got != want {
		t.Errorf("Expected rego file %q, got %q", want, got)
	}
	if got := cfg.Trust.Rego.Files[1]; got != "/etc/polis/extra.rego" {
		t.Errorf("Expected absolute path to be kept, got %q", got)
	}
	if got, want := cfg.TrustBundle.Path, filepath.Join(dir, "roots.pem"); got != want {
		t.Errorf("Expected bundle path %q, got %q", want, got)
	}
	if cfg.Trust.Composition != "override" {
		t.Errorf("Expected override composition, got %q", cfg.Trust.Composition)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected level to be normalized to debug, got %q", cfg.Logging.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "trust.yaml", "trust:\n  mode: platform\n")

	pin := strings.Repeat("ab", 32)
	t.Setenv("POLIS_TRUST_MODE", "pinned")
	t.Setenv("POLIS_TRUST_PINS", "sha256:"+pin+", ")
	t.Setenv("POLIS_TRUST_HOSTNAME_VERIFICATION", "allow_all")
	t.Setenv("POLIS_TRUST_MAX_VERSION", "1.3")
	t.Setenv("POLIS_TRUST_CIPHER_SUITES", "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256")
	t.Setenv("POLIS_TRUST_BUNDLE_PATH", "/etc/ssl/roots.pem")
	t.Setenv("POLIS_TRUST_LOG_LEVEL", "warn")
	t.Setenv("POLIS_TRUST_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("POLIS_TRUST_OTLP_INSECURE", "true")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Trust.Mode != ModePinned {
		t.Errorf("Expected pinned mode, got %q", cfg.Trust.Mode)
	}
	if len(cfg.Trust.Pins) != 1 || cfg.Trust.Pins[0] != "sha256:"+pin {
		t.Errorf("Unexpected pins: %v", cfg.Trust.Pins)
	}
	if cfg.HostnameVerification != HostnameAllowAll {
		t.Errorf("Expected allow_all, got %q", cfg.HostnameVerification)
	}
	if cfg.MaxVersion != "1.3" {
		t.Errorf("Expected max_version 1.3, got %q", cfg.MaxVersion)
	}
	if len(cfg.CipherSuites) != 2 {
		t.Errorf("Expected 2 cipher suites, got %v", cfg.CipherSuites)
	}
	if cfg.TrustBundle == nil || cfg.TrustBundle.Path != "/etc/ssl/roots.pem" {
		t.Errorf("Expected trust bundle from environment, got %+v", cfg.TrustBundle)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected warn level, got %q", cfg.Logging.Level)
	}
	if cfg.Telemetry.OTLPEndpoint != "collector:4317" || !cfg.Telemetry.Insecure {
		t.Errorf("Unexpected telemetry config: %+v", cfg.Telemetry)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "unknown mode",
			yaml:  "trust:\n  mode: trust_everything\n",
			field: "trust.mode",
		},
		{
			name:  "pinned without pins",
			yaml:  "trust:\n  mode: pinned\n",
			field: "trust.pins",
		},
		{
			name:  "malformed pin",
			yaml:  "trust:\n  mode: pinned\n  pins: [\"sha256:zz\"]\n",
			field: "trust.pins[0]",
		},
		{
			name:  "rego without rego block",
			yaml:  "trust:\n  mode: rego\n",
			field: "trust.rego",
		},
		{
			name:  "spiffe with bad trust domain",
			yaml:  "trust:\n  mode: spiffe\n  spiffe:\n    trust_domain: \"Bad Domain\"\n    bundle_file: b.pem\n",
			field: "trust.spiffe.trust_domain",
		},
		{
			name:  "unknown composition",
			yaml:  "trust:\n  mode: platform\n  composition: either\n",
			field: "trust.composition",
		},
		{
			name:  "platform decider with override composition",
			yaml:  "trust:\n  mode: platform\n  composition: override\n",
			field: "trust.composition",
		},
		{
			name:  "rego cache size below -1",
			yaml:  "trust:\n  mode: rego\n  rego:\n    entrypoint: trust/decision\n    files: [trust.rego]\n    cache_size: -2\n",
			field: "trust.rego.cache_size",
		},
		{
			name:  "unknown hostname verification",
			yaml:  "trust:\n  mode: platform\nhostname_verification: loose\n",
			field: "hostname_verification",
		},
		{
			name:  "tls 1.0 refused",
			yaml:  "trust:\n  mode: platform\nmin_version: \"1.0\"\n",
			field: "min_version",
		},
		{
			name:  "inverted version range",
			yaml:  "trust:\n  mode: platform\nmin_version: \"1.3\"\nmax_version: \"1.2\"\n",
			field: "version_range",
		},
		{
			name:  "insecure cipher",
			yaml:  "trust:\n  mode: platform\ncipher_suites: [TLS_RSA_WITH_RC4_128_SHA]\n",
			field: "cipher_suites",
		},
		{
			name:  "bundle with two sources",
			yaml:  "trust:\n  mode: platform\ntrust_bundle:\n  name: x\n  path: a.pem\n  inline: data\n",
			field: "trust_bundle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected validation error")
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected *ConfigError, got %T: %v", err, err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field %q, got %q (%v)", tt.field, cfgErr.Field, err)
			}
		})
	}
}

func TestParseRegoCacheSettings(t *testing.T) {
	cfg, err := Parse([]byte("trust:\n  mode: rego\n  rego:\n    entrypoint: trust/decision\n    files: [trust.rego]\n    cache_size: -1\n    cache_ttl: 30s\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Trust.Rego.CacheSize != -1 {
		t.Errorf("Expected cache_size -1, got %d", cfg.Trust.Rego.CacheSize)
	}
	if cfg.Trust.Rego.CacheTTL != 30*time.Second {
		t.Errorf("Expected cache_ttl 30s, got %s", cfg.Trust.Rego.CacheTTL)
	}
}

func TestValidateConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := Default().Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if structValidator() != structValidator() {
		t.Error("Expected the struct validator to be built once")
	}
}

func TestTrustBundle(t *testing.T) {
	ca, err := pkgtls.GenerateCertificate(pkgtls.CertificateGenerationOptions{
		CommonName: "Bundle CA",
		IsCA:       true,
		KeyType:    "ecdsa",
	})
	if err != nil {
		t.Fatalf("Failed to generate CA: %v", err)
	}

	digest := sha256.Sum256(ca.CertPEM)
	path := writeFile(t, t.TempDir(), "roots.pem", string(ca.CertPEM))

	bundle := &TrustBundle{Name: "corp", Path: path, SHA256: "sha256:" + hex.EncodeToString(digest[:])}
	if err := bundle.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}

	certs, err := bundle.Certificates()
	if err != nil {
		t.Fatalf("Certificates() returned error: %v", err)
	}
	if len(certs) != 1 || !certs[0].Equal(ca.Certificate) {
		t.Fatalf("Unexpected certificates: %d", len(certs))
	}

	pool, err := bundle.CertPool()
	if err != nil || pool == nil {
		t.Fatalf("CertPool() = %v, %v", pool, err)
	}

	tampered := &TrustBundle{Name: "corp", Inline: string(ca.CertPEM), SHA256: strings.Repeat("00", 32)}
	if _, err := tampered.CertPool(); err == nil {
		t.Error("Expected checksum mismatch")
	}

	missing := &TrustBundle{Name: "corp", Path: filepath.Join(t.TempDir(), "missing.pem")}
	if _, err := missing.CertPool(); !errors.Is(err, pkgtls.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}

	empty := &TrustBundle{Name: "corp"}
	if err := empty.Validate(); err == nil {
		t.Error("Expected error for bundle without source")
	}
}
