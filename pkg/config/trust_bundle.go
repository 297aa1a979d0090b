package config

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

// TrustBundle is a PEM bundle of root certificates used instead of the
// operating system trust store. The pool is loaded lazily and cached.
type TrustBundle struct {
	Name   string `json:"name" yaml:"name"`
	Path   string `json:"path" yaml:"path"`
	Inline string `json:"inline" yaml:"inline"`
	SHA256 string `json:"sha256" yaml:"sha256"`

	mu    sync.Mutex
	certs []*x509.Certificate
	pool  *x509.CertPool
}

// Validate checks that exactly one source is configured and the checksum is
// well formed.
func (b *TrustBundle) Validate() error {
	hasPath := strings.TrimSpace(b.Path) != ""
	hasInline := strings.TrimSpace(b.Inline) != ""

	switch {
	case !hasPath && !hasInline:
		return NewConfigMissingError("trust_bundle.path").
			WithSuggestion("Set 'path' to a PEM file or 'inline' to PEM data")
	case hasPath && hasInline:
		return NewConfigValidationError("trust_bundle", b.Name, "path and inline are mutually exclusive").
			WithSuggestion("Keep only one of 'path' or 'inline'")
	}

	if b.SHA256 != "" {
		if _, err := pkgtls.NormalizeFingerprint(b.SHA256); err != nil {
			return NewConfigValidationError("trust_bundle.sha256", b.SHA256, "not a SHA-256 digest")
		}
	}
	return nil
}

// Materialise returns the PEM-encoded contents for the bundle.
func (b *TrustBundle) Materialise() ([]byte, error) {
	var data []byte
	var err error
	switch {
	case strings.TrimSpace(b.Inline) != "":
		data = []byte(b.Inline)
	case strings.TrimSpace(b.Path) != "":
		path := filepath.Clean(b.Path)
		data, err = os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, pkgtls.NewFileNotFoundError(path).WithContext("trust_bundle", b.Name)
			}
			return nil, fmt.Errorf("trust bundle %s: read: %w", b.Name, err)
		}
	default:
		return nil, fmt.Errorf("trust bundle %s: no path or inline data provided", b.Name)
	}

	if err := b.verifyChecksum(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (b *TrustBundle) verifyChecksum(data []byte) error {
	if b.SHA256 == "" {
		return nil
	}

	expected, err := pkgtls.NormalizeFingerprint(b.SHA256)
	if err != nil {
		return fmt.Errorf("trust bundle %s: %w", b.Name, err)
	}
	digest := sha256.Sum256(data)
	if hex.EncodeToString(digest[:]) != expected {
		return fmt.Errorf("trust bundle %s: checksum mismatch", b.Name)
	}
	return nil
}

// Certificates returns the parsed bundle (cached per instance).
func (b *TrustBundle) Certificates() ([]*x509.Certificate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(); err != nil {
		return nil, err
	}
	return append([]*x509.Certificate(nil), b.certs...), nil
}

// CertPool parses the bundle into an x509.CertPool (cached per instance).
func (b *TrustBundle) CertPool() (*x509.CertPool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(); err != nil {
		return nil, err
	}
	return b.pool, nil
}

func (b *TrustBundle) loadLocked() error {
	if b.pool != nil {
		return nil
	}

	data, err := b.Materialise()
	if err != nil {
		return err
	}

	certs, err := pkgtls.ParseCertificatesPEM(data)
	if err != nil {
		return fmt.Errorf("trust bundle %s: %w", b.Name, err)
	}

	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	b.certs = certs
	b.pool = pool
	return nil
}
