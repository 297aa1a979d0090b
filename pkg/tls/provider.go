package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
)

// Provider supplies the platform trust anchors used by the default chain check.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string
	// RootCAs returns the pool of trusted roots. A nil pool with a nil error
	// means "use the operating system roots".
	RootCAs() (*x509.CertPool, error)
}

type systemProvider struct{}

// SystemProvider returns the operating system trust store.
func SystemProvider() Provider { return systemProvider{} }

func (systemProvider) Name() string { return "system" }

func (systemProvider) RootCAs() (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("load system cert pool: %w", err)
	}
	return pool, nil
}

type poolProvider struct {
	name string
	pool *x509.CertPool
}

// PoolProvider trusts exactly the certificates in pool.
func PoolProvider(name string, pool *x509.CertPool) Provider {
	return poolProvider{name: name, pool: pool}
}

func (p poolProvider) Name() string { return p.name }

func (p poolProvider) RootCAs() (*x509.CertPool, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("provider %s: certificate pool is nil", p.name)
	}
	return p.pool, nil
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func() (*x509.CertPool, error)

func (f ProviderFunc) Name() string { return "func" }

func (f ProviderFunc) RootCAs() (*x509.CertPool, error) { return f() }

// BundleSource is satisfied by trust bundles that can produce a cert pool
// (for example config.TrustBundle).
type BundleSource interface {
	CertPool() (*x509.CertPool, error)
}

type bundleProvider struct {
	name   string
	bundle BundleSource
}

// BundleProvider trusts the certificates of a PEM trust bundle.
func BundleProvider(name string, bundle BundleSource) Provider {
	return bundleProvider{name: name, bundle: bundle}
}

func (p bundleProvider) Name() string { return "bundle:" + p.name }

func (p bundleProvider) RootCAs() (*x509.CertPool, error) {
	if p.bundle == nil {
		return nil, errors.New("trust bundle is nil")
	}
	return p.bundle.CertPool()
}

// ParseVersion converts "1.0".."1.3" (optionally prefixed with "TLS") to a
// crypto/tls version constant. An empty string returns 0.
func ParseVersion(version string) (uint16, error) {
	normalized := strings.TrimSpace(strings.ToUpper(version))
	normalized = strings.TrimPrefix(normalized, "TLS")
	normalized = strings.TrimSpace(strings.TrimPrefix(normalized, "V"))

	switch normalized {
	case "":
		return 0, nil
	case "1.0", "10":
		return tls.VersionTLS10, nil
	case "1.1", "11":
		return tls.VersionTLS11, nil
	case "1.2", "12":
		return tls.VersionTLS12, nil
	case "1.3", "13":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", version)
	}
}

// ParseCipherSuites resolves IANA cipher suite names. Suites Go considers
// insecure are refused.
func ParseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}

	known := make(map[string]uint16)
	for _, suite := range tls.CipherSuites() {
		known[suite.Name] = suite.ID
	}
	insecure := make(map[string]struct{})
	for _, suite := range tls.InsecureCipherSuites() {
		insecure[suite.Name] = struct{}{}
	}

	ids := make([]uint16, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if _, bad := insecure[name]; bad {
			return nil, fmt.Errorf("cipher suite %s is insecure", name)
		}
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// VersionName renders a crypto/tls version constant.
func VersionName(version uint16) string {
	switch version {
	case 0:
		return "default"
	case tls.VersionTLS10:
		return "1.0"
	case tls.VersionTLS11:
		return "1.1"
	case tls.VersionTLS12:
		return "1.2"
	case tls.VersionTLS13:
		return "1.3"
	default:
		return fmt.Sprintf("0x%04x", version)
	}
}
