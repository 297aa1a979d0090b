package config

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type factoryPKI struct {
	ca    *pkgtls.GeneratedCertificate
	leaf  *pkgtls.GeneratedCertificate
	svid  *pkgtls.GeneratedCertificate
	chain []*x509.Certificate
}

func newFactoryPKI(t *testing.T) factoryPKI {
	t.Helper()

	ca, err := pkgtls.GenerateCertificate(pkgtls.CertificateGenerationOptions{
		CommonName: "Config CA",
		IsCA:       true,
		KeyType:    "ecdsa",
	})
	require.NoError(t, err)

	leaf, err := pkgtls.GenerateCertificate(pkgtls.CertificateGenerationOptions{
		CommonName: "api.example.com",
		DNSNames:   []string{"api.example.com"},
		KeyType:    "ecdsa",
		ParentCert: ca.Certificate,
		ParentKey:  ca.Key,
	})
	require.NoError(t, err)

	id, err := url.Parse("spiffe://example.org/api")
	require.NoError(t, err)
	svid, err := pkgtls.GenerateCertificate(pkgtls.CertificateGenerationOptions{
		CommonName: "api",
		URIs:       []*url.URL{id},
		KeyType:    "ecdsa",
		ParentCert: ca.Certificate,
		ParentKey:  ca.Key,
	})
	require.NoError(t, err)

	return factoryPKI{
		ca:    ca,
		leaf:  leaf,
		svid:  svid,
		chain: []*x509.Certificate{leaf.Certificate, ca.Certificate},
	}
}

func buildFromYAML(t *testing.T, yaml string) (*pkgtls.Configuration, error) {
	t.Helper()
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)
	return NewFactory(WithFactoryLogger(quietLogger())).Build(context.Background(), cfg)
}

func TestFactory_Defaults(t *testing.T) {
	tlsCfg, err := NewFactory(WithFactoryLogger(quietLogger())).Build(context.Background(), Default())
	require.NoError(t, err)

	assert.Equal(t, "platform", pkgtls.DeciderName(tlsCfg.Decider()))
	assert.Equal(t, pkgtls.StrictHostnameVerifier, tlsCfg.HostnameVerifier())
	assert.Equal(t, pkgtls.CompositionRequireBoth, tlsCfg.Context().Composition())
	assert.Equal(t, "system", tlsCfg.Context().ProviderName())
}

func TestFactory_PinnedWithInlineBundle(t *testing.T) {
	pki := newFactoryPKI(t)

	yaml := fmt.Sprintf(`
trust:
  mode: pinned
  pins: ["sha256:%s"]
trust_bundle:
  name: corp
  inline: |
%s
`, pkgtls.Fingerprint(pki.leaf.Certificate), indent(string(pki.ca.CertPEM), "    "))

	tlsCfg, err := buildFromYAML(t, yaml)
	require.NoError(t, err)

	assert.Equal(t, "bundle:corp", tlsCfg.Context().ProviderName())
	assert.NoError(t, tlsCfg.VerifyPeer("api.example.com", pki.chain))
	assert.ErrorIs(t, tlsCfg.VerifyPeer("other.example.com", pki.chain), pkgtls.ErrHostnameMismatch)

	other, err := pkgtls.GenerateCertificate(pkgtls.CertificateGenerationOptions{
		CommonName: "api.example.com",
		DNSNames:   []string{"api.example.com"},
		KeyType:    "ecdsa",
		ParentCert: pki.ca.Certificate,
		ParentKey:  pki.ca.Key,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, tlsCfg.VerifyPeer("api.example.com",
		[]*x509.Certificate{other.Certificate, pki.ca.Certificate}), pkgtls.ErrUntrusted)
}

func TestFactory_AcceptAllAllowAll(t *testing.T) {
	pki := newFactoryPKI(t)

	tlsCfg, err := buildFromYAML(t, "trust:\n  mode: accept_all\nhostname_verification: allow_all\n")
	require.NoError(t, err)

	assert.True(t, tlsCfg.Context().Permissive())
	assert.Equal(t, pkgtls.AllowAllHostnameVerifier, tlsCfg.HostnameVerifier())
	assert.NoError(t, tlsCfg.VerifyPeer("anything.invalid", pki.chain))
}

func TestFactory_RegoMode(t *testing.T) {
	pki := newFactoryPKI(t)
	dir := t.TempDir()
	writeFile(t, dir, "trust.rego", `package trust

default decision := false

decision if input.chain[0].issuer == "CN=Config CA"
`)
	configPath := writeFile(t, dir, "trust.yaml", `
trust:
  mode: rego
  composition: override
  rego:
    entrypoint: trust/decision
    files: [trust.rego]
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	tlsCfg, err := NewFactory(WithFactoryLogger(quietLogger())).Build(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "rego", pkgtls.DeciderName(tlsCfg.Decider()))
	assert.NoError(t, tlsCfg.VerifyPeer("api.example.com", pki.chain))
}

func TestFactory_SPIFFEMode(t *testing.T) {
	pki := newFactoryPKI(t)
	dir := t.TempDir()
	writeFile(t, dir, "bundle.pem", string(pki.ca.CertPEM))
	configPath := writeFile(t, dir, "trust.yaml", `
trust:
  mode: spiffe
  composition: override
  spiffe:
    trust_domain: example.org
    bundle_file: bundle.pem
    id: spiffe://example.org/api
hostname_verification: allow_all
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	tlsCfg, err := NewFactory(WithFactoryLogger(quietLogger())).Build(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "spiffe", pkgtls.DeciderName(tlsCfg.Decider()))
	assert.NoError(t, tlsCfg.VerifyPeer("api", []*x509.Certificate{pki.svid.Certificate}))
	assert.ErrorIs(t, tlsCfg.VerifyPeer("api", pki.chain), pkgtls.ErrUntrusted)
}

func TestFactory_Errors(t *testing.T) {
	_, err := NewFactory().Build(context.Background(), nil)
	assert.Error(t, err)

	cfg := Default()
	cfg.TrustBundle = &TrustBundle{Name: "missing", Path: filepath.Join(t.TempDir(), "missing.pem")}
	_, err = NewFactory(WithFactoryLogger(quietLogger())).Build(context.Background(), cfg)
	assert.ErrorIs(t, err, pkgtls.ErrSecurityInitialization)

	cfg = Default()
	cfg.Trust.Mode = ModeRego
	cfg.Trust.Rego = &RegoConfig{Entrypoint: "trust/decision", Files: []string{filepath.Join(t.TempDir(), "none.rego")}}
	_, err = NewFactory().Build(context.Background(), cfg)
	assert.Error(t, err)

	// Build does not re-validate, so the TLS layer refuses the pairing too.
	cfg = Default()
	cfg.Trust.Composition = "override"
	built, err := NewFactory(WithFactoryLogger(quietLogger())).Build(context.Background(), cfg)
	assert.Nil(t, built)
	assert.ErrorIs(t, err, pkgtls.ErrSecurityInitialization)

	cfg = Default()
	cfg.HostnameVerification = "loose"
	_, err = NewFactory().Build(context.Background(), cfg)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "hostname_verification", cfgErr.Field)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return prefix + strings.Join(lines, "\n"+prefix) + "\n"
}
