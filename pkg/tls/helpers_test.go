package tls

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testPKI struct {
	ca       *GeneratedCertificate
	leaf     *GeneratedCertificate
	selfSign *GeneratedCertificate
	pool     *x509.CertPool
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()

	ca, err := GenerateCertificate(CertificateGenerationOptions{
		CommonName: "Test CA",
		IsCA:       true,
		KeyType:    "ecdsa",
		ValidFor:   24 * time.Hour,
	})
	require.NoError(t, err)

	leaf, err := GenerateCertificate(CertificateGenerationOptions{
		CommonName:  "example.com",
		DNSNames:    []string{"example.com", "*.example.com"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},
		KeyType:     "ecdsa",
		ValidFor:    12 * time.Hour,
		ParentCert:  ca.Certificate,
		ParentKey:   ca.Key,
	})
	require.NoError(t, err)

	selfSigned, err := GenerateCertificate(CertificateGenerationOptions{
		CommonName:  "example.com",
		DNSNames:    []string{"example.com"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},
		KeySize:     2048,
		ValidFor:    12 * time.Hour,
	})
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(ca.Certificate)

	return &testPKI{ca: ca, leaf: leaf, selfSign: selfSigned, pool: pool}
}

func (p *testPKI) chain() []*x509.Certificate {
	return []*x509.Certificate{p.leaf.Certificate, p.ca.Certificate}
}

func newTLSServer(t *testing.T, cert *GeneratedCertificate) *httptest.Server {
	t.Helper()

	pair, err := cert.TLSCertificate()
	require.NoError(t, err)

	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	server.TLS = &tls.Config{Certificates: []tls.Certificate{pair}}
	server.StartTLS()
	t.Cleanup(server.Close)
	return server
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingVerifier is a pointer-typed verifier so identity can be asserted.
type recordingVerifier struct {
	hosts []string
}

func (r *recordingVerifier) Verify(host string, _ *x509.Certificate) error {
	r.hosts = append(r.hosts, host)
	return nil
}
