package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type testCerts struct {
	dir     string
	caPEM   string
	leafPEM string
	leafKey string
	chain   string
	config  string
}

// generateTestCerts drives the generate command to build a CA, a leaf for
// api.example.com and 127.0.0.1, and a trust policy trusting the CA.
func generateTestCerts(t *testing.T) testCerts {
	t.Helper()
	dir := t.TempDir()

	_, err := execute(t, "generate", "--ca", "--cn", "CLI Test CA", "--name", "ca", "--out-dir", dir)
	require.NoError(t, err)

	out, err := execute(t, "generate",
		"--cn", "api.example.com",
		"--dns", "api.example.com",
		"--ips", "127.0.0.1",
		"--ca-cert", filepath.Join(dir, "ca.pem"),
		"--ca-key", filepath.Join(dir, "ca-key.pem"),
		"--name", "leaf",
		"--out-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Issuer: CN=CLI Test CA")

	caPEM, err := os.ReadFile(filepath.Join(dir, "ca.pem"))
	require.NoError(t, err)
	leafPEM, err := os.ReadFile(filepath.Join(dir, "leaf.pem"))
	require.NoError(t, err)

	chain := filepath.Join(dir, "chain.pem")
	require.NoError(t, os.WriteFile(chain, append(leafPEM, caPEM...), 0o600))

	config := filepath.Join(dir, "trust.yaml")
	require.NoError(t, os.WriteFile(config, []byte(`
trust:
  mode: platform
trust_bundle:
  name: cli
  path: ca.pem
`), 0o600))

	return testCerts{
		dir:     dir,
		caPEM:   filepath.Join(dir, "ca.pem"),
		leafPEM: filepath.Join(dir, "leaf.pem"),
		leafKey: filepath.Join(dir, "leaf-key.pem"),
		chain:   chain,
		config:  config,
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "polis-trust version "+version+"\n", out)
}

func TestCheckCommand(t *testing.T) {
	certs := generateTestCerts(t)

	out, err := execute(t, "check", "--cert", certs.chain, "--host", "api.example.com", "--config", certs.config)
	require.NoError(t, err)
	assert.Contains(t, out, "ACCEPT api.example.com (decider=platform, auth_type=ECDSA)")

	out, err = execute(t, "check", "--cert", certs.chain, "--host", "other.example.com", "--config", certs.config)
	assert.ErrorIs(t, err, errRejected)
	assert.Contains(t, out, "REJECT other.example.com")
	assert.Contains(t, out, "hostname_mismatch")

	_, err = execute(t, "check", "--cert", certs.chain)
	assert.Error(t, err, "--host is required")

	_, err = execute(t, "check", "--cert", filepath.Join(certs.dir, "missing.pem"), "--host", "api.example.com")
	assert.Error(t, err)
}

func TestInspectCommand(t *testing.T) {
	certs := generateTestCerts(t)

	out, err := execute(t, "inspect", "--cert", certs.chain, "--format", "json")
	require.NoError(t, err)

	var report inspectReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Certificates, 2)
	assert.Equal(t, "CN=api.example.com", report.Certificates[0].Subject)
	assert.Equal(t, []string{"127.0.0.1"}, report.Certificates[0].IPAddresses)
	assert.True(t, report.Certificates[1].IsCA)
	assert.NotNil(t, report.Warnings)

	out, err = execute(t, "inspect", "--cert", certs.leafPEM)
	require.NoError(t, err)
	assert.Contains(t, out, "DNS Names: api.example.com")

	_, err = execute(t, "inspect", "--cert", certs.leafPEM, "--format", "xml")
	assert.Error(t, err)
}

func TestGenerateCommand_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "generate", "--ips", "not-an-ip", "--out-dir", dir)
	assert.Error(t, err)

	_, err = execute(t, "generate", "--ca-cert", filepath.Join(dir, "ca.pem"), "--out-dir", dir)
	assert.Error(t, err)

	_, err = execute(t, "generate", "--key-type", "dsa", "--out-dir", dir)
	assert.Error(t, err)
}

func TestValidateConfigCommand(t *testing.T) {
	certs := generateTestCerts(t)

	out, err := execute(t, "validate-config", "--config", certs.config)
	require.NoError(t, err)
	assert.Contains(t, out, "decider: platform")
	assert.Contains(t, out, "provider: bundle:cli")

	bad := filepath.Join(certs.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("trust:\n  mode: pinned\n"), 0o600))
	_, err = execute(t, "validate-config", "--config", bad)
	assert.Error(t, err)

	_, err = execute(t, "validate-config")
	assert.Error(t, err)
}

func TestProbeCommand(t *testing.T) {
	certs := generateTestCerts(t)

	pair, err := tls.LoadX509KeyPair(certs.leafPEM, certs.leafKey)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS12}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	out, err := execute(t, "probe", srv.URL, "--config", certs.config)
	require.NoError(t, err)
	assert.Contains(t, out, "result: ok")
	assert.Contains(t, out, "status: 204")
	assert.Contains(t, out, "CN=api.example.com")
	assert.Contains(t, out, `trust_decisions_total{composition="require_both",decider="platform",outcome="accepted",stage="decider"}`)

	out, err = execute(t, "probe", srv.URL)
	require.Error(t, err)
	assert.Contains(t, out, "result: untrusted")

	out, err = execute(t, "probe", srv.URL, "--insecure-accept-all")
	require.NoError(t, err)
	assert.Contains(t, out, "result: ok")

	_, err = execute(t, "probe", "http://example.com")
	assert.Error(t, err)
}
