package tls

import (
	"crypto/x509"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFingerprint(t *testing.T) {
	const hexDigest = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	var colonized []string
	for i := 0; i < len(hexDigest); i += 2 {
		colonized = append(colonized, strings.ToUpper(hexDigest[i:i+2]))
	}

	for _, input := range []string{
		hexDigest,
		"sha256:" + hexDigest,
		"SHA256:" + strings.ToUpper(hexDigest),
		strings.Join(colonized, ":"),
	} {
		got, err := NormalizeFingerprint(input)
		require.NoError(t, err, input)
		assert.Equal(t, hexDigest, got)
	}

	_, err := NormalizeFingerprint("abcd")
	assert.Error(t, err)
	_, err = NormalizeFingerprint("zz" + hexDigest[2:])
	assert.Error(t, err)
}

func TestPinnedDecider(t *testing.T) {
	pki := newTestPKI(t)

	_, err := NewPinnedDecider()
	require.Error(t, err)

	leafPin, err := NewPinnedDecider("sha256:" + Fingerprint(pki.leaf.Certificate))
	require.NoError(t, err)
	assert.NoError(t, leafPin.CheckServerTrusted(pki.chain(), "ECDSA"))
	assert.Error(t, leafPin.CheckServerTrusted([]*x509.Certificate{pki.selfSign.Certificate}, "RSA"))

	caPin, err := NewPinnedDecider(Fingerprint(pki.ca.Certificate))
	require.NoError(t, err)
	assert.NoError(t, caPin.CheckServerTrusted(pki.chain(), "ECDSA"))
	assert.Error(t, caPin.CheckServerTrusted(pki.chain()[:1], "ECDSA"))
	assert.Equal(t, "pinned", DeciderName(caPin))
}

func mustChain(t *testing.T, deciders ...TrustDecider) TrustDecider {
	t.Helper()
	d, err := Chain(deciders...)
	require.NoError(t, err)
	return d
}

func TestChainDecider(t *testing.T) {
	calls := 0
	counting := TrustFunc(func([]*x509.Certificate, string) error {
		calls++
		return nil
	})

	assert.NoError(t, mustChain(t, counting, PlatformOnly()).CheckServerTrusted(nil, "RSA"))
	assert.Equal(t, 1, calls)

	err := mustChain(t, RejectAll(), counting).CheckServerTrusted(nil, "RSA")
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "evaluation stops at the first rejection")

	assert.True(t, isPermissive(mustChain(t, AcceptAll(), AcceptAll())))
	assert.False(t, isPermissive(mustChain(t, AcceptAll(), counting)))

	empty := mustChain(t)
	assert.False(t, isPermissive(empty))
	assert.Error(t, empty.CheckServerTrusted(nil, "RSA"), "a chain without members rejects")

	_, err = Chain(AcceptAll(), nil)
	assert.Error(t, err)

	assert.Equal(t, "chain", DeciderName(empty))
}

func TestDefersToPlatform(t *testing.T) {
	assert.True(t, defersToPlatform(PlatformOnly()))
	assert.True(t, defersToPlatform(mustChain(t, PlatformOnly())))
	assert.False(t, defersToPlatform(mustChain(t, PlatformOnly(), RejectAll())))
	assert.False(t, defersToPlatform(mustChain(t)))
	assert.False(t, defersToPlatform(RejectAll()))
	assert.False(t, defersToPlatform(AcceptAll()))

	_, err := Build(PlatformOnly(), WithComposition(CompositionRequireBoth), WithLogger(quietLogger()))
	assert.NoError(t, err)
}

func TestBuiltinDeciders(t *testing.T) {
	assert.NoError(t, AcceptAll().CheckServerTrusted(nil, ""))
	assert.True(t, isPermissive(AcceptAll()))
	assert.Error(t, RejectAll().CheckServerTrusted(nil, ""))
	assert.False(t, isPermissive(PlatformOnly()))

	assert.Equal(t, "accept_all", DeciderName(AcceptAll()))
	assert.Equal(t, "reject_all", DeciderName(RejectAll()))
	assert.Equal(t, "platform", DeciderName(PlatformOnly()))
	assert.Equal(t, "tls.TrustFunc", DeciderName(TrustFunc(func([]*x509.Certificate, string) error {
		return errors.New("no")
	})))
}

func TestAuthType(t *testing.T) {
	pki := newTestPKI(t)

	assert.Equal(t, "ECDSA", AuthType(pki.leaf.Certificate))
	assert.Equal(t, "RSA", AuthType(pki.selfSign.Certificate))
	assert.Equal(t, "UNKNOWN", AuthType(nil))
}
