package tls

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestMatchHostname(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		want    bool
	}{
		{"example.com", "example.com", true},
		{"Example.COM", "example.com", true},
		{"example.com.", "example.com", true},
		{"example.com", "other.com", false},
		{"*.example.com", "sub.example.com", true},
		{"*.example.com", "a.b.example.com", false},
		{"*.example.com", "example.com", false},
		{"*.com", "example.com", false},
		{"f*.example.com", "foo.example.com", false},
		{"sub.*.com", "sub.example.com", false},
		{"*.*.example.com", "a.b.example.com", false},
		{"*.0.0.1", "127.0.0.1", false},
		{"", "example.com", false},
		{"example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchHostname(tt.pattern, tt.host))
		})
	}
}

func TestStrictHostnameVerifier(t *testing.T) {
	cert := &x509.Certificate{
		Subject:     pkix.Name{CommonName: "ignored.example.net"},
		DNSNames:    []string{"example.com", "*.example.com"},
		IPAddresses: []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("::1")},
	}

	accepted := []string{"example.com", "EXAMPLE.com.", "sub.example.com", "10.0.0.1", "[::1]"}
	for _, host := range accepted {
		assert.NoError(t, StrictHostnameVerifier.Verify(host, cert), host)
	}

	rejected := []string{"other.com", "a.b.example.com", "ignored.example.net", "10.0.0.2", ""}
	for _, host := range rejected {
		err := StrictHostnameVerifier.Verify(host, cert)
		assert.ErrorIs(t, err, ErrHostnameMismatch, host)
	}
}

func TestStrictHostnameVerifier_CommonNameFallback(t *testing.T) {
	cert := &x509.Certificate{Subject: pkix.Name{CommonName: "legacy.example.com"}}

	assert.NoError(t, StrictHostnameVerifier.Verify("legacy.example.com", cert))
	assert.Error(t, StrictHostnameVerifier.Verify("other.example.com", cert))

	// IP hosts never fall back to the common name.
	ipCN := &x509.Certificate{Subject: pkix.Name{CommonName: "127.0.0.1"}}
	assert.Error(t, StrictHostnameVerifier.Verify("127.0.0.1", ipCN))
}

func TestAllowAllHostnameVerifier(t *testing.T) {
	cert := &x509.Certificate{DNSNames: []string{"example.com"}}
	assert.NoError(t, AllowAllHostnameVerifier.Verify("other.com", cert))
	assert.Equal(t, "allow_all", verifierName(AllowAllHostnameVerifier))
	assert.Equal(t, "strict", verifierName(StrictHostnameVerifier))
	assert.Equal(t, "custom", verifierName(HostnameVerifierFunc(func(string, *x509.Certificate) error { return nil })))
}

func TestMatchHostname_Properties(t *testing.T) {
	label := rapid.StringMatching(`[a-z0-9]{1,12}`)

	rapid.Check(t, func(t *rapid.T) {
		first := label.Draw(t, "first")
		second := label.Draw(t, "second")
		domain := label.Draw(t, "domain") + "." + label.Draw(t, "tld")
		wildcard := "*." + domain

		if !MatchHostname(wildcard, first+"."+domain) {
			t.Fatalf("%s should match %s.%s", wildcard, first, domain)
		}
		if MatchHostname(wildcard, first+"."+second+"."+domain) {
			t.Fatalf("%s must not match two labels", wildcard)
		}
		if MatchHostname(wildcard, domain) {
			t.Fatalf("%s must not match the bare domain", wildcard)
		}
		if !MatchHostname(strings.ToUpper(first+"."+domain), first+"."+domain) {
			t.Fatalf("matching must be case-insensitive")
		}
	})
}

func TestStrictHostnameVerifier_OnlyListedNames(t *testing.T) {
	name := rapid.StringMatching(`[a-z]{1,8}\.[a-z]{2,4}`)

	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOfN(name, 1, 4).Draw(t, "names")
		host := name.Draw(t, "host")

		listed := false
		for _, n := range names {
			if n == host {
				listed = true
			}
		}

		err := StrictHostnameVerifier.Verify(host, &x509.Certificate{DNSNames: names})
		if listed && err != nil {
			t.Fatalf("host %s listed in %v but rejected: %v", host, names, err)
		}
		if !listed && err == nil {
			t.Fatalf("host %s not in %v but accepted", host, names)
		}
	})
}
