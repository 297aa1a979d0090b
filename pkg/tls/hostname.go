package tls

import (
	"crypto/x509"
	"net"
	"strings"
)

// HostnameVerifier decides whether cert is acceptable for host.
type HostnameVerifier interface {
	Verify(host string, cert *x509.Certificate) error
}

// HostnameVerifierFunc adapts an ordinary function to a HostnameVerifier.
type HostnameVerifierFunc func(host string, cert *x509.Certificate) error

// Verify calls f(host, cert).
func (f HostnameVerifierFunc) Verify(host string, cert *x509.Certificate) error {
	return f(host, cert)
}

type strictVerifier struct{}

// StrictHostnameVerifier is the default hostname policy.
//
// DNS hosts match the certificate's DNS SANs case-insensitively; the subject
// common name is consulted only when the certificate has no DNS SAN. A
// wildcard is honoured only as the entire left-most label, matches exactly
// one label, and needs at least two labels after it. IP hosts match IP SANs
// only.
var StrictHostnameVerifier HostnameVerifier = strictVerifier{}

func (strictVerifier) Verify(host string, cert *x509.Certificate) error {
	if cert == nil {
		return NewHostnameMismatchError(host, nil)
	}

	host = normalizeHost(host)
	if host == "" {
		return NewHostnameMismatchError(host, CertificateNames(cert)).
			WithSuggestion("Set a server name on the TLS configuration")
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, candidate := range cert.IPAddresses {
			if candidate.Equal(ip) {
				return nil
			}
		}
		return NewHostnameMismatchError(host, CertificateNames(cert))
	}

	names := cert.DNSNames
	if len(names) == 0 && cert.Subject.CommonName != "" {
		names = []string{cert.Subject.CommonName}
	}
	for _, name := range names {
		if MatchHostname(name, host) {
			return nil
		}
	}
	return NewHostnameMismatchError(host, CertificateNames(cert))
}

func (strictVerifier) String() string { return "strict" }

type allowAllVerifier struct{}

// AllowAllHostnameVerifier accepts any hostname. Combined with AcceptAll it
// removes every server authentication check.
var AllowAllHostnameVerifier HostnameVerifier = allowAllVerifier{}

func (allowAllVerifier) Verify(string, *x509.Certificate) error { return nil }

func (allowAllVerifier) String() string { return "allow_all" }

// MatchHostname reports whether pattern (a certificate DNS name, possibly with
// a single-label wildcard) matches host. Both are compared case-insensitively
// with trailing dots removed.
func MatchHostname(pattern, host string) bool {
	pattern = normalizeHost(pattern)
	host = normalizeHost(host)
	if pattern == "" || host == "" {
		return false
	}

	if !strings.Contains(pattern, "*") {
		return pattern == host
	}

	patternLabels := strings.Split(pattern, ".")
	if patternLabels[0] != "*" || len(patternLabels) < 3 {
		return false
	}
	for _, label := range patternLabels[1:] {
		if label == "" || strings.Contains(label, "*") {
			return false
		}
	}
	if net.ParseIP(host) != nil {
		return false
	}

	hostLabels := strings.Split(host, ".")
	if len(hostLabels) != len(patternLabels) || hostLabels[0] == "" {
		return false
	}
	for i := 1; i < len(patternLabels); i++ {
		if hostLabels[i] != patternLabels[i] {
			return false
		}
	}
	return true
}

// CertificateNames lists the DNS and IP names a certificate is issued for,
// falling back to the common name.
func CertificateNames(cert *x509.Certificate) []string {
	if cert == nil {
		return nil
	}
	names := append([]string(nil), cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		names = append(names, ip.String())
	}
	if len(names) == 0 && cert.Subject.CommonName != "" {
		names = append(names, cert.Subject.CommonName)
	}
	return names
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimSuffix(host, ".")
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return strings.ToLower(host)
}

// verifierName returns a short label for logs.
func verifierName(v HostnameVerifier) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return "custom"
}
