package tls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// TrustDecider decides whether a presented certificate chain is acceptable.
//
// chain[0] is the leaf. authType names the leaf's public key algorithm
// ("RSA", "ECDSA", "Ed25519" or "UNKNOWN"). A non-nil error rejects the
// chain. Implementations are invoked concurrently from every handshake that
// uses the configuration holding them and must be safe for concurrent use.
type TrustDecider interface {
	CheckServerTrusted(chain []*x509.Certificate, authType string) error
}

// TrustFunc adapts an ordinary function to a TrustDecider.
type TrustFunc func(chain []*x509.Certificate, authType string) error

// CheckServerTrusted calls f(chain, authType).
func (f TrustFunc) CheckServerTrusted(chain []*x509.Certificate, authType string) error {
	return f(chain, authType)
}

// Permissive is implemented by deciders that deliberately accept chains the
// platform roots would reject. A decider reporting true disables the
// platform chain check for every configuration built from it.
type Permissive interface {
	Permissive() bool
}

func isPermissive(d TrustDecider) bool {
	p, ok := d.(Permissive)
	return ok && p.Permissive()
}

type acceptAll struct{}

// AcceptAll returns a decider that trusts every chain, including self-signed
// and expired certificates.
//
// It disables certificate validation entirely. Only hostname verification
// still applies. Use it for lab servers, never for production traffic.
func AcceptAll() TrustDecider { return acceptAll{} }

func (acceptAll) CheckServerTrusted([]*x509.Certificate, string) error { return nil }

func (acceptAll) Permissive() bool { return true }

func (acceptAll) String() string { return "accept_all" }

type rejectAll struct{}

// RejectAll returns a decider that rejects every chain.
func RejectAll() TrustDecider { return rejectAll{} }

func (rejectAll) CheckServerTrusted([]*x509.Certificate, string) error {
	return errors.New("all certificates are rejected by policy")
}

func (rejectAll) String() string { return "reject_all" }

type platformOnly struct{}

// PlatformOnly returns a decider that adds nothing to the platform chain
// check. It is only valid with CompositionRequireBoth: under
// CompositionOverride it would accept whatever the platform rejected, so
// CreateTLSContext refuses that pairing.
func PlatformOnly() TrustDecider { return platformOnly{} }

func (platformOnly) CheckServerTrusted([]*x509.Certificate, string) error { return nil }

func (platformOnly) String() string { return "platform" }

// PinnedDecider accepts a chain when any of its certificates has one of the
// given SHA-256 fingerprints. Fingerprints are hex, optionally prefixed with
// "sha256:" and may contain colons.
type PinnedDecider struct {
	pins map[string]struct{}
}

// NewPinnedDecider validates and normalises the fingerprints.
func NewPinnedDecider(fingerprints ...string) (*PinnedDecider, error) {
	if len(fingerprints) == 0 {
		return nil, errors.New("pinned decider requires at least one fingerprint")
	}

	pins := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		normalized, err := NormalizeFingerprint(fp)
		if err != nil {
			return nil, err
		}
		pins[normalized] = struct{}{}
	}
	return &PinnedDecider{pins: pins}, nil
}

// CheckServerTrusted implements TrustDecider.
func (p *PinnedDecider) CheckServerTrusted(chain []*x509.Certificate, _ string) error {
	for _, cert := range chain {
		if cert == nil {
			continue
		}
		if _, ok := p.pins[Fingerprint(cert)]; ok {
			return nil
		}
	}
	return fmt.Errorf("no certificate in chain matches the %d pinned fingerprint(s)", len(p.pins))
}

func (p *PinnedDecider) String() string { return "pinned" }

// Fingerprint returns the lowercase hex SHA-256 digest of the certificate's DER bytes.
func Fingerprint(cert *x509.Certificate) string {
	digest := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(digest[:])
}

// NormalizeFingerprint strips an optional "sha256:" prefix and colons, lower-cases
// the result and checks it is a 32-byte hex digest.
func NormalizeFingerprint(fp string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(fp))
	normalized = strings.TrimPrefix(normalized, "sha256:")
	normalized = strings.ReplaceAll(normalized, ":", "")

	raw, err := hex.DecodeString(normalized)
	if err != nil || len(raw) != sha256.Size {
		return "", fmt.Errorf("invalid sha256 fingerprint %q", fp)
	}
	return normalized, nil
}

type chainDecider []TrustDecider

// Chain returns a decider that accepts only if every decider accepts.
// Evaluation stops at the first rejection. The result is permissive only
// when every member is permissive. A chain without members rejects every
// certificate; a nil member is an error.
func Chain(deciders ...TrustDecider) (TrustDecider, error) {
	for i, d := range deciders {
		if d == nil {
			return nil, fmt.Errorf("chain member %d is nil", i)
		}
	}
	return chainDecider(append([]TrustDecider(nil), deciders...)), nil
}

func (c chainDecider) CheckServerTrusted(chain []*x509.Certificate, authType string) error {
	if len(c) == 0 {
		return errors.New("decider chain has no members")
	}
	for _, d := range c {
		if err := d.CheckServerTrusted(chain, authType); err != nil {
			return err
		}
	}
	return nil
}

func (c chainDecider) Permissive() bool {
	if len(c) == 0 {
		return false
	}
	for _, d := range c {
		if !isPermissive(d) {
			return false
		}
	}
	return true
}

func (c chainDecider) String() string { return "chain" }

// defersToPlatform reports whether d never rejects on its own and relies on
// the platform check for every verdict.
func defersToPlatform(d TrustDecider) bool {
	switch typed := d.(type) {
	case platformOnly:
		return true
	case chainDecider:
		if len(typed) == 0 {
			return false
		}
		for _, member := range typed {
			if !defersToPlatform(member) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// DeciderName returns a short label for logs and metrics.
func DeciderName(d TrustDecider) string {
	if s, ok := d.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", d)
}
