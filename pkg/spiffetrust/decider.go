// Package spiffetrust trusts servers presenting X.509-SVIDs.
package spiffetrust

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
)

// Policy selects which SPIFFE IDs are authorised. ID takes precedence over
// TrustDomain. When both are empty any ID whose trust domain has a bundle in
// the source is accepted.
type Policy struct {
	ID          string
	TrustDomain string
}

// Decider verifies the peer chain as an X.509-SVID against a bundle source
// and authorises its SPIFFE ID. It implements tls.TrustDecider.
type Decider struct {
	bundles     x509bundle.Source
	id          spiffeid.ID
	trustDomain spiffeid.TrustDomain
	now         func() time.Time
}

// Option customises a Decider.
type Option func(*Decider)

// WithClock overrides the verification time.
func WithClock(now func() time.Time) Option {
	return func(d *Decider) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDecider validates the policy and returns a decider bound to bundles.
func NewDecider(bundles x509bundle.Source, policy Policy, opts ...Option) (*Decider, error) {
	if bundles == nil {
		return nil, errors.New("spiffe decider requires a bundle source")
	}

	d := &Decider{bundles: bundles, now: time.Now}

	if policy.ID != "" {
		id, err := spiffeid.FromString(policy.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid SPIFFE ID %q: %w", policy.ID, err)
		}
		d.id = id
	}
	if policy.TrustDomain != "" {
		td, err := spiffeid.TrustDomainFromString(policy.TrustDomain)
		if err != nil {
			return nil, fmt.Errorf("invalid trust domain %q: %w", policy.TrustDomain, err)
		}
		d.trustDomain = td
	}
	if !d.id.IsZero() && !d.trustDomain.IsZero() && !d.id.MemberOf(d.trustDomain) {
		return nil, fmt.Errorf("SPIFFE ID %s is not a member of trust domain %s", d.id, d.trustDomain)
	}

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// CheckServerTrusted implements tls.TrustDecider.
func (d *Decider) CheckServerTrusted(chain []*x509.Certificate, _ string) error {
	_, err := d.Verify(chain)
	return err
}

// Verify returns the authorised SPIFFE ID of the chain.
func (d *Decider) Verify(chain []*x509.Certificate) (spiffeid.ID, error) {
	if len(chain) == 0 {
		return spiffeid.ID{}, errors.New("empty certificate chain")
	}

	id, _, err := x509svid.Verify(chain, d.bundles, x509svid.WithTime(d.now()))
	if err != nil {
		return spiffeid.ID{}, fmt.Errorf("SVID verification failed: %w", err)
	}

	switch {
	case !d.id.IsZero():
		if id != d.id {
			return id, fmt.Errorf("unexpected SPIFFE ID %s, want %s", id, d.id)
		}
	case !d.trustDomain.IsZero():
		if !id.MemberOf(d.trustDomain) {
			return id, fmt.Errorf("SPIFFE ID %s is not a member of trust domain %s", id, d.trustDomain)
		}
	}
	return id, nil
}

func (d *Decider) String() string { return "spiffe" }

// LoadBundle reads a PEM bundle of X.509 authorities for trustDomain.
func LoadBundle(trustDomain, path string) (*x509bundle.Bundle, error) {
	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		return nil, fmt.Errorf("invalid trust domain %q: %w", trustDomain, err)
	}
	bundle, err := x509bundle.Load(td, path)
	if err != nil {
		return nil, fmt.Errorf("load bundle for %s: %w", td, err)
	}
	return bundle, nil
}

// NewBundle builds a bundle from already parsed authorities.
func NewBundle(trustDomain string, authorities []*x509.Certificate) (*x509bundle.Bundle, error) {
	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		return nil, fmt.Errorf("invalid trust domain %q: %w", trustDomain, err)
	}
	return x509bundle.FromX509Authorities(td, authorities), nil
}
