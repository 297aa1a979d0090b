package tls

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"time"
)

// Composition selects how the platform chain check and the caller's decider
// combine. Permissive deciders skip the platform check under every
// composition.
type Composition int

const (
	// CompositionRequireBoth accepts a chain only when the platform roots
	// validate it and the decider accepts it.
	CompositionRequireBoth Composition = iota
	// CompositionOverride runs the platform check first and consults the
	// decider only when that check fails; the decider's verdict is final.
	CompositionOverride
)

func (c Composition) String() string {
	switch c {
	case CompositionRequireBoth:
		return "require_both"
	case CompositionOverride:
		return "override"
	default:
		return "unknown"
	}
}

// ParseComposition accepts "require_both" (or empty) and "override".
func ParseComposition(value string) (Composition, error) {
	switch value {
	case "", "require_both", "require-both", "and":
		return CompositionRequireBoth, nil
	case "override", "fallback":
		return CompositionOverride, nil
	default:
		return 0, NewConfigValidationError("composition", value, "must be require_both or override")
	}
}

// MinSupportedVersion is the lowest protocol version a context accepts. It is
// also the default floor.
const MinSupportedVersion = tls.VersionTLS12

type options struct {
	provider     Provider
	composition  Composition
	minVersion   string
	maxVersion   string
	cipherSuites []string
	certificates []tls.Certificate
	nextProtos   []string
	logger       *slog.Logger
	observer     Observer
	now          func() time.Time
}

// Option customises CreateTLSContext and Build.
type Option func(*options)

// WithProvider replaces the system trust store used by the platform check.
func WithProvider(p Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithRootCAs trusts exactly pool for the platform check.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(o *options) { o.provider = PoolProvider("pool", pool) }
}

// WithComposition selects how platform and decider checks combine.
func WithComposition(c Composition) Option {
	return func(o *options) { o.composition = c }
}

// WithMinVersion sets the minimum protocol version ("1.2" or "1.3").
func WithMinVersion(version string) Option {
	return func(o *options) { o.minVersion = version }
}

// WithMaxVersion sets the maximum protocol version.
func WithMaxVersion(version string) Option {
	return func(o *options) { o.maxVersion = version }
}

// WithCipherSuites restricts TLS 1.2 cipher suites by IANA name.
func WithCipherSuites(names ...string) Option {
	return func(o *options) { o.cipherSuites = append([]string(nil), names...) }
}

// WithClientCertificate presents cert for mutual TLS.
func WithClientCertificate(cert tls.Certificate) Option {
	return func(o *options) { o.certificates = append(o.certificates, cert) }
}

// WithNextProtos sets the ALPN protocols offered by the client.
func WithNextProtos(protos ...string) Option {
	return func(o *options) { o.nextProtos = append([]string(nil), protos...) }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver adds an observer next to the OpenTelemetry collector.
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithClock overrides the time used for certificate validity checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) *options {
	o := &options{
		provider:    SystemProvider(),
		composition: CompositionRequireBoth,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
