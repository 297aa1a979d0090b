package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"time"
)

// TLSContext is an initialised client TLS context whose server trust
// decisions are delegated to a TrustDecider. It is immutable after
// construction and safe for concurrent use.
type TLSContext struct {
	decider      TrustDecider
	deciderName  string
	permissive   bool
	composition  Composition
	providerName string
	roots        *x509.CertPool

	minVersion   uint16
	maxVersion   uint16
	cipherSuites []uint16
	certificates []tls.Certificate
	nextProtos   []string

	logger   *TLSLogger
	observer Observer
	now      func() time.Time
}

// CreateTLSContext initialises a client TLS context that consults decider for
// every presented server chain.
//
// It fails with a security_initialization *TLSError, matching
// ErrSecurityInitialization, when the trust provider cannot load its roots or
// the protocol settings cannot be honoured. No network I/O happens here.
func CreateTLSContext(decider TrustDecider, opts ...Option) (*TLSContext, error) {
	o := newOptions(opts)
	logger := NewTLSLogger(o.logger)
	ctx := context.Background()

	observer := o.observer
	if collector, err := GetTrustMetricsCollector(); err == nil {
		observer = MultiObserver(collector, o.observer)
	} else {
		logger.Logger().Warn("trust metrics unavailable", "error", err)
	}

	providerName := "none"
	if o.provider != nil {
		providerName = o.provider.Name()
	}
	deciderName := "nil"
	if decider != nil {
		deciderName = DeciderName(decider)
	}

	tlsCtx, err := createTLSContext(decider, o)
	if err != nil {
		logger.LogBuildFailure(ctx, deciderName, providerName, err)
		if observer != nil {
			observer.ObserveBuild(ctx, deciderName, err)
		}
		return nil, err
	}

	tlsCtx.deciderName = deciderName
	tlsCtx.providerName = providerName
	tlsCtx.logger = logger
	tlsCtx.observer = observer

	logger.LogContextBuilt(ctx, tlsCtx)
	if tlsCtx.permissive {
		logger.LogSecurityEvent(ctx, "permissive_trust",
			"decider "+deciderName+" disables certificate chain validation", "medium")
	}
	if observer != nil {
		observer.ObserveBuild(ctx, deciderName, nil)
	}
	return tlsCtx, nil
}

func createTLSContext(decider TrustDecider, o *options) (*TLSContext, error) {
	if decider == nil {
		return nil, NewSecurityInitializationError("trust decider is nil", nil)
	}
	if o.provider == nil {
		return nil, NewSecurityInitializationError("trust provider is nil", nil)
	}

	switch o.composition {
	case CompositionRequireBoth, CompositionOverride:
	default:
		return nil, NewSecurityInitializationError("unknown composition", nil).
			WithContext("composition", int(o.composition))
	}

	if o.composition == CompositionOverride && defersToPlatform(decider) {
		return nil, NewSecurityInitializationError("decider cannot reject under override composition",
			errors.New("a platform-only decider would accept every chain the platform rejects")).
			WithContext("decider", DeciderName(decider)).
			WithSuggestion("Use require_both composition with the platform decider")
	}

	roots, err := o.provider.RootCAs()
	if err != nil {
		return nil, NewSecurityInitializationError("trust provider unavailable", err).
			WithContext("provider", o.provider.Name())
	}

	minVersion, err := ParseVersion(o.minVersion)
	if err != nil {
		return nil, NewSecurityInitializationError("unsupported TLS protocol version", err).
			WithContext("min_version", o.minVersion)
	}
	if minVersion == 0 {
		minVersion = MinSupportedVersion
	}
	maxVersion, err := ParseVersion(o.maxVersion)
	if err != nil {
		return nil, NewSecurityInitializationError("unsupported TLS protocol version", err).
			WithContext("max_version", o.maxVersion)
	}

	if minVersion < MinSupportedVersion {
		return nil, NewSecurityInitializationError("unsupported TLS protocol version",
			errors.New("TLS versions below 1.2 are not supported")).
			WithContext("min_version", VersionName(minVersion))
	}
	if maxVersion != 0 && maxVersion < minVersion {
		return nil, NewSecurityInitializationError("unsupported TLS protocol version",
			errors.New("max_version is lower than min_version")).
			WithContext("min_version", VersionName(minVersion)).
			WithContext("max_version", VersionName(maxVersion))
	}

	suites, err := ParseCipherSuites(o.cipherSuites)
	if err != nil {
		return nil, NewSecurityInitializationError("unsupported cipher suite", err)
	}

	return &TLSContext{
		decider:      decider,
		permissive:   isPermissive(decider),
		composition:  o.composition,
		roots:        roots,
		minVersion:   minVersion,
		maxVersion:   maxVersion,
		cipherSuites: suites,
		certificates: append([]tls.Certificate(nil), o.certificates...),
		nextProtos:   append([]string(nil), o.nextProtos...),
		now:          o.now,
	}, nil
}

// Decider returns the decider supplied at construction.
func (c *TLSContext) Decider() TrustDecider { return c.decider }

// Composition returns how platform and decider checks are combined.
func (c *TLSContext) Composition() Composition { return c.composition }

// Permissive reports whether the platform chain check is disabled.
func (c *TLSContext) Permissive() bool { return c.permissive }

// MinVersion returns the negotiated protocol floor.
func (c *TLSContext) MinVersion() uint16 { return c.minVersion }

// MaxVersion returns the protocol ceiling; 0 means the crypto/tls default.
func (c *TLSContext) MaxVersion() uint16 { return c.maxVersion }

// ProviderName names the trust provider used for the platform check.
func (c *TLSContext) ProviderName() string { return c.providerName }

// AuthType names the key exchange family of cert's public key.
func AuthType(cert *x509.Certificate) string {
	if cert == nil {
		return "UNKNOWN"
	}
	switch cert.PublicKeyAlgorithm {
	case x509.RSA:
		return "RSA"
	case x509.ECDSA:
		return "ECDSA"
	case x509.Ed25519:
		return "Ed25519"
	default:
		return "UNKNOWN"
	}
}

// CheckServerTrusted evaluates chain with the platform check and the decider
// according to the context's composition. It does not look at hostnames.
func (c *TLSContext) CheckServerTrusted(chain []*x509.Certificate, authType string) error {
	return c.checkServerTrusted(context.Background(), chain, authType)
}

func (c *TLSContext) checkServerTrusted(ctx context.Context, chain []*x509.Certificate, authType string) error {
	start := time.Now()
	event := DecisionEvent{
		Decider:     c.deciderName,
		Composition: c.composition.String(),
		AuthType:    authType,
	}

	var leaf *x509.Certificate
	if len(chain) > 0 {
		leaf = chain[0]
	}

	stage, err := c.evaluate(chain, authType)
	event.Stage = stage
	event.Accepted = err == nil
	event.Duration = time.Since(start)

	c.logger.LogTrustDecision(ctx, event, leaf, err)
	if c.observer != nil {
		c.observer.ObserveDecision(ctx, event)
	}
	return err
}

func (c *TLSContext) evaluate(chain []*x509.Certificate, authType string) (Stage, error) {
	if len(chain) == 0 || chain[0] == nil {
		return StagePlatform, NewUntrustedError(string(StagePlatform), "",
			errors.New("server presented no certificates"))
	}
	subject := chain[0].Subject.String()

	if c.permissive {
		if err := c.decider.CheckServerTrusted(chain, authType); err != nil {
			return StageDecider, NewUntrustedError(string(StageDecider), subject, err).
				WithContext("decider", c.deciderName)
		}
		return StageDecider, nil
	}

	platformErr := c.verifyPlatform(chain)

	switch c.composition {
	case CompositionOverride:
		if platformErr == nil {
			return StagePlatform, nil
		}
		if err := c.decider.CheckServerTrusted(chain, authType); err != nil {
			return StageDecider, NewUntrustedError(string(StageDecider), subject, err).
				WithContext("decider", c.deciderName).
				WithContext("platform_error", platformErr.Error())
		}
		return StageDecider, nil
	default:
		if platformErr != nil {
			return StagePlatform, NewUntrustedError(string(StagePlatform), subject, platformErr).
				WithContext("provider", c.providerName)
		}
		if err := c.decider.CheckServerTrusted(chain, authType); err != nil {
			return StageDecider, NewUntrustedError(string(StageDecider), subject, err).
				WithContext("decider", c.deciderName)
		}
		return StageDecider, nil
	}
}

// verifyPlatform validates chain against the provider's roots. The hostname
// is left to the configuration's HostnameVerifier.
func (c *TLSContext) verifyPlatform(chain []*x509.Certificate) error {
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		if cert != nil {
			intermediates.AddCert(cert)
		}
	}

	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         c.roots,
		Intermediates: intermediates,
		CurrentTime:   c.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	return err
}

// baseConfig returns a fresh crypto/tls client config carrying the context's
// protocol settings. Verification is installed by the caller.
func (c *TLSContext) baseConfig() *tls.Config {
	cfg := &tls.Config{
		MinVersion:         c.minVersion,
		MaxVersion:         c.maxVersion,
		RootCAs:            c.roots,
		InsecureSkipVerify: true, //nolint:gosec // chain and hostname are checked in VerifyConnection
	}
	if len(c.cipherSuites) > 0 {
		cfg.CipherSuites = append([]uint16(nil), c.cipherSuites...)
	}
	if len(c.certificates) > 0 {
		cfg.Certificates = append([]tls.Certificate(nil), c.certificates...)
	}
	if len(c.nextProtos) > 0 {
		cfg.NextProtos = append([]string(nil), c.nextProtos...)
	}
	return cfg
}
