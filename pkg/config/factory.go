package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polisai/polis-trust/pkg/policy"
	"github.com/polisai/polis-trust/pkg/spiffetrust"
	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

// Factory turns a validated Config into a TLS client configuration.
type Factory struct {
	logger   *slog.Logger
	observer pkgtls.Observer
	now      func() time.Time
}

// FactoryOption customises a Factory.
type FactoryOption func(*Factory)

// WithFactoryLogger sets the logger handed to built configurations.
func WithFactoryLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// WithFactoryObserver attaches an extra decision observer.
func WithFactoryObserver(observer pkgtls.Observer) FactoryOption {
	return func(f *Factory) { f.observer = observer }
}

// WithFactoryClock overrides the clock used for chain validation.
func WithFactoryClock(now func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = now }
}

// NewFactory creates a factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build selects the decider, hostname verifier and root provider described
// by cfg and builds the configuration.
func (f *Factory) Build(ctx context.Context, cfg *Config) (*pkgtls.Configuration, error) {
	if cfg == nil {
		return nil, NewConfigMissingError("config")
	}

	decider, err := f.Decider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := hostnameVerifier(cfg.HostnameVerification)
	if err != nil {
		return nil, err
	}

	composition, err := pkgtls.ParseComposition(cfg.Trust.Composition)
	if err != nil {
		return nil, err
	}

	opts := []pkgtls.Option{
		pkgtls.WithComposition(composition),
		pkgtls.WithMinVersion(cfg.MinVersion),
		pkgtls.WithMaxVersion(cfg.MaxVersion),
		pkgtls.WithCipherSuites(cfg.CipherSuites...),
	}
	if cfg.TrustBundle != nil {
		name := cfg.TrustBundle.Name
		if name == "" {
			name = "default"
		}
		opts = append(opts, pkgtls.WithProvider(pkgtls.BundleProvider(name, cfg.TrustBundle)))
	}
	if f.logger != nil {
		opts = append(opts, pkgtls.WithLogger(f.logger))
	}
	if f.observer != nil {
		opts = append(opts, pkgtls.WithObserver(f.observer))
	}
	if f.now != nil {
		opts = append(opts, pkgtls.WithClock(f.now))
	}

	return pkgtls.BuildWithVerifier(decider, verifier, opts...)
}

// Decider builds the trust decider for cfg.Trust.Mode.
func (f *Factory) Decider(ctx context.Context, cfg *Config) (pkgtls.TrustDecider, error) {
	trust := cfg.Trust
	switch trust.Mode {
	case "", ModePlatform:
		return pkgtls.PlatformOnly(), nil
	case ModeAcceptAll:
		return pkgtls.AcceptAll(), nil
	case ModePinned:
		return pkgtls.NewPinnedDecider(trust.Pins...)
	case ModeRego:
		if trust.Rego == nil {
			return nil, NewConfigMissingError("trust.rego")
		}
		modules, err := policy.LoadModules(trust.Rego.Files...)
		if err != nil {
			return nil, err
		}
		return policy.NewRegoDecider(ctx, policy.EngineOptions{
			Entrypoint:      trust.Rego.Entrypoint,
			Modules:         modules,
			CacheMaxEntries: trust.Rego.CacheSize,
			CacheTTL:        trust.Rego.CacheTTL,
		})
	case ModeSPIFFE:
		if trust.SPIFFE == nil {
			return nil, NewConfigMissingError("trust.spiffe")
		}
		bundle, err := spiffetrust.LoadBundle(trust.SPIFFE.TrustDomain, trust.SPIFFE.BundleFile)
		if err != nil {
			return nil, err
		}
		var opts []spiffetrust.Option
		if f.now != nil {
			opts = append(opts, spiffetrust.WithClock(f.now))
		}
		return spiffetrust.NewDecider(bundle, spiffetrust.Policy{
			ID:          trust.SPIFFE.ID,
			TrustDomain: trust.SPIFFE.TrustDomain,
		}, opts...)
	default:
		return nil, NewConfigValidationError("trust.mode", trust.Mode,
			fmt.Sprintf("must be one of %s, %s, %s, %s, %s",
				ModePlatform, ModeAcceptAll, ModePinned, ModeRego, ModeSPIFFE))
	}
}

func hostnameVerifier(name string) (pkgtls.HostnameVerifier, error) {
	switch name {
	case "", HostnameStrict:
		return pkgtls.StrictHostnameVerifier, nil
	case HostnameAllowAll:
		return pkgtls.AllowAllHostnameVerifier, nil
	default:
		return nil, NewConfigValidationError("hostname_verification", name, "must be strict or allow_all")
	}
}
