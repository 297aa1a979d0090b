package policy

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"time"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

const defaultEvalTimeout = 2 * time.Second

// RegoDecider delegates chain trust to a Rego policy.
//
// The policy receives
//
//	{"auth_type": "ECDSA", "chain": [{"subject": ..., "sha256": ..., ...}, ...]}
//
// and must produce either a bool or an object {"allow": bool, "reason": string}
// at the configured entrypoint. Evaluation errors and undefined results reject
// the chain.
type RegoDecider struct {
	engine  *Engine
	timeout time.Duration
}

// DeciderOption customises a RegoDecider.
type DeciderOption func(*RegoDecider)

// WithEvalTimeout bounds a single policy evaluation.
func WithEvalTimeout(timeout time.Duration) DeciderOption {
	return func(d *RegoDecider) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewRegoDecider compiles the policy modules.
func NewRegoDecider(ctx context.Context, opts EngineOptions, deciderOpts ...DeciderOption) (*RegoDecider, error) {
	engine, err := NewEngine(ctx, opts)
	if err != nil {
		return nil, err
	}

	d := &RegoDecider{engine: engine, timeout: defaultEvalTimeout}
	for _, opt := range deciderOpts {
		opt(d)
	}
	return d, nil
}

// LoadModules reads Rego files keyed by their base name.
func LoadModules(paths ...string) (map[string]string, error) {
	modules := make(map[string]string, len(paths))
	for _, path := range paths {
		//nolint:gosec // policy paths come from operator configuration
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rego module %s: %w", path, err)
		}
		modules[filepath.Base(path)] = string(data)
	}
	return modules, nil
}

// CheckServerTrusted implements tls.TrustDecider.
func (d *RegoDecider) CheckServerTrusted(chain []*x509.Certificate, authType string) error {
	if len(chain) == 0 {
		return errors.New("empty certificate chain")
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	input := map[string]any{
		"auth_type": authType,
		"chain":     pkgtls.SummarizeChain(chain),
	}

	key := chainCacheKey(d.engine.Entrypoint(), chain, authType)
	decision, err := d.engine.Evaluate(ctx, input, key, nextValidityChange(chain, d.engine.Now()))
	if err != nil {
		return err
	}
	if !decision.Allow {
		if decision.Reason != "" {
			return fmt.Errorf("denied by policy %s: %s", d.engine.Entrypoint(), decision.Reason)
		}
		return fmt.Errorf("denied by policy %s", d.engine.Entrypoint())
	}
	return nil
}

// Engine exposes the underlying engine, e.g. to flush its cache after the
// policy inputs change.
func (d *RegoDecider) Engine() *Engine { return d.engine }

func (d *RegoDecider) String() string { return "rego" }

// nextValidityChange returns the earliest instant after now at which a
// certificate in chain enters or leaves its validity window. A decision made
// about the chain may differ from then on.
func nextValidityChange(chain []*x509.Certificate, now time.Time) time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if t.After(now) && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	for _, cert := range chain {
		if cert == nil {
			continue
		}
		consider(cert.NotBefore)
		// NotAfter is inclusive; the certificate expires just after it.
		consider(cert.NotAfter.Add(time.Nanosecond))
	}
	return next
}

// chainCacheKey hashes the entrypoint, the auth type and every certificate
// fingerprint in order.
func chainCacheKey(entry string, chain []*x509.Certificate, authType string) string {
	h := sha256.New()
	writeCacheKeyField(h, entry)
	writeCacheKeyField(h, authType)
	for _, cert := range chain {
		if cert != nil {
			writeCacheKeyField(h, pkgtls.Fingerprint(cert))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeCacheKeyField writes a field to the hash followed by a null delimiter.
func writeCacheKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}
