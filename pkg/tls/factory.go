package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc/credentials"
)

// Configuration pairs an initialised TLSContext with the hostname verifier to
// apply after trust is established. Values are immutable and compared by
// identity: two configurations built from equivalent inputs are distinct.
type Configuration struct {
	context  *TLSContext
	verifier HostnameVerifier
}

// Build produces a client configuration that delegates trust decisions to
// decider and verifies hostnames with StrictHostnameVerifier.
func Build(decider TrustDecider, opts ...Option) (*Configuration, error) {
	return BuildWithVerifier(decider, nil, opts...)
}

// BuildWithVerifier is Build with a caller supplied hostname verifier. A nil
// verifier selects StrictHostnameVerifier. On failure the configuration is nil
// and the error matches ErrSecurityInitialization.
func BuildWithVerifier(decider TrustDecider, verifier HostnameVerifier, opts ...Option) (*Configuration, error) {
	tlsCtx, err := CreateTLSContext(decider, opts...)
	if err != nil {
		return nil, err
	}
	if verifier == nil {
		verifier = StrictHostnameVerifier
	}
	if verifier == AllowAllHostnameVerifier && tlsCtx.permissive {
		tlsCtx.logger.LogSecurityEvent(context.Background(), "authentication_disabled",
			"both chain validation and hostname verification are disabled", "high")
	}
	return &Configuration{context: tlsCtx, verifier: verifier}, nil
}

// Context returns the initialised TLS context.
func (c *Configuration) Context() *TLSContext { return c.context }

// HostnameVerifier returns the verifier applied after trust acceptance.
func (c *Configuration) HostnameVerifier() HostnameVerifier { return c.verifier }

// Decider returns the trust decider the context delegates to.
func (c *Configuration) Decider() TrustDecider { return c.context.decider }

// VerifyPeer runs the full pipeline on chain as if it had been presented by
// host: chain trust first, then hostname verification on the leaf.
func (c *Configuration) VerifyPeer(host string, chain []*x509.Certificate) error {
	return c.verifyPeer(context.Background(), host, chain)
}

func (c *Configuration) verifyPeer(ctx context.Context, host string, chain []*x509.Certificate) error {
	var leaf *x509.Certificate
	if len(chain) > 0 {
		leaf = chain[0]
	}

	if err := c.context.checkServerTrusted(ctx, chain, AuthType(leaf)); err != nil {
		return err
	}

	start := time.Now()
	err := c.verifier.Verify(host, leaf)
	if err != nil {
		var tlsErr *TLSError
		if !errors.As(err, &tlsErr) || tlsErr.Type != ErrorTypeHostnameMismatch {
			mismatch := NewHostnameMismatchError(host, CertificateNames(leaf))
			mismatch.Cause = err
			err = mismatch
		}
	}

	c.context.logger.LogHostnameVerification(ctx, host, verifierName(c.verifier), leaf, err)
	if c.context.observer != nil {
		c.context.observer.ObserveDecision(ctx, DecisionEvent{
			Decider:     c.context.deciderName,
			Composition: c.context.composition.String(),
			Stage:       StageHostname,
			Accepted:    err == nil,
			AuthType:    AuthType(leaf),
			Host:        host,
			Duration:    time.Since(start),
		})
	}
	return err
}

// TLSConfig returns a new crypto/tls client config enforcing this
// configuration. When serverName is empty the name the client sent as SNI
// (crypto/tls sets it from the dialled host) is verified.
func (c *Configuration) TLSConfig(serverName string) *tls.Config {
	cfg := c.context.baseConfig()
	cfg.ServerName = serverName
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		host := serverName
		if host == "" {
			host = cs.ServerName
		}
		return c.verifyPeer(context.Background(), host, cs.PeerCertificates)
	}
	return cfg
}

// DialTLSContext connects to addr and completes a handshake verified by this
// configuration. The hostname is taken from addr, so IP literals are matched
// against IP SANs.
func (c *Configuration) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	dialer := &tls.Dialer{Config: c.TLSConfig(host)}
	return dialer.DialContext(ctx, network, addr)
}

// Transport returns a clone of http.DefaultTransport that dials TLS through
// DialTLSContext.
func (c *Configuration) Transport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = c.TLSConfig("")
	transport.DialTLSContext = c.DialTLSContext
	return transport
}

// GRPCCredentials returns transport credentials for grpc.WithTransportCredentials.
func (c *Configuration) GRPCCredentials() credentials.TransportCredentials {
	return credentials.NewTLS(c.TLSConfig(""))
}
