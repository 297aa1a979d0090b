// Package tls builds client TLS configurations whose server certificate trust
// is decided by caller-supplied policy.
//
// A TrustDecider receives every presented chain together with the leaf's key
// algorithm. Build and BuildWithVerifier combine it with the platform chain
// check (see Composition) and a HostnameVerifier, and expose the result as a
// crypto/tls config, a dial function, an http.Transport and gRPC transport
// credentials. Initialisation failures are reported as a TLSError matching
// ErrSecurityInitialization.
package tls
