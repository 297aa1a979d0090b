// Package policy evaluates server certificate trust with Open Policy Agent.
//
// RegoDecider implements tls.TrustDecider on top of an Engine that prepares
// the Rego query once and caches decisions per chain in a bounded LRU.
package policy
