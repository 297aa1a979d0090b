// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for
// trust decisions.
//
// SetupProvider installs the process-wide tracer provider. Metrics and
// TracingObserver implement tls.Observer so that every build and decision of
// a TLS configuration can be exported without the tls package knowing about
// either backend.
package telemetry
