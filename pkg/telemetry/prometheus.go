package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

// Metrics holds the Prometheus trust metrics. It implements tls.Observer.
type Metrics struct {
	builds           *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	hostnameChecks   *prometheus.CounterVec
	configReloads    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the trust metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trust_context_builds_total",
				Help: "TLS context builds by decider and result",
			},
			[]string{"decider", "success"},
		),

		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trust_decisions_total",
				Help: "Trust decisions by decider, composition, final stage and outcome",
			},
			[]string{"decider", "composition", "stage", "outcome"},
		),

		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trust_decision_duration_seconds",
				Help:    "Time spent evaluating a presented chain",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"decider", "outcome"},
		),

		hostnameChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trust_hostname_checks_total",
				Help: "Hostname verifications by outcome",
			},
			[]string{"outcome"},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trust_config_reloads_total",
				Help: "Configuration reload attempts by result",
			},
			[]string{"success"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.builds,
		m.decisions,
		m.decisionDuration,
		m.hostnameChecks,
		m.configReloads,
	)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBuild implements tls.Observer.
func (m *Metrics) ObserveBuild(_ context.Context, decider string, err error) {
	m.builds.WithLabelValues(decider, boolLabel(err == nil)).Inc()
}

// ObserveDecision implements tls.Observer.
func (m *Metrics) ObserveDecision(_ context.Context, event pkgtls.DecisionEvent) {
	outcome := outcomeLabel(event.Accepted)

	if event.Stage == pkgtls.StageHostname {
		m.hostnameChecks.WithLabelValues(outcome).Inc()
		return
	}

	m.decisions.WithLabelValues(event.Decider, event.Composition, string(event.Stage), outcome).Inc()
	if event.Duration > 0 {
		m.decisionDuration.WithLabelValues(event.Decider, outcome).Observe(event.Duration.Seconds())
	}
}

// RecordConfigReload counts a configuration reload attempt.
func (m *Metrics) RecordConfigReload(success bool) {
	m.configReloads.WithLabelValues(boolLabel(success)).Inc()
}

func outcomeLabel(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
