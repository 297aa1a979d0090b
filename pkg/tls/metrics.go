package tls

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stage names the check that produced a trust verdict.
type Stage string

const (
	StagePlatform Stage = "platform"
	StageDecider  Stage = "decider"
	StageHostname Stage = "hostname"
)

// DecisionEvent describes one evaluation of a presented chain.
type DecisionEvent struct {
	Decider     string
	Composition string
	// Stage is the check whose verdict was final.
	Stage    Stage
	Accepted bool
	AuthType string
	Host     string
	Duration time.Duration
}

// Observer receives build and decision events. Implementations are called
// from handshake goroutines and must be safe for concurrent use.
type Observer interface {
	ObserveBuild(ctx context.Context, decider string, err error)
	ObserveDecision(ctx context.Context, event DecisionEvent)
}

type multiObserver []Observer

// MultiObserver fans events out to every non-nil observer.
func MultiObserver(observers ...Observer) Observer {
	out := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) ObserveBuild(ctx context.Context, decider string, err error) {
	for _, o := range m {
		o.ObserveBuild(ctx, decider, err)
	}
}

func (m multiObserver) ObserveDecision(ctx context.Context, event DecisionEvent) {
	for _, o := range m {
		o.ObserveDecision(ctx, event)
	}
}

var (
	metricsOnce    sync.Once
	metricsInitErr error
	trustMetrics   *TrustMetricsCollector
)

// TrustMetricsCollector records trust policy metrics through the global
// OpenTelemetry meter provider.
type TrustMetricsCollector struct {
	builds           metric.Int64Counter
	decisions        metric.Int64Counter
	decisionDuration metric.Float64Histogram
	hostnameChecks   metric.Int64Counter
	configReloads    metric.Int64Counter
}

// GetTrustMetricsCollector returns the singleton trust metrics collector
func GetTrustMetricsCollector() (*TrustMetricsCollector, error) {
	metricsOnce.Do(func() {
		trustMetrics, metricsInitErr = newTrustMetricsCollector()
	})
	return trustMetrics, metricsInitErr
}

// ResetMetricsForTest clears the cached collector so tests can reinitialize
// it against a fresh MeterProvider. Test code only.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	trustMetrics = nil
}

func newTrustMetricsCollector() (*TrustMetricsCollector, error) {
	meter := otel.GetMeterProvider().Meter("polis.trust")

	collector := &TrustMetricsCollector{}

	var err error

	collector.builds, err = meter.Int64Counter(
		"trust_context_builds_total",
		metric.WithDescription("Total number of TLS context initialisations"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, err
	}

	collector.decisions, err = meter.Int64Counter(
		"trust_decisions_total",
		metric.WithDescription("Total number of certificate chain evaluations"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	collector.decisionDuration, err = meter.Float64Histogram(
		"trust_decision_duration_seconds",
		metric.WithDescription("Certificate chain evaluation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	collector.hostnameChecks, err = meter.Int64Counter(
		"trust_hostname_checks_total",
		metric.WithDescription("Total number of hostname verifications"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	collector.configReloads, err = meter.Int64Counter(
		"trust_config_reloads_total",
		metric.WithDescription("Total number of trust configuration reloads"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return nil, err
	}

	return collector, nil
}

// ObserveBuild implements Observer.
func (c *TrustMetricsCollector) ObserveBuild(ctx context.Context, decider string, err error) {
	c.builds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decider", decider),
		attribute.Bool("success", err == nil),
	))
}

// ObserveDecision implements Observer.
func (c *TrustMetricsCollector) ObserveDecision(ctx context.Context, event DecisionEvent) {
	outcome := "rejected"
	if event.Accepted {
		outcome = "accepted"
	}

	if event.Stage == StageHostname {
		c.hostnameChecks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
		))
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("decider", event.Decider),
		attribute.String("composition", event.Composition),
		attribute.String("stage", string(event.Stage)),
		attribute.String("outcome", outcome),
	}
	c.decisions.Add(ctx, 1, metric.WithAttributes(attrs...))

	if event.Duration > 0 {
		c.decisionDuration.Record(ctx, event.Duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordConfigReload records a configuration reload attempt.
func (c *TrustMetricsCollector) RecordConfigReload(ctx context.Context, success bool) {
	c.configReloads.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}
