package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

var (
	metricsOnce         sync.Once
	metricsInitErr      error
	probeCounter        metric.Int64Counter
	probeFailureCounter metric.Int64Counter
	probeLatency        metric.Float64Histogram
)

// ProbeOutcome classifies the result of a TLS probe.
type ProbeOutcome string

const (
	ProbeOK               ProbeOutcome = "ok"
	ProbeUntrusted        ProbeOutcome = "untrusted"
	ProbeHostnameMismatch ProbeOutcome = "hostname_mismatch"
	ProbeError            ProbeOutcome = "error"
)

// ClassifyProbeError maps a probe error to an outcome.
func ClassifyProbeError(err error) ProbeOutcome {
	switch {
	case err == nil:
		return ProbeOK
	case errors.Is(err, pkgtls.ErrHostnameMismatch):
		return ProbeHostnameMismatch
	case errors.Is(err, pkgtls.ErrUntrusted):
		return ProbeUntrusted
	default:
		return ProbeError
	}
}

// ProbeMetrics captures the fields needed to record one probe.
type ProbeMetrics struct {
	Host       string
	Decider    string
	Outcome    ProbeOutcome
	StatusCode int
	TLSVersion string
	Duration   time.Duration
}

// RecordProbeMetrics emits counters and a latency histogram for a probe.
func RecordProbeMetrics(ctx context.Context, m ProbeMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("server.address", m.Host),
		attribute.String("trust.decider", m.Decider),
		attribute.String("probe.outcome", string(m.Outcome)),
	}
	if m.TLSVersion != "" {
		attrs = append(attrs, attribute.String("tls.protocol.version", m.TLSVersion))
	}

	probeCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		probeLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if m.Outcome != ProbeOK {
		probeFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("polis.trust.probe")

		probeCounter, metricsInitErr = meter.Int64Counter(
			"trust.probe.requests_total",
			metric.WithDescription("TLS probes partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		probeFailureCounter, metricsInitErr = meter.Int64Counter(
			"trust.probe.failures_total",
			metric.WithDescription("TLS probes that did not complete successfully"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		probeLatency, metricsInitErr = meter.Float64Histogram(
			"trust.probe.duration_ms",
			metric.WithDescription("Observed probe latency including the handshake"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
