package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

const tracerName = "github.com/polisai/polis-trust"

// TracingObserver emits one span per trust decision. Decisions happen inside
// the TLS handshake, so spans are back-dated by the decision duration.
type TracingObserver struct {
	tracer trace.Tracer
}

// NewTracingObserver uses tp, or the global tracer provider when tp is nil.
func NewTracingObserver(tp trace.TracerProvider) *TracingObserver {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingObserver{tracer: tp.Tracer(tracerName)}
}

// ObserveBuild records failed builds as error spans.
func (o *TracingObserver) ObserveBuild(ctx context.Context, decider string, err error) {
	if err == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "tls.build", trace.WithAttributes(
		attribute.String("trust.decider", decider),
	))
	span.RecordError(err)
	span.SetStatus(codes.Error, "build failed")
	span.End()
}

// ObserveDecision implements tls.Observer.
func (o *TracingObserver) ObserveDecision(ctx context.Context, event pkgtls.DecisionEvent) {
	end := time.Now()
	name := "tls.trust_decision"
	if event.Stage == pkgtls.StageHostname {
		name = "tls.hostname_verification"
	}

	attrs := []attribute.KeyValue{
		attribute.String("trust.decider", event.Decider),
		attribute.String("trust.composition", event.Composition),
		attribute.String("trust.stage", string(event.Stage)),
		attribute.Bool("trust.accepted", event.Accepted),
	}
	if event.AuthType != "" {
		attrs = append(attrs, attribute.String("tls.auth_type", event.AuthType))
	}
	if event.Host != "" {
		attrs = append(attrs, attribute.String("server.address", event.Host))
	}

	_, span := o.tracer.Start(ctx, name,
		trace.WithTimestamp(end.Add(-event.Duration)),
		trace.WithAttributes(attrs...),
	)
	if !event.Accepted {
		span.SetStatus(codes.Error, "rejected at "+string(event.Stage))
		span.AddEvent("security.event", trace.WithAttributes(
			attribute.Bool("security.blocked", true),
			attribute.String("security.block_reason", string(event.Stage)),
		))
	}
	span.End(trace.WithTimestamp(end))
}
