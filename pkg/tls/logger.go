package tls

import (
	"context"
	"crypto/x509"
	"log/slog"
	"time"
)

// TLSLogger provides structured logging for trust policy events
type TLSLogger struct {
	logger *slog.Logger
}

// NewTLSLogger creates a new TLS logger
func NewTLSLogger(logger *slog.Logger) *TLSLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &TLSLogger{
		logger: logger.With("component", "tls"),
	}
}

// Logger returns the underlying slog logger.
func (l *TLSLogger) Logger() *slog.Logger {
	return l.logger
}

// LogContextBuilt logs a successfully initialised TLS context
func (l *TLSLogger) LogContextBuilt(ctx context.Context, tlsCtx *TLSContext) {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "TLS context built",
		slog.String("event", "context_built"),
		slog.String("decider", tlsCtx.deciderName),
		slog.String("provider", tlsCtx.providerName),
		slog.String("composition", tlsCtx.composition.String()),
		slog.String("min_version", VersionName(tlsCtx.minVersion)),
		slog.String("max_version", VersionName(tlsCtx.maxVersion)),
		slog.Int("cipher_suites", len(tlsCtx.cipherSuites)),
		slog.Bool("permissive", tlsCtx.permissive),
	)
}

// LogBuildFailure logs a failed TLS context initialisation
func (l *TLSLogger) LogBuildFailure(ctx context.Context, decider, provider string, err error) {
	l.logger.LogAttrs(ctx, slog.LevelError, "TLS context initialisation failed",
		slog.String("event", "build_failure"),
		slog.String("decider", decider),
		slog.String("provider", provider),
		slog.String("error", err.Error()),
	)
}

// LogTrustDecision logs the outcome of a chain evaluation
func (l *TLSLogger) LogTrustDecision(ctx context.Context, event DecisionEvent, leaf *x509.Certificate, err error) {
	level := slog.LevelDebug
	message := "Certificate chain accepted"

	if !event.Accepted {
		level = slog.LevelWarn
		message = "Certificate chain rejected"
	}

	attrs := []slog.Attr{
		slog.String("event", "trust_decision"),
		slog.String("decider", event.Decider),
		slog.String("stage", string(event.Stage)),
		slog.String("auth_type", event.AuthType),
		slog.Bool("accepted", event.Accepted),
		slog.Duration("duration", event.Duration),
	}

	if leaf != nil {
		attrs = append(attrs,
			slog.String("subject", leaf.Subject.String()),
			slog.String("issuer", leaf.Issuer.String()),
			slog.Time("not_after", leaf.NotAfter),
		)
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	l.logger.LogAttrs(ctx, level, message, attrs...)
}

// LogHostnameVerification logs hostname verification results
func (l *TLSLogger) LogHostnameVerification(ctx context.Context, host, verifier string, cert *x509.Certificate, err error) {
	level := slog.LevelDebug
	message := "Hostname verified"

	if err != nil {
		level = slog.LevelWarn
		message = "Hostname verification failed"
	}

	attrs := []slog.Attr{
		slog.String("event", "hostname_verification"),
		slog.String("host", host),
		slog.String("verifier", verifier),
		slog.Bool("success", err == nil),
	}

	if cert != nil {
		attrs = append(attrs, slog.Any("certificate_names", CertificateNames(cert)))
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	l.logger.LogAttrs(ctx, level, message, attrs...)
}

// LogConfigurationChange logs trust configuration changes
func (l *TLSLogger) LogConfigurationChange(ctx context.Context, changeType, description string, success bool, err error) {
	level := slog.LevelInfo
	message := "TLS configuration changed"

	if !success {
		level = slog.LevelError
		message = "TLS configuration change failed"
	}

	attrs := []slog.Attr{
		slog.String("event", "configuration_change"),
		slog.String("change_type", changeType),
		slog.String("description", description),
		slog.Bool("success", success),
		slog.Time("timestamp", time.Now()),
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	l.logger.LogAttrs(ctx, level, message, attrs...)
}

// LogSecurityEvent logs TLS security-related events
func (l *TLSLogger) LogSecurityEvent(ctx context.Context, eventType, description, severity string) {
	var level slog.Level
	switch severity {
	case "critical", "high":
		level = slog.LevelError
	case "medium":
		level = slog.LevelWarn
	default:
		level = slog.LevelInfo
	}

	l.logger.LogAttrs(ctx, level, "TLS security event",
		slog.String("event", "security_event"),
		slog.String("event_type", eventType),
		slog.String("description", description),
		slog.String("severity", severity),
		slog.Time("timestamp", time.Now()),
	)
}
