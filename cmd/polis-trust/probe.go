package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-trust/pkg/config"
	"github.com/polisai/polis-trust/pkg/telemetry"
	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe URL",
		Short: "GET a URL through the trust policy and report the peer chain",
		Args:  cobra.ExactArgs(1),
		RunE:  runProbe,
	}
	cmd.Flags().Bool("insecure-accept-all", false, "Accept any chain and any host name (testing only)")
	cmd.Flags().String("otlp-endpoint", "", "Export probe spans to this OTLP gRPC endpoint")
	cmd.Flags().Bool("otlp-insecure", false, "Use plaintext gRPC for the OTLP exporter")
	cmd.Flags().Duration("timeout", 10*time.Second, "Request timeout")
	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	target, err := url.Parse(args[0])
	if err != nil || target.Scheme != "https" || target.Host == "" {
		return fmt.Errorf("probe needs an https URL, got %q", args[0])
	}

	acceptAll, _ := cmd.Flags().GetBool("insecure-accept-all")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if acceptAll {
		cfg.Trust.Mode = config.ModeAcceptAll
		cfg.HostnameVerification = config.HostnameAllowAll
	}

	ctx := cmd.Context()
	shutdown, err := setupTracing(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	metrics := telemetry.NewMetrics()
	observer := pkgtls.MultiObserver(metrics, telemetry.NewTracingObserver(nil))
	tlsCfg, err := buildConfiguration(ctx, cmd, cfg, observer)
	if err != nil {
		return err
	}

	logger, err := commandLogger(cmd)
	if err != nil {
		return err
	}
	probeID := uuid.NewString()
	logger = logger.With("probe_id", probeID, "url", target.String())

	client := &http.Client{
		Transport: otelhttp.NewTransport(tlsCfg.Transport()),
		Timeout:   timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	record := telemetry.ProbeMetrics{
		Host:     target.Hostname(),
		Decider:  pkgtls.DeciderName(tlsCfg.Decider()),
		Outcome:  telemetry.ClassifyProbeError(err),
		Duration: elapsed,
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "probe %s\n", probeID)

	if err != nil {
		telemetry.RecordProbeMetrics(ctx, record)
		logger.Error("probe failed", "outcome", record.Outcome, "error", err)
		fmt.Fprintf(out, "result: %s\n  error: %v\n", record.Outcome, err)
		printDecisionCounters(out, metrics)
		return fmt.Errorf("probe %s: %w", record.Outcome, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	record.StatusCode = resp.StatusCode
	if resp.TLS != nil {
		record.TLSVersion = pkgtls.VersionName(resp.TLS.Version)
	}
	telemetry.RecordProbeMetrics(ctx, record)
	logger.Info("probe completed", "status", resp.StatusCode, "duration", elapsed)

	fmt.Fprintf(out, "result: %s\n", record.Outcome)
	fmt.Fprintf(out, "  status: %d\n", resp.StatusCode)
	if resp.TLS != nil {
		fmt.Fprintf(out, "  tls_version: %s\n", record.TLSVersion)
		fmt.Fprintf(out, "  peer chain:\n")
		for i, summary := range pkgtls.SummarizeChain(resp.TLS.PeerCertificates) {
			printSummaryText(out, i, summary, "    ")
		}
	}
	printDecisionCounters(out, metrics)
	return nil
}

func setupTracing(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (func(context.Context) error, error) {
	endpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	insecure, _ := cmd.Flags().GetBool("otlp-insecure")
	if endpoint == "" {
		endpoint = cfg.Telemetry.OTLPEndpoint
		insecure = insecure || cfg.Telemetry.Insecure
	}
	return telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "polis-trust",
		Endpoint:    endpoint,
		Insecure:    insecure,
	})
}

// printDecisionCounters prints every non-zero counter from the probe's
// private Prometheus registry.
func printDecisionCounters(out io.Writer, metrics *telemetry.Metrics) {
	families, err := metrics.Registry().Gather()
	if err != nil {
		return
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			counter := m.GetCounter()
			if counter == nil || counter.GetValue() == 0 {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			lines = append(lines, fmt.Sprintf("  %s{%s} %g", mf.GetName(), strings.Join(labels, ","), counter.GetValue()))
		}
	}
	sort.Strings(lines)

	fmt.Fprintln(out, "metrics:")
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}
