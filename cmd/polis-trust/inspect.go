package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Display certificate chain details",
		Args:  cobra.NoArgs,
		RunE:  runInspect,
	}
	cmd.Flags().String("cert", "", "PEM certificate or chain file to inspect")
	cmd.Flags().String("format", "text", "Output format: text, json")
	_ = cmd.MarkFlagRequired("cert")
	return cmd
}

type inspectReport struct {
	File         string                      `json:"file"`
	Certificates []pkgtls.CertificateSummary `json:"certificates"`
	Warnings     []string                    `json:"warnings"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	certFile, _ := cmd.Flags().GetString("cert")
	format, _ := cmd.Flags().GetString("format")

	chain, err := pkgtls.LoadCertificatesFile(certFile)
	if err != nil {
		return err
	}

	report := inspectReport{
		File:         certFile,
		Certificates: pkgtls.SummarizeChain(chain),
		Warnings:     pkgtls.ChainWarnings(chain, time.Now()),
	}
	if report.Warnings == nil {
		report.Warnings = []string{}
	}

	out := cmd.OutOrStdout()
	switch format {
	case "text":
		fmt.Fprintf(out, "File: %s\n", report.File)
		for i, summary := range report.Certificates {
			printSummaryText(out, i, summary, "  ")
		}
		for _, w := range report.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		return fmt.Errorf("unknown format: %s (supported: text, json)", format)
	}
}

func printSummaryText(out io.Writer, index int, s pkgtls.CertificateSummary, indent string) {
	fmt.Fprintf(out, "%s[%d] %s\n", indent, index, s.Subject)
	fmt.Fprintf(out, "%s    Issuer: %s\n", indent, s.Issuer)
	fmt.Fprintf(out, "%s    Valid: %s to %s\n", indent,
		s.NotBefore.Format(time.RFC3339), s.NotAfter.Format(time.RFC3339))
	fmt.Fprintf(out, "%s    SHA-256: %s\n", indent, s.SHA256)
	fmt.Fprintf(out, "%s    Key: %s %d bits, signed with %s\n", indent,
		s.PublicKeyAlgorithm, s.KeySize, s.SignatureAlgorithm)
	if len(s.DNSNames) > 0 {
		fmt.Fprintf(out, "%s    DNS Names: %s\n", indent, strings.Join(s.DNSNames, ", "))
	}
	if len(s.IPAddresses) > 0 {
		fmt.Fprintf(out, "%s    IP Addresses: %s\n", indent, strings.Join(s.IPAddresses, ", "))
	}
	if len(s.URIs) > 0 {
		fmt.Fprintf(out, "%s    URIs: %s\n", indent, strings.Join(s.URIs, ", "))
	}
	if s.IsCA {
		fmt.Fprintf(out, "%s    CA: true (self-signed: %t)\n", indent, s.SelfSigned)
	}
}
