package main

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate self-signed or CA-signed certificates for testing",
		Args:  cobra.NoArgs,
		RunE:  runGenerate,
	}
	cmd.Flags().String("cn", "localhost", "Common name for the certificate")
	cmd.Flags().StringSlice("dns", nil, "DNS names (SANs)")
	cmd.Flags().StringSlice("ips", nil, "IP addresses (SANs)")
	cmd.Flags().StringSlice("uri", nil, "URI SANs, e.g. spiffe://example.org/svc")
	cmd.Flags().Bool("ca", false, "Generate a CA certificate")
	cmd.Flags().String("ca-cert", "", "Sign with this CA certificate instead of self-signing")
	cmd.Flags().String("ca-key", "", "Private key of --ca-cert")
	cmd.Flags().String("key-type", "ecdsa", "Key type: rsa, ecdsa")
	cmd.Flags().Duration("valid-for", 365*24*time.Hour, "Certificate validity duration")
	cmd.Flags().String("name", "cert", "Base name of the written files (<name>.pem, <name>-key.pem)")
	cmd.Flags().String("out-dir", ".", "Output directory")
	return cmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	cn, _ := flags.GetString("cn")
	dnsNames, _ := flags.GetStringSlice("dns")
	ipValues, _ := flags.GetStringSlice("ips")
	uriValues, _ := flags.GetStringSlice("uri")
	isCA, _ := flags.GetBool("ca")
	caCert, _ := flags.GetString("ca-cert")
	caKey, _ := flags.GetString("ca-key")
	keyType, _ := flags.GetString("key-type")
	validFor, _ := flags.GetDuration("valid-for")
	name, _ := flags.GetString("name")
	outDir, _ := flags.GetString("out-dir")

	opts := pkgtls.CertificateGenerationOptions{
		CommonName: cn,
		DNSNames:   dnsNames,
		IsCA:       isCA,
		KeyType:    strings.ToLower(keyType),
		ValidFor:   validFor,
	}

	for _, value := range ipValues {
		ip := net.ParseIP(strings.TrimSpace(value))
		if ip == nil {
			return fmt.Errorf("invalid IP address: %s", value)
		}
		opts.IPAddresses = append(opts.IPAddresses, ip)
	}
	for _, value := range uriValues {
		u, err := url.Parse(strings.TrimSpace(value))
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("invalid URI: %s", value)
		}
		opts.URIs = append(opts.URIs, u)
	}

	if (caCert == "") != (caKey == "") {
		return fmt.Errorf("--ca-cert and --ca-key must be given together")
	}
	if caCert != "" {
		parent, err := pkgtls.LoadKeyPair(caCert, caKey)
		if err != nil {
			return err
		}
		if !parent.Certificate.IsCA {
			return fmt.Errorf("%s is not a CA certificate", caCert)
		}
		opts.ParentCert = parent.Certificate
		opts.ParentKey = parent.Key
	}

	generated, err := pkgtls.GenerateCertificate(opts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	certPath := filepath.Join(outDir, name+".pem")
	keyPath := filepath.Join(outDir, name+"-key.pem")
	if err := pkgtls.WriteCertificateFiles(generated.CertPEM, generated.KeyPEM, certPath, keyPath); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Certificate generated successfully:\n")
	fmt.Fprintf(out, "  Certificate: %s\n", certPath)
	fmt.Fprintf(out, "  Private Key: %s\n", keyPath)
	fmt.Fprintf(out, "  Subject: %s\n", generated.Certificate.Subject)
	fmt.Fprintf(out, "  Issuer: %s\n", generated.Certificate.Issuer)
	fmt.Fprintf(out, "  SHA-256: sha256:%s\n", pkgtls.Fingerprint(generated.Certificate))
	return nil
}
