package tls

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strings"
	"time"
)

// CertificateSummary is a flat description of one certificate, used for
// policy input, CLI output and logs.
type CertificateSummary struct {
	Subject            string    `json:"subject"`
	Issuer             string    `json:"issuer"`
	SerialNumber       string    `json:"serial_number"`
	DNSNames           []string  `json:"dns_names"`
	IPAddresses        []string  `json:"ip_addresses"`
	URIs               []string  `json:"uris"`
	SHA256             string    `json:"sha256"`
	NotBefore          time.Time `json:"not_before"`
	NotAfter           time.Time `json:"not_after"`
	IsCA               bool      `json:"is_ca"`
	SelfSigned         bool      `json:"self_signed"`
	PublicKeyAlgorithm string    `json:"public_key_algorithm"`
	KeySize            int       `json:"key_size"`
	SignatureAlgorithm string    `json:"signature_algorithm"`
	KeyUsage           []string  `json:"key_usage,omitempty"`
	ExtKeyUsage        []string  `json:"ext_key_usage,omitempty"`
}

// Summarize describes cert.
func Summarize(cert *x509.Certificate) CertificateSummary {
	summary := CertificateSummary{
		Subject:            cert.Subject.String(),
		Issuer:             cert.Issuer.String(),
		SerialNumber:       cert.SerialNumber.String(),
		DNSNames:           append([]string{}, cert.DNSNames...),
		IPAddresses:        []string{},
		URIs:               []string{},
		SHA256:             Fingerprint(cert),
		NotBefore:          cert.NotBefore.UTC(),
		NotAfter:           cert.NotAfter.UTC(),
		IsCA:               cert.IsCA,
		SelfSigned:         isSelfSigned(cert),
		PublicKeyAlgorithm: AuthType(cert),
		KeySize:            keySize(cert.PublicKey),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		KeyUsage:           keyUsageNames(cert.KeyUsage),
		ExtKeyUsage:        extKeyUsageNames(cert.ExtKeyUsage),
	}
	for _, ip := range cert.IPAddresses {
		summary.IPAddresses = append(summary.IPAddresses, ip.String())
	}
	for _, uri := range cert.URIs {
		summary.URIs = append(summary.URIs, uri.String())
	}
	return summary
}

// SummarizeChain describes every certificate of chain, leaf first.
func SummarizeChain(chain []*x509.Certificate) []CertificateSummary {
	out := make([]CertificateSummary, 0, len(chain))
	for _, cert := range chain {
		if cert != nil {
			out = append(out, Summarize(cert))
		}
	}
	return out
}

// ChainWarnings reports problems an operator should look at before trusting
// chain: expiry, weak keys, SHA-1 signatures, missing SANs and broken links.
func ChainWarnings(chain []*x509.Certificate, now time.Time) []string {
	var warnings []string

	for i, cert := range chain {
		if cert == nil {
			continue
		}
		label := fmt.Sprintf("certificate %d (%s)", i, cert.Subject.CommonName)

		if now.After(cert.NotAfter) {
			warnings = append(warnings, fmt.Sprintf("%s expired on %s", label, cert.NotAfter.Format(time.RFC3339)))
		} else if days := int(cert.NotAfter.Sub(now).Hours() / 24); days <= 30 {
			warnings = append(warnings, fmt.Sprintf("%s expires in %d days", label, days))
		}
		if now.Before(cert.NotBefore) {
			warnings = append(warnings, fmt.Sprintf("%s is not valid before %s", label, cert.NotBefore.Format(time.RFC3339)))
		}

		if _, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			if size := keySize(cert.PublicKey); size < 2048 {
				warnings = append(warnings, fmt.Sprintf("%s uses a weak %d-bit RSA key", label, size))
			}
		}
		if strings.Contains(strings.ToLower(cert.SignatureAlgorithm.String()), "sha1") {
			warnings = append(warnings, fmt.Sprintf("%s uses a SHA-1 signature", label))
		}
		if i == 0 && len(cert.DNSNames) == 0 && len(cert.IPAddresses) == 0 {
			warnings = append(warnings, fmt.Sprintf("%s has no subject alternative names", label))
		}

		if i+1 < len(chain) && chain[i+1] != nil {
			if err := cert.CheckSignatureFrom(chain[i+1]); err != nil {
				warnings = append(warnings, fmt.Sprintf("%s is not signed by the next certificate: %v", label, err))
			}
		}
	}

	return warnings
}

func isSelfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawSubject, cert.RawIssuer) {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}

func keySize(publicKey any) int {
	switch key := publicKey.(type) {
	case *rsa.PublicKey:
		return key.N.BitLen()
	case *ecdsa.PublicKey:
		return key.Curve.Params().BitSize
	default:
		return 0
	}
}

func keyUsageNames(keyUsage x509.KeyUsage) []string {
	names := []struct {
		bit  x509.KeyUsage
		name string
	}{
		{x509.KeyUsageDigitalSignature, "Digital Signature"},
		{x509.KeyUsageContentCommitment, "Content Commitment"},
		{x509.KeyUsageKeyEncipherment, "Key Encipherment"},
		{x509.KeyUsageDataEncipherment, "Data Encipherment"},
		{x509.KeyUsageKeyAgreement, "Key Agreement"},
		{x509.KeyUsageCertSign, "Certificate Sign"},
		{x509.KeyUsageCRLSign, "CRL Sign"},
	}

	var usages []string
	for _, n := range names {
		if keyUsage&n.bit != 0 {
			usages = append(usages, n.name)
		}
	}
	return usages
}

func extKeyUsageNames(extKeyUsage []x509.ExtKeyUsage) []string {
	var usages []string

	for _, usage := range extKeyUsage {
		switch usage {
		case x509.ExtKeyUsageServerAuth:
			usages = append(usages, "Server Authentication")
		case x509.ExtKeyUsageClientAuth:
			usages = append(usages, "Client Authentication")
		case x509.ExtKeyUsageCodeSigning:
			usages = append(usages, "Code Signing")
		case x509.ExtKeyUsageOCSPSigning:
			usages = append(usages, "OCSP Signing")
		default:
			usages = append(usages, fmt.Sprintf("Unknown (%v)", usage))
		}
	}

	return usages
}
