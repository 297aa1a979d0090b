package tls

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"os"
	"time"
)

// CertificateGenerationOptions contains options for generating certificates
type CertificateGenerationOptions struct {
	CommonName   string
	Organization []string
	DNSNames     []string
	IPAddresses  []net.IP
	URIs         []*url.URL
	NotBefore    time.Time
	ValidFor     time.Duration
	IsCA         bool
	IsClientCert bool
	// KeyType is "rsa" (default) or "ecdsa".
	KeyType      string
	KeySize      int
	SerialNumber *big.Int
	ParentCert   *x509.Certificate
	ParentKey    crypto.Signer
}

// GeneratedCertificate is a freshly generated certificate and its key.
type GeneratedCertificate struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
	CertPEM     []byte
	KeyPEM      []byte
}

// TLSCertificate returns the pair as a crypto/tls certificate.
func (g *GeneratedCertificate) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(g.CertPEM, g.KeyPEM)
}

// GenerateCertificate creates a certificate, self-signed unless a parent is
// given. Intended for tests and lab setups.
func GenerateCertificate(opts CertificateGenerationOptions) (*GeneratedCertificate, error) {
	if opts.ValidFor == 0 {
		opts.ValidFor = 365 * 24 * time.Hour
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Minute)
	}
	if opts.SerialNumber == nil {
		serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
		if err != nil {
			return nil, fmt.Errorf("failed to generate serial number: %w", err)
		}
		opts.SerialNumber = serial
	}
	if opts.CommonName == "" {
		opts.CommonName = "localhost"
	}

	key, err := generateKey(opts.KeyType, opts.KeySize)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: opts.SerialNumber,
		Subject: pkix.Name{
			CommonName:   opts.CommonName,
			Organization: opts.Organization,
		},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotBefore.Add(opts.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              opts.DNSNames,
		IPAddresses:           opts.IPAddresses,
		URIs:                  opts.URIs,
	}
	if _, ok := key.(*rsa.PrivateKey); ok {
		template.KeyUsage |= x509.KeyUsageKeyEncipherment
	}

	if opts.IsCA {
		template.IsCA = true
		template.KeyUsage |= x509.KeyUsageCertSign
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	} else if opts.IsClientCert {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	parentCert := &template
	var parentKey crypto.Signer = key
	if opts.ParentCert != nil && opts.ParentKey != nil {
		parentCert = opts.ParentCert
		parentKey = opts.ParentKey
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, parentCert, key.Public(), parentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return &GeneratedCertificate{
		Certificate: cert,
		Key:         key,
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

func generateKey(keyType string, size int) (crypto.Signer, error) {
	switch keyType {
	case "", "rsa":
		if size == 0 {
			size = 2048
		}
		key, err := rsa.GenerateKey(rand.Reader, size)
		if err != nil {
			return nil, fmt.Errorf("failed to generate private key: %w", err)
		}
		return key, nil
	case "ecdsa":
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate private key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", keyType)
	}
}

// WriteCertificateFiles writes certificate and key to files
func WriteCertificateFiles(certPEM, keyPEM []byte, certFile, keyFile string) error {
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate file: %w", err)
	}

	// Write key file with restricted permissions
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	return nil
}

// ParseCertificatesPEM decodes every CERTIFICATE block in data, in order.
// Other block types are skipped.
func ParseCertificatesPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data

	for {
		block, remaining := pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, NewCertificateParsingError("pem", err)
			}
			certs = append(certs, cert)
		}
		rest = remaining
	}

	if len(certs) == 0 {
		return nil, NewCertificateParsingError("pem", errors.New("no certificates found"))
	}
	return certs, nil
}

// LoadCertificatesFile reads a PEM chain from disk.
func LoadCertificatesFile(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewFileNotFoundError(path)
		}
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	certs, err := ParseCertificatesPEM(data)
	if err != nil {
		var tlsErr *TLSError
		if errors.As(err, &tlsErr) {
			tlsErr.WithContext("source", path)
		}
		return nil, err
	}
	return certs, nil
}

// EncodeCertificatesPEM encodes certs as consecutive PEM blocks.
func EncodeCertificatesPEM(certs []*x509.Certificate) []byte {
	var out []byte
	for _, cert := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
	}
	return out
}

// LoadKeyPair reads a PEM certificate and private key, for example a CA used
// to sign further certificates.
func LoadKeyPair(certFile, keyFile string) (*GeneratedCertificate, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	leaf := pair.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(pair.Certificate[0]); err != nil {
			return nil, NewCertificateParsingError(certFile, err)
		}
	}

	signer, ok := pair.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key in %s cannot sign", keyFile)
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	return &GeneratedCertificate{
		Certificate: leaf,
		Key:         signer,
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
	}, nil
}
