package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	stdtls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/wearforce/gateway/internal/observability"
)

// selfSignedValidity keeps development certificates short-lived so a
// stale one cannot linger unnoticed.
const selfSignedValidity = 7 * 24 * time.Hour

// SelfSignedProvider generates an ECDSA P-256 certificate at startup.
// It only answers for loopback names and is gated behind an explicit
// development flag at the configuration layer.
type SelfSignedProvider struct {
	cert *stdtls.Certificate
	leaf *x509.Certificate
}

// NewSelfSignedProvider generates the certificate.
func NewSelfSignedProvider(logger observability.Logger) (*SelfSignedProvider, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, NewCertificateErrorWithCause("", "failed to generate key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, NewCertificateErrorWithCause("", "failed to generate serial", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "gateway development certificate"},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(selfSignedValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, NewCertificateErrorWithCause("", "failed to create certificate", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, NewCertificateErrorWithCause("", "failed to parse certificate", err)
	}

	cert := &stdtls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}

	certificateExpirySeconds.WithLabelValues("selfsigned").Set(time.Until(leaf.NotAfter).Seconds())

	logger.Warn("serving a self-signed development certificate",
		observability.Time("notAfter", leaf.NotAfter),
	)

	return &SelfSignedProvider{cert: cert, leaf: leaf}, nil
}

// GetCertificate implements CertificateProvider.
func (p *SelfSignedProvider) GetCertificate(_ *stdtls.ClientHelloInfo) (*stdtls.Certificate, error) {
	return p.cert, nil
}

// Leaf implements CertificateProvider.
func (p *SelfSignedProvider) Leaf() (*CertificateInfo, error) {
	return newCertificateInfo(p.leaf), nil
}

// Reload implements CertificateProvider. The certificate is fixed for
// the process lifetime, so reload is a no-op.
func (p *SelfSignedProvider) Reload() error {
	return nil
}

// Start implements CertificateProvider.
func (p *SelfSignedProvider) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close implements CertificateProvider.
func (p *SelfSignedProvider) Close() error {
	return nil
}
