package tls

import (
	stdtls "crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// expiryWarningWindow is how far ahead of NotAfter a certificate is
// reported as nearing expiry.
const expiryWarningWindow = 30 * 24 * time.Hour

// CertificateInfo is a read-only view of the active certificate.
type CertificateInfo struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serialNumber"`
	NotBefore    time.Time `json:"notBefore"`
	NotAfter     time.Time `json:"notAfter"`
	DNSNames     []string  `json:"dnsNames,omitempty"`
	IsCA         bool      `json:"isCA"`
}

// ExpiresWithin reports whether the certificate expires inside d.
func (i *CertificateInfo) ExpiresWithin(d time.Duration) bool {
	return time.Until(i.NotAfter) < d
}

// newCertificateInfo builds a CertificateInfo from a parsed leaf.
func newCertificateInfo(leaf *x509.Certificate) *CertificateInfo {
	return &CertificateInfo{
		Subject:      leaf.Subject.String(),
		Issuer:       leaf.Issuer.String(),
		SerialNumber: leaf.SerialNumber.String(),
		NotBefore:    leaf.NotBefore,
		NotAfter:     leaf.NotAfter,
		DNSNames:     leaf.DNSNames,
		IsCA:         leaf.IsCA,
	}
}

// parseLeaf ensures cert.Leaf is populated and returns it.
func parseLeaf(cert *stdtls.Certificate) (*x509.Certificate, error) {
	if cert.Leaf != nil {
		return cert.Leaf, nil
	}
	if len(cert.Certificate) == 0 {
		return nil, ErrCertificateNotFound
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	cert.Leaf = leaf
	return leaf, nil
}

// checkValidityWindow rejects certificates outside their validity
// window. Certificates nearing expiry pass; callers decide whether to
// warn based on ExpiresWithin.
func checkValidityWindow(leaf *x509.Certificate, now time.Time) error {
	if now.Before(leaf.NotBefore) {
		return fmt.Errorf("%w: valid from %s", ErrCertificateNotYetValid, leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return fmt.Errorf("%w: expired at %s", ErrCertificateExpired, leaf.NotAfter.Format(time.RFC3339))
	}
	return nil
}
