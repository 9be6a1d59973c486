package tls

import (
	"context"
	stdtls "crypto/tls"
)

// CertificateProvider supplies the serving certificate for a TLS
// handshake. Implementations are safe for concurrent use.
type CertificateProvider interface {
	// GetCertificate is plugged into tls.Config.GetCertificate.
	GetCertificate(hello *stdtls.ClientHelloInfo) (*stdtls.Certificate, error)

	// Leaf returns the parsed active certificate for inspection, or
	// ErrCertificateNotFound if none is loaded yet.
	Leaf() (*CertificateInfo, error)

	// Reload forces the provider to refresh its certificate. Providers
	// that renew on their own treat this as a no-op.
	Reload() error

	// Start runs background maintenance (file watching, renewal
	// checks) until ctx is cancelled.
	Start(ctx context.Context) error

	// Close releases provider resources.
	Close() error
}
