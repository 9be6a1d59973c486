package tls

import (
	"context"
	stdtls "crypto/tls"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/acme/autocert"

	"github.com/wearforce/gateway/internal/observability"
)

// ACMEProvider obtains and renews certificates automatically. Issuance
// and renewal are handled by autocert on demand during handshakes;
// certificates are cached on disk so restarts do not re-issue.
type ACMEProvider struct {
	manager *autocert.Manager
	domains []string
	logger  observability.Logger
}

// NewACMEProvider builds an ACMEProvider for the given domains.
// Wildcard entries ("*.example.com") match exactly one additional
// label.
func NewACMEProvider(domains []string, email, cacheDir string, logger observability.Logger) (*ACMEProvider, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if len(domains) == 0 {
		return nil, NewConfigurationError("acme.domains", "at least one domain is required")
	}
	if cacheDir == "" {
		cacheDir = "/var/cache/gateway/acme"
	}

	p := &ACMEProvider{
		domains: domains,
		logger:  logger,
	}
	p.manager = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache(cacheDir),
		Email:      email,
		HostPolicy: p.hostPolicy,
	}
	return p, nil
}

// hostPolicy admits configured domains and single-label expansions of
// wildcard entries.
func (p *ACMEProvider) hostPolicy(_ context.Context, host string) error {
	for _, domain := range p.domains {
		if strings.EqualFold(host, domain) {
			return nil
		}
		if suffix, ok := strings.CutPrefix(domain, "*."); ok {
			rest, matched := strings.CutSuffix(strings.ToLower(host), "."+strings.ToLower(suffix))
			if matched && rest != "" && !strings.Contains(rest, ".") {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %q", ErrHostNotAllowed, host)
}

// GetCertificate implements CertificateProvider.
func (p *ACMEProvider) GetCertificate(hello *stdtls.ClientHelloInfo) (*stdtls.Certificate, error) {
	return p.manager.GetCertificate(hello)
}

// Leaf implements CertificateProvider. The active certificate for the
// first configured domain is reported; wildcard entries have no single
// leaf until a handshake names one.
func (p *ACMEProvider) Leaf() (*CertificateInfo, error) {
	host := p.domains[0]
	if strings.HasPrefix(host, "*.") {
		return nil, ErrCertificateNotFound
	}
	cert, err := p.manager.GetCertificate(&stdtls.ClientHelloInfo{ServerName: host})
	if err != nil {
		return nil, ErrCertificateNotFound
	}
	leaf, err := parseLeaf(cert)
	if err != nil {
		return nil, err
	}
	return newCertificateInfo(leaf), nil
}

// Reload implements CertificateProvider. Renewal is autocert's job.
func (p *ACMEProvider) Reload() error {
	return nil
}

// Start implements CertificateProvider.
func (p *ACMEProvider) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close implements CertificateProvider.
func (p *ACMEProvider) Close() error {
	return nil
}

// HTTPHandler exposes autocert's HTTP-01 challenge handler for the
// plain HTTP listener. Requests that are not challenges are redirected
// to HTTPS.
func (p *ACMEProvider) HTTPHandler() http.Handler {
	return p.manager.HTTPHandler(nil)
}
