package tls

import (
	"context"
	stdtls "crypto/tls"
	"crypto/x509"
	"os"
	"sync"
	"time"

	"github.com/wearforce/gateway/internal/observability"
)

// renewalCheckInterval is how often the manager re-inspects the active
// certificate for expiry warnings.
const renewalCheckInterval = 24 * time.Hour

// Manager owns the certificate provider and the serving tls.Config.
// The config is built once per reload and handed out as an immutable
// snapshot, so readers never observe a partially applied change.
type Manager struct {
	cfg      Config
	provider CertificateProvider
	logger   observability.Logger

	mu        sync.RWMutex
	tlsConfig *stdtls.Config

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger observability.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithProvider overrides the provider selected from Config.Mode.
func WithProvider(p CertificateProvider) Option {
	return func(m *Manager) {
		m.provider = p
	}
}

// NewManager validates the configuration, builds the certificate
// provider for the configured mode and constructs the initial serving
// config. A certificate outside its validity window fails startup.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		logger: observability.NopLogger(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.provider == nil {
		provider, err := m.buildProvider()
		if err != nil {
			return nil, err
		}
		m.provider = provider
	}

	tlsConfig, err := m.buildTLSConfig()
	if err != nil {
		return nil, err
	}
	m.tlsConfig = tlsConfig

	return m, nil
}

// buildProvider constructs the provider for the configured mode.
func (m *Manager) buildProvider() (CertificateProvider, error) {
	switch m.cfg.Mode {
	case ModeStatic:
		return NewFileProvider(m.cfg.CertFile, m.cfg.KeyFile, m.logger)
	case ModeACME:
		return NewACMEProvider(m.cfg.ACMEDomains, m.cfg.ACMEEmail, m.cfg.ACMECacheDir, m.logger)
	case ModeSelfSigned:
		return NewSelfSignedProvider(m.logger)
	default:
		return nil, NewConfigurationError("mode", "no provider for mode "+string(m.cfg.Mode))
	}
}

// buildTLSConfig assembles a fresh serving config from the
// configuration and the provider.
func (m *Manager) buildTLSConfig() (*stdtls.Config, error) {
	minVersion, err := ParseVersion(m.cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	suites, err := ParseCipherSuites(m.cfg.CipherSuites)
	if err != nil {
		return nil, err
	}
	curvePrefs, err := ParseCurves(m.cfg.CurvePreferences)
	if err != nil {
		return nil, err
	}

	alpn := m.cfg.ALPN
	if len(alpn) == 0 {
		alpn = []string{"h2", "http/1.1"}
	}

	tlsConfig := &stdtls.Config{
		MinVersion:       minVersion,
		CipherSuites:     suites,
		CurvePreferences: curvePrefs,
		NextProtos:       alpn,
		GetCertificate:   m.provider.GetCertificate,
	}
	return tlsConfig, nil
}

// ServerTLSConfig returns the active serving config snapshot.
func (m *Manager) ServerTLSConfig() *stdtls.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tlsConfig
}

// Reload refreshes the provider's certificate and swaps in a new
// serving config. On failure the previous config stays active.
func (m *Manager) Reload() error {
	if err := m.provider.Reload(); err != nil {
		return err
	}

	tlsConfig, err := m.buildTLSConfig()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.tlsConfig = tlsConfig
	m.mu.Unlock()

	m.logger.Info("TLS configuration reloaded")
	return nil
}

// CertificateInfo returns a view of the active certificate.
func (m *Manager) CertificateInfo() (*CertificateInfo, error) {
	return m.provider.Leaf()
}

// ClientMTLSConfig builds a client configuration for mutual TLS calls
// to internal services. The CA file pins the trust anchor; system
// roots are not consulted.
func (m *Manager) ClientMTLSConfig(certFile, keyFile, caFile string) (*stdtls.Config, error) {
	cert, err := stdtls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, NewCertificateErrorWithCause(certFile, "failed to load client pair", err)
	}
	leaf, err := parseLeaf(&cert)
	if err != nil {
		return nil, err
	}
	if err := checkValidityWindow(leaf, time.Now()); err != nil {
		return nil, NewCertificateErrorWithCause(certFile, "client certificate rejected", err)
	}

	caPEM, err := os.ReadFile(caFile) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, NewCertificateErrorWithCause(caFile, "failed to read CA bundle", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, NewCertificateError(caFile, "no certificates found in CA bundle")
	}

	return &stdtls.Config{
		MinVersion:   stdtls.VersionTLS12,
		Certificates: []stdtls.Certificate{cert},
		RootCAs:      pool,
	}, nil
}

// Start runs the provider's background maintenance and a periodic
// expiry check until ctx is cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	go m.watchExpiry(ctx)

	return m.provider.Start(ctx)
}

// watchExpiry logs a warning when the active certificate approaches
// its NotAfter and keeps the expiry gauge current.
func (m *Manager) watchExpiry(ctx context.Context) {
	ticker := time.NewTicker(renewalCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := m.CertificateInfo()
			if err != nil {
				continue
			}
			certificateExpirySeconds.WithLabelValues(string(m.cfg.Mode)).
				Set(time.Until(info.NotAfter).Seconds())
			if info.ExpiresWithin(expiryWarningWindow) {
				m.logger.Warn("certificate nearing expiry",
					observability.String("subject", info.Subject),
					observability.Time("notAfter", info.NotAfter),
				)
			}
		}
	}
}

// Close stops background maintenance and releases the provider.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	return m.provider.Close()
}
