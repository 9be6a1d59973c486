package tls

import (
	"context"
	stdtls "crypto/tls"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wearforce/gateway/internal/observability"
)

// reloadDebounce coalesces the bursts of filesystem events editors and
// secret mounts produce into a single reload.
const reloadDebounce = 500 * time.Millisecond

// FileProvider serves a certificate from PEM files and hot reloads it
// when either file changes. A reload that yields an invalid pair is
// rejected and the previous certificate stays active.
type FileProvider struct {
	certFile string
	keyFile  string
	logger   observability.Logger

	cert   atomic.Pointer[stdtls.Certificate]
	closed atomic.Bool
}

// NewFileProvider loads the certificate pair eagerly and fails when
// the pair is unreadable, mismatched or outside its validity window.
func NewFileProvider(certFile, keyFile string, logger observability.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	p := &FileProvider{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// load reads and validates the pair, then swaps it in.
func (p *FileProvider) load() error {
	cert, err := stdtls.LoadX509KeyPair(p.certFile, p.keyFile)
	if err != nil {
		certificateReloads.WithLabelValues("static", "error").Inc()
		return NewCertificateErrorWithCause(p.certFile, "failed to load key pair", err)
	}

	leaf, err := parseLeaf(&cert)
	if err != nil {
		certificateReloads.WithLabelValues("static", "error").Inc()
		return NewCertificateErrorWithCause(p.certFile, "failed to parse leaf", err)
	}

	if err := checkValidityWindow(leaf, time.Now()); err != nil {
		certificateReloads.WithLabelValues("static", "error").Inc()
		return NewCertificateErrorWithCause(p.certFile, "certificate rejected", err)
	}

	if remaining := time.Until(leaf.NotAfter); remaining < expiryWarningWindow {
		p.logger.Warn("certificate nearing expiry",
			observability.String("subject", leaf.Subject.String()),
			observability.Time("notAfter", leaf.NotAfter),
			observability.Duration("remaining", remaining),
		)
	}

	p.cert.Store(&cert)
	certificateExpirySeconds.WithLabelValues("static").Set(time.Until(leaf.NotAfter).Seconds())
	certificateReloads.WithLabelValues("static", "success").Inc()

	p.logger.Info("certificate loaded",
		observability.String("certFile", p.certFile),
		observability.String("subject", leaf.Subject.String()),
		observability.Time("notAfter", leaf.NotAfter),
	)
	return nil
}

// GetCertificate implements CertificateProvider.
func (p *FileProvider) GetCertificate(_ *stdtls.ClientHelloInfo) (*stdtls.Certificate, error) {
	cert := p.cert.Load()
	if cert == nil {
		return nil, ErrCertificateNotFound
	}
	return cert, nil
}

// Leaf implements CertificateProvider.
func (p *FileProvider) Leaf() (*CertificateInfo, error) {
	cert := p.cert.Load()
	if cert == nil {
		return nil, ErrCertificateNotFound
	}
	leaf, err := parseLeaf(cert)
	if err != nil {
		return nil, err
	}
	return newCertificateInfo(leaf), nil
}

// Reload implements CertificateProvider.
func (p *FileProvider) Reload() error {
	if p.closed.Load() {
		return ErrProviderClosed
	}
	return p.load()
}

// Start watches the certificate directories until ctx is cancelled.
// Watching the directories rather than the files survives the
// rename-and-replace pattern used by secret mounts.
func (p *FileProvider) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return NewCertificateErrorWithCause(p.certFile, "failed to create watcher", err)
	}
	defer watcher.Close() //nolint:errcheck

	dirs := map[string]struct{}{
		filepath.Dir(p.certFile): {},
		filepath.Dir(p.keyFile):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return NewCertificateErrorWithCause(dir, "failed to watch directory", err)
		}
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !p.relevant(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := p.Reload(); err != nil {
				p.logger.Error("certificate reload failed, keeping previous",
					observability.Error(err),
				)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("certificate watcher error", observability.Error(err))
		}
	}
}

// relevant reports whether a filesystem event touches the watched pair.
func (p *FileProvider) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == filepath.Clean(p.certFile) || name == filepath.Clean(p.keyFile)
}

// Close implements CertificateProvider.
func (p *FileProvider) Close() error {
	p.closed.Store(true)
	return nil
}
