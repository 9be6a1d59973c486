package tls

import (
	stdtls "crypto/tls"
	"fmt"
)

// Mode selects where certificates come from.
type Mode string

const (
	// ModeStatic serves certificates from PEM files on disk and hot
	// reloads them on change.
	ModeStatic Mode = "static"

	// ModeACME obtains and renews certificates automatically.
	ModeACME Mode = "acme"

	// ModeSelfSigned generates a short-lived certificate at startup.
	// Development only.
	ModeSelfSigned Mode = "selfsigned"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStatic, ModeACME, ModeSelfSigned:
		return Mode(s), nil
	default:
		return "", NewConfigurationError("mode", fmt.Sprintf("unknown mode %q", s))
	}
}

// ParseVersion converts a version name ("TLS12", "TLS13") into the
// crypto/tls constant. An empty name selects TLS 1.2.
func ParseVersion(s string) (uint16, error) {
	switch s {
	case "", "TLS12", "1.2":
		return stdtls.VersionTLS12, nil
	case "TLS13", "1.3":
		return stdtls.VersionTLS13, nil
	case "TLS11", "1.1":
		return stdtls.VersionTLS11, nil
	case "TLS10", "1.0":
		return stdtls.VersionTLS10, nil
	default:
		return 0, NewConfigurationError("minVersion", fmt.Sprintf("unknown TLS version %q", s))
	}
}

// Config carries everything the Manager needs to build the serving
// tls.Config. It is decoupled from the YAML layer so callers can
// construct it directly in tests.
type Config struct {
	Mode             Mode
	CertFile         string
	KeyFile          string
	MinVersion       string
	CipherSuites     []string
	CurvePreferences []string
	ALPN             []string

	// ACME settings, used when Mode is ModeACME.
	ACMEDomains  []string
	ACMEEmail    string
	ACMECacheDir string

	// AllowDevelopment gates ModeSelfSigned.
	AllowDevelopment bool
}

// Validate rejects configurations that must not reach a listener.
func (c *Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	switch c.Mode {
	case ModeStatic:
		if c.CertFile == "" || c.KeyFile == "" {
			return NewConfigurationError("certFile", "static mode requires certFile and keyFile")
		}
	case ModeACME:
		if len(c.ACMEDomains) == 0 {
			return NewConfigurationError("acme.domains", "acme mode requires at least one domain")
		}
	case ModeSelfSigned:
		if !c.AllowDevelopment {
			return NewConfigurationError("allowDevelopment", "selfsigned mode requires allowDevelopment")
		}
	}
	if _, err := ParseVersion(c.MinVersion); err != nil {
		return err
	}
	if _, err := ParseCipherSuites(c.CipherSuites); err != nil {
		return err
	}
	if _, err := ParseCurves(c.CurvePreferences); err != nil {
		return err
	}
	return nil
}
