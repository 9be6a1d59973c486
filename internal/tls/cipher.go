package tls

import (
	stdtls "crypto/tls"
	"fmt"
)

// cipherSuites maps configuration names to crypto/tls identifiers.
// TLS 1.3 suites are not listed; Go selects them internally.
var cipherSuites = map[string]uint16{
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256":       stdtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384":       stdtls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256": stdtls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":         stdtls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":         stdtls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256":   stdtls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA":            stdtls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	"TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA":            stdtls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
}

// curves maps configuration names to crypto/tls curve identifiers.
var curves = map[string]stdtls.CurveID{
	"X25519": stdtls.X25519,
	"P256":   stdtls.CurveP256,
	"P384":   stdtls.CurveP384,
	"P521":   stdtls.CurveP521,
}

// DefaultCipherSuites returns the TLS 1.2 suites used when none are
// configured. Only AEAD suites; crypto/tls's own defaults still admit
// CBC suites at TLS 1.2. TLS 1.3 suites are managed by Go.
func DefaultCipherSuites() []uint16 {
	return []uint16{
		stdtls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		stdtls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		stdtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		stdtls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		stdtls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		stdtls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	}
}

// DefaultCurvePreferences returns the ECDH curve order used when none
// is configured: X25519 first, then the NIST curves.
func DefaultCurvePreferences() []stdtls.CurveID {
	return []stdtls.CurveID{
		stdtls.X25519,
		stdtls.CurveP256,
		stdtls.CurveP384,
	}
}

// ParseCipherSuites converts cipher suite names into identifiers.
// An empty list selects the curated defaults.
func ParseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return DefaultCipherSuites(), nil
	}
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := cipherSuites[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrCipherSuiteInvalid, name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseCurves converts curve names into identifiers. An empty list
// selects the default preference order.
func ParseCurves(names []string) ([]stdtls.CurveID, error) {
	if len(names) == 0 {
		return DefaultCurvePreferences(), nil
	}
	ids := make([]stdtls.CurveID, 0, len(names))
	for _, name := range names {
		id, ok := curves[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrCurveInvalid, name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
