package tls

import (
	"errors"
	"fmt"
)

// Common sentinel errors for TLS operations.
var (
	// ErrCertificateNotFound indicates that no certificate is available.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrCertificateExpired indicates that a certificate has expired.
	ErrCertificateExpired = errors.New("certificate expired")

	// ErrCertificateNotYetValid indicates that a certificate's validity
	// window has not started.
	ErrCertificateNotYetValid = errors.New("certificate not yet valid")

	// ErrCipherSuiteInvalid indicates that a cipher suite name is unknown.
	ErrCipherSuiteInvalid = errors.New("invalid cipher suite")

	// ErrCurveInvalid indicates that a curve name is unknown.
	ErrCurveInvalid = errors.New("invalid curve")

	// ErrHostNotAllowed indicates that a hostname is outside the ACME
	// host policy.
	ErrHostNotAllowed = errors.New("host not allowed by certificate policy")

	// ErrProviderClosed indicates that the certificate provider has
	// been closed.
	ErrProviderClosed = errors.New("certificate provider closed")
)

// CertificateError is a certificate-related error with its source path.
type CertificateError struct {
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CertificateError) Error() string {
	switch {
	case e.Path != "" && e.Cause != nil:
		return fmt.Sprintf("certificate error at %s: %s: %v", e.Path, e.Message, e.Cause)
	case e.Path != "":
		return fmt.Sprintf("certificate error at %s: %s", e.Path, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("certificate error: %s: %v", e.Message, e.Cause)
	default:
		return fmt.Sprintf("certificate error: %s", e.Message)
	}
}

// Unwrap returns the underlying error.
func (e *CertificateError) Unwrap() error {
	return e.Cause
}

// NewCertificateError creates a new CertificateError.
func NewCertificateError(path, message string) *CertificateError {
	return &CertificateError{Path: path, Message: message}
}

// NewCertificateErrorWithCause creates a new CertificateError with a cause.
func NewCertificateErrorWithCause(path, message string, cause error) *CertificateError {
	return &CertificateError{Path: path, Message: message, Cause: cause}
}

// ConfigurationError is a TLS configuration error, fatal at startup.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("TLS config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("TLS config error: %s", e.Message)
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}
