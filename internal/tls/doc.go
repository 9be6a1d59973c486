// Package tls owns the gateway's TLS session configuration and
// certificate lifecycle.
//
// Certificates come from one of three sources selected once at
// startup: static PEM files with hot reload, automatic issuance via
// ACME, or a short-lived self-signed pair for local development. The
// active tls.Config is an immutable snapshot swapped under a
// read-write lock, so concurrent readers never observe a partial
// configuration. A separate path builds mutual-TLS client
// configurations for service-to-service calls.
package tls
