// Package deviceflow implements the OAuth2 device authorization grant
// (RFC 8628) for input-constrained clients.
//
// The device posts to the authorization endpoint and receives a device
// code, a short user code and a verification URI. The user approves or
// denies the request on a secondary device while the client polls the
// token endpoint with its device code. All state lives in Redis so any
// gateway replica can answer any leg of the exchange; multi-step state
// transitions run as Lua scripts to stay atomic under concurrent
// polling.
package deviceflow
