// Package oauth implements the OAuth 2.0 protocol operations used by the
// cloudauth login flow: well-known endpoint discovery, PKCE generation,
// dynamic client registration, and the token endpoint grants.
//
// The package is transport-only. It performs individual HTTP requests against
// an identity server and reports structured results; sequencing the requests
// into a login (discovery, browser redirect, code exchange, user resolution)
// is the job of internal/loginflow.
//
// # Discovery
//
// Client.Discover fetches <server>/.well-known/openid-configuration. Servers
// that predate OpenID discovery answer 404 (or garbage); that case is reported
// as ErrDiscoveryUnavailable so callers can fall back to the conventional
// endpoints returned by DefaultEndpoints. Only transport failures are real
// errors.
//
// # Token requests
//
// ExchangeCode and Refresh POST application/x-www-form-urlencoded bodies to
// the token endpoint. Non-2xx responses become *HTTPError carrying the status
// code and the provider's error body; the package never retries.
package oauth
