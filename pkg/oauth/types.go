package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the default margin when checking token expiry.
// This accounts for clock skew and network latency.
const DefaultExpiryMargin = 30 * time.Second

// Conventional endpoint paths used when a server does not publish an OpenID
// configuration document. These match the oauth2 app shipped by self-hosted
// cloud servers.
const (
	DefaultAuthorizePath = "/apps/oauth2/authorize"
	DefaultTokenPath     = "/apps/oauth2/api/v1/token"
	DefaultUserInfoPath  = "/ocs/v2.php/cloud/user"
)

// NormalizeServerURL strips WebDAV path suffixes and trailing slashes from a
// server URL so that discovery, token storage, and endpoint fallbacks all key
// on the same base URL regardless of how the user typed it.
func NormalizeServerURL(serverURL string) string {
	serverURL = strings.TrimSuffix(serverURL, "/")
	serverURL = strings.TrimSuffix(serverURL, "/remote.php/webdav")
	serverURL = strings.TrimSuffix(serverURL, "/remote.php/dav")
	return strings.TrimSuffix(serverURL, "/")
}

// Discovery represents the subset of an OpenID configuration document the
// login flow cares about. All fields are optional; absence of an endpoint
// means the conventional default applies.
type Discovery struct {
	// Issuer is the authorization server's issuer identifier.
	Issuer string `json:"issuer,omitempty"`

	// AuthorizationEndpoint is the URL of the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`

	// TokenEndpoint is the URL of the token endpoint.
	TokenEndpoint string `json:"token_endpoint,omitempty"`

	// RegistrationEndpoint is the URL for dynamic client registration.
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// UserinfoEndpoint is the URL of the userinfo endpoint (OIDC).
	UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`
}

// Endpoints are the resolved URLs for one login attempt: either taken from a
// discovery document or derived from the server base URL.
type Endpoints struct {
	Authorize    string
	Token        string
	Registration string
	UserInfo     string
}

// DefaultEndpoints returns the conventional endpoints for a server without a
// well-known document. There is no registration endpoint in that case.
func DefaultEndpoints(serverURL string) Endpoints {
	base := NormalizeServerURL(serverURL)
	return Endpoints{
		Authorize: base + DefaultAuthorizePath,
		Token:     base + DefaultTokenPath,
		UserInfo:  base + DefaultUserInfoPath,
	}
}

// Resolve merges a discovery document with the conventional defaults for
// serverURL. A nil document yields the defaults unchanged.
func Resolve(serverURL string, d *Discovery) Endpoints {
	eps := DefaultEndpoints(serverURL)
	if d == nil {
		return eps
	}
	if d.AuthorizationEndpoint != "" {
		eps.Authorize = d.AuthorizationEndpoint
	}
	if d.TokenEndpoint != "" {
		eps.Token = d.TokenEndpoint
	}
	if d.RegistrationEndpoint != "" {
		eps.Registration = d.RegistrationEndpoint
	}
	if d.UserinfoEndpoint != "" {
		eps.UserInfo = d.UserinfoEndpoint
	}
	return eps
}

// Token represents a token endpoint response.
type Token struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the token lifetime in seconds (from the response body).
	ExpiresIn int `json:"expires_in,omitempty"`

	// ExpiresAt is the calculated expiration timestamp.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// UserID is the account identifier, when the server includes it in the
	// token response. When absent, Client.FetchUserID resolves it separately.
	UserID string `json:"user_id,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`
}

// IsExpired checks if the token has expired.
// Returns true if the token is expired or will expire within the default margin.
func (t *Token) IsExpired() bool {
	return t.IsExpiredWithMargin(DefaultExpiryMargin)
}

// IsExpiredWithMargin checks if the token has expired or will expire within the margin.
func (t *Token) IsExpiredWithMargin(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false // Tokens without expiration don't expire
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// SetExpiresAtFromExpiresIn calculates and sets ExpiresAt from ExpiresIn.
func (t *Token) SetExpiresAtFromExpiresIn() {
	if t.ExpiresIn > 0 && t.ExpiresAt.IsZero() {
		t.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
}

// ToOAuth2Token converts the Token to an oauth2.Token for compatibility with
// golang.org/x/oauth2 consumers.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// ClientRegistration is the response of a dynamic client registration request
// (RFC 7591). Raw keeps the complete response document so callers can persist
// provider-specific metadata alongside the credentials.
type ClientRegistration struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`

	Raw map[string]any `json:"-"`
}

// RegistrationFromRaw rebuilds a ClientRegistration from a previously
// persisted raw registration document. Returns nil if the document carries no
// client_id.
func RegistrationFromRaw(raw map[string]any) *ClientRegistration {
	if raw == nil {
		return nil
	}
	id, _ := raw["client_id"].(string)
	if id == "" {
		return nil
	}
	secret, _ := raw["client_secret"].(string)
	return &ClientRegistration{ClientID: id, ClientSecret: secret, Raw: raw}
}

// ClientMetadata is the request body for dynamic client registration.
type ClientMetadata struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	SoftwareID              string   `json:"software_id,omitempty"`
	SoftwareVersion         string   `json:"software_version,omitempty"`
}

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
// PKCE binds the authorization code to a secret only this client holds.
type PKCEChallenge struct {
	// CodeVerifier is the cryptographically random string (base64url-encoded).
	// This is kept secret and only transmitted in the token exchange.
	CodeVerifier string

	// CodeChallenge is the SHA256 hash of the verifier (base64url-encoded).
	// This is sent in the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}
