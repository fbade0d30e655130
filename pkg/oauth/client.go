package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultDiscoveryCacheTTL is the default TTL for cached discovery documents.
	DefaultDiscoveryCacheTTL = 30 * time.Minute

	// WellKnownPath is the OpenID configuration path probed during discovery.
	WellKnownPath = "/.well-known/openid-configuration"
)

// ErrDiscoveryUnavailable reports that the server does not publish an OpenID
// configuration document (404 or unparseable body). It is not a failure:
// callers fall back to DefaultEndpoints.
var ErrDiscoveryUnavailable = errors.New("openid configuration unavailable")

// HTTPError is a structured error for non-2xx responses from the identity
// server. ProviderError and ProviderErrorDescription carry the OAuth error
// fields when the response body contained them.
type HTTPError struct {
	StatusCode               int
	Body                     string
	ProviderError            string
	ProviderErrorDescription string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.ProviderError != "" {
		if e.ProviderErrorDescription != "" {
			return fmt.Sprintf("server replied %d: %s (%s)", e.StatusCode, e.ProviderError, e.ProviderErrorDescription)
		}
		return fmt.Sprintf("server replied %d: %s", e.StatusCode, e.ProviderError)
	}
	return fmt.Sprintf("server replied %d: %s", e.StatusCode, e.Body)
}

// discoveryCacheEntry holds a cached discovery result with its timestamp.
// A nil document with ok=false records a server known to lack discovery.
type discoveryCacheEntry struct {
	doc       *Discovery
	ok        bool
	fetchedAt time.Time
}

// Client performs the OAuth protocol operations against an identity server.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	// Discovery cache with mutex for thread safety
	discoveryMu    sync.RWMutex
	discoveryCache map[string]*discoveryCacheEntry
	discoveryTTL   time.Duration

	// singleflight group to deduplicate concurrent discovery fetches
	discoveryGroup singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDiscoveryCacheTTL sets the discovery cache TTL.
func WithDiscoveryCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.discoveryTTL = ttl
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: DefaultHTTPTimeout},
		logger:         slog.Default(),
		discoveryCache: make(map[string]*discoveryCacheEntry),
		discoveryTTL:   DefaultDiscoveryCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Discover fetches the OpenID configuration from the server's well-known
// endpoint. Returns ErrDiscoveryUnavailable when the server answers 404 or
// with a body that is not a JSON object; that case is cached like a hit so
// repeated flows against the same server don't re-probe.
//
// Concurrent calls for the same server are deduplicated.
func (c *Client) Discover(ctx context.Context, serverURL string) (*Discovery, error) {
	serverURL = NormalizeServerURL(serverURL)

	// Check cache first with read lock
	c.discoveryMu.RLock()
	if entry, ok := c.discoveryCache[serverURL]; ok {
		if time.Since(entry.fetchedAt) < c.discoveryTTL {
			c.discoveryMu.RUnlock()
			return c.cachedResult(entry)
		}
	}
	c.discoveryMu.RUnlock()

	// Use singleflight to deduplicate concurrent fetches
	result, err, _ := c.discoveryGroup.Do(serverURL, func() (interface{}, error) {
		// Double-check cache after acquiring singleflight lock
		c.discoveryMu.RLock()
		if entry, ok := c.discoveryCache[serverURL]; ok {
			if time.Since(entry.fetchedAt) < c.discoveryTTL {
				c.discoveryMu.RUnlock()
				return entry, nil
			}
		}
		c.discoveryMu.RUnlock()

		entry, err := c.doDiscover(ctx, serverURL)
		if err != nil {
			return nil, err
		}

		c.discoveryMu.Lock()
		c.discoveryCache[serverURL] = entry
		c.discoveryMu.Unlock()
		return entry, nil
	})

	if err != nil {
		return nil, err
	}

	return c.cachedResult(result.(*discoveryCacheEntry))
}

// cachedResult converts a cache entry back into the Discover return values.
func (c *Client) cachedResult(entry *discoveryCacheEntry) (*Discovery, error) {
	if !entry.ok {
		return nil, ErrDiscoveryUnavailable
	}
	return entry.doc, nil
}

// doDiscover performs the actual well-known fetch. Transport failures are
// returned as errors; a 404 or malformed body produces a negative cache entry.
func (c *Client) doDiscover(ctx context.Context, serverURL string) (*discoveryCacheEntry, error) {
	wellKnownURL := serverURL + WellKnownPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("well-known request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read well-known response: %w", err)
	}

	entry := &discoveryCacheEntry{fetchedAt: time.Now()}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("No OpenID configuration published, using conventional endpoints",
			"server_url", serverURL,
			"status", resp.StatusCode)
		return entry, nil
	}

	var doc Discovery
	if err := json.Unmarshal(body, &doc); err != nil {
		c.logger.Debug("OpenID configuration document unparseable, using conventional endpoints",
			"server_url", serverURL,
			"error", err)
		return entry, nil
	}

	c.logger.Debug("Discovered OpenID configuration",
		"server_url", serverURL,
		"authorization_endpoint", doc.AuthorizationEndpoint,
		"token_endpoint", doc.TokenEndpoint,
		"has_registration_endpoint", doc.RegistrationEndpoint != "")

	entry.doc = &doc
	entry.ok = true
	return entry, nil
}

// ClearDiscoveryCache clears the discovery cache.
// Useful for testing or when server configuration changed.
func (c *Client) ClearDiscoveryCache() {
	c.discoveryMu.Lock()
	c.discoveryCache = make(map[string]*discoveryCacheEntry)
	c.discoveryMu.Unlock()
}

// CodeGrant holds the parameters of an authorization code exchange.
type CodeGrant struct {
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
}

// RefreshGrant holds the parameters of a refresh token exchange.
type RefreshGrant struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// ExchangeCode exchanges an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, tokenEndpoint string, grant CodeGrant) (*Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {grant.Code},
		"redirect_uri":  {grant.RedirectURI},
		"client_id":     {grant.ClientID},
		"code_verifier": {grant.CodeVerifier},
	}
	if grant.ClientSecret != "" {
		data.Set("client_secret", grant.ClientSecret)
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// Refresh obtains a new access token using a refresh token.
func (c *Client) Refresh(ctx context.Context, tokenEndpoint string, grant RefreshGrant) (*Token, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {grant.RefreshToken},
		"client_id":     {grant.ClientID},
	}
	if grant.ClientSecret != "" {
		data.Set("client_secret", grant.ClientSecret)
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// doTokenRequest performs a token endpoint request.
func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Token request failed",
			"endpoint", tokenEndpoint,
			"status", resp.StatusCode)
		return nil, httpError(resp.StatusCode, body)
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if token.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	// Calculate expiration if not set
	token.SetExpiresAtFromExpiresIn()

	return &token, nil
}

// RegisterClient performs dynamic client registration (RFC 7591) against the
// server's registration endpoint. The full response document is preserved in
// ClientRegistration.Raw so callers can persist provider-specific metadata.
func (c *Client) RegisterClient(ctx context.Context, registrationEndpoint string, meta ClientMetadata) (*ClientRegistration, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, httpError(resp.StatusCode, body)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}

	reg := RegistrationFromRaw(raw)
	if reg == nil {
		return nil, errors.New("registration response missing client_id")
	}

	c.logger.Info("Registered OAuth client dynamically",
		"endpoint", registrationEndpoint,
		"has_client_secret", reg.ClientSecret != "")

	return reg, nil
}

// FetchUserID resolves the authenticated account's user identifier from the
// userinfo endpoint. It understands both OIDC userinfo documents ("sub") and
// the OCS user document nested under ocs.data.id.
func (c *Client) FetchUserID(ctx context.Context, userInfoEndpoint, accessToken string) (string, error) {
	endpoint := userInfoEndpoint
	if u, err := url.Parse(endpoint); err == nil {
		q := u.Query()
		if q.Get("format") == "" && strings.Contains(u.Path, "/ocs/") {
			q.Set("format", "json")
			u.RawQuery = q.Encode()
			endpoint = u.String()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OCS-APIREQUEST", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read userinfo response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", httpError(resp.StatusCode, body)
	}

	var doc struct {
		Sub    string `json:"sub"`
		UserID string `json:"user_id"`
		ID     string `json:"id"`
		OCS    struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"ocs"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to parse userinfo response: %w", err)
	}

	for _, id := range []string{doc.OCS.Data.ID, doc.UserID, doc.Sub, doc.ID} {
		if id != "" {
			return id, nil
		}
	}

	return "", errors.New("userinfo response carries no user identifier")
}

// httpError builds an *HTTPError from a non-2xx response body, extracting the
// OAuth error fields when present.
func httpError(status int, body []byte) *HTTPError {
	httpErr := &HTTPError{
		StatusCode: status,
		Body:       strings.TrimSpace(string(body)),
	}

	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil {
		httpErr.ProviderError = oauthErr.Error
		httpErr.ProviderErrorDescription = oauthErr.ErrorDescription
	}

	return httpErr
}
