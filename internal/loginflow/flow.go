package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloudauth/pkg/oauth"
)

// DefaultClientID is the static client identity used against servers that
// offer neither discovery nor dynamic registration. Such servers ship the
// oauth2 app with a pre-provisioned client for desktop use; the ID can be
// overridden per flow through Config.ClientID.
const DefaultClientID = "cloudauth-desktop"

// State is the position of a flow in its lifecycle. Transitions only move
// forward; StateFinalized and StateError are terminal.
type State int

const (
	// StateIdle is the state before Start.
	StateIdle State = iota

	// StateDiscoveringWellKnown covers the probe and well-known fetch.
	StateDiscoveringWellKnown

	// StateAwaitingBrowserRedirect means the listener is bound and the
	// authorization URL has been published.
	StateAwaitingBrowserRedirect

	// StateExchangingToken covers the authorization code exchange.
	StateExchangingToken

	// StateResolvingUserID covers the supplementary userinfo lookup when the
	// token response omitted the user identifier.
	StateResolvingUserID

	// StateFinalized means the flow delivered a LoggedIn or NotSupported outcome.
	StateFinalized

	// StateError means the flow delivered an Error outcome.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscoveringWellKnown:
		return "discovering_well_known"
	case StateAwaitingBrowserRedirect:
		return "awaiting_browser_redirect"
	case StateExchangingToken:
		return "exchanging_token"
	case StateResolvingUserID:
		return "resolving_user_id"
	case StateFinalized:
		return "finalized"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// OutcomeStatus tags the terminal result of a login flow.
type OutcomeStatus int

const (
	// OutcomeLoggedIn means the flow obtained tokens for the expected account.
	OutcomeLoggedIn OutcomeStatus = iota

	// OutcomeNotSupported means the server lacks OAuth support
	// (account-bound variant only).
	OutcomeNotSupported

	// OutcomeError means the flow failed; Outcome.Reason explains why.
	OutcomeError
)

// String returns the string representation of the outcome status.
func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeLoggedIn:
		return "logged_in"
	case OutcomeNotSupported:
		return "not_supported"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// TokenResult is the payload of a successful login.
type TokenResult struct {
	User         string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Outcome is the single terminal result of a flow's primary authentication
// attempt.
type Outcome struct {
	Status OutcomeStatus
	Result *TokenResult // set when Status is OutcomeLoggedIn
	Reason string       // set when Status is OutcomeError
}

// Config describes one authentication attempt. It is immutable for the
// flow's lifetime.
type Config struct {
	// ServerURL is the base URL of the server to authenticate against.
	ServerURL string

	// ExpectedUser, when set, is cross-checked against the identifier the
	// server resolves for the issued token. A mismatch is fatal: the wrong
	// account authenticated in the browser.
	ExpectedUser string

	// ClientID and ClientSecret identify this client when the server offers
	// no dynamic registration. ClientID defaults to DefaultClientID.
	ClientID     string
	ClientSecret string

	// CallbackPort is the loopback port for the redirect listener.
	// 0 lets the OS assign an ephemeral port.
	CallbackPort int

	// HTTPClient is an optional custom HTTP client, e.g. one carrying the
	// session cookie jar warmed up by the server probe.
	HTTPClient *http.Client

	// Logger is an optional structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Flow drives one browser-mediated login: discovery, client registration,
// the loopback redirect listener, the token exchange, and user resolution.
// A Flow performs at most one authentication attempt; create a new Flow to
// retry. All exported methods are safe for concurrent use.
type Flow struct {
	cfg      Config
	strategy Strategy
	client   *oauth.Client
	logger   *slog.Logger

	// attemptID correlates all log lines of one attempt.
	attemptID string

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	started      bool
	closed       bool
	endpoints    oauth.Endpoints
	registration *oauth.ClientRegistration
	pkce         *oauth.PKCEChallenge
	stateToken   string
	server       *CallbackServer

	authURL   deferredURL
	outcomeCh chan Outcome
}

// New creates a flow for one authentication attempt. A nil strategy means
// the generic variant.
func New(cfg Config, strategy Strategy) *Flow {
	if strategy == nil {
		strategy = &GenericStrategy{}
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attemptID := uuid.NewString()
	logger = logger.With("attempt_id", attemptID, "server_url", cfg.ServerURL)

	opts := []oauth.ClientOption{oauth.WithLogger(logger)}
	if cfg.HTTPClient != nil {
		opts = append(opts, oauth.WithHTTPClient(cfg.HTTPClient))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Flow{
		cfg:       cfg,
		strategy:  strategy,
		client:    oauth.NewClient(opts...),
		logger:    logger,
		attemptID: attemptID,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		outcomeCh: make(chan Outcome, 1),
	}
}

// Start runs the flow up to the point where the caller can open a browser:
// probe (strategy-dependent), discovery, dynamic registration, PKCE and
// state generation, and the redirect listener. The listener is bound and
// accepting before the returned authorization URL exists, so the URL can be
// dereferenced immediately.
//
// After Start returns, the flow waits in the background for the browser
// redirect and delivers exactly one Outcome on the channel returned by
// Outcome(). Setup failures are returned and also delivered as the outcome.
func (f *Flow) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return "", errors.New("flow is closed")
	}
	if f.started {
		f.mu.Unlock()
		return "", errors.New("flow already started")
	}
	f.started = true
	f.state = StateDiscoveringWellKnown
	f.mu.Unlock()

	authURL, err := f.setup(ctx)
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			f.finalize(Outcome{Status: OutcomeNotSupported})
		} else {
			f.finalize(Outcome{Status: OutcomeError, Reason: err.Error()})
		}
		return "", err
	}

	f.setState(StateAwaitingBrowserRedirect)
	f.authURL.resolve(authURL)

	go f.awaitRedirect()

	return authURL, nil
}

// setup performs the blocking pre-browser stages and returns the
// authorization URL.
func (f *Flow) setup(ctx context.Context) (string, error) {
	if err := f.strategy.Prepare(ctx, f.cfg.ServerURL); err != nil {
		return "", err
	}

	doc, err := f.client.Discover(ctx, f.cfg.ServerURL)
	if err != nil && !errors.Is(err, oauth.ErrDiscoveryUnavailable) {
		return "", fmt.Errorf("discovery failed: %w", err)
	}
	endpoints := oauth.Resolve(f.cfg.ServerURL, doc)

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return "", err
	}
	stateToken, err := oauth.GenerateState()
	if err != nil {
		return "", err
	}

	// The listener must be accepting before the authorization URL leaves
	// this flow, and before registration, which embeds the redirect URI.
	server := NewCallbackServer(f.cfg.CallbackPort)
	redirectURI, err := server.Start(f.ctx)
	if err != nil {
		return "", err
	}

	registration, err := f.ensureRegistration(ctx, endpoints, redirectURI)
	if err != nil {
		server.Stop()
		return "", err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		server.Stop()
		return "", errors.New("flow is closed")
	}
	f.endpoints = endpoints
	f.pkce = pkce
	f.stateToken = stateToken
	f.server = server
	f.registration = registration
	f.mu.Unlock()

	authURL, err := f.buildAuthorizationURL(endpoints.Authorize, redirectURI, stateToken, pkce)
	if err != nil {
		server.Stop()
		return "", err
	}

	f.logger.Info("Login flow ready, waiting for browser redirect",
		"state", StateAwaitingBrowserRedirect.String(),
		"redirect_port", server.Port(),
		"discovered", doc != nil,
	)

	return authURL, nil
}

// ensureRegistration returns the client registration to use: previously
// persisted data if the strategy has any, a fresh dynamic registration when
// the server offers an endpoint, or nil to fall back to the static client.
func (f *Flow) ensureRegistration(ctx context.Context, endpoints oauth.Endpoints, redirectURI string) (*oauth.ClientRegistration, error) {
	if reg := oauth.RegistrationFromRaw(f.strategy.LoadRegistration(f.cfg.ServerURL)); reg != nil {
		f.logger.Debug("Reusing stored dynamic client registration")
		return reg, nil
	}

	if endpoints.Registration == "" {
		return nil, nil
	}

	reg, err := f.client.RegisterClient(ctx, endpoints.Registration, oauth.ClientMetadata{
		ClientName:              "cloudauth",
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_post",
		SoftwareID:              "cloudauth",
	})
	if err != nil {
		return nil, fmt.Errorf("dynamic client registration failed: %w", err)
	}

	f.strategy.RegistrationReceived(f.cfg.ServerURL, reg.Raw)
	return reg, nil
}

// clientCredentials returns the effective client_id and client_secret:
// dynamic registration when present, the configured static client otherwise.
func (f *Flow) clientCredentials() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registration != nil {
		return f.registration.ClientID, f.registration.ClientSecret
	}
	return f.cfg.ClientID, f.cfg.ClientSecret
}

// buildAuthorizationURL constructs the URL the browser is sent to.
func (f *Flow) buildAuthorizationURL(authEndpoint, redirectURI, stateToken string, pkce *oauth.PKCEChallenge) (string, error) {
	u, err := url.Parse(authEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	clientID, _ := f.clientCredentials()

	query := u.Query()
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", stateToken)
	query.Set("code_challenge", pkce.CodeChallenge)
	query.Set("code_challenge_method", pkce.CodeChallengeMethod)
	if f.cfg.ExpectedUser != "" {
		// Preselect the account in the server's login page.
		query.Set("user", f.cfg.ExpectedUser)
	}

	u.RawQuery = query.Encode()
	return u.String(), nil
}

// awaitRedirect blocks on the callback server, then drives the exchange and
// finalization stages. Runs in its own goroutine under the flow's context.
func (f *Flow) awaitRedirect() {
	result, err := f.server.WaitForCallback(f.ctx)
	if err != nil {
		f.finalize(Outcome{Status: OutcomeError, Reason: fmt.Sprintf("waiting for browser redirect: %v", err)})
		return
	}

	if result.IsError() {
		reason := fmt.Sprintf("authorization denied: %s", result.Error)
		if result.ErrorDescription != "" {
			reason += " - " + result.ErrorDescription
		}
		f.finalize(Outcome{Status: OutcomeError, Reason: reason})
		return
	}

	// Critical security check: the state must match the value generated for
	// this attempt, otherwise the code may have been injected (CSRF).
	if result.State != f.stateToken {
		f.logger.Warn("OAuth state mismatch detected, possible CSRF attack",
			"expected_state_len", len(f.stateToken),
			"received_state_len", len(result.State),
		)
		f.finalize(Outcome{Status: OutcomeError, Reason: "state mismatch, possible CSRF attack"})
		return
	}

	f.setState(StateExchangingToken)

	clientID, clientSecret := f.clientCredentials()
	token, err := f.client.ExchangeCode(f.ctx, f.endpoints.Token, oauth.CodeGrant{
		Code:         result.Code,
		RedirectURI:  f.server.RedirectURI(),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CodeVerifier: f.pkce.CodeVerifier,
	})
	if err != nil {
		f.finalize(Outcome{Status: OutcomeError, Reason: fmt.Sprintf("token exchange failed: %v", err)})
		return
	}

	userID := token.UserID
	if userID == "" {
		f.setState(StateResolvingUserID)
		userID, err = f.client.FetchUserID(f.ctx, f.endpoints.UserInfo, token.AccessToken)
		if err != nil {
			f.finalize(Outcome{Status: OutcomeError, Reason: fmt.Sprintf("failed to resolve user: %v", err)})
			return
		}
	}

	if f.cfg.ExpectedUser != "" && userID != f.cfg.ExpectedUser {
		f.finalize(Outcome{
			Status: OutcomeError,
			Reason: fmt.Sprintf("logged in as user %q, expected %q", userID, f.cfg.ExpectedUser),
		})
		return
	}

	f.finalize(Outcome{
		Status: OutcomeLoggedIn,
		Result: &TokenResult{
			User:         userID,
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.ExpiresAt,
		},
	})
}

// Refresh exchanges a refresh token for fresh tokens. It is independent of
// the primary attempt: it never touches the primary outcome and may be
// called many times over a session's lifetime. Endpoints are resolved on
// demand when the flow hasn't run discovery yet.
func (f *Flow) Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	f.mu.Lock()
	endpoints := f.endpoints
	f.mu.Unlock()

	if endpoints.Token == "" {
		doc, err := f.client.Discover(ctx, f.cfg.ServerURL)
		if err != nil && !errors.Is(err, oauth.ErrDiscoveryUnavailable) {
			return nil, fmt.Errorf("discovery failed: %w", err)
		}
		endpoints = oauth.Resolve(f.cfg.ServerURL, doc)

		f.mu.Lock()
		if f.endpoints.Token == "" {
			f.endpoints = endpoints
		}
		f.mu.Unlock()
	}

	clientID, clientSecret := f.clientCredentials()
	token, err := f.client.Refresh(ctx, endpoints.Token, oauth.RefreshGrant{
		RefreshToken: refreshToken,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		f.logger.Warn("Token refresh failed", "error", err.Error())
		return nil, err
	}

	f.logger.Debug("Token refresh succeeded", "has_refresh_token", token.RefreshToken != "")
	return token, nil
}

// Outcome returns the channel carrying the flow's single terminal outcome.
func (f *Flow) Outcome() <-chan Outcome {
	return f.outcomeCh
}

// AuthorizationURL returns the authorization URL and whether it is ready yet.
func (f *Flow) AuthorizationURL() (string, bool) {
	return f.authURL.get()
}

// AuthorizationURLAsync invokes cb with the authorization URL: immediately
// when discovery has already completed, otherwise once it does. The callback
// never fires on a flow that has been closed.
func (f *Flow) AuthorizationURLAsync(cb func(url string)) {
	f.authURL.subscribe(cb)
}

// State returns the flow's current lifecycle state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// setState advances the lifecycle state unless the flow already terminated.
func (f *Flow) setState(state State) {
	f.mu.Lock()
	if f.state == StateFinalized || f.state == StateError || f.closed {
		f.mu.Unlock()
		return
	}
	from := f.state
	f.state = state
	f.mu.Unlock()

	f.logger.Debug("Login flow state changed",
		"from", from.String(),
		"to", state.String(),
	)
}

// finalize records the terminal state and delivers the outcome exactly once.
// A closed flow delivers nothing.
func (f *Flow) finalize(outcome Outcome) {
	f.mu.Lock()
	if f.closed || f.state == StateFinalized || f.state == StateError {
		f.mu.Unlock()
		return
	}
	if outcome.Status == OutcomeError {
		f.state = StateError
	} else {
		f.state = StateFinalized
	}
	server := f.server
	f.outcomeCh <- outcome // buffered, never blocks: first terminal delivery
	f.mu.Unlock()

	if server != nil {
		server.Stop()
	}

	switch outcome.Status {
	case OutcomeLoggedIn:
		f.logger.Info("Login succeeded",
			"user", outcome.Result.User,
			"has_refresh_token", outcome.Result.RefreshToken != "",
		)
	case OutcomeNotSupported:
		f.logger.Info("Login not supported by server")
	case OutcomeError:
		f.logger.Warn("Login failed", "reason", outcome.Reason)
	}
}

// Close tears the flow down: the listening socket is closed, in-flight
// requests are cancelled, and no outcome or pending URL callback fires
// afterward. Safe to call at any time and multiple times.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	server := f.server
	f.mu.Unlock()

	f.cancel()
	f.authURL.close()
	if server != nil {
		server.Stop()
	}

	f.logger.Debug("Login flow closed")
}
