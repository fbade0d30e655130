package loginflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloudauth/pkg/oauth"
)

// ServerInfo is the result of a server capability probe.
type ServerInfo struct {
	ProductName   string `json:"productname"`
	Version       string `json:"versionstring"`
	SupportsOAuth bool   `json:"-"`
}

// ServerProber checks whether a server is reachable and supports OAuth
// before a login flow is attempted. The account-bound variant runs it on
// Start; probe results also warm up session cookies when the injected HTTP
// client carries a cookie jar.
type ServerProber interface {
	Probe(ctx context.Context, serverURL string) (*ServerInfo, error)
}

// StatusProber probes a server through its status document and the
// conventional authorization endpoint.
type StatusProber struct {
	// HTTPClient performs the probe requests. Give it a cookie jar when
	// session cookies from the probe should carry over into the browser
	// hand-off. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// statusPath is the status document served by self-hosted cloud servers.
const statusPath = "/status.php"

// Probe implements ServerProber. A server supports OAuth when its status
// document parses and the conventional authorization endpoint exists.
// Anything but 404 counts as existing, since unauthenticated GETs typically
// answer 200 or a redirect to the login page.
func (p *StatusProber) Probe(ctx context.Context, serverURL string) (*ServerInfo, error) {
	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	base := oauth.NormalizeServerURL(serverURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+statusPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read server status: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server status request returned %d", resp.StatusCode)
	}

	var info ServerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("server status document unparseable: %w", err)
	}

	info.SupportsOAuth = p.hasAuthorizeEndpoint(ctx, client, base)
	return &info, nil
}

// hasAuthorizeEndpoint checks whether the conventional authorization endpoint
// exists. 404 means the oauth2 app is not installed.
func (p *StatusProber) hasAuthorizeEndpoint(ctx context.Context, client *http.Client, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+oauth.DefaultAuthorizePath, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode != http.StatusNotFound
}
