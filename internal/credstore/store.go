package credstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"cloudauth/pkg/oauth"
)

// DefaultStorageDir is the default directory for stored accounts,
// relative to the user's home directory.
const DefaultStorageDir = ".config/cloudauth/accounts"

// expiryBuffer is the margin added when checking token validity.
// This accounts for clock skew and network latency.
const expiryBuffer = 60 * time.Second

// Account is one stored login: the server identity, the account user, the
// tokens, and the dynamic registration data issued by the server.
type Account struct {
	// ServerURL is the normalized base URL of the server.
	ServerURL string `json:"server_url"`

	// UserID is the resolved account user identifier.
	UserID string `json:"user_id,omitempty"`

	// AccessToken is the OAuth access token.
	AccessToken string `json:"access_token"`

	// RefreshToken is the OAuth refresh token (if the server issued one).
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// Expiry is when the access token expires.
	Expiry time.Time `json:"expiry,omitempty"`

	// Registration is the raw dynamic client registration document issued
	// by the server, kept so re-logins reuse the same client identity.
	Registration map[string]any `json:"registration,omitempty"`

	// CreatedAt is when the record was last written.
	CreatedAt time.Time `json:"created_at"`
}

// ToOAuth2Token converts the stored tokens to an oauth2.Token.
func (a *Account) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		TokenType:    a.TokenType,
		Expiry:       a.Expiry,
	}
}

// HasValidToken reports whether the stored access token is still usable,
// with a safety margin for clock skew.
func (a *Account) HasValidToken() bool {
	if a == nil || a.AccessToken == "" {
		return false
	}
	if a.Expiry.IsZero() {
		return true
	}
	return time.Now().Add(expiryBuffer).Before(a.Expiry)
}

// Store is a file-backed credential store. It keeps an in-memory cache in
// front of JSON files named by a hash of the server URL.
type Store struct {
	mu         sync.RWMutex
	storageDir string
	accounts   map[string]*Account
}

// Config configures the credential store.
type Config struct {
	// StorageDir is the directory for account files.
	// Defaults to ~/.config/cloudauth/accounts.
	StorageDir string
}

// New creates a credential store, creating the storage directory with owner-only
// permissions if needed.
func New(cfg Config) (*Store, error) {
	storageDir := cfg.StorageDir
	if storageDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		storageDir = filepath.Join(homeDir, DefaultStorageDir)
	}

	if err := os.MkdirAll(storageDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential storage directory: %w", err)
	}

	return &Store{
		storageDir: storageDir,
		accounts:   make(map[string]*Account),
	}, nil
}

// Save writes an account record. Token values are never logged.
func (s *Store) Save(account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account.ServerURL = oauth.NormalizeServerURL(account.ServerURL)
	account.CreatedAt = time.Now()

	key := s.accountKey(account.ServerURL)
	s.accounts[key] = account

	if err := s.writeAccountFile(key, account); err != nil {
		slog.Warn("Credential persistence failed",
			"server_url", account.ServerURL,
			"error", err.Error(),
		)
		return fmt.Errorf("failed to persist credentials: %w", err)
	}

	slog.Info("Credentials stored",
		"server_url", account.ServerURL,
		"user_id", account.UserID,
		"has_refresh_token", account.RefreshToken != "",
		"has_registration", len(account.Registration) > 0,
	)
	return nil
}

// Get returns the stored account for a server, or nil when none exists.
// Expired tokens are still returned: the caller decides whether to refresh
// or re-login.
func (s *Store) Get(serverURL string) *Account {
	key := s.accountKey(oauth.NormalizeServerURL(serverURL))

	s.mu.RLock()
	if account, ok := s.accounts[key]; ok {
		s.mu.RUnlock()
		return account
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check in case another goroutine populated it
	if account, ok := s.accounts[key]; ok {
		return account
	}

	account, err := s.readAccountFile(key)
	if err != nil {
		return nil
	}
	s.accounts[key] = account
	return account
}

// Registration returns the stored dynamic registration data for a server,
// or nil when the server never registered this client.
func (s *Store) Registration(serverURL string) map[string]any {
	account := s.Get(serverURL)
	if account == nil {
		return nil
	}
	return account.Registration
}

// SaveRegistration stores dynamic registration data for a server, creating
// a token-less account record if none exists yet.
func (s *Store) SaveRegistration(serverURL string, raw map[string]any) error {
	account := s.Get(serverURL)
	if account == nil {
		account = &Account{ServerURL: oauth.NormalizeServerURL(serverURL)}
	}
	account.Registration = raw
	return s.Save(account)
}

// Delete removes the stored account for a server.
func (s *Store) Delete(serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := oauth.NormalizeServerURL(serverURL)
	key := s.accountKey(normalized)
	delete(s.accounts, key)

	if err := s.deleteAccountFile(key); err != nil {
		return err
	}

	slog.Info("Credentials deleted", "server_url", normalized)
	return nil
}

// List returns all stored accounts, loading any records not yet cached.
func (s *Store) List() ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.storageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential directory: %w", err)
	}

	var accounts []*Account
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		key := entry.Name()[:len(entry.Name())-len(".json")]
		if account, ok := s.accounts[key]; ok {
			accounts = append(accounts, account)
			continue
		}

		account, err := s.readAccountFile(key)
		if err != nil {
			continue
		}
		s.accounts[key] = account
		accounts = append(accounts, account)
	}

	return accounts, nil
}

// accountKey generates a filesystem-safe identifier for a server URL.
func (s *Store) accountKey(serverURL string) string {
	hash := sha256.Sum256([]byte(serverURL))
	return hex.EncodeToString(hash[:16])
}

// writeAccountFile persists an account to a JSON file with restricted permissions.
func (s *Store) writeAccountFile(key string, account *Account) error {
	filePath := filepath.Join(s.storageDir, key+".json")

	data, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	// Owner read/write only
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write account file: %w", err)
	}

	return nil
}

// readAccountFile reads an account from a JSON file.
func (s *Store) readAccountFile(key string) (*Account, error) {
	filePath := filepath.Join(s.storageDir, key+".json")

	// #nosec G304 -- filePath is constructed from internal key, not user input
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	return &account, nil
}

// deleteAccountFile removes an account file.
func (s *Store) deleteAccountFile(key string) error {
	err := os.Remove(filepath.Join(s.storageDir, key+".json"))
	if os.IsNotExist(err) {
		return nil // Already deleted
	}
	return err
}
