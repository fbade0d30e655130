package credstore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{StorageDir: t.TempDir()})
	require.NoError(t, err)
	return store
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)

	account := &Account{
		ServerURL:    "https://cloud.example.test",
		UserID:       "alice",
		AccessToken:  "tok",
		RefreshToken: "ref",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Save(account))

	got := store.Get("https://cloud.example.test")
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "tok", got.AccessToken)
	assert.Equal(t, "ref", got.RefreshToken)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStore_GetNormalizesServerURL(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(&Account{
		ServerURL:   "https://cloud.example.test/",
		AccessToken: "tok",
	}))

	for _, url := range []string{
		"https://cloud.example.test",
		"https://cloud.example.test/",
		"https://cloud.example.test/remote.php/webdav",
		"https://cloud.example.test/remote.php/dav/",
	} {
		assert.NotNil(t, store.Get(url), "lookup with %q", url)
	}

	assert.Nil(t, store.Get("https://other.example.test"))
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	store1, err := New(Config{StorageDir: dir})
	require.NoError(t, err)
	require.NoError(t, store1.Save(&Account{
		ServerURL:   "https://cloud.example.test",
		UserID:      "alice",
		AccessToken: "tok",
	}))

	store2, err := New(Config{StorageDir: dir})
	require.NoError(t, err)

	got := store2.Get("https://cloud.example.test")
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UserID)
}

func TestStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}

	dir := t.TempDir()
	store, err := New(Config{StorageDir: dir})
	require.NoError(t, err)
	require.NoError(t, store.Save(&Account{
		ServerURL:   "https://cloud.example.test",
		AccessToken: "tok",
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	info, err := os.Stat(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm()&0700)
}

func TestStore_RegistrationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	serverURL := "https://cloud.example.test"

	assert.Nil(t, store.Registration(serverURL))

	raw := map[string]any{
		"client_id":     "dyn-id",
		"client_secret": "dyn-secret",
		"client_name":   "cloudauth",
	}
	require.NoError(t, store.SaveRegistration(serverURL, raw))

	got := store.Registration(serverURL)
	require.NotNil(t, got)
	assert.Equal(t, "dyn-id", got["client_id"])

	// Saving tokens afterward keeps the registration document
	account := store.Get(serverURL)
	require.NotNil(t, account)
	account.AccessToken = "tok"
	require.NoError(t, store.Save(account))

	got = store.Registration(serverURL)
	require.NotNil(t, got)
	assert.Equal(t, "dyn-secret", got["client_secret"])
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(&Account{
		ServerURL:   "https://cloud.example.test",
		AccessToken: "tok",
	}))
	require.NotNil(t, store.Get("https://cloud.example.test"))

	require.NoError(t, store.Delete("https://cloud.example.test"))
	assert.Nil(t, store.Get("https://cloud.example.test"))

	// Deleting a missing account is not an error
	assert.NoError(t, store.Delete("https://cloud.example.test"))
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)

	accounts, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, accounts)

	require.NoError(t, store.Save(&Account{ServerURL: "https://one.example.test", AccessToken: "a"}))
	require.NoError(t, store.Save(&Account{ServerURL: "https://two.example.test", AccessToken: "b"}))

	accounts, err = store.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	urls := map[string]bool{}
	for _, a := range accounts {
		urls[a.ServerURL] = true
	}
	assert.True(t, urls["https://one.example.test"])
	assert.True(t, urls["https://two.example.test"])
}

func TestAccount_HasValidToken(t *testing.T) {
	tests := []struct {
		name    string
		account *Account
		want    bool
	}{
		{name: "nil account", account: nil, want: false},
		{name: "no token", account: &Account{}, want: false},
		{name: "no expiry", account: &Account{AccessToken: "tok"}, want: true},
		{
			name:    "valid",
			account: &Account{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)},
			want:    true,
		},
		{
			name:    "expired",
			account: &Account{AccessToken: "tok", Expiry: time.Now().Add(-time.Minute)},
			want:    false,
		},
		{
			name:    "expiring within buffer",
			account: &Account{AccessToken: "tok", Expiry: time.Now().Add(30 * time.Second)},
			want:    false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.account.HasValidToken())
		})
	}
}

func TestAccount_ToOAuth2Token(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	account := &Account{
		AccessToken:  "tok",
		RefreshToken: "ref",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}

	token := account.ToOAuth2Token()
	assert.Equal(t, "tok", token.AccessToken)
	assert.Equal(t, "ref", token.RefreshToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, expiry, token.Expiry)
	assert.True(t, token.Valid())
}
