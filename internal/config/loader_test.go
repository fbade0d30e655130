package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0644))
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.Equal(t, 0, cfg.Login.CallbackPort)
	assert.True(t, cfg.Login.ShouldOpenBrowser())
}

func TestLoadConfig_FullFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
server:
  url: https://cloud.example.test/remote.php/webdav
  expectedUser: alice
client:
  id: my-client
  secret: my-secret
login:
  callbackPort: 43580
  storageDir: /tmp/cloudauth-test
  openBrowser: false
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://cloud.example.test/remote.php/webdav", cfg.Server.URL)
	assert.Equal(t, "alice", cfg.Server.ExpectedUser)
	assert.Equal(t, "my-client", cfg.Client.ID)
	assert.Equal(t, "my-secret", cfg.Client.Secret)
	assert.Equal(t, 43580, cfg.Login.CallbackPort)
	assert.Equal(t, "/tmp/cloudauth-test", cfg.Login.StorageDir)
	assert.False(t, cfg.Login.ShouldOpenBrowser())
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
server:
  url: https://cloud.example.test
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://cloud.example.test", cfg.Server.URL)
	assert.Empty(t, cfg.Server.ExpectedUser)
	assert.Equal(t, 0, cfg.Login.CallbackPort)
	assert.True(t, cfg.Login.ShouldOpenBrowser())
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "server: [not: valid")

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoginConfig_ShouldOpenBrowser(t *testing.T) {
	var cfg LoginConfig
	assert.True(t, cfg.ShouldOpenBrowser())

	enabled := true
	cfg.OpenBrowser = &enabled
	assert.True(t, cfg.ShouldOpenBrowser())

	disabled := false
	cfg.OpenBrowser = &disabled
	assert.False(t, cfg.ShouldOpenBrowser())
}
