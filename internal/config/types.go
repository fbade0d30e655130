package config

// Config is the top-level configuration structure for cloudauth.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Login  LoginConfig  `yaml:"login"`
}

// ServerConfig identifies the cloud server to authenticate against.
type ServerConfig struct {
	// URL is the base URL of the server, e.g. https://cloud.example.com.
	// WebDAV path suffixes are tolerated and stripped.
	URL string `yaml:"url,omitempty"`

	// ExpectedUser, when set, pins logins to one account. Authenticating as
	// a different user in the browser fails the login.
	ExpectedUser string `yaml:"expectedUser,omitempty"`
}

// ClientConfig is the static OAuth client identity, used against servers
// that offer no dynamic client registration.
type ClientConfig struct {
	ID     string `yaml:"id,omitempty"`
	Secret string `yaml:"secret,omitempty"`
}

// LoginConfig tunes the local side of the login flow.
type LoginConfig struct {
	// CallbackPort is the loopback port for the browser redirect.
	// 0 lets the OS pick an ephemeral port.
	CallbackPort int `yaml:"callbackPort,omitempty"`

	// StorageDir overrides where credentials are stored
	// (default: ~/.config/cloudauth/accounts).
	StorageDir string `yaml:"storageDir,omitempty"`

	// OpenBrowser controls whether the login command launches the system
	// browser itself or only prints the authorization URL.
	OpenBrowser *bool `yaml:"openBrowser,omitempty"`
}

// ShouldOpenBrowser resolves the OpenBrowser tri-state, defaulting to true.
func (l LoginConfig) ShouldOpenBrowser() bool {
	if l.OpenBrowser == nil {
		return true
	}
	return *l.OpenBrowser
}
