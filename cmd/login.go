package cmd

import (
	"errors"
	"fmt"
	"time"

	"cloudauth/internal/credstore"
	"cloudauth/internal/loginflow"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// Login-specific flags
var (
	loginServer    string
	loginUser      string
	loginPort      int
	loginNoBrowser bool
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate to a cloud server",
	Long: `Authenticate to a cloud server using a browser-based OAuth flow.

The command starts a local redirect listener, opens the server's authorization
page in your browser, and stores the resulting tokens locally.

Examples:
  cloudauth login --server https://cloud.example.com
  cloudauth login --server https://cloud.example.com --user alice
  cloudauth login --no-browser   # print the URL instead of opening a browser`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginServer, "server", "", "server base URL (overrides config)")
	loginCmd.Flags().StringVar(&loginUser, "user", "", "expected account user; login as anyone else fails")
	loginCmd.Flags().IntVar(&loginPort, "port", 0, "loopback port for the browser redirect (0 = ephemeral)")
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")

	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	serverURL, err := resolveServerURL(loginServer, cfg)
	if err != nil {
		return err
	}

	expectedUser := loginUser
	if expectedUser == "" {
		expectedUser = cfg.Server.ExpectedUser
	}

	callbackPort := loginPort
	if callbackPort == 0 {
		callbackPort = cfg.Login.CallbackPort
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	flow := loginflow.New(loginflow.Config{
		ServerURL:    serverURL,
		ExpectedUser: expectedUser,
		ClientID:     cfg.Client.ID,
		ClientSecret: cfg.Client.Secret,
		CallbackPort: callbackPort,
	}, &loginflow.AccountStrategy{Store: store})
	defer flow.Close()

	authURL, err := flow.Start(cmd.Context())
	if err != nil {
		if errors.Is(err, loginflow.ErrNotSupported) {
			fmt.Printf("Server %s does not support OAuth.\n", serverURL)
		}
		return err
	}

	if loginNoBrowser || !cfg.Login.ShouldOpenBrowser() {
		fmt.Printf("Open this URL in your browser to continue:\n\n  %s\n\n", authURL)
	} else {
		infoPrintf("Opening your browser to complete the login...\n")
		if err := loginflow.OpenBrowser(authURL); err != nil {
			fmt.Printf("Could not open a browser. Open this URL manually:\n\n  %s\n\n", authURL)
		}
	}

	outcome := waitForOutcome(flow)

	switch outcome.Status {
	case loginflow.OutcomeLoggedIn:
		account := &credstore.Account{
			ServerURL:    serverURL,
			UserID:       outcome.Result.User,
			AccessToken:  outcome.Result.AccessToken,
			RefreshToken: outcome.Result.RefreshToken,
			TokenType:    "Bearer",
			Expiry:       outcome.Result.ExpiresAt,
			Registration: store.Registration(serverURL),
		}
		if err := store.Save(account); err != nil {
			return err
		}
		infoPrintf("%s Logged in as %s\n", text.FgGreen.Sprint("✓"), outcome.Result.User)
		return nil

	case loginflow.OutcomeNotSupported:
		fmt.Printf("Server %s does not support OAuth.\n", serverURL)
		return loginflow.ErrNotSupported

	default:
		return &LoginFailedError{Reason: outcome.Reason}
	}
}

// waitForOutcome blocks on the flow's terminal outcome, showing a progress
// spinner unless quiet mode is enabled.
func waitForOutcome(flow *loginflow.Flow) loginflow.Outcome {
	if quiet {
		return <-flow.Outcome()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for you to log in in the browser..."
	s.Start()
	defer s.Stop()

	return <-flow.Outcome()
}
