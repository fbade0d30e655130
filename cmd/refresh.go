package cmd

import (
	"fmt"

	"cloudauth/internal/loginflow"
	"cloudauth/pkg/oauth"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var refreshServer string

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the stored access token",
	Long: `Refresh the stored access token for a server using its refresh token.

A new access token (and, when the server rotates them, a new refresh token)
replaces the stored one. Use this when the access token expired but the
session should stay alive without another browser login.`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().StringVar(&refreshServer, "server", "", "server base URL (overrides config)")

	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	serverURL, err := resolveServerURL(refreshServer, cfg)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	account := store.Get(serverURL)
	if account == nil {
		return fmt.Errorf("no stored login for %s. Run 'cloudauth login' first", oauth.NormalizeServerURL(serverURL))
	}
	if account.RefreshToken == "" {
		return fmt.Errorf("no refresh token stored for %s. Run 'cloudauth login' again", account.ServerURL)
	}

	flow := loginflow.New(loginflow.Config{
		ServerURL:    serverURL,
		ClientID:     cfg.Client.ID,
		ClientSecret: cfg.Client.Secret,
	}, &loginflow.AccountStrategy{Store: store})
	defer flow.Close()

	token, err := flow.Refresh(cmd.Context(), account.RefreshToken)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}

	account.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		account.RefreshToken = token.RefreshToken
	}
	account.Expiry = token.ExpiresAt
	if err := store.Save(account); err != nil {
		return err
	}

	infoPrintf("%s Token refreshed for %s\n", text.FgGreen.Sprint("✓"), account.ServerURL)
	return nil
}
