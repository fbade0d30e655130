package cmd

import (
	"fmt"

	"cloudauth/pkg/oauth"

	"github.com/spf13/cobra"
)

var logoutServer string

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the stored login for a server",
	RunE:  runLogout,
}

func init() {
	logoutCmd.Flags().StringVar(&logoutServer, "server", "", "server base URL (overrides config)")

	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	serverURL, err := resolveServerURL(logoutServer, cfg)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	normalized := oauth.NormalizeServerURL(serverURL)
	if store.Get(serverURL) == nil {
		fmt.Printf("No stored login for %s.\n", normalized)
		return nil
	}

	if err := store.Delete(serverURL); err != nil {
		return err
	}

	infoPrintf("Logged out of %s\n", normalized)
	return nil
}
