package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored logins",
	Long: `Show all stored logins: server, account user, token validity, and
whether a refresh token is available.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	accounts, err := store.List()
	if err != nil {
		return err
	}

	if len(accounts) == 0 {
		fmt.Println("No stored logins. Run 'cloudauth login' to authenticate.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Server", "User", "Token", "Expires", "Refresh"})

	for _, account := range accounts {
		t.AppendRow(table.Row{
			account.ServerURL,
			account.UserID,
			formatTokenState(account.HasValidToken()),
			formatExpiry(account.Expiry),
			formatRefreshState(account.RefreshToken != ""),
		})
	}

	t.Render()
	return nil
}

func formatTokenState(valid bool) string {
	if valid {
		return text.FgGreen.Sprint("Valid")
	}
	return text.FgYellow.Sprint("Expired")
}

func formatRefreshState(available bool) string {
	if available {
		return text.FgGreen.Sprint("Available")
	}
	return text.FgYellow.Sprint("None")
}

// formatExpiry renders an expiry timestamp with a relative direction hint.
func formatExpiry(expiry time.Time) string {
	if expiry.IsZero() {
		return "never"
	}

	remaining := time.Until(expiry).Round(time.Second)
	if remaining > 0 {
		return fmt.Sprintf("in %s", remaining)
	}
	return fmt.Sprintf("%s ago", -remaining)
}
