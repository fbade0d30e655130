package cmd

import (
	"errors"
	"log/slog"
	"os"

	"cloudauth/internal/loginflow"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands. These follow common conventions so the tool
// can be scripted.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
	// ExitCodeNotSupported indicates the server does not support OAuth.
	ExitCodeNotSupported = 4
)

// Global flags shared by all subcommands.
var (
	configPath string
	debugLog   bool
	quiet      bool
)

// rootCmd represents the base command for the cloudauth application.
var rootCmd = &cobra.Command{
	Use:   "cloudauth",
	Short: "Authenticate to self-hosted cloud servers via OAuth",
	Long: `cloudauth runs browser-based OAuth logins against self-hosted cloud
servers (ownCloud-compatible), stores the resulting tokens locally, and keeps
them fresh through refresh tokens.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// SetVersion sets the version for the root command.
// Typically called from the main package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "cloudauth version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if errors.Is(err, loginflow.ErrNotSupported) {
		return ExitCodeNotSupported
	}

	var loginErr *LoginFailedError
	if errors.As(err, &loginErr) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

// LoginFailedError marks errors produced by a failed OAuth flow so Execute
// can map them to a distinct exit code.
type LoginFailedError struct {
	Reason string
}

func (e *LoginFailedError) Error() string {
	return "login failed: " + e.Reason
}

// setupLogging configures the global slog handler from the --debug flag.
// Logs go to stderr so stdout stays clean for command output.
func setupLogging() {
	level := slog.LevelWarn
	if debugLog {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config directory (default is $HOME/.config/cloudauth)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational output")

	rootCmd.AddCommand(newVersionCmd())
}
