package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"cloudauth/internal/loginflow"

	"github.com/spf13/cobra"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, rootCmd.Version)
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "cloudauth" {
		t.Errorf("Expected Use to be 'cloudauth', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if rootCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "generic error",
			err:  errors.New("boom"),
			want: ExitCodeError,
		},
		{
			name: "not supported",
			err:  loginflow.ErrNotSupported,
			want: ExitCodeNotSupported,
		},
		{
			name: "wrapped not supported",
			err:  errors.Join(errors.New("context"), loginflow.ErrNotSupported),
			want: ExitCodeNotSupported,
		},
		{
			name: "login failed",
			err:  &LoginFailedError{Reason: "state mismatch"},
			want: ExitCodeAuthFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := getExitCode(tc.err); got != tc.want {
				t.Errorf("getExitCode() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSubcommands(t *testing.T) {
	commands := rootCmd.Commands()

	expectedCommands := []string{"version", "login", "logout", "refresh", "status"}
	foundCommands := make(map[string]bool)

	for _, cmd := range commands {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "cloudauth version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})

	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	if got, want := buf.String(), "cloudauth version 1.0.0\n"; got != want {
		t.Errorf("Expected version output %q, got %q", want, got)
	}
}

func TestRootCommandHelp(t *testing.T) {
	var buf bytes.Buffer

	testRootCmd := &cobra.Command{
		Use:          "cloudauth",
		Short:        rootCmd.Short,
		Long:         rootCmd.Long,
		SilenceUsage: true,
	}
	testRootCmd.SetOut(&buf)
	testRootCmd.SetArgs([]string{"--help"})

	if err := testRootCmd.Execute(); err != nil {
		t.Fatalf("Error executing help command: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "cloudauth") {
		t.Errorf("Help output should contain 'cloudauth'. Got: %q", output)
	}
}

func TestLoginFailedError(t *testing.T) {
	err := &LoginFailedError{Reason: "authorization denied"}
	if !strings.Contains(err.Error(), "authorization denied") {
		t.Errorf("Error() = %q", err.Error())
	}
}
