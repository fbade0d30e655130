package loginflow

import (
	"context"
	"errors"
	"testing"

	"cloudauth/internal/credstore"
)

func TestAccountStrategy_Prepare(t *testing.T) {
	tests := []struct {
		name    string
		info    *ServerInfo
		probeErr error
		wantErr error
	}{
		{
			name: "supported server passes",
			info: &ServerInfo{ProductName: "TestCloud", SupportsOAuth: true},
		},
		{
			name:    "unsupported server yields ErrNotSupported",
			info:    &ServerInfo{ProductName: "TestCloud", SupportsOAuth: false},
			wantErr: ErrNotSupported,
		},
		{
			name:     "probe failure is a plain error",
			probeErr: errors.New("connection refused"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			strategy := &AccountStrategy{Prober: proberFunc(func(ctx context.Context, serverURL string) (*ServerInfo, error) {
				return tc.info, tc.probeErr
			})}

			err := strategy.Prepare(context.Background(), "https://cloud.example.test")

			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("Prepare() error = %v, want %v", err, tc.wantErr)
				}
			case tc.probeErr != nil:
				if err == nil {
					t.Error("Prepare() succeeded despite probe failure")
				}
				if errors.Is(err, ErrNotSupported) {
					t.Error("probe failure must not be reported as not-supported")
				}
			default:
				if err != nil {
					t.Errorf("Prepare() error = %v", err)
				}
			}
		})
	}
}

func TestAccountStrategy_RegistrationRoundTrip(t *testing.T) {
	store, err := credstore.New(credstore.Config{StorageDir: t.TempDir()})
	if err != nil {
		t.Fatalf("credstore.New() error = %v", err)
	}

	strategy := &AccountStrategy{Store: store}
	serverURL := "https://cloud.example.test"

	if got := strategy.LoadRegistration(serverURL); got != nil {
		t.Errorf("LoadRegistration() = %v before any registration", got)
	}

	raw := map[string]any{"client_id": "dyn-id", "client_secret": "dyn-secret"}
	strategy.RegistrationReceived(serverURL, raw)

	got := strategy.LoadRegistration(serverURL)
	if got == nil {
		t.Fatal("LoadRegistration() = nil after RegistrationReceived")
	}
	if got["client_id"] != "dyn-id" {
		t.Errorf("client_id = %v", got["client_id"])
	}

	// A fresh strategy over the same store sees the persisted document
	fresh := &AccountStrategy{Store: store}
	if got := fresh.LoadRegistration(serverURL); got == nil || got["client_id"] != "dyn-id" {
		t.Errorf("persisted registration not visible to new strategy: %v", got)
	}
}

func TestAccountStrategy_NilStore(t *testing.T) {
	strategy := &AccountStrategy{Prober: proberFunc(func(ctx context.Context, serverURL string) (*ServerInfo, error) {
		return &ServerInfo{SupportsOAuth: true}, nil
	})}

	if got := strategy.LoadRegistration("https://cloud.example.test"); got != nil {
		t.Errorf("LoadRegistration() = %v without store", got)
	}
	// Must not panic
	strategy.RegistrationReceived("https://cloud.example.test", map[string]any{"client_id": "x"})
}
