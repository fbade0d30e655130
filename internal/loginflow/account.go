package loginflow

import (
	"context"
	"fmt"
	"log/slog"

	"cloudauth/internal/credstore"
)

// AccountStrategy is the account-bound flow variant. Instead of trusting a
// user-provided server URL it probes the server first, and it loads and
// stores dynamic client registration data through the credential store so a
// re-login reuses the client identity the server already issued.
type AccountStrategy struct {
	Prober ServerProber
	Store  *credstore.Store
}

// Prepare implements Strategy: it runs the capability probe. A reachable
// server without OAuth support yields ErrNotSupported, which the flow turns
// into the terminal NotSupported outcome before the redirect listener ever
// starts.
func (s *AccountStrategy) Prepare(ctx context.Context, serverURL string) error {
	prober := s.Prober
	if prober == nil {
		prober = &StatusProber{}
	}

	info, err := prober.Probe(ctx, serverURL)
	if err != nil {
		return fmt.Errorf("server probe failed: %w", err)
	}

	if !info.SupportsOAuth {
		slog.Info("Server does not support OAuth",
			"server_url", serverURL,
			"product", info.ProductName,
			"version", info.Version,
		)
		return ErrNotSupported
	}

	slog.Debug("Server probe succeeded",
		"server_url", serverURL,
		"product", info.ProductName,
		"version", info.Version,
	)
	return nil
}

// LoadRegistration implements Strategy using the credential store.
func (s *AccountStrategy) LoadRegistration(serverURL string) map[string]any {
	if s.Store == nil {
		return nil
	}
	return s.Store.Registration(serverURL)
}

// RegistrationReceived implements Strategy: the registration document is
// persisted so later flows against the same server skip registration.
func (s *AccountStrategy) RegistrationReceived(serverURL string, raw map[string]any) {
	if s.Store == nil {
		return
	}
	if err := s.Store.SaveRegistration(serverURL, raw); err != nil {
		slog.Warn("Failed to persist dynamic registration data",
			"server_url", serverURL,
			"error", err.Error(),
		)
	}
}
