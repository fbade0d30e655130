package loginflow

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by a Strategy's Prepare when the server is
// known not to support OAuth. The flow translates it into the terminal
// NotSupported outcome without ever starting the redirect listener.
var ErrNotSupported = errors.New("server does not support oauth")

// Strategy customizes provider-specific behavior of a login flow. The two
// implementations are Generic (user-provided server URL, registration data
// held in memory) and AccountBound (capability probe up front, registration
// data persisted through the credential store).
type Strategy interface {
	// Prepare runs before discovery. Returning ErrNotSupported finalizes the
	// flow as NotSupported; any other error finalizes it as Error.
	Prepare(ctx context.Context, serverURL string) error

	// LoadRegistration returns previously obtained dynamic client
	// registration data for the server, or nil when the client must
	// register (or fall back to the configured static client).
	LoadRegistration(serverURL string) map[string]any

	// RegistrationReceived is invoked with the raw registration document
	// after a successful dynamic client registration.
	RegistrationReceived(serverURL string, raw map[string]any)
}

// GenericStrategy is the plain variant: no capability probe, and dynamic
// registration data lives only for the strategy's lifetime.
type GenericStrategy struct {
	// RegistrationData seeds the strategy with registration data obtained
	// out of band. May be nil.
	RegistrationData map[string]any
}

// Prepare implements Strategy. The generic flow trusts the caller-provided
// server URL.
func (s *GenericStrategy) Prepare(ctx context.Context, serverURL string) error {
	return nil
}

// LoadRegistration implements Strategy.
func (s *GenericStrategy) LoadRegistration(serverURL string) map[string]any {
	return s.RegistrationData
}

// RegistrationReceived implements Strategy.
func (s *GenericStrategy) RegistrationReceived(serverURL string, raw map[string]any) {
	s.RegistrationData = raw
}
