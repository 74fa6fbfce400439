package providers

import "fmt"

// MissingCredentialError: a cloud provider has no stored API key. Raised
// before any network call is attempted.
type MissingCredentialError struct {
	Provider string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s API key not configured", e.Provider)
}

// ProviderUnreachableError: a local provider's last known status is not
// connected. Carries the configured base URL so the user can self-diagnose.
type ProviderUnreachableError struct {
	Provider string
	BaseURL  string
}

func (e *ProviderUnreachableError) Error() string {
	return fmt.Sprintf("%s is not reachable at %s, check that the server is running", e.Provider, e.BaseURL)
}

// ConnectionFailedError: the network call to a local provider failed after
// the liveness precondition passed.
type ConnectionFailedError struct {
	Provider string
	BaseURL  string
	Err      error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("failed to connect to %s at %s: %v", e.Provider, e.BaseURL, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Err }

// UpstreamError: a cloud provider answered with a non-2xx status. Message
// carries the provider's own error text when the body was parseable.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s error: status %d", e.Provider, e.Status)
}

// UnsupportedProviderError: the dispatcher received a provider id with no
// registered adapter.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q", e.Provider)
}
