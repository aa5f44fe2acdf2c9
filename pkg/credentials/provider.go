package credentials

import (
	"context"
	"fmt"
	"strconv"
)

// Provider is one credential-resolution flow.
//
// GetCredentials serves from cache when a fresh record exists and refreshes
// otherwise; Refresh always runs the flow. Concurrent callers of either are
// collapsed into a single underlying fetch whose result, success or error,
// every caller receives.
type Provider interface {
	// Name identifies the flow for logging and metrics.
	Name() string

	// CacheKey scopes cached records to this provider's identity
	// parameters. Empty means the provider's records must never be cached.
	CacheKey() string

	// SetParameter applies one configuration key late, after construction.
	// Unknown keys are a configuration error.
	SetParameter(key, value string) error

	// GetCredentials returns a usable record, from cache or freshly
	// fetched.
	GetCredentials(ctx context.Context) (CredentialRecord, error)

	// Refresh runs the flow unconditionally and replaces the cached
	// record.
	Refresh(ctx context.Context) (CredentialRecord, error)
}

// SecretFunc supplies a secret interactively when configuration carries
// none. The prompt names what is being asked for.
type SecretFunc func(prompt string) (string, error)

// Parameter keys accepted by SetParameter across providers. A provider
// rejects the keys that do not apply to its flow.
const (
	ParamToken       = "token"
	ParamLoginURL    = "login_url"
	ParamListenPort  = "listen_port"
	ParamIdPTimeout  = "idp_response_timeout"
	ParamClientID    = "client_id"
	ParamTokenURL    = "token_url"
	ParamIdPHost     = "idp_host"
	ParamIdPUser     = "idp_user"
	ParamIdPPassword = "idp_password"
)

var (
	_ Provider = (*Static)(nil)
	_ Provider = (*BrowserSAML)(nil)
	_ Provider = (*BrowserOAuth)(nil)
	_ Provider = (*FormSAML)(nil)
	_ Provider = (*Kerberos)(nil)
)

func parsePort(value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
