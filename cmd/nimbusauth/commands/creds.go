package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nimbusdw/nimbus-go/internal/cli/prompt"
	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/config"
	"github.com/nimbusdw/nimbus-go/pkg/credentials"
	"github.com/nimbusdw/nimbus-go/pkg/credentials/iam"
	"github.com/nimbusdw/nimbus-go/pkg/gss"
)

var (
	credsProviderName string
	credsToken        string
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Resolve credentials through a provider",
	Long: `Resolve credentials through the named provider and print the result
with the secret material masked.

Providers: static, browser-saml, browser-oauth, form-saml, federated, kerberos.

Examples:
  # Static token from the command line
  nimbusauth creds --provider static --token sekrit

  # Browser SAML flow against the configured login_url
  NIMBUS_LOGIN_URL=https://idp.example.com/saml nimbusauth creds --provider browser-saml

  # Full federated exchange
  nimbusauth creds --provider federated --config nimbus.yaml`,
	RunE: runCreds,
}

func init() {
	credsCmd.Flags().StringVar(&credsProviderName, "provider", "static", "Credential provider to use")
	credsCmd.Flags().StringVar(&credsToken, "token", "", "Token for the static provider")
}

func runCreds(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(nil)
	if err != nil {
		return err
	}

	provider, err := buildProvider(credsProviderName, opts)
	if err != nil {
		return err
	}

	rec, err := provider.GetCredentials(context.Background())
	if err != nil {
		return err
	}

	cmd.Printf("Provider: %s\n", provider.Name())
	cmd.Printf("Origin:   %s\n", rec.Origin)
	cmd.Printf("Material: %s\n", logger.Redact(rec.Material))
	if rec.Expiry.IsZero() {
		cmd.Println("Expiry:   (none; resolved during connection handshake)")
	} else {
		cmd.Printf("Expiry:   %s\n", rec.Expiry.Format("2006-01-02 15:04:05 MST"))
	}
	if len(rec.Metadata) > 0 {
		keys := make([]string, 0, len(rec.Metadata))
		for k := range rec.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd.Printf("  %s: %s\n", k, rec.Metadata[k])
		}
	}
	return nil
}

func buildProvider(name string, opts *config.Options) (credentials.Provider, error) {
	var cache *credentials.Cache
	if opts.CacheCredentials {
		cache = credentials.DefaultCache()
	}

	switch name {
	case "static":
		token := credsToken
		if token == "" {
			token = opts.ClientSecret
		}
		return credentials.NewStatic(token, cache), nil

	case "browser-saml":
		return credentials.NewBrowserSAML(credentials.BrowserSAMLConfig{
			LoginURL:   opts.LoginURL,
			ListenPort: opts.ListenPort,
			Timeout:    opts.ResponseTimeout(),
			Cache:      cache,
		}), nil

	case "browser-oauth":
		return credentials.NewBrowserOAuth(credentials.BrowserOAuthConfig{
			AuthorizeURL: opts.LoginURL,
			TokenURL:     opts.TokenURL,
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			ListenPort:   opts.ListenPort,
			Timeout:      opts.ResponseTimeout(),
			Cache:        cache,
		}), nil

	case "form-saml":
		return newFormSAML(opts, cache), nil

	case "federated":
		// The assertion comes from the form flow when IdP credentials are
		// configured, from the browser flow otherwise.
		var assertions iam.AssertionSource
		if opts.IdPUser != "" {
			assertions = newFormSAML(opts, nil)
		} else {
			assertions = credentials.NewBrowserSAML(credentials.BrowserSAMLConfig{
				LoginURL:   opts.LoginURL,
				ListenPort: opts.ListenPort,
				Timeout:    opts.ResponseTimeout(),
			})
		}
		return iam.New(iam.Config{
			Assertions:   assertions,
			RoleARN:      opts.PreferredRole,
			PrincipalARN: opts.PrincipalARN,
			ClusterID:    opts.ClusterID,
			DBUser:       opts.DBUser,
			DBGroups:     opts.DBGroups,
			AutoCreate:   opts.AutoCreate,
			Region:       opts.Region,
			Cache:        cache,
		}), nil

	case "kerberos":
		return credentials.NewKerberos(gss.Config{
			SPN:          opts.SPN,
			Realm:        opts.Realm,
			Username:     opts.IdPUser,
			Password:     opts.IdPPassword,
			Krb5ConfPath: opts.Krb5Conf,
			CCachePath:   opts.CCache,
			KeytabPath:   opts.Keytab,
			PreferSPNEGO: opts.UseSPNEGO,
			Secret:       prompt.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func newFormSAML(opts *config.Options, cache *credentials.Cache) *credentials.FormSAML {
	loginURL := opts.IdPHost
	if loginURL == "" {
		loginURL = opts.LoginURL
	}
	return credentials.NewFormSAML(credentials.FormSAMLConfig{
		LoginURL: loginURL,
		Username: opts.IdPUser,
		Password: opts.IdPPassword,
		Secret:   prompt.Password,
		Timeout:  opts.ResponseTimeout(),
		Cache:    cache,
	})
}
