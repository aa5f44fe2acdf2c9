// Package config loads the driver's authentication options from a file,
// NIMBUS_-prefixed environment variables, and explicit overrides, in
// ascending precedence.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// MinIdPResponseTimeout is the floor for idp_response_timeout. Anything
// shorter would race real browser flows into spurious timeouts.
const MinIdPResponseTimeout = 10 * time.Second

// DefaultIdPResponseTimeout applies when no timeout is configured.
const DefaultIdPResponseTimeout = 120 * time.Second

// Options is the full authentication option surface.
type Options struct {
	// Identity provider.
	IdPTenant          string        `mapstructure:"idp_tenant"`
	ClientID           string        `mapstructure:"client_id"`
	ClientSecret       string        `mapstructure:"client_secret"`
	LoginURL           string        `mapstructure:"login_url" validate:"omitempty,url"`
	TokenURL           string        `mapstructure:"token_url" validate:"omitempty,url"`
	IdPHost            string        `mapstructure:"idp_host"`
	IdPUser            string        `mapstructure:"idp_user"`
	IdPPassword        string        `mapstructure:"idp_password"`
	ListenPort         int           `mapstructure:"listen_port" validate:"gte=0,lte=65535"`
	IdPResponseTimeout time.Duration `mapstructure:"idp_response_timeout"`

	// Federation target.
	PreferredRole string   `mapstructure:"preferred_role"`
	PrincipalARN  string   `mapstructure:"principal_arn"`
	ClusterID     string   `mapstructure:"cluster_id"`
	DBUser        string   `mapstructure:"db_user"`
	DBGroups      []string `mapstructure:"db_groups"`
	AutoCreate    bool     `mapstructure:"auto_create"`
	Region        string   `mapstructure:"region"`

	// Transport trust.
	SSLInsecure           bool   `mapstructure:"ssl_insecure"`
	SSLTrustStorePath     string `mapstructure:"ssl_truststore_path"`
	SSLTrustStorePassword string `mapstructure:"ssl_truststore_password"`
	SSLRootCert           string `mapstructure:"ssl_root_cert"`
	SSLCert               string `mapstructure:"ssl_cert"`
	SSLKey                string `mapstructure:"ssl_key"`
	SSLHostnameVerify     bool   `mapstructure:"ssl_hostname_verify"`

	// Caching.
	CacheCredentials bool `mapstructure:"cache_credentials"`

	// Kerberos.
	SPN       string `mapstructure:"spn"`
	Realm     string `mapstructure:"realm"`
	Krb5Conf  string `mapstructure:"krb5_conf"`
	CCache    string `mapstructure:"ccache"`
	Keytab    string `mapstructure:"keytab"`
	UseSPNEGO bool   `mapstructure:"spnego"`
}

// optionDefaults seeds every known key so environment variables resolve
// even without a configuration file.
var optionDefaults = map[string]any{
	"idp_tenant":              "",
	"client_id":               "",
	"client_secret":           "",
	"login_url":               "",
	"token_url":               "",
	"idp_host":                "",
	"idp_user":                "",
	"idp_password":            "",
	"listen_port":             0,
	"idp_response_timeout":    DefaultIdPResponseTimeout,
	"preferred_role":          "",
	"principal_arn":           "",
	"cluster_id":              "",
	"db_user":                 "",
	"db_groups":               []string{},
	"auto_create":             false,
	"region":                  "",
	"ssl_insecure":            false,
	"ssl_truststore_path":     "",
	"ssl_truststore_password": "",
	"ssl_root_cert":           "",
	"ssl_cert":                "",
	"ssl_key":                 "",
	"ssl_hostname_verify":     true,
	"cache_credentials":       true,
	"spn":                     "",
	"realm":                   "",
	"krb5_conf":               "",
	"ccache":                  "",
	"keytab":                  "",
	"spnego":                  false,
}

// Load resolves Options. path may be empty; overrides are applied last and
// win over both file and environment.
func Load(path string, overrides map[string]any) (*Options, error) {
	const op = "config.Load"

	v := viper.New()
	for key, def := range optionDefaults {
		v.SetDefault(key, def)
	}
	v.SetEnvPrefix("NIMBUS")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, autherr.Configuration(op, "reading %s: %v", path, err)
		}
		logger.Debug("configuration file loaded", logger.KeyPath, path)
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	var opts Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, autherr.Configuration(op, "building decoder: %v", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, autherr.Configuration(op, "decoding options: %v", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// Validate checks structural constraints plus the cross-field rules the
// tags cannot express.
func (o *Options) Validate() error {
	const op = "config.Validate"

	if err := validator.New().Struct(o); err != nil {
		return autherr.Configuration(op, "invalid options: %v", err)
	}
	if o.IdPResponseTimeout != 0 && o.IdPResponseTimeout < MinIdPResponseTimeout {
		return autherr.Configuration(op,
			"idp_response_timeout %s is below the %s minimum", o.IdPResponseTimeout, MinIdPResponseTimeout)
	}
	if (o.SSLCert == "") != (o.SSLKey == "") {
		return autherr.Configuration(op, "ssl_cert and ssl_key must be set together")
	}
	return nil
}

// ResponseTimeout returns the effective IdP response timeout.
func (o *Options) ResponseTimeout() time.Duration {
	if o.IdPResponseTimeout == 0 {
		return DefaultIdPResponseTimeout
	}
	return o.IdPResponseTimeout
}
