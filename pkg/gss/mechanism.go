package gss

import (
	"fmt"
	"os"
	"strings"

	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	krb5credentials "github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// DefaultKrb5ConfPath is used when no library configuration path is given.
const DefaultKrb5ConfPath = "/etc/krb5.conf"

// SecretFunc supplies a password interactively when none was configured.
type SecretFunc func(prompt string) (string, error)

// Config selects the mechanism and names the identities involved.
type Config struct {
	// SPN is the service principal of the server, "service/host" form.
	SPN string

	// Realm overrides the default realm from the library configuration.
	Realm string

	// Username is the client principal name (without realm).
	Username string

	// Password authenticates Username against the KDC. Ignored when a
	// credential cache or keytab is configured.
	Password string

	// Krb5ConfPath points at the Kerberos library configuration. Empty
	// means DefaultKrb5ConfPath.
	Krb5ConfPath string

	// CCachePath names an existing credential cache. When set, no login
	// happens; the cached tickets are used as-is.
	CCachePath string

	// KeytabPath names a keytab holding the client's long-term key.
	KeytabPath string

	// PreferSPNEGO wraps the exchange in SPNEGO framing instead of raw
	// Kerberos tokens.
	PreferSPNEGO bool

	// Secret is consulted for a password when Password is empty and no
	// ccache or keytab is available. Nil means fail instead of prompting.
	Secret SecretFunc
}

// NewMechanism builds the security context described by cfg. The returned
// mechanism holds a logged-in Kerberos client; callers own it until
// Negotiator.Negotiate closes it.
func NewMechanism(cfg Config) (Mechanism, error) {
	const op = "gss.NewMechanism"

	if cfg.SPN == "" {
		return nil, autherr.Configuration(op, "service principal name is required")
	}
	if !strings.Contains(cfg.SPN, "/") {
		return nil, autherr.Configuration(op, "malformed service principal %q: want service/host", cfg.SPN)
	}

	cl, err := newKerberosClient(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.PreferSPNEGO {
		// The Kerberos stack always advertises SPNEGO alongside krb5, so
		// the preference alone decides.
		logger.Debug("using SPNEGO mechanism", logger.KeySPN, cfg.SPN)
		return &spnegoMechanism{cl: cl, spn: cfg.SPN}, nil
	}
	logger.Debug("using Kerberos mechanism", logger.KeySPN, cfg.SPN)
	return &krb5Mechanism{cl: cl, spn: cfg.SPN}, nil
}

// newKerberosClient obtains an authenticated client, preferring an existing
// credential cache over a keytab over a password.
func newKerberosClient(cfg Config) (*krb5client.Client, error) {
	const op = "gss.NewMechanism"

	confPath := cfg.Krb5ConfPath
	if confPath == "" {
		confPath = DefaultKrb5ConfPath
	}
	conf, err := krb5config.Load(confPath)
	if err != nil {
		return nil, autherr.Configuration(op, "loading kerberos configuration %s: %v", confPath, err)
	}

	realm := cfg.Realm
	if realm == "" {
		realm = conf.LibDefaults.DefaultRealm
	}

	if cfg.CCachePath != "" {
		cc, err := krb5credentials.LoadCCache(cfg.CCachePath)
		if err != nil {
			return nil, autherr.Denied(op, "no credentials available: reading ccache %s: %v", cfg.CCachePath, err)
		}
		cl, err := krb5client.NewFromCCache(cc, conf, krb5client.DisablePAFXFAST(true))
		if err != nil {
			return nil, autherr.Denied(op, "no credentials available in ccache %s: %v", cfg.CCachePath, err)
		}
		logger.Debug("kerberos identity from credential cache",
			logger.KeyPrincipal, cl.Credentials.CName().PrincipalNameString())
		return cl, nil
	}

	if cfg.Username == "" {
		return nil, autherr.Configuration(op, "username is required without a credential cache")
	}

	if cfg.KeytabPath != "" {
		data, err := os.ReadFile(cfg.KeytabPath)
		if err != nil {
			return nil, autherr.Configuration(op, "reading keytab %s: %v", cfg.KeytabPath, err)
		}
		kt := keytab.New()
		if err := kt.Unmarshal(data); err != nil {
			return nil, autherr.Configuration(op, "parsing keytab %s: %v", cfg.KeytabPath, err)
		}
		cl := krb5client.NewWithKeytab(cfg.Username, realm, kt, conf, krb5client.DisablePAFXFAST(true))
		if err := cl.Login(); err != nil {
			return nil, autherr.Denied(op, "kerberos login for %s@%s failed: %v", cfg.Username, realm, err)
		}
		return cl, nil
	}

	password := cfg.Password
	if password == "" {
		if cfg.Secret == nil {
			return nil, autherr.Configuration(op, "no credentials available: password, keytab or ccache required")
		}
		password, err = cfg.Secret(fmt.Sprintf("Password for %s@%s", cfg.Username, realm))
		if err != nil {
			return nil, autherr.Configuration(op, "reading password: %v", err)
		}
	}

	cl := krb5client.NewWithPassword(cfg.Username, realm, password, conf, krb5client.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return nil, autherr.Denied(op, "kerberos login for %s@%s failed: %v", cfg.Username, realm, err)
	}
	return cl, nil
}
