package credentials

import (
	"context"
	"strconv"

	"github.com/nimbusdw/nimbus-go/pkg/autherr"
	"github.com/nimbusdw/nimbus-go/pkg/gss"
)

// Kerberos does not produce material of its own: authentication happens
// in-band during the connection handshake. GetCredentials returns a marker
// record so callers can treat every provider uniformly, and Negotiator
// hands the connection the security context to run the handshake with.
// Nothing here is ever cached; Kerberos freshness lives in the ticket
// cache, not ours.
type Kerberos struct {
	cfg gss.Config
}

// NewKerberos builds a provider around the mechanism configuration. The
// configuration is validated lazily, when a negotiator is built.
func NewKerberos(cfg gss.Config) *Kerberos {
	return &Kerberos{cfg: cfg}
}

func (k *Kerberos) Name() string { return "kerberos" }

// CacheKey is empty: kerberos records must never enter the shared cache.
func (k *Kerberos) CacheKey() string { return "" }

func (k *Kerberos) SetParameter(key, value string) error {
	const op = "credentials.kerberos"
	switch key {
	case "spn":
		k.cfg.SPN = value
	case "realm":
		k.cfg.Realm = value
	case ParamIdPUser:
		k.cfg.Username = value
	case ParamIdPPassword:
		k.cfg.Password = value
	case "krb5_conf":
		k.cfg.Krb5ConfPath = value
	case "ccache":
		k.cfg.CCachePath = value
	case "keytab":
		k.cfg.KeytabPath = value
	case "spnego":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return autherr.Configuration(op, "invalid spnego value %q: %v", value, err)
		}
		k.cfg.PreferSPNEGO = on
	default:
		return autherr.Configuration(op, "unknown parameter %q", key)
	}
	return nil
}

// GetCredentials returns the marker record naming the mechanism. The
// record has no expiry and IsExpired always reports it stale, which is
// correct: it must never be reused across connection attempts.
func (k *Kerberos) GetCredentials(context.Context) (CredentialRecord, error) {
	mechanism := "krb5"
	if k.cfg.PreferSPNEGO {
		mechanism = "spnego"
	}
	return CredentialRecord{
		Origin: OriginKerberos,
		Metadata: map[string]string{
			"mechanism": mechanism,
			"spn":       k.cfg.SPN,
		},
	}, nil
}

func (k *Kerberos) Refresh(ctx context.Context) (CredentialRecord, error) {
	return k.GetCredentials(ctx)
}

// Negotiator builds a fresh security context for one connection attempt.
// The caller runs it against the connection's transport and lets it close
// the context.
func (k *Kerberos) Negotiator() (*gss.Negotiator, error) {
	mech, err := gss.NewMechanism(k.cfg)
	if err != nil {
		return nil, err
	}
	return gss.NewNegotiator(mech), nil
}
