// Package credentials resolves short-lived authentication material for
// warehouse connections.
//
// A Provider obtains a CredentialRecord via its identity flow - static
// configuration, a browser round trip, a direct IdP form post, or a
// federated IAM exchange - and the surrounding Fetcher layer adds caching
// and single-flight refresh so that concurrent connection attempts share
// one fetch. Kerberos stands apart: it never produces cacheable material
// and instead hands the connection a live negotiator (see pkg/gss).
package credentials

import (
	"time"
)

// SafetyMargin is subtracted from a record's remaining lifetime when
// deciding staleness, so material never expires mid-handshake.
const SafetyMargin = time.Minute

// DefaultTTL applies when the issuing flow reports no expiry of its own.
const DefaultTTL = 15 * time.Minute

// Origin names the flow that produced a record.
type Origin string

const (
	OriginStatic       Origin = "static"
	OriginBrowserSAML  Origin = "browser-saml"
	OriginBrowserOAuth Origin = "browser-oauth"
	OriginFormSAML     Origin = "form-saml"
	OriginFederated    Origin = "federated-iam"
	OriginKerberos     Origin = "kerberos"
)

// CredentialRecord is one unit of authentication material plus its
// lifetime. Records are values; once issued they are never mutated.
type CredentialRecord struct {
	// Material is the secret itself: a token, a SAML assertion, or a
	// database password depending on Origin.
	Material string

	// Expiry is the instant the material stops being valid. The zero time
	// means the lifetime is unknown, which IsExpired treats as expired.
	Expiry time.Time

	// Metadata carries flow-specific extras (database user, mechanism
	// name) that travel with the material.
	Metadata map[string]string

	// Origin names the producing flow.
	Origin Origin
}

// IsExpired reports whether the record is unusable at now, applying the
// safety margin. Unknown expiry counts as expired so a questionable record
// is refreshed rather than trusted.
func (r CredentialRecord) IsExpired(now time.Time) bool {
	if r.Expiry.IsZero() {
		return true
	}
	return !now.Add(SafetyMargin).Before(r.Expiry)
}
