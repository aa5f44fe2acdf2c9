package logger

import (
	"log/slog"
	"strings"
)

// Standard field keys for structured logging. Use these consistently so
// embedding applications can query driver logs by key.
const (
	KeyProvider  = "provider"   // credential provider name: static, browser_saml, iam, ...
	KeyCacheKey  = "cache_key"  // credential cache key
	KeyCacheHit  = "cache_hit"  // cache hit indicator
	KeyExpiry    = "expiry"     // credential expiry instant
	KeyOrigin    = "origin"     // record origin: fresh, cached
	KeyHost      = "host"       // connection or IdP host
	KeyPort      = "port"       // listener or connection port
	KeyPath      = "path"       // file path (truststore, root cert, ccache)
	KeyMechanism = "mechanism"  // GSS mechanism: krb5, spnego
	KeyPrincipal = "principal"  // Kerberos principal
	KeySPN       = "spn"        // target service principal name
	KeyRoundTrip = "round_trip" // GSS negotiation round trip counter
	KeyDuration  = "duration"   // operation duration
	KeyError     = "error"      // error message
)

// Err returns a slog.Attr for an error. Nil errors produce an empty attr,
// which the text handler drops.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Provider returns a slog.Attr for a credential provider name.
func Provider(name string) slog.Attr {
	return slog.String(KeyProvider, name)
}

// Redact masks a secret for logging. The first two characters survive so
// operators can tell which of several secrets was in play; everything else
// is replaced. Empty input stays empty.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + strings.Repeat("*", len(secret)-2)
}
