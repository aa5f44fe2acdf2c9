package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// Static serves a token supplied directly in configuration. The token gets
// the default lifetime so a long-running process re-reads it periodically
// rather than holding one copy forever.
type Static struct {
	res *Fetcher
	token string
}

// NewStatic builds a provider around token. cache may be nil to keep the
// record instance-local.
func NewStatic(token string, cache *Cache) *Static {
	s := &Static{token: token}
	s.res = NewFetcher("static", staticCacheKey(token), cache)
	return s
}

func staticCacheKey(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return "static:" + hex.EncodeToString(sum[:8])
}

func (s *Static) Name() string { return "static" }

func (s *Static) CacheKey() string { return s.res.Key() }

func (s *Static) SetParameter(key, value string) error {
	switch key {
	case ParamToken:
		s.token = value
		s.res.SetKey(staticCacheKey(value))
		return nil
	default:
		return autherr.Configuration("credentials.static", "unknown parameter %q", key)
	}
}

func (s *Static) GetCredentials(ctx context.Context) (CredentialRecord, error) {
	return s.res.Get(ctx, s.fetch)
}

func (s *Static) Refresh(ctx context.Context) (CredentialRecord, error) {
	return s.res.Refresh(ctx, s.fetch)
}

func (s *Static) fetch(context.Context) (CredentialRecord, error) {
	if s.token == "" {
		return CredentialRecord{}, autherr.Configuration("credentials.static", "no token configured")
	}
	return CredentialRecord{
		Material: s.token,
		Expiry:   time.Now().Add(DefaultTTL),
		Origin:   OriginStatic,
	}, nil
}
