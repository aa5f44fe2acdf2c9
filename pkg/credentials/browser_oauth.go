package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cli/browser"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// BrowserOAuth runs the authorization-code flow: the browser brings back a
// one-time code, which is exchanged at the token endpoint for an access
// token.
type BrowserOAuth struct {
	res *Fetcher
	authorizeURL string
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	listenPort   int
	timeout      time.Duration

	openBrowser func(rawURL string) error
	httpClient  *http.Client
}

// BrowserOAuthConfig names the authorization server endpoints and client.
type BrowserOAuthConfig struct {
	// AuthorizeURL is the authorization endpoint the browser is sent to.
	AuthorizeURL string

	// TokenURL is the token endpoint the code is exchanged at.
	TokenURL string

	// ClientID identifies this client to the authorization server.
	ClientID string

	// ClientSecret is optional; public clients leave it empty.
	ClientSecret string

	// Scope is the requested scope string, space separated.
	Scope string

	// ListenPort fixes the loopback port; 0 picks an ephemeral one.
	ListenPort int

	// Timeout bounds both the redirect wait and the token exchange.
	Timeout time.Duration

	// Cache may be nil to keep records instance-local.
	Cache *Cache
}

func NewBrowserOAuth(cfg BrowserOAuthConfig) *BrowserOAuth {
	p := &BrowserOAuth{
		authorizeURL: cfg.AuthorizeURL,
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scope:        cfg.Scope,
		listenPort:   cfg.ListenPort,
		timeout:      cfg.Timeout,
		openBrowser:  browser.OpenURL,
		httpClient:   newIdPClient(cfg.Timeout),
	}
	p.res = NewFetcher("browser-oauth", oauthKey(cfg.AuthorizeURL, cfg.ClientID), cfg.Cache)
	return p
}

func oauthKey(authorizeURL, clientID string) string {
	if authorizeURL == "" || clientID == "" {
		return ""
	}
	return "oauth:" + authorizeURL + "|" + clientID
}

func (p *BrowserOAuth) Name() string { return "browser-oauth" }

func (p *BrowserOAuth) CacheKey() string { return p.res.Key() }

func (p *BrowserOAuth) SetParameter(key, value string) error {
	const op = "credentials.browser-oauth"
	switch key {
	case ParamLoginURL:
		p.authorizeURL = value
		p.res.SetKey(oauthKey(value, p.clientID))
	case ParamTokenURL:
		p.tokenURL = value
	case ParamClientID:
		p.clientID = value
		p.res.SetKey(oauthKey(p.authorizeURL, value))
	case ParamListenPort:
		port, err := parsePort(value)
		if err != nil {
			return autherr.Configuration(op, "invalid listen_port %q: %v", value, err)
		}
		p.listenPort = port
	case ParamIdPTimeout:
		d, err := time.ParseDuration(value)
		if err != nil {
			return autherr.Configuration(op, "invalid idp_response_timeout %q: %v", value, err)
		}
		p.timeout = d
	default:
		return autherr.Configuration(op, "unknown parameter %q", key)
	}
	return nil
}

func (p *BrowserOAuth) GetCredentials(ctx context.Context) (CredentialRecord, error) {
	return p.res.Get(ctx, p.fetch)
}

func (p *BrowserOAuth) Refresh(ctx context.Context) (CredentialRecord, error) {
	return p.res.Refresh(ctx, p.fetch)
}

func (p *BrowserOAuth) fetch(ctx context.Context) (CredentialRecord, error) {
	const op = "credentials.browser-oauth"

	switch {
	case p.authorizeURL == "":
		return CredentialRecord{}, autherr.Configuration(op, "no authorization endpoint configured")
	case p.tokenURL == "":
		return CredentialRecord{}, autherr.Configuration(op, "no token endpoint configured")
	case p.clientID == "":
		return CredentialRecord{}, autherr.Configuration(op, "no client_id configured")
	}

	extra := url.Values{
		"response_type": {"code"},
		"client_id":     {p.clientID},
	}
	if p.scope != "" {
		extra.Set("scope", p.scope)
	}
	res, err := runBrowserFlow(ctx, browserFlow{
		op:          op,
		baseURL:     p.authorizeURL,
		port:        p.listenPort,
		timeout:     p.timeout,
		open:        p.openBrowser,
		paramState:  "state",
		extraParams: extra,
	})
	if err != nil {
		return CredentialRecord{}, err
	}

	return p.exchangeCode(ctx, res.value, res.redirectURI)
}

// tokenResponse is the token endpoint's JSON reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *BrowserOAuth) exchangeCode(ctx context.Context, code, redirectURI string) (CredentialRecord, error) {
	const op = "credentials.browser-oauth"

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {p.clientID},
		"redirect_uri": {redirectURI},
	}
	if p.clientSecret != "" {
		form.Set("client_secret", p.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return CredentialRecord{}, autherr.Configuration(op, "invalid token endpoint %q: %v", p.tokenURL, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return CredentialRecord{}, autherr.Wrapf(autherr.ErrNetwork, op, err, "token endpoint request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CredentialRecord{}, autherr.Wrapf(autherr.ErrNetwork, op, err, "reading token response")
	}
	if resp.StatusCode != http.StatusOK {
		return CredentialRecord{}, autherr.Denied(op,
			"token endpoint returned %s: %s", resp.Status, summarize(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return CredentialRecord{}, autherr.Protocol(op, "decoding token response: %v", err)
	}
	if tok.AccessToken == "" {
		return CredentialRecord{}, autherr.Protocol(op, "token response carried no access token")
	}

	now := time.Now()
	expiry := tokenExpiry(tok, now)
	logger.Debug("access token obtained",
		logger.KeyProvider, "browser-oauth", logger.KeyExpiry, expiry)

	return CredentialRecord{
		Material: tok.AccessToken,
		Expiry:   expiry,
		Origin:   OriginBrowserOAuth,
	}, nil
}

// tokenExpiry resolves the record lifetime: the endpoint's expires_in wins,
// then the token's own exp claim if it happens to be a JWT, then the
// default. The claim is read without signature verification; the lifetime
// hint needs no trust decision.
func tokenExpiry(tok tokenResponse, now time.Time) time.Time {
	if tok.ExpiresIn > 0 {
		return now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(tok.AccessToken, &claims); err == nil {
		if claims.ExpiresAt != nil && claims.ExpiresAt.After(now) {
			return claims.ExpiresAt.Time
		}
	}
	return now.Add(DefaultTTL)
}

// summarize trims an error body for inclusion in a message.
func summarize(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "(empty body)"
	}
	return fmt.Sprintf("%q", s)
}
