package credentials

import (
	"context"
	"net/url"
	"time"

	"github.com/cli/browser"

	"github.com/nimbusdw/nimbus-go/internal/callback"
	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// BrowserSAML obtains a SAML assertion by sending the user's browser to the
// IdP login page and collecting the POST the IdP makes back to a loopback
// listener.
type BrowserSAML struct {
	res *Fetcher
	loginURL   string
	listenPort int
	timeout    time.Duration

	// openBrowser launches the system browser. Replaced in tests.
	openBrowser func(rawURL string) error
}

// BrowserSAMLConfig names the IdP and the listener shape.
type BrowserSAMLConfig struct {
	// LoginURL is the IdP page that starts the flow.
	LoginURL string

	// ListenPort fixes the loopback port; 0 picks an ephemeral one.
	ListenPort int

	// Timeout bounds the wait for the IdP redirect. Subject to the
	// listener's 10-second floor.
	Timeout time.Duration

	// Cache may be nil to keep records instance-local.
	Cache *Cache
}

func NewBrowserSAML(cfg BrowserSAMLConfig) *BrowserSAML {
	p := &BrowserSAML{
		loginURL:    cfg.LoginURL,
		listenPort:  cfg.ListenPort,
		timeout:     cfg.Timeout,
		openBrowser: browser.OpenURL,
	}
	p.res = NewFetcher("browser-saml", browserSAMLKey(cfg.LoginURL), cfg.Cache)
	return p
}

func browserSAMLKey(loginURL string) string {
	if loginURL == "" {
		return ""
	}
	return "saml:" + loginURL
}

func (p *BrowserSAML) Name() string { return "browser-saml" }

func (p *BrowserSAML) CacheKey() string { return p.res.Key() }

func (p *BrowserSAML) SetParameter(key, value string) error {
	const op = "credentials.browser-saml"
	switch key {
	case ParamLoginURL:
		p.loginURL = value
		p.res.SetKey(browserSAMLKey(value))
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

func (p *BrowserSAML) GetCredentials(ctx context.Context) (CredentialRecord, error) {
	return p.res.Get(ctx, p.fetch)
}

func (p *BrowserSAML) Refresh(ctx context.Context) (CredentialRecord, error) {
	return p.res.Refresh(ctx, p.fetch)
}

func (p *BrowserSAML) fetch(ctx context.Context) (CredentialRecord, error) {
	const op = "credentials.browser-saml"

	if p.loginURL == "" {
		return CredentialRecord{}, autherr.Configuration(op, "no login_url configured")
	}

	res, err := runBrowserFlow(ctx, browserFlow{
		op:         op,
		baseURL:    p.loginURL,
		port:       p.listenPort,
		timeout:    p.timeout,
		open:       p.openBrowser,
		paramState: "RelayState",
	})
	if err != nil {
		return CredentialRecord{}, err
	}

	return CredentialRecord{
		Material: res.value,
		Expiry:   time.Now().Add(DefaultTTL),
		Origin:   OriginBrowserSAML,
	}, nil
}

// browserFlow is the part of the redirect dance shared between the SAML and
// OAuth providers: mint a state, stand up the single-use listener, launch
// the browser at the flow URL, and wait for the value the IdP posts back.
type browserFlow struct {
	op      string
	baseURL string
	port    int
	timeout time.Duration
	open    func(string) error

	// paramState is the query parameter the IdP echoes the state in on the
	// way out ("RelayState" for SAML, "state" for OAuth).
	paramState string

	// extraParams is appended to the launch URL.
	extraParams url.Values
}

// flowResult is what the redirect dance yields: the value the IdP posted
// back plus the redirect URI it was posted to, which token exchanges must
// repeat verbatim.
type flowResult struct {
	value       string
	redirectURI string
}

func runBrowserFlow(ctx context.Context, flow browserFlow) (flowResult, error) {
	state := newAuthorizationState()

	srv, err := callback.New(callback.Config{
		Port:    flow.port,
		Timeout: flow.timeout,
		State:   state,
	})
	if err != nil {
		return flowResult{}, err
	}
	if _, err := srv.Listen(); err != nil {
		return flowResult{}, err
	}
	defer srv.Stop()
	redirectURI := srv.RedirectURI()

	launchURL, err := buildLaunchURL(flow, redirectURI, state)
	if err != nil {
		return flowResult{}, autherr.Configuration(flow.op, "invalid login URL %q: %v", flow.baseURL, err)
	}

	logger.Debug("launching browser for identity flow", logger.KeyProvider, flow.op)
	if err := flow.open(launchURL); err != nil {
		return flowResult{}, autherr.Wrapf(autherr.ErrConfiguration, flow.op, err, "opening browser")
	}

	// Abandon the wait when the caller gives up.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			srv.Stop()
		case <-watchDone:
		}
	}()

	value, err := srv.WaitForResult()
	if err != nil {
		if ctx.Err() != nil {
			return flowResult{}, autherr.Wrapf(autherr.ErrTimeout, flow.op, ctx.Err(), "identity flow canceled")
		}
		return flowResult{}, err
	}
	return flowResult{value: value, redirectURI: redirectURI}, nil
}

func buildLaunchURL(flow browserFlow, redirectURI, state string) (string, error) {
	u, err := url.Parse(flow.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("redirect_uri", redirectURI)
	q.Set(flow.paramState, state)
	for k, vs := range flow.extraParams {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
