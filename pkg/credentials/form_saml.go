package credentials

import (
	"context"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// samlResponsePattern finds the assertion the IdP embeds as a hidden form
// field in its reply page. Attribute order varies between IdPs, so both
// name-first and value-first shapes are matched.
var samlResponsePattern = regexp.MustCompile(
	`(?is)<input[^>]*name="SAMLResponse"[^>]*value="([^"]*)"|<input[^>]*value="([^"]*)"[^>]*name="SAMLResponse"`)

// FormSAML obtains a SAML assertion without a browser: the user's IdP
// credentials are posted straight to the login form and the assertion is
// scraped out of the HTML reply.
type FormSAML struct {
	res *Fetcher
	loginURL string
	username string
	password string
	timeout  time.Duration

	// secret supplies the password when configuration carries none.
	secret SecretFunc

	httpClient *http.Client
}

// FormSAMLConfig names the IdP form and the identity posted to it.
type FormSAMLConfig struct {
	// LoginURL is the IdP form endpoint.
	LoginURL string

	// Username and Password authenticate against the IdP. An empty
	// password falls back to Secret.
	Username string
	Password string

	// Secret is consulted when Password is empty. Nil means fail instead
	// of prompting.
	Secret SecretFunc

	// Timeout bounds the IdP request.
	Timeout time.Duration

	// Cache may be nil to keep records instance-local.
	Cache *Cache
}

func NewFormSAML(cfg FormSAMLConfig) *FormSAML {
	p := &FormSAML{
		loginURL:   cfg.LoginURL,
		username:   cfg.Username,
		password:   cfg.Password,
		secret:     cfg.Secret,
		timeout:    cfg.Timeout,
		httpClient: newIdPClient(cfg.Timeout),
	}
	p.res = NewFetcher("form-saml", formSAMLKey(cfg.LoginURL, cfg.Username), cfg.Cache)
	return p
}

func formSAMLKey(loginURL, username string) string {
	if loginURL == "" || username == "" {
		return ""
	}
	return "form-saml:" + loginURL + "|" + username
}

func (p *FormSAML) Name() string { return "form-saml" }

func (p *FormSAML) CacheKey() string { return p.res.Key() }

func (p *FormSAML) SetParameter(key, value string) error {
	const op = "credentials.form-saml"
	switch key {
	case ParamLoginURL, ParamIdPHost:
		p.loginURL = value
		p.res.SetKey(formSAMLKey(value, p.username))
	case ParamIdPUser:
		p.username = value
		p.res.SetKey(formSAMLKey(p.loginURL, value))
	case ParamIdPPassword:
		p.password = value
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

func (p *FormSAML) GetCredentials(ctx context.Context) (CredentialRecord, error) {
	return p.res.Get(ctx, p.fetch)
}

func (p *FormSAML) Refresh(ctx context.Context) (CredentialRecord, error) {
	return p.res.Refresh(ctx, p.fetch)
}

func (p *FormSAML) fetch(ctx context.Context) (CredentialRecord, error) {
	const op = "credentials.form-saml"

	if p.loginURL == "" {
		return CredentialRecord{}, autherr.Configuration(op, "no IdP login URL configured")
	}
	if p.username == "" {
		return CredentialRecord{}, autherr.Configuration(op, "no IdP username configured")
	}
	password := p.password
	if password == "" {
		if p.secret == nil {
			return CredentialRecord{}, autherr.Configuration(op, "no IdP password configured")
		}
		var err error
		password, err = p.secret("IdP password for " + p.username)
		if err != nil {
			return CredentialRecord{}, autherr.Configuration(op, "reading IdP password: %v", err)
		}
	}

	form := url.Values{
		"username": {p.username},
		"password": {password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.loginURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return CredentialRecord{}, autherr.Configuration(op, "invalid IdP login URL %q: %v", p.loginURL, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	logger.Debug("posting credentials to IdP form",
		logger.KeyProvider, "form-saml", "user", logger.Redact(p.username))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return CredentialRecord{}, autherr.Wrapf(autherr.ErrNetwork, op, err, "IdP request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return CredentialRecord{}, autherr.Wrapf(autherr.ErrNetwork, op, err, "reading IdP response")
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return CredentialRecord{}, autherr.Denied(op, "IdP rejected credentials for %s: %s", p.username, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return CredentialRecord{}, autherr.Protocol(op, "IdP returned %s", resp.Status)
	}

	assertion, err := extractSAMLResponse(body)
	if err != nil {
		return CredentialRecord{}, err
	}

	return CredentialRecord{
		Material: assertion,
		Expiry:   time.Now().Add(DefaultTTL),
		Origin:   OriginFormSAML,
	}, nil
}

// extractSAMLResponse pulls the assertion out of the IdP's HTML reply and
// undoes the entity escaping the hidden field carries.
func extractSAMLResponse(page []byte) (string, error) {
	m := samlResponsePattern.FindSubmatch(page)
	if m == nil {
		return "", autherr.Protocol("credentials.form-saml",
			"IdP response carried no SAMLResponse field")
	}
	value := m[1]
	if len(value) == 0 {
		value = m[2]
	}
	if len(value) == 0 {
		return "", autherr.Protocol("credentials.form-saml",
			"IdP response carried an empty SAMLResponse field")
	}
	return html.UnescapeString(string(value)), nil
}
