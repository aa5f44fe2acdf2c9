package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// fakeBrowser plays the IdP's part: instead of rendering the launch URL it
// immediately delivers a canned response to the flow's redirect URI.
func fakeBrowser(t *testing.T, respond func(redirectURI, state string) error) func(string) error {
	t.Helper()
	return func(launchURL string) error {
		u, err := url.Parse(launchURL)
		if err != nil {
			t.Errorf("launch URL %q does not parse: %v", launchURL, err)
			return err
		}
		q := u.Query()
		redirectURI := q.Get("redirect_uri")
		state := q.Get("state")
		if state == "" {
			state = q.Get("RelayState")
		}
		if redirectURI == "" || state == "" {
			t.Errorf("launch URL %q missing redirect_uri or state", launchURL)
		}
		// The listener only accepts once the flow is waiting; deliver from
		// a separate goroutine like a real browser would.
		go func() {
			if err := respond(redirectURI, state); err != nil {
				t.Errorf("delivering callback: %v", err)
			}
		}()
		return nil
	}
}

func TestBrowserSAMLEndToEnd(t *testing.T) {
	p := NewBrowserSAML(BrowserSAMLConfig{
		LoginURL: "https://idp.example.com/saml/login",
		Timeout:  10 * time.Second,
	})
	p.openBrowser = fakeBrowser(t, func(redirectURI, state string) error {
		form := url.Values{
			"SAMLResponse": {"PHNhbWw+YXNzZXJ0aW9uPC9zYW1sPg=="},
			"RelayState":   {state},
		}
		resp, err := http.PostForm(redirectURI, form)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("callback status = %s, want 200", resp.Status)
		}
		return nil
	})

	rec, err := p.GetCredentials(context.Background())
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if rec.Material != "PHNhbWw+YXNzZXJ0aW9uPC9zYW1sPg==" {
		t.Errorf("material = %q", rec.Material)
	}
	if rec.Origin != OriginBrowserSAML {
		t.Errorf("origin = %q", rec.Origin)
	}
	if rec.IsExpired(time.Now()) {
		t.Error("fresh assertion reported expired")
	}
}

func TestBrowserSAMLRequiresLoginURL(t *testing.T) {
	p := NewBrowserSAML(BrowserSAMLConfig{Timeout: 10 * time.Second})
	if _, err := p.GetCredentials(context.Background()); !errors.Is(err, autherr.ErrConfiguration) {
		t.Fatalf("error = %v, want configuration error", err)
	}
}

func TestBrowserSAMLCanceledContext(t *testing.T) {
	p := NewBrowserSAML(BrowserSAMLConfig{
		LoginURL: "https://idp.example.com/saml/login",
		Timeout:  10 * time.Second,
	})
	// Browser opens but the user never completes the flow.
	p.openBrowser = func(string) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := p.GetCredentials(ctx)
	if !errors.Is(err, autherr.ErrTimeout) {
		t.Fatalf("error = %v, want timeout", err)
	}
}

func TestBrowserOAuthEndToEnd(t *testing.T) {
	const code = "AUTHCODE-42"

	var gotExchange url.Values
	tokenEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing exchange form: %v", err)
		}
		gotExchange = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "access-token-xyz",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	}))
	defer tokenEndpoint.Close()

	p := NewBrowserOAuth(BrowserOAuthConfig{
		AuthorizeURL: "https://idp.example.com/oauth/authorize",
		TokenURL:     tokenEndpoint.URL,
		ClientID:     "nimbus-client",
		Scope:        "openid warehouse",
		Timeout:      10 * time.Second,
	})
	p.openBrowser = fakeBrowser(t, func(redirectURI, state string) error {
		resp, err := http.Get(redirectURI + "?code=" + code + "&state=" + url.QueryEscape(state))
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	})

	rec, err := p.GetCredentials(context.Background())
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if rec.Material != "access-token-xyz" {
		t.Errorf("material = %q", rec.Material)
	}
	if rec.Origin != OriginBrowserOAuth {
		t.Errorf("origin = %q", rec.Origin)
	}
	remaining := time.Until(rec.Expiry)
	if remaining < 59*time.Minute || remaining > time.Hour {
		t.Errorf("expiry %v from now, want about an hour", remaining)
	}

	if gotExchange.Get("grant_type") != "authorization_code" {
		t.Errorf("grant_type = %q", gotExchange.Get("grant_type"))
	}
	if gotExchange.Get("code") != code {
		t.Errorf("exchanged code = %q, want %q", gotExchange.Get("code"), code)
	}
	if gotExchange.Get("client_id") != "nimbus-client" {
		t.Errorf("client_id = %q", gotExchange.Get("client_id"))
	}
	if !strings.HasPrefix(gotExchange.Get("redirect_uri"), "http://127.0.0.1:") {
		t.Errorf("redirect_uri = %q, want loopback", gotExchange.Get("redirect_uri"))
	}
}

func TestBrowserOAuthDeniedExchange(t *testing.T) {
	tokenEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer tokenEndpoint.Close()

	p := NewBrowserOAuth(BrowserOAuthConfig{
		AuthorizeURL: "https://idp.example.com/oauth/authorize",
		TokenURL:     tokenEndpoint.URL,
		ClientID:     "nimbus-client",
		Timeout:      10 * time.Second,
	})
	p.openBrowser = fakeBrowser(t, func(redirectURI, state string) error {
		resp, err := http.Get(redirectURI + "?code=bad&state=" + url.QueryEscape(state))
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	})

	_, err := p.GetCredentials(context.Background())
	if !errors.Is(err, autherr.ErrAuthorizationDenied) {
		t.Fatalf("error = %v, want authorization denied", err)
	}
	if !strings.Contains(err.Error(), "invalid_grant") {
		t.Errorf("error %q does not carry the endpoint body", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("expires_in wins", func(t *testing.T) {
		got := tokenExpiry(tokenResponse{AccessToken: "opaque", ExpiresIn: 300}, now)
		if want := now.Add(5 * time.Minute); !got.Equal(want) {
			t.Errorf("expiry = %v, want %v", got, want)
		}
	})

	t.Run("jwt exp fallback", func(t *testing.T) {
		exp := now.Add(42 * time.Minute)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		}).SignedString([]byte("test-key"))
		if err != nil {
			t.Fatalf("signing test token: %v", err)
		}
		got := tokenExpiry(tokenResponse{AccessToken: token}, now)
		if !got.Equal(exp.Truncate(time.Second)) {
			t.Errorf("expiry = %v, want %v", got, exp.Truncate(time.Second))
		}
	})

	t.Run("opaque token gets default", func(t *testing.T) {
		got := tokenExpiry(tokenResponse{AccessToken: "not-a-jwt"}, now)
		if want := now.Add(DefaultTTL); !got.Equal(want) {
			t.Errorf("expiry = %v, want %v", got, want)
		}
	})
}
