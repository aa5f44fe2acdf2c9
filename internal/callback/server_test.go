package callback

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

func TestTimeoutFloorEnforcedBeforeListen(t *testing.T) {
	_, err := New(Config{Timeout: 5 * time.Second, State: "s1"})
	if !errors.Is(err, autherr.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestEmptyStateRejected(t *testing.T) {
	_, err := New(Config{Timeout: MinTimeout})
	if !errors.Is(err, autherr.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

// startServer builds a listening server. A short timeout is injected
// directly for tests that exercise expiry; New enforces the floor for real
// callers.
func startServer(t *testing.T, state string, timeout time.Duration) (*Server, int) {
	t.Helper()
	srv := &Server{
		cfg:  Config{Timeout: timeout, State: state},
		done: make(chan struct{}),
	}
	port, err := srv.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return srv, port
}

func TestAuthorizationCodeRedirect(t *testing.T) {
	srv, port := startServer(t, "s1", MinTimeout)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s?code=ABC123&state=s1", port, Path))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "Sign-in complete") {
		t.Errorf("browser did not get the success page: %q", body)
	}

	value, err := srv.WaitForResult()
	if err != nil {
		t.Fatalf("WaitForResult: %v", err)
	}
	if value != "ABC123" {
		t.Errorf("value = %q, want ABC123", value)
	}
	if !srv.HasValidResult() {
		t.Error("HasValidResult = false after valid redirect")
	}
}

func TestSAMLPostback(t *testing.T) {
	srv, port := startServer(t, "s2", MinTimeout)

	form := url.Values{"SAMLResponse": {"PHNhbWw+"}, "state": {"s2"}}
	resp, err := http.Post(
		fmt.Sprintf("http://127.0.0.1:%d%s", port, Path),
		"application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	value, err := srv.WaitForResult()
	if err != nil {
		t.Fatalf("WaitForResult: %v", err)
	}
	if value != "PHNhbWw+" {
		t.Errorf("value = %q", value)
	}
}

func TestStateMismatchNeverProducesResult(t *testing.T) {
	srv, port := startServer(t, "s1", MinTimeout)

	// Well-formed code, wrong state.
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s?code=ABC123&state=wrong", port, Path))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	_, err = srv.WaitForResult()
	if !errors.Is(err, autherr.ErrAuthorizationDenied) {
		t.Fatalf("err = %v, want ErrAuthorizationDenied", err)
	}
	// Both states in the message for diagnostics.
	for _, want := range []string{"s1", "wrong"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing state %q", err, want)
		}
	}
	if srv.HasValidResult() {
		t.Error("HasValidResult = true for a state mismatch")
	}
}

func TestMissingValueRejected(t *testing.T) {
	srv, port := startServer(t, "s1", MinTimeout)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s?state=s1", port, Path))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	_, err = srv.WaitForResult()
	if !errors.Is(err, autherr.ErrAuthorizationDenied) {
		t.Errorf("err = %v, want ErrAuthorizationDenied", err)
	}
	if srv.HasValidResult() {
		t.Error("HasValidResult = true without a code or assertion")
	}
}

func TestWrongPathRejected(t *testing.T) {
	srv, port := startServer(t, "s1", MinTimeout)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/favicon.ico", port))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	_, err = srv.WaitForResult()
	if !errors.Is(err, autherr.ErrProtocol) {
		t.Errorf("err = %v, want ErrProtocol", err)
	}
}

func TestTimeoutReturnsAndClosesSocket(t *testing.T) {
	srv, port := startServer(t, "s1", 200*time.Millisecond)

	start := time.Now()
	_, err := srv.WaitForResult()
	if !errors.Is(err, autherr.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("WaitForResult hung for %s", elapsed)
	}

	// Listener must be gone.
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err == nil {
		conn.Close()
		t.Error("listening socket still open after timeout")
	}
}

func TestStopInterruptsWorker(t *testing.T) {
	srv, _ := startServer(t, "s1", MinTimeout)

	done := make(chan error, 1)
	go func() {
		_, err := srv.WaitForResult()
		done <- err
	}()

	srv.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, autherr.ErrTimeout) {
			t.Errorf("err = %v, want ErrTimeout (abandoned flow)", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForResult did not return after Stop")
	}

	// Second Stop is harmless.
	srv.Stop()
}

func TestSingleAccept(t *testing.T) {
	srv, port := startServer(t, "s1", MinTimeout)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s?code=first&state=s1", port, Path))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if _, err := srv.WaitForResult(); err != nil {
		t.Fatalf("WaitForResult: %v", err)
	}

	// A retry (double-clicked login button) finds the listener gone.
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err == nil {
		conn.Close()
		t.Error("second connection accepted; server must be single-use")
	}
}
