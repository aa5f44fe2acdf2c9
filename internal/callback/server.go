// Package callback implements the single-use loopback HTTP listener that
// captures a browser redirect during an interactive login flow.
//
// The server accepts exactly one connection and then shuts down regardless
// of outcome. It understands two request shapes on the fixed callback path:
// a GET whose query string carries an OAuth authorization code, and a POST
// whose form body carries a SAML assertion. Either way the request must
// echo the AuthorizationState issued for this attempt; anything else is
// rejected and never becomes a usable result.
package callback

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/autherr"
	"github.com/nimbusdw/nimbus-go/pkg/metrics"
)

const (
	// Path is the fixed callback path embedded in redirect URIs.
	Path = "/nimbus/"

	// MinTimeout is the floor for the response timeout. Values below it
	// fail configuration before any socket is opened.
	MinTimeout = 10 * time.Second

	// maxRequestBody bounds the POST body we are willing to parse.
	// SAML assertions run to tens of KB; a megabyte is generous.
	maxRequestBody = 1 << 20
)

// Config controls one listener instance.
type Config struct {
	// Port to bind on the loopback interface. 0 selects an ephemeral port,
	// reported back by Listen.
	Port int

	// Timeout bounds the wait for the browser redirect. Must be at least
	// MinTimeout.
	Timeout time.Duration

	// State is the AuthorizationState the inbound request must echo.
	State string
}

// Server is a single-use callback listener.
//
// Lifecycle: New -> Listen -> WaitForResult, with Stop available to abandon
// the flow early. A Server is not reusable; each login attempt builds a
// fresh one.
type Server struct {
	cfg      Config
	listener net.Listener
	done     chan struct{}
	stopped  atomic.Bool

	mu    sync.Mutex
	value string
	err   error
	valid bool
}

// New validates cfg and returns an unstarted server. A timeout below
// MinTimeout is a configuration error; no socket has been opened yet.
func New(cfg Config) (*Server, error) {
	if cfg.Timeout < MinTimeout {
		return nil, autherr.Configuration("callback.new",
			"response timeout %s below minimum %s", cfg.Timeout, MinTimeout)
	}
	if cfg.State == "" {
		return nil, autherr.Configuration("callback.new", "authorization state is empty")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, autherr.Configuration("callback.new", "listen port %d out of range", cfg.Port)
	}
	return &Server{cfg: cfg, done: make(chan struct{})}, nil
}

// Listen binds the loopback listener and starts the accept worker.
// It returns the bound port so the caller can embed it in the redirect URI.
func (s *Server) Listen() (int, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		return 0, autherr.Wrapf(autherr.ErrNetwork, "callback.listen", err,
			"bind loopback port %d", s.cfg.Port)
	}
	s.listener = ln
	port := ln.Addr().(*net.TCPAddr).Port
	logger.Debug("callback listener bound", logger.KeyPort, port)

	go s.serveOne()
	return port, nil
}

// RedirectURI returns the redirect URI for the bound listener.
// Valid only after Listen.
func (s *Server) RedirectURI() string {
	port := s.listener.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, Path)
}

// WaitForResult blocks until the accept worker finishes - success, timeout,
// protocol error, or Stop - then returns the captured value or the error.
// Errors never hide a usable value: a rejected request yields only an error.
func (s *Server) WaitForResult() (string, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.value, nil
}

// HasValidResult reports whether a well-formed, state-matched result was
// captured. False both when nothing arrived and when a request was
// received but rejected.
func (s *Server) HasValidResult() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// Stop abandons the flow: it closes the listener, which forces the worker
// off its accept call, and waits for it to finish. Safe to call more than
// once and after normal completion.
func (s *Server) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	<-s.done
}

// serveOne is the accept worker: one bounded accept, one parsed request,
// one response, then shutdown. It communicates with the caller only through
// the stored result; no panic or error crosses the goroutine boundary.
func (s *Server) serveOne() {
	defer close(s.done)
	defer func() { _ = s.listener.Close() }()

	deadline := time.Now().Add(s.cfg.Timeout)
	if tcp, ok := s.listener.(*net.TCPListener); ok {
		_ = tcp.SetDeadline(deadline)
	}

	conn, err := s.listener.Accept()
	if err != nil {
		s.finish("", false, s.classifyAcceptError(err))
		return
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(deadline)

	value, err := s.handle(conn)
	if err != nil {
		s.finish("", false, err)
		return
	}
	s.finish(value, true, nil)
}

func (s *Server) classifyAcceptError(err error) error {
	if s.stopped.Load() {
		return autherr.New(autherr.ErrTimeout, "callback.accept", "flow abandoned by caller")
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return autherr.Timeout("callback.accept",
			"no browser response within %s", s.cfg.Timeout)
	}
	return autherr.Wrap(autherr.ErrNetwork, "callback.accept", err)
}

// handle parses the single request and extracts the state-matched value.
// It always answers the browser with one of the two fixed pages, whatever
// the server-side outcome.
func (s *Server) handle(conn net.Conn) (string, error) {
	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		writePage(conn, http.StatusBadRequest, invalidPage)
		return "", autherr.Wrap(autherr.ErrProtocol, "callback.request", err)
	}

	params, err := s.extractParams(req)
	if err != nil {
		writePage(conn, http.StatusBadRequest, invalidPage)
		return "", err
	}

	// CSRF defense: the echoed state must equal the one issued for this
	// attempt. A mismatch never yields a usable value, even if the rest of
	// the request is well formed. OAuth echoes it as "state", SAML as
	// "RelayState".
	got := params.Get("state")
	if got == "" {
		got = params.Get("RelayState")
	}
	if got != s.cfg.State {
		writePage(conn, http.StatusBadRequest, invalidPage)
		return "", autherr.Denied("callback.state",
			"state mismatch: issued %q, received %q", s.cfg.State, got)
	}

	value := params.Get("code")
	if value == "" {
		value = params.Get("SAMLResponse")
	}
	if value == "" {
		writePage(conn, http.StatusBadRequest, invalidPage)
		return "", autherr.Denied("callback.request",
			"redirect carried neither an authorization code nor an assertion")
	}

	writePage(conn, http.StatusOK, successPage)
	return value, nil
}

// extractParams pulls the parameter set out of either accepted shape.
func (s *Server) extractParams(req *http.Request) (url.Values, error) {
	if !strings.HasPrefix(req.URL.Path, Path) {
		return nil, autherr.Protocol("callback.request",
			"unexpected request path %q", req.URL.Path)
	}

	switch req.Method {
	case http.MethodGet:
		return req.URL.Query(), nil

	case http.MethodPost:
		ct := req.Header.Get("Content-Type")
		if mediaType(ct) != "application/x-www-form-urlencoded" {
			return nil, autherr.Protocol("callback.request",
				"unexpected content type %q", ct)
		}
		body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody))
		if err != nil {
			return nil, autherr.Wrap(autherr.ErrProtocol, "callback.request", err)
		}
		params, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, autherr.Wrap(autherr.ErrProtocol, "callback.request", err)
		}
		return params, nil

	default:
		return nil, autherr.Protocol("callback.request",
			"unexpected method %s", req.Method)
	}
}

func mediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

func (s *Server) finish(value string, valid bool, err error) {
	s.mu.Lock()
	s.value = value
	s.valid = valid
	s.err = err
	s.mu.Unlock()
	switch {
	case err == nil:
		metrics.ObserveCallback("ok")
		logger.Debug("callback finished", logger.KeyPort, s.listener.Addr().(*net.TCPAddr).Port)
	case errors.Is(err, autherr.ErrTimeout):
		metrics.ObserveCallback("timeout")
		logger.Debug("callback finished with error", logger.Err(err))
	default:
		metrics.ObserveCallback("rejected")
		logger.Debug("callback finished with error", logger.Err(err))
	}
}
