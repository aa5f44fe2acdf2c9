// Package gss implements the client side of Kerberos/SPNEGO authentication
// on the connection's existing byte-stream transport.
//
// Negotiation is a synchronous token-exchange loop: the local security
// context produces an outbound token, the token travels to the server as a
// length-prefixed authentication message, and the server's reply feeds the
// next step. The loop ends the moment the local context reports itself
// established; there is no separate success message from the peer. There is
// also no independent timeout - the loop inherits whatever read deadline
// the transport enforces, and closing the transport is the only way to
// cancel it.
package gss

import (
	"bytes"
	"fmt"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/autherr"
	"github.com/nimbusdw/nimbus-go/pkg/transport"
)

// Message tags shared with the surrounding SQL protocol.
const (
	// tagAuthToken carries a client authentication token to the server.
	tagAuthToken = byte('p')

	// tagContinue is the server's continue-negotiation message; the payload
	// is the next inbound token.
	tagContinue = byte('R')

	// tagError is the server's error report.
	tagError = byte('E')
)

// Mechanism is one GSS mechanism driving a local security context.
//
// Implementations are single-use and not safe for concurrent use: each
// negotiation builds a fresh mechanism and discards it afterwards.
type Mechanism interface {
	// Name identifies the mechanism for logging ("krb5", "spnego").
	Name() string

	// InitialToken produces the first outbound token.
	InitialToken() ([]byte, error)

	// Continue feeds an inbound token to the context and returns the next
	// outbound token, which may be empty.
	Continue(inToken []byte) ([]byte, error)

	// Established reports whether the local context is established.
	Established() bool

	// Close releases the context. Called exactly once, negotiation over.
	Close() error
}

// Negotiator runs the token-exchange loop for one connection attempt.
type Negotiator struct {
	mech   Mechanism
	rounds int
}

// NewNegotiator wraps mech. The mechanism choice is final: it was made from
// configuration before the loop starts and does not change mid-negotiation.
func NewNegotiator(mech Mechanism) *Negotiator {
	return &Negotiator{mech: mech}
}

// Rounds reports how many server continuations were processed.
func (n *Negotiator) Rounds() int {
	return n.rounds
}

// Negotiate drives the exchange over t until the local context is
// established or the peer reports failure. Transport errors abort
// immediately; security-library errors come back classified so callers can
// tell missing credentials from peer rejection from protocol desync.
func (n *Negotiator) Negotiate(t transport.Transport) error {
	defer func() { _ = n.mech.Close() }()

	out, err := n.mech.InitialToken()
	if err != nil {
		return err
	}

	for {
		if len(out) > 0 {
			if err := transport.WriteMessage(t, tagAuthToken, out); err != nil {
				return err
			}
			if err := t.Flush(); err != nil {
				return autherr.Wrap(autherr.ErrNetwork, "gss.negotiate", err)
			}
		}

		if n.mech.Established() {
			logger.Debug("security context established",
				logger.KeyMechanism, n.mech.Name(), logger.KeyRoundTrip, n.rounds)
			return nil
		}

		tag, payload, err := transport.ReadMessage(t)
		if err != nil {
			return err
		}
		switch tag {
		case tagError:
			return autherr.Denied("gss.negotiate",
				"server rejected authentication: %s", decodeServerError(payload))
		case tagContinue:
			n.rounds++
			out, err = n.mech.Continue(payload)
			if err != nil {
				return err
			}
		default:
			return autherr.Protocol("gss.negotiate",
				"unexpected message tag %q during authentication", tag)
		}
	}
}

// decodeServerError renders the server's field-encoded error report: a
// sequence of (field type byte, NUL-terminated string) pairs closed by a
// zero byte. Unknown fields are skipped; a payload that doesn't parse is
// shown raw rather than dropped.
func decodeServerError(payload []byte) string {
	var severity, code, message string
	rest := payload
	for len(rest) > 0 && rest[0] != 0 {
		field := rest[0]
		end := bytes.IndexByte(rest[1:], 0)
		if end < 0 {
			return string(payload)
		}
		value := string(rest[1 : 1+end])
		rest = rest[2+end:]

		switch field {
		case 'S':
			severity = value
		case 'C':
			code = value
		case 'M':
			message = value
		}
	}
	if message == "" {
		return string(payload)
	}
	if severity == "" {
		severity = "ERROR"
	}
	if code != "" {
		return fmt.Sprintf("%s: %s (%s)", severity, message, code)
	}
	return fmt.Sprintf("%s: %s", severity, message)
}
