// Package transport provides the duplex byte-stream abstraction the
// credential core shares with the connection layer.
//
// The connection layer owns the socket; the GSS negotiator borrows it for
// the authentication phase, and the trust material builder supplies the
// tls.Config used when the raw socket is upgraded. Framing follows the
// surrounding SQL protocol: one tag byte, a 4-byte big-endian length that
// includes itself but not the tag, then the payload.
package transport

import (
	"crypto/tls"
	"time"
)

// Transport is a duplex byte stream with explicit flushing and the ability
// to swap the raw socket for a TLS-wrapped one.
//
// Implementations are not safe for concurrent use; the protocol is strictly
// request/response and callers serialize access.
type Transport interface {
	// Send buffers p for writing. Data may not hit the wire until Flush.
	Send(p []byte) error

	// Receive reads exactly n bytes, blocking until they arrive or the
	// underlying read deadline expires.
	Receive(n int) ([]byte, error)

	// Flush writes any buffered data to the socket.
	Flush() error

	// UpgradeTLS replaces the raw socket with a TLS client connection and
	// runs the handshake. serverName is the host used for verification.
	// After a failed upgrade the transport is unusable.
	UpgradeTLS(cfg *tls.Config, serverName string) error

	// SetReadDeadline bounds subsequent Receive calls. The zero time
	// removes the bound.
	SetReadDeadline(t time.Time) error

	// Close tears down the socket. Double close is harmless.
	Close() error
}
