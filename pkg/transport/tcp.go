package transport

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"
)

// defaultWriteBuffer matches the typical size of a handshake burst so the
// token and its frame header leave in one segment.
const defaultWriteBuffer = 8 * 1024

// TCPTransport is the production Transport over a net.Conn. Writes are
// buffered; reads go straight to the socket.
type TCPTransport struct {
	conn   net.Conn
	writer *bufio.Writer
	closed bool
}

// Dial connects to addr within timeout and wraps the socket.
func Dial(addr string, timeout time.Duration) (*TCPTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewTCPTransport(conn), nil
}

// NewTCPTransport wraps an existing connection. The caller keeps ownership
// of nothing: Close on the transport closes the socket.
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{
		conn:   conn,
		writer: bufio.NewWriterSize(conn, defaultWriteBuffer),
	}
}

// Send buffers p for writing.
func (t *TCPTransport) Send(p []byte) error {
	_, err := t.writer.Write(p)
	return err
}

// Receive reads exactly n bytes.
func (t *TCPTransport) Receive(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Flush writes buffered data to the socket.
func (t *TCPTransport) Flush() error {
	return t.writer.Flush()
}

// UpgradeTLS flushes pending writes, swaps the socket for a TLS client
// connection, and runs the handshake.
func (t *TCPTransport) UpgradeTLS(cfg *tls.Config, serverName string) error {
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("flush before TLS upgrade: %w", err)
	}
	if cfg.ServerName == "" && serverName != "" {
		cfg = cfg.Clone()
		cfg.ServerName = serverName
	}
	tlsConn := tls.Client(t.conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("tls handshake with %s: %w", serverName, err)
	}
	t.conn = tlsConn
	t.writer = bufio.NewWriterSize(tlsConn, defaultWriteBuffer)
	return nil
}

// SetReadDeadline bounds subsequent Receive calls.
func (t *TCPTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

// Close tears down the socket. Safe to call twice; the second close error
// from the kernel is deliberately ignored.
func (t *TCPTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	_ = t.writer.Flush()
	return t.conn.Close()
}
