package gss

import (
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/nimbusdw/nimbus-go/pkg/autherr"
	"github.com/nimbusdw/nimbus-go/pkg/transport"
)

// scriptTransport feeds pre-built inbound frames and records everything the
// negotiator sends.
type scriptTransport struct {
	inbound bytes.Buffer
	sent    bytes.Buffer
	flushes int
}

func (s *scriptTransport) Send(p []byte) error { s.sent.Write(p); return nil }

func (s *scriptTransport) Receive(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(&s.inbound, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *scriptTransport) Flush() error { s.flushes++; return nil }

func (s *scriptTransport) UpgradeTLS(*tls.Config, string) error { return nil }

func (s *scriptTransport) SetReadDeadline(time.Time) error { return nil }

func (s *scriptTransport) Close() error { return nil }

func (s *scriptTransport) queue(tag byte, payload []byte) {
	s.inbound.WriteByte(tag)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(4+len(payload)))
	s.inbound.Write(length[:])
	s.inbound.Write(payload)
}

// sentFrames splits the recorded outbound bytes back into (tag, payload)
// frames.
func (s *scriptTransport) sentFrames(t *testing.T) [][2][]byte {
	t.Helper()
	var frames [][2][]byte
	data := s.sent.Bytes()
	for len(data) > 0 {
		if len(data) < 5 {
			t.Fatalf("trailing partial frame: % x", data)
		}
		length := binary.BigEndian.Uint32(data[1:5])
		end := 1 + int(length)
		if end > len(data) {
			t.Fatalf("frame length %d exceeds buffer", length)
		}
		frames = append(frames, [2][]byte{{data[0]}, data[5:end]})
		data = data[end:]
	}
	return frames
}

// scriptMechanism emits a fixed token sequence and establishes after a set
// number of continuations.
type scriptMechanism struct {
	initial        []byte
	continuations  [][]byte
	establishAfter int

	calls  int
	closed int
}

func (m *scriptMechanism) Name() string { return "scripted" }

func (m *scriptMechanism) InitialToken() ([]byte, error) { return m.initial, nil }

func (m *scriptMechanism) Continue(_ []byte) ([]byte, error) {
	m.calls++
	var out []byte
	if m.calls <= len(m.continuations) {
		out = m.continuations[m.calls-1]
	}
	return out, nil
}

func (m *scriptMechanism) Established() bool { return m.calls >= m.establishAfter }

func (m *scriptMechanism) Close() error { m.closed++; return nil }

func TestNegotiateTwoContinuesThenEstablished(t *testing.T) {
	tr := &scriptTransport{}
	tr.queue(tagContinue, []byte("server-token-1"))
	tr.queue(tagContinue, []byte("server-token-2"))

	mech := &scriptMechanism{
		initial:        []byte("ap-req"),
		continuations:  [][]byte{[]byte("reply-1"), nil},
		establishAfter: 2,
	}
	n := NewNegotiator(mech)
	if err := n.Negotiate(tr); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if n.Rounds() != 2 {
		t.Errorf("rounds = %d, want 2", n.Rounds())
	}
	if mech.closed != 1 {
		t.Errorf("mechanism closed %d times, want 1", mech.closed)
	}

	frames := tr.sentFrames(t)
	if len(frames) != 2 {
		t.Fatalf("sent %d frames, want 2", len(frames))
	}
	for i, want := range [][]byte{[]byte("ap-req"), []byte("reply-1")} {
		if frames[i][0][0] != tagAuthToken {
			t.Errorf("frame %d tag = %q, want %q", i, frames[i][0][0], tagAuthToken)
		}
		if !bytes.Equal(frames[i][1], want) {
			t.Errorf("frame %d payload = %q, want %q", i, frames[i][1], want)
		}
	}
	if tr.inbound.Len() != 0 {
		t.Errorf("%d unread inbound bytes after establishment", tr.inbound.Len())
	}
}

func TestNegotiateServerErrorFirstRoundTrip(t *testing.T) {
	tr := &scriptTransport{}
	tr.queue(tagError, []byte("SFATAL\x00C28000\x00Mno such role\x00\x00"))
	// Anything after the error must never be read.
	tr.queue(tagContinue, []byte("unreachable"))
	unread := tr.inbound.Len() - 5 - len("SFATAL\x00C28000\x00Mno such role\x00\x00")

	mech := &scriptMechanism{initial: []byte("ap-req"), establishAfter: 99}
	n := NewNegotiator(mech)
	err := n.Negotiate(tr)
	if !errors.Is(err, autherr.ErrAuthorizationDenied) {
		t.Fatalf("error = %v, want authorization denied", err)
	}
	if !strings.Contains(err.Error(), "no such role") {
		t.Errorf("error %q does not carry the server message", err)
	}
	if !strings.Contains(err.Error(), "28000") {
		t.Errorf("error %q does not carry the server code", err)
	}
	if got := len(tr.sentFrames(t)); got != 1 {
		t.Errorf("sent %d frames after rejection, want 1", got)
	}
	if mech.calls != 0 {
		t.Errorf("Continue called %d times after rejection, want 0", mech.calls)
	}
	if tr.inbound.Len() != unread {
		t.Errorf("negotiator kept reading after the error frame")
	}
}

func TestNegotiateUnexpectedTag(t *testing.T) {
	tr := &scriptTransport{}
	tr.queue('Z', nil)

	n := NewNegotiator(&scriptMechanism{initial: []byte("x"), establishAfter: 99})
	err := n.Negotiate(tr)
	if !errors.Is(err, autherr.ErrProtocol) {
		t.Fatalf("error = %v, want protocol error", err)
	}
}

func TestNegotiateEstablishedWithoutInitialRead(t *testing.T) {
	// A context established by its first token never touches the socket
	// for a reply.
	tr := &scriptTransport{}
	mech := &scriptMechanism{initial: []byte("one-shot"), establishAfter: 0}
	n := NewNegotiator(mech)
	if err := n.Negotiate(tr); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if n.Rounds() != 0 {
		t.Errorf("rounds = %d, want 0", n.Rounds())
	}
	if got := len(tr.sentFrames(t)); got != 1 {
		t.Errorf("sent %d frames, want 1", got)
	}
}

func TestNegotiateContinueFailureClassification(t *testing.T) {
	tr := &scriptTransport{}
	tr.queue(tagContinue, []byte("bogus"))

	n := NewNegotiator(&failingMechanism{})
	err := n.Negotiate(tr)
	if !errors.Is(err, autherr.ErrSecurity) {
		t.Fatalf("error = %v, want security error", err)
	}
}

type failingMechanism struct{}

func (failingMechanism) Name() string                  { return "failing" }
func (failingMechanism) InitialToken() ([]byte, error) { return []byte("t"), nil }
func (failingMechanism) Continue([]byte) ([]byte, error) {
	return nil, autherr.Security("gss.test", "token verification failed")
}
func (failingMechanism) Established() bool { return false }
func (failingMechanism) Close() error      { return nil }

func TestDecodeServerError(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"full", "SFATAL\x00C28000\x00Mauthentication failed\x00\x00", "FATAL: authentication failed (28000)"},
		{"message only", "Mbad token\x00\x00", "ERROR: bad token"},
		{"unknown fields skipped", "Xzzz\x00Mok\x00\x00", "ERROR: ok"},
		{"unparseable raw", "garbage", "garbage"},
		{"empty message raw", "S\x00\x00", "S\x00\x00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := decodeServerError([]byte(tc.payload)); got != tc.want {
				t.Errorf("decodeServerError(%q) = %q, want %q", tc.payload, got, tc.want)
			}
		})
	}
}

func TestUnwrapGSSToken(t *testing.T) {
	wrap := func(tokID uint16, body []byte) []byte {
		oid := []byte{0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x01, 0x02, 0x02}
		inner := append(append([]byte{}, oid...), byte(tokID>>8), byte(tokID))
		inner = append(inner, body...)
		out := []byte{0x60}
		if len(inner) < 0x80 {
			out = append(out, byte(len(inner)))
		} else {
			out = append(out, 0x82, byte(len(inner)>>8), byte(len(inner)))
		}
		return append(out, inner...)
	}

	t.Run("wrapped ap-rep", func(t *testing.T) {
		got, err := unwrapGSSToken(wrap(tokIDAPRep, []byte("rep-body")))
		if err != nil {
			t.Fatalf("unwrapGSSToken: %v", err)
		}
		if !bytes.Equal(got, []byte("rep-body")) {
			t.Errorf("body = %q, want %q", got, "rep-body")
		}
	})

	t.Run("long length form", func(t *testing.T) {
		body := bytes.Repeat([]byte{0xab}, 200)
		got, err := unwrapGSSToken(wrap(tokIDAPRep, body))
		if err != nil {
			t.Fatalf("unwrapGSSToken: %v", err)
		}
		if !bytes.Equal(got, body) {
			t.Errorf("long-form body mismatch")
		}
	})

	t.Run("bare token passthrough", func(t *testing.T) {
		raw := []byte{0x6f, 0x01, 0x02}
		got, err := unwrapGSSToken(raw)
		if err != nil {
			t.Fatalf("unwrapGSSToken: %v", err)
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("bare token was modified")
		}
	})

	t.Run("ap-req from server", func(t *testing.T) {
		_, err := unwrapGSSToken(wrap(tokIDAPReq, nil))
		if !errors.Is(err, autherr.ErrProtocol) {
			t.Fatalf("error = %v, want protocol error", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, err := unwrapGSSToken(nil)
		if !errors.Is(err, autherr.ErrProtocol) {
			t.Fatalf("error = %v, want protocol error", err)
		}
	})
}

var _ transport.Transport = (*scriptTransport)(nil)
