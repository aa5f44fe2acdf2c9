package transport

import (
	"encoding/binary"

	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// maxFrameSize bounds inbound frames. GSS tokens are a few KB; anything
// approaching this limit means the stream is desynchronized.
const maxFrameSize = 1 << 20

// lengthSize is the wire size of the length field, which counts itself.
const lengthSize = 4

// WriteMessage frames payload under tag and buffers it on t.
// The length field covers itself plus the payload, not the tag byte.
func WriteMessage(t Transport, tag byte, payload []byte) error {
	header := make([]byte, 1+lengthSize)
	header[0] = tag
	binary.BigEndian.PutUint32(header[1:], uint32(lengthSize+len(payload)))
	if err := t.Send(header); err != nil {
		return autherr.Wrap(autherr.ErrNetwork, "transport.write", err)
	}
	if len(payload) > 0 {
		if err := t.Send(payload); err != nil {
			return autherr.Wrap(autherr.ErrNetwork, "transport.write", err)
		}
	}
	return nil
}

// ReadMessage reads one framed message from t and returns its tag and
// payload. A length outside [lengthSize, maxFrameSize] is a protocol error:
// the stream is no longer positioned on a frame boundary.
func ReadMessage(t Transport) (byte, []byte, error) {
	header, err := t.Receive(1 + lengthSize)
	if err != nil {
		return 0, nil, autherr.Wrap(autherr.ErrNetwork, "transport.read", err)
	}
	tag := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length < lengthSize || length > maxFrameSize {
		return 0, nil, autherr.Protocol("transport.read",
			"frame length %d out of range for tag %q", length, tag)
	}
	n := int(length) - lengthSize
	if n == 0 {
		return tag, nil, nil
	}
	payload, err := t.Receive(n)
	if err != nil {
		return 0, nil, autherr.Wrap(autherr.ErrNetwork, "transport.read", err)
	}
	return tag, payload, nil
}
