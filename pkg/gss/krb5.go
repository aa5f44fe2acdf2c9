package gss

import (
	"encoding/binary"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// GSS-API token IDs following the mechanism OID in the RFC 2743 framing.
const (
	tokIDAPReq = uint16(0x0100)
	tokIDAPRep = uint16(0x0200)
	tokIDError = uint16(0x0300)
)

// krb5Mechanism exchanges raw Kerberos tokens: one AP-REQ out, one AP-REP
// back. Mutual authentication is always requested; the context is
// established once the AP-REP decrypts under the session key saved from the
// service ticket, which proves the peer holds that key.
type krb5Mechanism struct {
	cl          *client.Client
	spn         string
	sessionKey  types.EncryptionKey
	established bool
}

func (m *krb5Mechanism) Name() string { return "krb5" }

func (m *krb5Mechanism) InitialToken() ([]byte, error) {
	const op = "gss.krb5"

	tkt, key, err := m.cl.GetServiceTicket(m.spn)
	if err != nil {
		return nil, autherr.Denied(op, "obtaining service ticket for %s: %v", m.spn, err)
	}
	m.sessionKey = key

	tok, err := spnego.NewKRB5TokenAPREQ(m.cl, tkt, key,
		[]int{gssapi.ContextFlagInteg, gssapi.ContextFlagMutual},
		[]int{flags.APOptionMutualRequired})
	if err != nil {
		return nil, autherr.Security(op, "building AP-REQ: %v", err)
	}
	out, err := tok.Marshal()
	if err != nil {
		return nil, autherr.Security(op, "marshalling AP-REQ token: %v", err)
	}
	return out, nil
}

func (m *krb5Mechanism) Continue(inToken []byte) ([]byte, error) {
	if err := verifyAPRep(inToken, m.sessionKey); err != nil {
		return nil, err
	}
	m.established = true
	return nil, nil
}

func (m *krb5Mechanism) Established() bool { return m.established }

func (m *krb5Mechanism) Close() error {
	m.cl.Destroy()
	return nil
}

// verifyAPRep checks the server's half of mutual authentication: the token
// must carry an AP-REP whose encrypted part decrypts under the session key.
// A KRB-ERROR in its place is a peer rejection; anything else is desync.
func verifyAPRep(token []byte, sessionKey types.EncryptionKey) error {
	const op = "gss.krb5"

	body, err := unwrapGSSToken(token)
	if err != nil {
		return err
	}

	// KRB-ERROR is APPLICATION 30 (0x7e).
	if len(body) > 0 && body[0] == 0x7e {
		var ke messages.KRBError
		if uerr := ke.Unmarshal(body); uerr == nil {
			return autherr.Denied(op, "credentials rejected by peer: %v", ke.Error())
		}
	}

	var rep messages.APRep
	if err := rep.Unmarshal(body); err != nil {
		return autherr.Protocol(op, "expected AP-REP, got unparseable token: %v", err)
	}
	plain, err := crypto.DecryptEncPart(rep.EncPart, sessionKey, keyusage.AP_REP_ENCPART)
	if err != nil {
		return autherr.Security(op, "AP-REP does not decrypt under the session key: %v", err)
	}
	var part messages.EncAPRepPart
	if err := part.Unmarshal(plain); err != nil {
		return autherr.Security(op, "decoding AP-REP encrypted part: %v", err)
	}
	return nil
}

// unwrapGSSToken strips the RFC 2743 InitialContextToken framing when
// present (0x60, DER length, mechanism OID, 2-byte token ID) and returns
// the inner message. Bare tokens pass through unchanged.
func unwrapGSSToken(data []byte) ([]byte, error) {
	const op = "gss.krb5"

	if len(data) == 0 {
		return nil, autherr.Protocol(op, "empty token from server")
	}
	if data[0] != 0x60 {
		return data, nil
	}

	_, lenLen, err := parseDERLength(data[1:])
	if err != nil {
		return nil, autherr.Protocol(op, "malformed GSS token framing: %v", err)
	}
	rest := data[1+lenLen:]

	// Mechanism OID.
	if len(rest) < 2 || rest[0] != 0x06 {
		return nil, autherr.Protocol(op, "GSS token missing mechanism OID")
	}
	oidLen := int(rest[1])
	if len(rest) < 2+oidLen+2 {
		return nil, autherr.Protocol(op, "truncated GSS token")
	}
	rest = rest[2+oidLen:]

	switch tokID := binary.BigEndian.Uint16(rest[:2]); tokID {
	case tokIDAPRep:
		return rest[2:], nil
	case tokIDError:
		return rest[2:], nil
	case tokIDAPReq:
		return nil, autherr.Protocol(op, "server sent an AP-REQ during mutual authentication")
	default:
		return nil, autherr.Protocol(op, "unknown GSS token ID 0x%04x", tokID)
	}
}

// parseDERLength decodes a DER length octet sequence, returning the value
// and the number of octets consumed.
func parseDERLength(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, errMalformedLength
	}
	b := data[0]
	if b < 0x80 {
		return int(b), 1, nil
	}
	n := int(b & 0x7f)
	if n == 0 || n > 4 || len(data) < 1+n {
		return 0, 0, errMalformedLength
	}
	v := 0
	for i := 0; i < n; i++ {
		v = v<<8 | int(data[1+i])
	}
	return v, 1 + n, nil
}

var errMalformedLength = autherr.Protocol("gss.krb5", "malformed DER length")
