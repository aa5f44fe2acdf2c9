package gss

import (
	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// SPNEGO negotiation states (RFC 4178 section 4.2.2).
const (
	negStateAcceptCompleted  = asn1.Enumerated(0)
	negStateAcceptIncomplete = asn1.Enumerated(1)
	negStateReject           = asn1.Enumerated(2)
	negStateRequestMIC       = asn1.Enumerated(3)
)

// spnegoMechanism wraps the Kerberos exchange in SPNEGO framing. The inner
// mechanism is still krb5, so establishment works the same way: the
// server's response token must carry an AP-REP that decrypts under the
// saved session key.
type spnegoMechanism struct {
	cl          *client.Client
	spn         string
	sessionKey  types.EncryptionKey
	established bool
}

func (m *spnegoMechanism) Name() string { return "spnego" }

func (m *spnegoMechanism) InitialToken() ([]byte, error) {
	const op = "gss.spnego"

	tkt, key, err := m.cl.GetServiceTicket(m.spn)
	if err != nil {
		return nil, autherr.Denied(op, "obtaining service ticket for %s: %v", m.spn, err)
	}
	m.sessionKey = key

	init, err := spnego.NewNegTokenInitKRB5(m.cl, tkt, key)
	if err != nil {
		return nil, autherr.Security(op, "building NegTokenInit: %v", err)
	}
	out, err := init.Marshal()
	if err != nil {
		return nil, autherr.Security(op, "marshalling NegTokenInit: %v", err)
	}
	return out, nil
}

func (m *spnegoMechanism) Continue(inToken []byte) ([]byte, error) {
	const op = "gss.spnego"

	isInit, tok, err := spnego.UnmarshalNegToken(inToken)
	if err != nil {
		return nil, autherr.Protocol(op, "decoding negotiation token: %v", err)
	}
	if isInit {
		return nil, autherr.Protocol(op, "server sent NegTokenInit mid-negotiation")
	}
	resp, ok := tok.(spnego.NegTokenResp)
	if !ok {
		return nil, autherr.Protocol(op, "unexpected negotiation token type %T", tok)
	}

	switch resp.NegState {
	case negStateReject:
		return nil, autherr.Denied(op, "credentials rejected by peer")
	case negStateAcceptCompleted, negStateAcceptIncomplete:
		if len(resp.ResponseToken) > 0 {
			if err := verifyAPRep(resp.ResponseToken, m.sessionKey); err != nil {
				return nil, err
			}
			m.established = true
			return nil, nil
		}
		if resp.NegState == negStateAcceptCompleted {
			// Completed without mutual proof; the AP-REQ carried
			// MutualRequired, so an empty completion is a desync.
			return nil, autherr.Protocol(op, "negotiation completed without mutual authentication token")
		}
		return nil, nil
	default:
		return nil, autherr.Protocol(op, "unknown negotiation state %d", resp.NegState)
	}
}

func (m *spnegoMechanism) Established() bool { return m.established }

func (m *spnegoMechanism) Close() error {
	m.cl.Destroy()
	return nil
}
