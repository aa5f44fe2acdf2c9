package tlsconf

import (
	"crypto/tls"
	"sync"

	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// newClientIdentity returns a GetClientCertificate callback that loads the
// key pair on first use. Construction never fails; a broken pair surfaces
// at the handshake that asks for it, with the load error as the cause, so a
// certificate problem is not masked by a generic handshake failure.
func newClientIdentity(certPath, keyPath string) func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	var (
		once sync.Once
		cert tls.Certificate
		err  error
	)
	return func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
		once.Do(func() {
			cert, err = tls.LoadX509KeyPair(certPath, keyPath)
		})
		if err != nil {
			return nil, autherr.Wrapf(autherr.ErrSecurity, "tls.client_identity", err,
				"load key pair cert=%s key=%s", certPath, keyPath)
		}
		return &cert, nil
	}
}
