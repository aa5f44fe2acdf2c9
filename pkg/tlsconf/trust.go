// Package tlsconf builds the TLS trust and identity material used when the
// raw connection socket is upgraded to TLS.
//
// A TrustAnchorSet is resolved once per connection attempt from
// configuration, in strict priority order, and is immutable afterward:
//
//  1. explicit trust-store file (PKCS#12 or PEM) plus optional password
//  2. explicit single root certificate file, imported into a fresh store
//  3. platform CA bundle plus bundled service CAs (missing ones skipped)
//  4. verification disabled: accept any chain (explicit, logged opt-in)
//
// Client identity for mutual TLS loads lazily; a broken key pair surfaces
// at the handshake that needs it, with the original cause attached, instead
// of poisoning every connection attempt up front.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// Options selects the trust material sources. All fields are optional; the
// zero value resolves to the platform bundle with hostname verification on.
type Options struct {
	// TrustStorePath points at a PKCS#12 or PEM trust store file.
	TrustStorePath string

	// TrustStorePassword decrypts a PKCS#12 trust store. Ignored for PEM.
	TrustStorePassword string

	// RootCertPath points at a single PEM root certificate. Used only when
	// TrustStorePath is empty.
	RootCertPath string

	// Insecure disables certificate verification entirely.
	Insecure bool

	// CertPath and KeyPath select the client identity for mutual TLS.
	// Both must be set together.
	CertPath string
	KeyPath  string

	// SkipHostnameVerify keeps chain verification but drops the hostname
	// check. Has no effect when Insecure is already set.
	SkipHostnameVerify bool

	// Verifier overrides the hostname matching strategy. Nil selects the
	// default single-label wildcard matcher.
	Verifier HostnameVerifier
}

// TrustAnchorSet is the resolved trust material for one connection attempt.
type TrustAnchorSet struct {
	roots          *x509.CertPool
	anchorCount    int
	insecure       bool
	verifyHostname bool
	verifier       HostnameVerifier
	clientIdentity func(*tls.CertificateRequestInfo) (*tls.Certificate, error)
}

// Build resolves opts into a TrustAnchorSet.
func Build(opts Options) (*TrustAnchorSet, error) {
	set := &TrustAnchorSet{
		verifyHostname: !opts.SkipHostnameVerify,
		verifier:       opts.Verifier,
	}
	if set.verifier == nil {
		set.verifier = defaultVerifier{}
	}

	if (opts.CertPath == "") != (opts.KeyPath == "") {
		return nil, autherr.Security("trust.build",
			"client certificate and key must be configured together")
	}
	if opts.CertPath != "" {
		set.clientIdentity = newClientIdentity(opts.CertPath, opts.KeyPath)
	}

	if opts.Insecure {
		// The resolved anchors are irrelevant: every chain is accepted.
		set.insecure = true
		logger.Warn("TLS certificate verification disabled by configuration")
		return set, nil
	}

	switch {
	case opts.TrustStorePath != "":
		pool, n, err := loadTrustStore(opts.TrustStorePath, opts.TrustStorePassword)
		if err != nil {
			return nil, err
		}
		set.roots, set.anchorCount = pool, n

	case opts.RootCertPath != "":
		pem, err := os.ReadFile(opts.RootCertPath)
		if err != nil {
			return nil, autherr.Wrapf(autherr.ErrSecurity, "trust.build", err,
				"read root certificate %s", opts.RootCertPath)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, autherr.Security("trust.build",
				"no certificates found in %s", opts.RootCertPath)
		}
		set.roots, set.anchorCount = pool, 1

	default:
		pool, err := x509.SystemCertPool()
		if err != nil {
			// No platform bundle; start empty and rely on bundled CAs.
			pool = x509.NewCertPool()
		}
		set.anchorCount = appendBundledCAs(pool)
		set.roots = pool
	}

	return set, nil
}

// AnchorCount reports how many explicitly loaded anchors the set holds.
// Platform-bundle anchors are not counted.
func (s *TrustAnchorSet) AnchorCount() int {
	return s.anchorCount
}

// Insecure reports whether verification is disabled.
func (s *TrustAnchorSet) Insecure() bool {
	return s.insecure
}

// TLSConfig produces the tls.Config for a connection to host.
//
// Verification always runs through VerifyPeerCertificate so the pluggable
// hostname strategy applies; the standard library path is bypassed with
// InsecureSkipVerify and re-implemented against the resolved anchors.
func (s *TrustAnchorSet) TLSConfig(host string) *tls.Config {
	cfg := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	}
	if s.clientIdentity != nil {
		cfg.GetClientCertificate = s.clientIdentity
	}
	if !s.insecure {
		cfg.VerifyPeerCertificate = s.peerVerifier(host)
	}
	return cfg
}

// peerVerifier verifies the presented chain against the resolved anchors
// and then applies the hostname strategy to the leaf.
func (s *TrustAnchorSet) peerVerifier(host string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return autherr.Security("tls.verify", "server presented no certificate")
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return autherr.Wrap(autherr.ErrSecurity, "tls.verify", err)
			}
			certs = append(certs, cert)
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		if _, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         s.roots,
			Intermediates: intermediates,
		}); err != nil {
			return autherr.Wrapf(autherr.ErrSecurity, "tls.verify", err,
				"certificate chain not trusted")
		}

		if s.verifyHostname {
			if err := s.verifier.Verify(host, certs[0]); err != nil {
				return autherr.Wrap(autherr.ErrSecurity, "tls.verify", err)
			}
		}
		return nil
	}
}
