package tlsconf

import (
	"bytes"
	"crypto/x509"
	"embed"
	"encoding/pem"
	"io/fs"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/autherr"
)

// bundledFS carries service CA certificates shipped with the driver.
// Additional anchors drop into cacerts/ as *.pem files at build time;
// an empty directory simply contributes nothing.
//
//go:embed cacerts
var bundledFS embed.FS

// loadTrustStore reads a trust store file and returns a pool of every
// certificate it contains. PEM is detected by header; anything else is
// treated as PKCS#12 and decrypted with password.
func loadTrustStore(path, password string) (*x509.CertPool, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, autherr.Wrapf(autherr.ErrSecurity, "trust.store", err,
			"read trust store %s", path)
	}

	pool := x509.NewCertPool()
	count := 0

	if bytes.Contains(data, []byte("-----BEGIN")) {
		for block, rest := pem.Decode(data); block != nil; block, rest = pem.Decode(rest) {
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, 0, autherr.Wrapf(autherr.ErrSecurity, "trust.store", err,
					"parse certificate in %s", path)
			}
			pool.AddCert(cert)
			count++
		}
	} else {
		blocks, err := pkcs12.ToPEM(data, password)
		if err != nil {
			return nil, 0, autherr.Wrapf(autherr.ErrSecurity, "trust.store", err,
				"decode PKCS#12 trust store %s", path)
		}
		for _, block := range blocks {
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, 0, autherr.Wrapf(autherr.ErrSecurity, "trust.store", err,
					"parse certificate in %s", path)
			}
			pool.AddCert(cert)
			count++
		}
	}

	if count == 0 {
		return nil, 0, autherr.Security("trust.store",
			"trust store %s contains no certificates", path)
	}
	return pool, count, nil
}

// appendBundledCAs adds the embedded service CAs to pool and returns how
// many were added. Missing or unparsable entries are skipped: absence of an
// optional bundled CA is not an error.
func appendBundledCAs(pool *x509.CertPool) int {
	names, err := fs.Glob(bundledFS, "cacerts/*.pem")
	if err != nil {
		return 0
	}
	added := 0
	for _, name := range names {
		data, err := fs.ReadFile(bundledFS, name)
		if err != nil {
			continue
		}
		if pool.AppendCertsFromPEM(data) {
			added++
		} else {
			logger.Debug("skipping bundled CA with no parsable certificate", logger.KeyPath, name)
		}
	}
	return added
}
