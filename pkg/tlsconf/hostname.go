package tlsconf

import (
	"crypto/x509"
	"fmt"
	"net"
	"strings"
)

// HostnameVerifier decides whether a leaf certificate is valid for the
// connection host. The default implementation matches DNS name entries with
// single-label wildcards; alternative strategies plug in through
// Options.Verifier.
type HostnameVerifier interface {
	Verify(host string, leaf *x509.Certificate) error
}

// defaultVerifier matches the certificate's subject alternative names
// against the connection host. A leading "*." matches exactly one label and
// never crosses a dot boundary.
type defaultVerifier struct{}

func (defaultVerifier) Verify(host string, leaf *x509.Certificate) error {
	if ip := net.ParseIP(host); ip != nil {
		for _, candidate := range leaf.IPAddresses {
			if candidate.Equal(ip) {
				return nil
			}
		}
		return fmt.Errorf("certificate is not valid for IP %s", host)
	}

	names := leaf.DNSNames
	if len(names) == 0 && leaf.Subject.CommonName != "" {
		// Legacy certificates without SANs.
		names = []string{leaf.Subject.CommonName}
	}
	for _, name := range names {
		if matchHostname(name, host) {
			return nil
		}
	}
	return fmt.Errorf("certificate is valid for %s, not %s",
		strings.Join(names, ", "), host)
}

// matchHostname reports whether pattern covers host. Matching is
// case-insensitive. A pattern starting with "*." matches hosts with the
// same label count whose remaining labels are equal; the wildcard stands
// for exactly one label.
func matchHostname(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSuffix(pattern, "."))
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if pattern == "" || host == "" {
		return false
	}

	if !strings.HasPrefix(pattern, "*.") {
		return pattern == host
	}

	patternLabels := strings.Split(pattern, ".")
	hostLabels := strings.Split(host, ".")
	if len(patternLabels) != len(hostLabels) {
		return false
	}
	// First host label is consumed by the wildcard; it must be non-empty.
	if hostLabels[0] == "" {
		return false
	}
	for i := 1; i < len(patternLabels); i++ {
		if patternLabels[i] != hostLabels[i] {
			return false
		}
	}
	return true
}
