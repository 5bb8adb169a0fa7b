package pgconn

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

// TLSFiles names the client certificate, client key and root certificate PEM
// files (libpq's sslcert/sslkey/sslrootcert roles) that LoadTLSConfig reads
// to build a *tls.Config. ParseConfig does not fill it in; callers set it.
type TLSFiles struct {
	CertFile   string
	KeyFile    string
	RootCert   string
}

// LoadTLSConfig builds a *tls.Config from a set of PEM file paths, mirroring
// libpq's sslcert/sslkey/sslrootcert connection parameters. The returned
// config still needs ServerName and the verify-mode-specific
// InsecureSkipVerify/VerifyPeerCertificate fields applied, which
// defaultTLSConfig does for callers that go through ParseConfig/NewConfig
// instead of setting Config.TLSConfig directly.
func LoadTLSConfig(files TLSFiles) (*tls.Config, error) {
	tc := &tls.Config{}

	if files.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("pgconn: load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	if files.RootCert != "" {
		pool, err := loadCertPool(files.RootCert)
		if err != nil {
			return nil, err
		}
		tc.RootCAs = pool
	}

	return tc, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pgconn: read root cert %s: %w", path, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("pgconn: no certificates parsed from %s", path)
	}

	return pool, nil
}

// defaultPgpassDir returns ~/.postgresql, the libpq-conventional directory
// holding postgresql.crt/postgresql.key/root.crt when sslcert/sslkey/
// sslrootcert aren't explicitly set.
func defaultPgpassDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".postgresql"), nil
}

// verifyChainIgnoringHostname implements sslmode=verify-ca: the certificate
// chain must verify against the configured RootCAs, but the leaf's DNS
// names are never checked against the connection's ServerName. Go's tls
// package has no built-in verify-ca mode (only "verify everything" or
// "verify nothing"), so this reimplements the chain-only half manually and
// is paired with InsecureSkipVerify=true on the same *tls.Config to suppress
// the built-in hostname check.
func verifyChainIgnoringHostname(tc *tls.Config) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("pgconn: no certificate presented by server")
		}

		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("pgconn: parse server certificate: %w", err)
			}
			certs[i] = cert
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}

		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         tc.RootCAs,
			Intermediates: intermediates,
		})
		if err != nil {
			return fmt.Errorf("pgconn: certificate chain verification failed: %w", err)
		}

		return nil
	}
}
