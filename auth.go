package pgconn

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/pgwire/pgconn/internal/scram"
	"github.com/pgwire/pgconn/internal/types"
)

// GSSProvider is implemented by callers that need GSSAPI/SSPI authentication
// (AuthType Kerberos/GSS/SSPI). pgconn has no in-tree Kerberos stack; a
// provider is injected via Config so platforms that need it (typically
// Windows SSPI, or a cgo-linked GSSAPI library) can plug in without forcing
// that dependency on every user of this module.
type GSSProvider interface {
	// InitSecContext produces the next token to send to the server, given
	// the previous token the server sent (nil on the first call).
	InitSecContext(inputToken []byte) (outputToken []byte, done bool, err error)
}

// authenticate drives the AuthenticationXXX exchange following the
// StartupMessage, dispatching on the AuthType carried in the first
// Authentication message. It returns once AuthenticationOk is received.
func (t *transport) authenticate(cfg *Config, tlsState *tls.ConnectionState) error {
	tag, _, err := t.reader.ReadTypedMsg()
	if err != nil {
		return fmt.Errorf("pgconn: read authentication request: %w", err)
	}

	if tag == types.BackendErrorResponse {
		pgErr, err := decodeErrorResponse(t.reader)
		if err != nil {
			return err
		}
		return pgErr
	}

	if tag != types.BackendAuth {
		return fmt.Errorf("pgconn: expected Authentication message, got %s", tag)
	}

	code, err := t.reader.GetInt32()
	if err != nil {
		return err
	}

	switch types.AuthType(code) {
	case types.AuthOK:
		return nil

	case types.AuthCleartextPassword:
		return t.authCleartext(cfg)

	case types.AuthMD5Password:
		return t.authMD5(cfg)

	case types.AuthSASL:
		return t.authSASL(cfg, tlsState)

	case types.AuthGSS, types.AuthSSPI, types.AuthKerberosV5:
		return t.authGSS(cfg, types.AuthType(code))

	default:
		return fmt.Errorf("pgconn: unsupported authentication method %d", code)
	}
}

func (t *transport) sendPasswordMessage(password string) error {
	t.writer.Start(types.FrontendPassword)
	t.writer.AddCString(password)
	return t.writer.End()
}

func (t *transport) authCleartext(cfg *Config) error {
	if err := t.sendPasswordMessage(cfg.Password); err != nil {
		return err
	}
	return t.expectAuthOK()
}

// authMD5 implements the MD5 challenge-response: the server sends a 4-byte
// salt alongside AuthenticationMD5Password, and the client responds with
// "md5" + md5(md5(password+username)+salt) hex-encoded.
func (t *transport) authMD5(cfg *Config) error {
	salt, err := t.reader.GetBytes(4)
	if err != nil {
		return fmt.Errorf("pgconn: read MD5 salt: %w", err)
	}

	inner := md5.Sum([]byte(cfg.Password + cfg.User))
	innerHex := hex.EncodeToString(inner[:])

	outer := md5.Sum(append([]byte(innerHex), salt...))
	response := "md5" + hex.EncodeToString(outer[:])

	if err := t.sendPasswordMessage(response); err != nil {
		return err
	}
	return t.expectAuthOK()
}

// authSASL implements SASL authentication, currently limited to
// SCRAM-SHA-256 and SCRAM-SHA-256-PLUS (the only mechanisms PostgreSQL
// itself advertises as of this writing).
func (t *transport) authSASL(cfg *Config, tlsState *tls.ConnectionState) error {
	mechanisms, err := readSASLMechanisms(t)
	if err != nil {
		return err
	}

	usePlus := false
	haveUnbound := false
	for _, m := range mechanisms {
		if m == scram.MechanismPlus && tlsState != nil {
			usePlus = true
		}
		if m == scram.Mechanism {
			haveUnbound = true
		}
	}
	if !usePlus && !haveUnbound {
		return fmt.Errorf("pgconn: server does not support SCRAM-SHA-256")
	}

	var cbindData []byte
	mechanism := scram.Mechanism
	if usePlus {
		mechanism = scram.MechanismPlus
		cbindData = tlsServerEndPointHash(tlsState)
	}

	client, err := scram.NewClient(cfg.User, cfg.Password, tlsState != nil, cbindData)
	if err != nil {
		return err
	}

	clientFirst := client.ClientFirstMessage()

	t.writer.Start(types.FrontendSASLInitial)
	t.writer.AddCString(mechanism)
	t.writer.AddInt32(int32(len(clientFirst)))
	t.writer.AddString(clientFirst)
	if err := t.writer.End(); err != nil {
		return err
	}

	serverFirst, err := t.readSASLContinue()
	if err != nil {
		return err
	}

	clientFinal, err := client.HandleServerFirstMessage(string(serverFirst))
	if err != nil {
		return err
	}

	t.writer.Start(types.FrontendSASLResponse)
	t.writer.AddString(clientFinal)
	if err := t.writer.End(); err != nil {
		return err
	}

	serverFinal, err := t.readSASLFinal()
	if err != nil {
		return err
	}

	if err := client.HandleServerFinalMessage(string(serverFinal)); err != nil {
		return err
	}

	return t.expectAuthOK()
}

func readSASLMechanisms(t *transport) ([]string, error) {
	var mechanisms []string
	for {
		name, err := t.reader.GetString()
		if err != nil {
			return nil, err
		}
		if name == "" {
			break
		}
		mechanisms = append(mechanisms, name)
	}
	return mechanisms, nil
}

func (t *transport) readSASLContinue() ([]byte, error) {
	tag, _, err := t.reader.ReadTypedMsg()
	if err != nil {
		return nil, err
	}
	if tag != types.BackendAuth {
		return nil, fmt.Errorf("pgconn: expected AuthenticationSASLContinue, got %s", tag)
	}

	code, err := t.reader.GetInt32()
	if err != nil {
		return nil, err
	}
	if types.AuthType(code) != types.AuthSASLContinue {
		return nil, fmt.Errorf("pgconn: expected AuthenticationSASLContinue code, got %d", code)
	}

	return t.reader.GetRemaining(), nil
}

func (t *transport) readSASLFinal() ([]byte, error) {
	tag, _, err := t.reader.ReadTypedMsg()
	if err != nil {
		return nil, err
	}
	if tag != types.BackendAuth {
		return nil, fmt.Errorf("pgconn: expected AuthenticationSASLFinal, got %s", tag)
	}

	code, err := t.reader.GetInt32()
	if err != nil {
		return nil, err
	}
	if types.AuthType(code) != types.AuthSASLFinal {
		return nil, fmt.Errorf("pgconn: expected AuthenticationSASLFinal code, got %d", code)
	}

	return t.reader.GetRemaining(), nil
}

// tlsServerEndPointHash computes the RFC 9266 "tls-server-end-point"
// channel-binding data: a hash of the server's leaf certificate using the
// certificate's own signature hash algorithm (SHA-384 or SHA-512), and
// SHA-256 for every other signature algorithm, MD5/SHA-1 included, per the
// RFC's guidance.
func tlsServerEndPointHash(state *tls.ConnectionState) []byte {
	if state == nil || len(state.PeerCertificates) == 0 {
		return nil
	}

	cert := state.PeerCertificates[0]
	switch cert.SignatureAlgorithm {
	case x509.SHA384WithRSA, x509.SHA384WithRSAPSS, x509.ECDSAWithSHA384:
		sum := sha512.Sum384(cert.Raw)
		return sum[:]
	case x509.SHA512WithRSA, x509.SHA512WithRSAPSS, x509.ECDSAWithSHA512:
		sum := sha512.Sum512(cert.Raw)
		return sum[:]
	}
	sum := sha256.Sum256(cert.Raw)
	return sum[:]
}

func (t *transport) expectAuthOK() error {
	tag, _, err := t.reader.ReadTypedMsg()
	if err != nil {
		return err
	}

	if tag == types.BackendErrorResponse {
		pgErr, err := decodeErrorResponse(t.reader)
		if err != nil {
			return err
		}
		return pgErr
	}

	if tag != types.BackendAuth {
		return fmt.Errorf("pgconn: expected AuthenticationOk, got %s", tag)
	}

	code, err := t.reader.GetInt32()
	if err != nil {
		return err
	}
	if types.AuthType(code) != types.AuthOK {
		return fmt.Errorf("pgconn: expected AuthenticationOk, got code %d", code)
	}

	return nil
}

// authGSS drives a GSSAPI/SSPI exchange via an injected GSSProvider. If
// Config carries none, this is a fatal configuration error rather than a
// silent fallback, since continuing the connection without authenticating
// is never correct.
func (t *transport) authGSS(cfg *Config, code types.AuthType) error {
	if cfg.GSSProvider == nil {
		return fmt.Errorf("pgconn: server requires GSSAPI/SSPI authentication but no GSSProvider is configured")
	}

	// The initial AuthGSS/AuthSSPI challenge carries no token; subsequent
	// AuthGSSContinue messages carry the server's continuation token.
	var inputToken []byte

	for {
		outputToken, done, err := cfg.GSSProvider.InitSecContext(inputToken)
		if err != nil {
			return fmt.Errorf("pgconn: GSS InitSecContext: %w", err)
		}

		t.writer.Start(types.FrontendPassword)
		t.writer.AddBytes(outputToken)
		if err := t.writer.End(); err != nil {
			return err
		}

		if done {
			return t.expectAuthOK()
		}

		tag, _, err := t.reader.ReadTypedMsg()
		if err != nil {
			return err
		}
		if tag != types.BackendAuth {
			return fmt.Errorf("pgconn: expected AuthenticationGSSContinue, got %s", tag)
		}

		gotCode, err := t.reader.GetInt32()
		if err != nil {
			return err
		}
		if types.AuthType(gotCode) == types.AuthOK {
			return nil
		}
		if types.AuthType(gotCode) != types.AuthGSSContinue {
			return fmt.Errorf("pgconn: expected AuthenticationGSSContinue, got code %d", gotCode)
		}

		inputToken = t.reader.GetRemaining()
	}
}
