// Package scram implements the client side of SASL/SCRAM-SHA-256 and
// SCRAM-SHA-256-PLUS (RFC 5802, RFC 7677, RFC 9266 channel binding) as used
// by the PostgreSQL SASL authentication exchange.
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Mechanism is the SASL mechanism name for unbound SCRAM-SHA-256.
	Mechanism = "SCRAM-SHA-256"
	// MechanismPlus is the SASL mechanism name for channel-bound
	// SCRAM-SHA-256-PLUS.
	MechanismPlus = "SCRAM-SHA-256-PLUS"

	clientNonceLen = 18
)

// Client drives a single SCRAM-SHA-256(-PLUS) exchange. Use NewClient, then
// call ClientFirstMessage, feed the server's first message to
// HandleServerFirstMessage, send the returned ClientFinalMessage, and
// validate the server's last message with HandleServerFinalMessage.
type Client struct {
	username string
	password string

	clientNonce string
	serverNonce string

	salt       []byte
	iterations int

	clientFirstMessageBare string
	authMessage            string

	saltedPassword []byte

	// channelBinding, when non-empty, is appended as "c=" data derived from
	// the TLS exporter value "tls-server-end-point" (RFC 9266), used only
	// when the negotiated mechanism is SCRAM-SHA-256-PLUS.
	channelBindingName string
	channelBindingData []byte

	// gs2Downgrade selects the "y,," gs2-header: the client supports channel
	// binding but the server's SASL mechanism list didn't offer the -PLUS
	// variant, which only matters (and only guards against a downgrade
	// attack) when the connection is over TLS in the first place.
	gs2Downgrade bool
}

// NewClient constructs a SCRAM client for the given username/password.
//
// cbindData, when non-nil, selects channel binding ("p=tls-server-end-point")
// and must be the peer certificate hash per RFC 9266.
//
// tlsInUse reports whether the connection is over TLS at all, independent of
// whether channel binding ends up being used. Per RFC 5802/9266 the
// gs2-header's first character is "n" when the client has no TLS channel to
// bind to, or "y" when TLS is in use but the server didn't advertise
// SCRAM-SHA-256-PLUS (a downgrade-attack guard: the server can detect a
// stripped -PLUS advertisement because "y" is covered by the signed
// AuthMessage). Passing tlsInUse=true with cbindData=nil is the "TLS but no
// -PLUS" case; tlsInUse=false with cbindData=nil is the plain no-TLS case.
func NewClient(username, password string, tlsInUse bool, cbindData []byte) (*Client, error) {
	nonce, err := generateNonce(clientNonceLen)
	if err != nil {
		return nil, fmt.Errorf("scram: generate client nonce: %w", err)
	}

	c := &Client{
		username:    username,
		password:    password,
		clientNonce: nonce,
	}

	switch {
	case cbindData != nil:
		c.channelBindingName = "tls-server-end-point"
		c.channelBindingData = cbindData
	case tlsInUse:
		c.gs2Downgrade = true
	}

	return c, nil
}

// gs2Header returns the "gs2-cbind-flag,authzid," prefix for the
// client-first-message and the "c=" channel-binding input of the
// client-final-message.
func (c *Client) gs2Header() string {
	switch {
	case c.channelBindingData != nil:
		return "p=tls-server-end-point,,"
	case c.gs2Downgrade:
		return "y,,"
	default:
		return "n,,"
	}
}

func generateNonce(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// ClientFirstMessage returns the "client-first-message" to send as the
// initial SASL response.
func (c *Client) ClientFirstMessage() string {
	c.clientFirstMessageBare = fmt.Sprintf("n=%s,r=%s", escapeSASLName(c.username), c.clientNonce)
	return c.gs2Header() + c.clientFirstMessageBare
}

func escapeSASLName(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

// HandleServerFirstMessage parses the server-first-message, derives the
// salted password via PBKDF2-HMAC-SHA256, and returns the
// client-final-message to send back.
func (c *Client) HandleServerFirstMessage(serverFirstMessage string) (string, error) {
	attrs, err := parseAttributes(serverFirstMessage)
	if err != nil {
		return "", err
	}

	nonce, ok := attrs['r']
	if !ok || !strings.HasPrefix(nonce, c.clientNonce) {
		return "", fmt.Errorf("scram: server nonce %q does not extend client nonce", nonce)
	}
	c.serverNonce = nonce

	saltB64, ok := attrs['s']
	if !ok {
		return "", fmt.Errorf("scram: server-first-message missing salt")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return "", fmt.Errorf("scram: decode salt: %w", err)
	}
	c.salt = salt

	iterStr, ok := attrs['i']
	if !ok {
		return "", fmt.Errorf("scram: server-first-message missing iteration count")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 {
		return "", fmt.Errorf("scram: invalid iteration count %q", iterStr)
	}
	c.iterations = iterations

	c.saltedPassword = pbkdf2.Key([]byte(c.password), salt, iterations, sha256.Size, sha256.New)

	cbindInput := c.gs2Header()
	channelBinding := base64.StdEncoding.EncodeToString([]byte(cbindInput))
	if c.channelBindingData != nil {
		channelBinding = base64.StdEncoding.EncodeToString(append([]byte(cbindInput), c.channelBindingData...))
	}

	clientFinalMessageWithoutProof := fmt.Sprintf("c=%s,r=%s", channelBinding, c.serverNonce)

	c.authMessage = strings.Join([]string{
		c.clientFirstMessageBare,
		serverFirstMessage,
		clientFinalMessageWithoutProof,
	}, ",")

	clientKey := hmacSHA256(c.saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSHA256(storedKey[:], []byte(c.authMessage))

	clientProof := make([]byte, len(clientKey))
	for i := range clientKey {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}

	final := fmt.Sprintf("%s,p=%s", clientFinalMessageWithoutProof, base64.StdEncoding.EncodeToString(clientProof))
	return final, nil
}

// HandleServerFinalMessage validates the server's server-final-message
// (its "v=" ServerSignature) against the expected value, proving the server
// actually knows the stored key rather than just relaying our own proof.
func (c *Client) HandleServerFinalMessage(serverFinalMessage string) error {
	attrs, err := parseAttributes(serverFinalMessage)
	if err != nil {
		return err
	}

	if errVal, ok := attrs['e']; ok {
		return fmt.Errorf("scram: server reported error: %s", errVal)
	}

	sigB64, ok := attrs['v']
	if !ok {
		return fmt.Errorf("scram: server-final-message missing signature")
	}
	gotSig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("scram: decode server signature: %w", err)
	}

	serverKey := hmacSHA256(c.saltedPassword, []byte("Server Key"))
	expectedSig := hmacSHA256(serverKey, []byte(c.authMessage))

	if !hmac.Equal(gotSig, expectedSig) {
		return fmt.Errorf("scram: server signature mismatch")
	}

	return nil
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// parseAttributes splits a SCRAM message of the form "k=v,k=v,..." into a
// map keyed by the single-letter attribute name.
func parseAttributes(msg string) (map[byte]string, error) {
	attrs := map[byte]string{}
	for _, part := range strings.Split(msg, ",") {
		if len(part) < 2 || part[1] != '=' {
			return nil, fmt.Errorf("scram: malformed attribute %q", part)
		}
		attrs[part[0]] = part[2:]
	}
	return attrs, nil
}
