package scram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

// fakeServer implements just enough of the server side of RFC 5802 to drive
// Client through a full exchange without a real PostgreSQL backend. It knows
// the password directly (as a test-only backend would via pg_authid), not
// just the stored key, since its only job is to validate the client math.
type fakeServer struct {
	username string
	password string

	nonce string
	salt  []byte
	iters int

	clientFirstMessageBare string
	authMessage            string
}

func newFakeServer(username, password string) *fakeServer {
	return &fakeServer{
		username: username,
		password: password,
		nonce:    "servernonce1234",
		salt:     []byte("testsalt"),
		iters:    4096,
	}
}

func (s *fakeServer) firstMessage(clientFirstMessage string) string {
	gs2End := strings.Index(clientFirstMessage, "n=")
	s.clientFirstMessageBare = clientFirstMessage[gs2End:]

	attrs := mustParseAttributes(s.clientFirstMessageBare)
	combinedNonce := attrs['r'] + s.nonce

	msg := fmt.Sprintf("r=%s,s=%s,i=%d", combinedNonce, base64.StdEncoding.EncodeToString(s.salt), s.iters)
	s.nonce = combinedNonce
	return msg
}

func (s *fakeServer) finalMessage(clientFinalMessage, serverFirstMessage string) (string, error) {
	attrs := mustParseAttributes(clientFinalMessage)
	if attrs['r'] != s.nonce {
		return "", fmt.Errorf("nonce mismatch: got %q want %q", attrs['r'], s.nonce)
	}

	withoutProof := clientFinalMessage[:strings.LastIndex(clientFinalMessage, ",p=")]
	authMessage := strings.Join([]string{s.clientFirstMessageBare, serverFirstMessage, withoutProof}, ",")

	saltedPassword := pbkdf2.Key([]byte(s.password), s.salt, s.iters, sha256.Size, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSHA256(storedKey[:], []byte(authMessage))

	gotProof, err := base64.StdEncoding.DecodeString(attrs['p'])
	if err != nil {
		return "", err
	}
	recoveredClientKey := make([]byte, len(gotProof))
	for i := range gotProof {
		recoveredClientKey[i] = gotProof[i] ^ clientSignature[i]
	}
	recoveredStoredKey := sha256.Sum256(recoveredClientKey)
	if !hmac.Equal(recoveredStoredKey[:], storedKey[:]) {
		return "", fmt.Errorf("client proof does not verify against stored key")
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	serverSignature := hmacSHA256(serverKey, []byte(authMessage))
	return "v=" + base64.StdEncoding.EncodeToString(serverSignature), nil
}

func mustParseAttributes(msg string) map[byte]string {
	attrs, err := parseAttributes(msg)
	if err != nil {
		panic(err)
	}
	return attrs
}

func TestClientFullExchangeSucceedsWithCorrectPassword(t *testing.T) {
	client, err := NewClient("alice", "correct horse battery staple", false, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	server := newFakeServer("alice", "correct horse battery staple")

	first := client.ClientFirstMessage()
	serverFirst := server.firstMessage(first)

	final, err := client.HandleServerFirstMessage(serverFirst)
	if err != nil {
		t.Fatalf("HandleServerFirstMessage: %v", err)
	}

	serverFinal, err := server.finalMessage(final, serverFirst)
	if err != nil {
		t.Fatalf("server rejected client proof: %v", err)
	}

	if err := client.HandleServerFinalMessage(serverFinal); err != nil {
		t.Fatalf("HandleServerFinalMessage: %v", err)
	}
}

func TestClientFullExchangeFailsWithWrongPassword(t *testing.T) {
	client, err := NewClient("alice", "wrong password", false, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	server := newFakeServer("alice", "correct horse battery staple")

	first := client.ClientFirstMessage()
	serverFirst := server.firstMessage(first)

	final, err := client.HandleServerFirstMessage(serverFirst)
	if err != nil {
		t.Fatalf("HandleServerFirstMessage: %v", err)
	}

	if _, err := server.finalMessage(final, serverFirst); err == nil {
		t.Fatalf("expected the server to reject a client proof derived from the wrong password")
	}
}

func TestHandleServerFirstMessageRejectsNonExtendingNonce(t *testing.T) {
	client, err := NewClient("alice", "pw", false, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.ClientFirstMessage()

	_, err = client.HandleServerFirstMessage("r=totallydifferentnonce,s=c2FsdA==,i=4096")
	if err == nil {
		t.Fatalf("expected an error when the server nonce doesn't extend the client nonce")
	}
}

func TestHandleServerFinalMessageRejectsWrongSignature(t *testing.T) {
	client, err := NewClient("alice", "pw", false, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	first := client.ClientFirstMessage()
	server := newFakeServer("alice", "pw")
	serverFirst := server.firstMessage(first)

	if _, err := client.HandleServerFirstMessage(serverFirst); err != nil {
		t.Fatalf("HandleServerFirstMessage: %v", err)
	}

	err = client.HandleServerFinalMessage("v=" + base64.StdEncoding.EncodeToString([]byte("not the right signature!")))
	if err == nil {
		t.Fatalf("expected a signature mismatch error")
	}
}

func TestHandleServerFinalMessagePropagatesServerError(t *testing.T) {
	client, err := NewClient("alice", "pw", false, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	first := client.ClientFirstMessage()
	server := newFakeServer("alice", "pw")
	serverFirst := server.firstMessage(first)
	if _, err := client.HandleServerFirstMessage(serverFirst); err != nil {
		t.Fatalf("HandleServerFirstMessage: %v", err)
	}

	err = client.HandleServerFinalMessage("e=invalid-proof")
	if err == nil {
		t.Fatalf("expected the server-reported error to propagate")
	}
}

func TestClientFirstMessageChannelBindingHeader(t *testing.T) {
	noTLS, err := NewClient("alice", "pw", false, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if got := noTLS.ClientFirstMessage(); !strings.HasPrefix(got, "n,,n=") {
		t.Fatalf("expected a no-TLS client to advertise n,, (no channel to bind to), got %q", got)
	}

	tlsWithoutPlus, err := NewClient("alice", "pw", true, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if got := tlsWithoutPlus.ClientFirstMessage(); !strings.HasPrefix(got, "y,,n=") {
		t.Fatalf("expected a TLS client without -PLUS to advertise y,, (downgrade guard), got %q", got)
	}

	bound, err := NewClient("alice", "pw", true, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if got := bound.ClientFirstMessage(); !strings.HasPrefix(got, "p=tls-server-end-point,,n=") {
		t.Fatalf("expected channel-bound client to advertise p=tls-server-end-point, got %q", got)
	}
}
