package types

// Version represents a connection version presented inside the startup
// packet header.
type Version uint32

// The below constants can occur during the first message sent over a new
// connection. There are two categories: protocol version and request code.
// The protocol version is (major version number << 16) + minor version
// number. Request codes are (1234 << 16) + 5678 + N, where N started at 0
// and is increased by 1 for every new request code added, which happens
// rarely during major or minor Postgres releases.
//
// See: https://www.postgresql.org/docs/current/protocol-message-formats.html
const (
	Version30         Version = 196608   // (3 << 16) + 0
	VersionCancel     Version = 80877102 // (1234 << 16) + 5678
	VersionSSLRequest Version = 80877103 // (1234 << 16) + 5679
	VersionGSSENC     Version = 80877104 // (1234 << 16) + 5680
)

// AuthType represents the `AuthenticationRequest` subtype carried in the
// first int32 of a BackendAuth message.
type AuthType int32

const (
	AuthOK                AuthType = 0
	AuthKerberosV5        AuthType = 2
	AuthCleartextPassword AuthType = 3
	AuthMD5Password       AuthType = 5
	AuthSCMCredential     AuthType = 6
	AuthGSS               AuthType = 7
	AuthGSSContinue       AuthType = 8
	AuthSSPI              AuthType = 9
	AuthSASL              AuthType = 10
	AuthSASLContinue      AuthType = 11
	AuthSASLFinal         AuthType = 12
)

// TransactionStatus is the single byte carried by ReadyForQuery, mirrored
// directly into the session's observable transaction status.
type TransactionStatus byte

const (
	TxIdle               TransactionStatus = 'I'
	TxInTransaction      TransactionStatus = 'T'
	TxInFailedTransaction TransactionStatus = 'E'
)

func (s TransactionStatus) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxInTransaction:
		return "in-transaction"
	case TxInFailedTransaction:
		return "in-failed-transaction"
	default:
		return "unknown"
	}
}
