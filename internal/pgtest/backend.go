// Package pgtest provides a minimal in-process fake PostgreSQL backend for
// testing the driver's wire-level behavior without a real server. It plays
// the opposite role of the teacher's own pkg/mock (which fakes a client
// talking to the teacher's server): this package fakes the server a client
// under test dials into, over a net.Pipe rather than a real socket.
package pgtest

import (
	"log/slog"
	"net"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/pgwire/pgconn/internal/buffer"
	"github.com/pgwire/pgconn/internal/types"
)

// Backend is one end of an in-memory pipe impersonating a PostgreSQL
// server. ClientConn is the other end, handed to whatever dials the driver
// under test; Backend reads FrontendMessages and writes BackendMessages on
// its own end.
type Backend struct {
	t testing.TB

	ClientConn net.Conn

	conn   net.Conn
	reader *buffer.Reader
	writer *buffer.Writer
	logger *slog.Logger
}

// NewBackend constructs a connected pair of net.Conn endpoints and returns
// the server-side Backend; ClientConn is the endpoint a test should dial
// the driver against (e.g. by substituting it for transport.conn, or by
// running the handshake helpers directly against ClientConn).
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	server, client := net.Pipe()
	logger := slogt.New(t)

	return &Backend{
		t:          t,
		ClientConn: client,
		conn:       server,
		reader:     buffer.NewReader(logger, server, buffer.DefaultBufferSize),
		writer:     buffer.NewWriter(logger, server),
		logger:     logger,
	}
}

// Close closes both ends of the pipe.
func (b *Backend) Close() {
	_ = b.conn.Close()
	_ = b.ClientConn.Close()
}

// ReadTypedMsg reads the next frontend message's tag and body length,
// leaving the body available to be consumed via the Get* helpers below.
func (b *Backend) ReadTypedMsg() types.FrontendMessage {
	b.t.Helper()
	tag, _, err := b.reader.ReadTypedMsg()
	if err != nil {
		b.t.Fatalf("pgtest: reading frontend message: %v", err)
	}
	return types.FrontendMessage(tag)
}

// GetString reads a NUL-terminated string from the current message body.
func (b *Backend) GetString() string {
	b.t.Helper()
	s, err := b.reader.GetString()
	if err != nil {
		b.t.Fatalf("pgtest: reading string: %v", err)
	}
	return s
}

// GetInt32 reads a signed 32-bit integer from the current message body.
func (b *Backend) GetInt32() int32 {
	b.t.Helper()
	n, err := b.reader.GetInt32()
	if err != nil {
		b.t.Fatalf("pgtest: reading int32: %v", err)
	}
	return n
}

// GetByte reads a single byte from the current message body (e.g. the
// Describe/Close target byte, 'S' or 'P').
func (b *Backend) GetByte() byte {
	b.t.Helper()
	v, err := b.reader.GetByte()
	if err != nil {
		b.t.Fatalf("pgtest: reading byte: %v", err)
	}
	return v
}

// GetInt16 reads a signed 16-bit integer from the current message body.
func (b *Backend) GetInt16() int16 {
	b.t.Helper()
	n, err := b.reader.GetInt16()
	if err != nil {
		b.t.Fatalf("pgtest: reading int16: %v", err)
	}
	return n
}

// GetRemaining slurps the rest of the current message body.
func (b *Backend) GetRemaining() []byte {
	return b.reader.GetRemaining()
}

// GetBytes reads exactly n raw bytes from the current message body.
func (b *Backend) GetBytes(n int) []byte {
	b.t.Helper()
	v, err := b.reader.GetBytes(n)
	if err != nil {
		b.t.Fatalf("pgtest: reading %d bytes: %v", n, err)
	}
	return v
}

// write starts a tagged message, lets build append its payload, and ends
// (flushes) it, failing the test on any I/O error.
func (b *Backend) write(tag types.BackendMessage, build func(*buffer.Writer)) {
	b.t.Helper()
	b.writer.Start(tag)
	if build != nil {
		build(b.writer)
	}
	if err := b.writer.End(); err != nil {
		b.t.Fatalf("pgtest: writing %s: %v", tag, err)
	}
}

// SendAuthenticationOK writes AuthenticationOk (code 0).
func (b *Backend) SendAuthenticationOK() {
	b.write(types.BackendAuth, func(w *buffer.Writer) { w.AddInt32(int32(types.AuthOK)) })
}

// SendAuthenticationCleartextPassword writes AuthenticationCleartextPassword.
func (b *Backend) SendAuthenticationCleartextPassword() {
	b.write(types.BackendAuth, func(w *buffer.Writer) { w.AddInt32(int32(types.AuthCleartextPassword)) })
}

// SendAuthenticationMD5Password writes AuthenticationMD5Password with the
// given 4-byte salt.
func (b *Backend) SendAuthenticationMD5Password(salt [4]byte) {
	b.write(types.BackendAuth, func(w *buffer.Writer) {
		w.AddInt32(int32(types.AuthMD5Password))
		w.AddBytes(salt[:])
	})
}

// SendAuthenticationSASL writes AuthenticationSASL advertising the given
// mechanism names.
func (b *Backend) SendAuthenticationSASL(mechanisms ...string) {
	b.write(types.BackendAuth, func(w *buffer.Writer) {
		w.AddInt32(int32(types.AuthSASL))
		for _, m := range mechanisms {
			w.AddCString(m)
		}
		w.AddNullTerminate()
	})
}

// SendAuthenticationSASLContinue writes AuthenticationSASLContinue with the
// given raw continuation payload.
func (b *Backend) SendAuthenticationSASLContinue(payload []byte) {
	b.write(types.BackendAuth, func(w *buffer.Writer) {
		w.AddInt32(int32(types.AuthSASLContinue))
		w.AddBytes(payload)
	})
}

// SendAuthenticationSASLFinal writes AuthenticationSASLFinal with the given
// raw final payload.
func (b *Backend) SendAuthenticationSASLFinal(payload []byte) {
	b.write(types.BackendAuth, func(w *buffer.Writer) {
		w.AddInt32(int32(types.AuthSASLFinal))
		w.AddBytes(payload)
	})
}

// SendAuthenticationGSS writes AuthenticationGSS (code 7), the initial
// challenge with no token attached.
func (b *Backend) SendAuthenticationGSS() {
	b.write(types.BackendAuth, func(w *buffer.Writer) { w.AddInt32(int32(types.AuthGSS)) })
}

// SendAuthenticationGSSContinue writes AuthenticationGSSContinue with the
// given continuation token.
func (b *Backend) SendAuthenticationGSSContinue(token []byte) {
	b.write(types.BackendAuth, func(w *buffer.Writer) {
		w.AddInt32(int32(types.AuthGSSContinue))
		w.AddBytes(token)
	})
}

// SendBackendKeyData writes BackendKeyData.
func (b *Backend) SendBackendKeyData(processID, secretKey int32) {
	b.write(types.BackendBackendKeyData, func(w *buffer.Writer) {
		w.AddInt32(processID)
		w.AddInt32(secretKey)
	})
}

// SendParameterStatus writes one ParameterStatus message.
func (b *Backend) SendParameterStatus(name, value string) {
	b.write(types.BackendParameterStatus, func(w *buffer.Writer) {
		w.AddCString(name)
		w.AddCString(value)
	})
}

// SendReadyForQuery writes ReadyForQuery with the given transaction status
// byte ('I', 'T', or 'E').
func (b *Backend) SendReadyForQuery(status types.TransactionStatus) {
	b.write(types.BackendReady, func(w *buffer.Writer) { w.AddByte(byte(status)) })
}

// SendErrorResponse writes an ErrorResponse from a tag->value field map,
// e.g. {"S": "ERROR", "C": "42601", "M": "syntax error"}.
func (b *Backend) SendErrorResponse(fields map[string]string) {
	b.write(types.BackendErrorResponse, func(w *buffer.Writer) { writeNoticeFields(w, fields) })
}

// SendNoticeResponse writes a NoticeResponse from a tag->value field map.
func (b *Backend) SendNoticeResponse(fields map[string]string) {
	b.write(types.BackendNoticeResponse, func(w *buffer.Writer) { writeNoticeFields(w, fields) })
}

func writeNoticeFields(w *buffer.Writer, fields map[string]string) {
	for tag, val := range fields {
		w.AddByte(tag[0])
		w.AddCString(val)
	}
	w.AddByte(0)
}

// FieldSpec describes one RowDescription column for SendRowDescription.
type FieldSpec struct {
	Name        string
	TableOid    uint32
	AttrNumber  int16
	TypeOid     uint32
	TypeSize    int16
	TypeMod     int32
	Format      int16
}

// SendRowDescription writes a RowDescription message.
func (b *Backend) SendRowDescription(fields []FieldSpec) {
	b.write(types.BackendRowDescription, func(w *buffer.Writer) {
		w.AddInt16(int16(len(fields)))
		for _, f := range fields {
			w.AddCString(f.Name)
			w.AddInt32(int32(f.TableOid))
			w.AddInt16(f.AttrNumber)
			w.AddInt32(int32(f.TypeOid))
			w.AddInt16(f.TypeSize)
			w.AddInt32(f.TypeMod)
			w.AddInt16(f.Format)
		}
	})
}

// SendDataRow writes a DataRow message. A nil entry in values encodes SQL
// NULL (length -1).
func (b *Backend) SendDataRow(values [][]byte) {
	b.write(types.BackendDataRow, func(w *buffer.Writer) {
		w.AddInt16(int16(len(values)))
		for _, v := range values {
			if v == nil {
				w.AddInt32(-1)
				continue
			}
			w.AddInt32(int32(len(v)))
			w.AddBytes(v)
		}
	})
}

// SendCommandComplete writes a CommandComplete message with the given tag,
// e.g. "SELECT 3" or "INSERT 0 1".
func (b *Backend) SendCommandComplete(tag string) {
	b.write(types.BackendCommandComplete, func(w *buffer.Writer) { w.AddCString(tag) })
}

// SendEmptyQueryResponse writes EmptyQueryResponse.
func (b *Backend) SendEmptyQueryResponse() {
	b.write(types.BackendEmptyQuery, nil)
}

// SendParseComplete writes ParseComplete.
func (b *Backend) SendParseComplete() { b.write(types.BackendParseComplete, nil) }

// SendBindComplete writes BindComplete.
func (b *Backend) SendBindComplete() { b.write(types.BackendBindComplete, nil) }

// SendCloseComplete writes CloseComplete.
func (b *Backend) SendCloseComplete() { b.write(types.BackendCloseComplete, nil) }

// SendNoData writes NoData.
func (b *Backend) SendNoData() { b.write(types.BackendNoData, nil) }

// SendPortalSuspended writes PortalSuspended.
func (b *Backend) SendPortalSuspended() { b.write(types.BackendPortalSuspended, nil) }

// SendParameterDescription writes ParameterDescription for the given param
// type Oids.
func (b *Backend) SendParameterDescription(oids []uint32) {
	b.write(types.BackendParameterDescription, func(w *buffer.Writer) {
		w.AddInt16(int16(len(oids)))
		for _, o := range oids {
			w.AddInt32(int32(o))
		}
	})
}

// SendNotificationResponse writes NotificationResponse.
func (b *Backend) SendNotificationResponse(pid int32, channel, payload string) {
	b.write(types.BackendNotificationResponse, func(w *buffer.Writer) {
		w.AddInt32(pid)
		w.AddCString(channel)
		w.AddCString(payload)
	})
}

// HandshakeSimple performs a no-auth startup handshake: reads the
// StartupMessage (ignoring its contents), sends AuthenticationOk, a small
// default set of ParameterStatus messages, BackendKeyData, and a final
// ReadyForQuery('I'). Tests that need a specific auth exchange should drive
// the Send* helpers directly instead.
func (b *Backend) HandshakeSimple(processID, secretKey int32) {
	b.t.Helper()

	// StartupMessage is untagged: a bare length-prefixed body, not a
	// ReadTypedMsg-shaped message. Read and discard it.
	lenBuf := make([]byte, 4)
	if _, err := readFull(b.conn, lenBuf); err != nil {
		b.t.Fatalf("pgtest: reading startup length: %v", err)
	}
	length := int32(lenBuf[0])<<24 | int32(lenBuf[1])<<16 | int32(lenBuf[2])<<8 | int32(lenBuf[3])
	rest := make([]byte, length-4)
	if _, err := readFull(b.conn, rest); err != nil {
		b.t.Fatalf("pgtest: reading startup body: %v", err)
	}

	b.SendAuthenticationOK()
	b.SendParameterStatus("server_version", "15.4")
	b.SendParameterStatus("server_encoding", "UTF8")
	b.SendParameterStatus("client_encoding", "UTF8")
	b.SendParameterStatus("standard_conforming_strings", "on")
	b.SendParameterStatus("integer_datetimes", "on")
	b.SendBackendKeyData(processID, secretKey)
	b.SendReadyForQuery(types.TxIdle)
}

// ReadRawBytes reads len(buf) raw bytes directly off the pipe, bypassing the
// tagged-message framing ReadTypedMsg expects. Used for the one message with
// no type byte at all: StartupMessage.
func (b *Backend) ReadRawBytes(buf []byte) error {
	_, err := readFull(b.conn, buf)
	return err
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
