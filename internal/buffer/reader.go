package buffer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"unsafe"

	"github.com/pgwire/pgconn/internal/types"
)

// DefaultBufferSize represents the default buffer size whenever the buffer
// size is not set or a negative value is presented.
const DefaultBufferSize = 1 << 16 // 65536 bytes

// BufferedReader extends io.Reader with the convenience methods the codec
// needs on top of the raw byte stream.
type BufferedReader interface {
	io.Reader
	ReadByte() (byte, error)
}

// Reader provides a convenient way to read backend pgwire protocol messages
// off of a buffered byte stream. A Reader is re-used across messages: each
// call to ReadTypedMsg/ReadUntypedMsg overwrites Msg with the new message
// body, reusing the backing array when it has spare capacity.
type Reader struct {
	logger         *slog.Logger
	Buffer         BufferedReader
	Msg            []byte
	MaxMessageSize int
	header         [4]byte
}

// NewReader constructs a new Postgres wire buffer for the given io.Reader.
func NewReader(logger *slog.Logger, reader io.Reader, bufferSize int) *Reader {
	if reader == nil {
		return nil
	}

	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Reader{
		logger:         logger,
		Buffer:         bufio.NewReaderSize(reader, bufferSize),
		MaxMessageSize: bufferSize,
	}
}

// reset sets reader.Msg to exactly size, attempting to use spare capacity at
// the end of the existing slice when possible and allocating a new slice when
// necessary.
func (reader *Reader) reset(size int) {
	if reader.Msg != nil {
		reader.Msg = reader.Msg[len(reader.Msg):]
	}

	if cap(reader.Msg) >= size {
		reader.Msg = reader.Msg[:size]
		return
	}

	allocSize := size
	if allocSize < 4096 {
		allocSize = 4096
	}
	reader.Msg = make([]byte, size, allocSize)
}

// ReadType reads the single-byte backend message tag.
func (reader *Reader) ReadType() (types.BackendMessage, error) {
	b, err := reader.Buffer.ReadByte()
	if err != nil {
		return 0, err
	}

	return types.BackendMessage(b), nil
}

// ReadTypedMsg reads a tagged backend message, returning its type and the
// number of bytes consumed (tag + length prefix + body).
func (reader *Reader) ReadTypedMsg() (types.BackendMessage, int, error) {
	typed, err := reader.ReadType()
	if err != nil {
		return typed, 0, err
	}

	n, err := reader.ReadUntypedMsg()
	if err != nil {
		return 0, 0, err
	}

	return typed, n + 1, nil
}

// Slurp discards size bytes from the stream, in MaxMessageSize chunks, used to
// recover from a message whose declared length exceeded MaxMessageSize.
func (reader *Reader) Slurp(size int) error {
	remaining := size
	for remaining > 0 {
		reading := remaining
		if reading > reader.MaxMessageSize {
			reading = reader.MaxMessageSize
		}

		reader.reset(reading)
		n, err := io.ReadFull(reader.Buffer, reader.Msg)
		if err != nil {
			return err
		}

		remaining -= n
	}

	return nil
}

// ReadMsgSize reads the 4-byte big-endian length prefix of the next message,
// returning the body length (the prefix includes itself, so 4 is subtracted).
func (reader *Reader) ReadMsgSize() (int, error) {
	nread, err := io.ReadFull(reader.Buffer, reader.header[:])
	if err != nil {
		return nread, err
	}

	size := int(binary.BigEndian.Uint32(reader.header[:]))
	size -= 4

	return size, nil
}

// ReadUntypedMsg reads a length-prefixed message with no leading tag byte.
// Only the very first startup-phase messages (and SSL/GSS negotiation) lack a
// tag; ReadTypedMsg is used everywhere else. On success, and when the body
// read fails part-way, the returned count is the header plus the body bytes
// read. When the length prefix cannot be read it is 0, and when the declared
// size exceeds MaxMessageSize it is that declared body size, of which
// nothing has been read.
func (reader *Reader) ReadUntypedMsg() (int, error) {
	size, err := reader.ReadMsgSize()
	if err != nil {
		return 0, err
	}

	if size > reader.MaxMessageSize || size < 0 {
		return size, NewMessageSizeExceeded(reader.MaxMessageSize, size)
	}

	reader.reset(size)
	n, err := io.ReadFull(reader.Buffer, reader.Msg)
	return len(reader.header) + n, err
}

// GetString reads a NUL-terminated string and advances past it.
func (reader *Reader) GetString() (string, error) {
	pos := bytes.IndexByte(reader.Msg, 0)
	if pos == -1 {
		return "", NewMissingNulTerminator()
	}

	// NOTE: this avoids a copy by reinterpreting the read buffer directly as a
	// string. Safe here because the bytes backing reader.Msg are never reused
	// or mutated once handed out this way.
	s := reader.Msg[:pos]
	reader.Msg = reader.Msg[pos+1:]
	return *((*string)(unsafe.Pointer(&s))), nil
}

// GetByte returns the next single byte.
func (reader *Reader) GetByte() (byte, error) {
	if len(reader.Msg) < 1 {
		return 0, NewInsufficientData(len(reader.Msg))
	}

	v := reader.Msg[0]
	reader.Msg = reader.Msg[1:]
	return v, nil
}

// GetBytes returns the next n bytes. A length of -1 is treated as a SQL NULL
// and returns a nil slice, matching the DataRow column-length convention.
func (reader *Reader) GetBytes(n int) ([]byte, error) {
	if n == -1 {
		return nil, nil
	}

	if len(reader.Msg) < n {
		return nil, NewInsufficientData(len(reader.Msg))
	}

	v := reader.Msg[:n]
	reader.Msg = reader.Msg[n:]
	return v, nil
}

// GetRemaining returns (and consumes) whatever remains of the current message.
func (reader *Reader) GetRemaining() []byte {
	v := reader.Msg
	reader.Msg = reader.Msg[len(reader.Msg):]
	return v
}

// GetUint16 returns the next big-endian uint16.
func (reader *Reader) GetUint16() (uint16, error) {
	if len(reader.Msg) < 2 {
		return 0, NewInsufficientData(len(reader.Msg))
	}

	v := binary.BigEndian.Uint16(reader.Msg[:2])
	reader.Msg = reader.Msg[2:]
	return v, nil
}

// GetInt16 returns the next big-endian int16.
func (reader *Reader) GetInt16() (int16, error) {
	v, err := reader.GetUint16()
	return int16(v), err
}

// GetUint32 returns the next big-endian uint32.
func (reader *Reader) GetUint32() (uint32, error) {
	if len(reader.Msg) < 4 {
		return 0, NewInsufficientData(len(reader.Msg))
	}

	v := binary.BigEndian.Uint32(reader.Msg[:4])
	reader.Msg = reader.Msg[4:]
	return v, nil
}

// GetInt32 returns the next big-endian int32.
func (reader *Reader) GetInt32() (int32, error) {
	v, err := reader.GetUint32()
	return int32(v), err
}
