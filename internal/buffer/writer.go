package buffer

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/pgwire/pgconn/internal/types"
)

// Writer provides a convenient way to compose and flush frontend pgwire
// protocol messages onto an io.Writer.
type Writer struct {
	io.Writer
	logger  *slog.Logger
	frame   bytes.Buffer
	putbuf  [64]byte
	err     error
	untyped bool
}

// NewWriter constructs a new buffered message writer for the given io.Writer.
func NewWriter(logger *slog.Logger, writer io.Writer) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		logger: logger,
		Writer: writer,
	}
}

// Start resets the frame and begins a new message tagged t. The four
// untagged startup-phase messages (StartupMessage, SSLRequest,
// GSSENCRequest, CancelRequest) are begun with StartUntyped instead.
func (writer *Writer) Start(t types.FrontendMessage) {
	writer.Reset()
	writer.untyped = false
	writer.putbuf[0] = byte(t)
	writer.frame.Write(writer.putbuf[:5]) // message type + reserved length
}

// StartUntyped begins one of the untagged startup-phase messages: only the
// reserved length prefix is written, no tag byte.
func (writer *Writer) StartUntyped() {
	writer.Reset()
	writer.untyped = true
	writer.frame.Write(writer.putbuf[:4])
}

// AddByte writes a single byte to the frame.
func (writer *Writer) AddByte(b byte) {
	if writer.err != nil {
		return
	}

	writer.err = writer.frame.WriteByte(b)
}

// AddInt16 writes a big-endian int16 to the frame.
func (writer *Writer) AddInt16(i int16) (size int) {
	if writer.err != nil {
		return size
	}

	var x [2]byte
	binary.BigEndian.PutUint16(x[:], uint16(i))
	size, writer.err = writer.frame.Write(x[:])
	return size
}

// AddInt32 writes a big-endian int32 to the frame.
func (writer *Writer) AddInt32(i int32) (size int) {
	if writer.err != nil {
		return size
	}

	var x [4]byte
	binary.BigEndian.PutUint32(x[:], uint32(i))
	size, writer.err = writer.frame.Write(x[:])
	return size
}

// AddBytes writes the given bytes to the frame verbatim.
func (writer *Writer) AddBytes(b []byte) (size int) {
	if writer.err != nil {
		return size
	}

	size, writer.err = writer.frame.Write(b)
	return size
}

// AddString writes the given string to the frame verbatim (no terminator).
func (writer *Writer) AddString(s string) (size int) {
	if writer.err != nil {
		return size
	}

	size, writer.err = writer.frame.WriteString(s)
	return size
}

// AddCString writes a NUL-terminated string to the frame.
func (writer *Writer) AddCString(s string) {
	writer.AddString(s)
	writer.AddNullTerminate()
}

// AddNullTerminate appends a single NUL byte.
func (writer *Writer) AddNullTerminate() {
	if writer.err != nil {
		return
	}

	writer.err = writer.frame.WriteByte(0)
}

// Error returns the first error encountered while building the current frame.
func (writer *Writer) Error() error {
	return writer.err
}

// Bytes returns the bytes written to the active frame so far.
func (writer *Writer) Bytes() []byte {
	return writer.frame.Bytes()
}

// Reset discards the active frame.
func (writer *Writer) Reset() {
	writer.frame.Reset()
	writer.err = nil
}

// End patches in the final message length and flushes the frame to the
// underlying writer. Tagged frames store the length after the tag byte;
// untagged frames (Start called via StartUntyped) store it at offset 0.
func (writer *Writer) End() error {
	defer writer.Reset()
	if writer.err != nil {
		return writer.err
	}

	raw := writer.frame.Bytes()
	if len(raw) == 0 {
		return nil
	}

	if writer.untyped {
		length := uint32(len(raw))
		binary.BigEndian.PutUint32(raw[0:4], length)
		_, err := writer.Write(raw)
		return err
	}

	length := uint32(len(raw) - 1)
	binary.BigEndian.PutUint32(raw[1:5], length)
	_, err := writer.Write(raw)

	writer.logger.Debug("-> writing message", slog.String("type", types.FrontendMessage(raw[0]).String()))
	return err
}
