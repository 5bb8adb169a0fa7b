package pgconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pgwire/pgconn/internal/buffer"
	"github.com/pgwire/pgconn/internal/types"
)

// sslResponse is the single byte the backend sends in reply to an SSLRequest:
// 'S' to proceed with a TLS handshake, 'N' to continue in cleartext.
type sslResponse byte

const (
	sslAccepted sslResponse = 'S'
	sslRejected sslResponse = 'N'
)

// transport wraps a single dialed net.Conn with the buffered reader/writer
// pair the rest of the driver reads and writes wire messages through. It is
// the client-side counterpart of C1 Byte Transport: framing is symmetric
// with the backend's own framing, only the direction of the messages that
// cross it differs.
type transport struct {
	logger *slog.Logger
	conn   net.Conn
	reader *buffer.Reader
	writer *buffer.Writer

	bufferSize int
}

// dial opens the TCP connection to host:port, applying cfg.ConnectTimeout as
// a dial deadline. Unix domain sockets are supported when host begins with
// "/", matching libpq's convention for a directory holding .s.PGSQL.<port>.
func dial(ctx context.Context, logger *slog.Logger, host Host, cfg *Config) (*transport, error) {
	network := "tcp"
	addr := fmt.Sprintf("%s:%d", host.Host, host.Port)

	if len(host.Host) > 0 && host.Host[0] == '/' {
		network = "unix"
		addr = fmt.Sprintf("%s/.s.PGSQL.%d", host.Host, host.Port)
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("pgconn: dial %s: %w", addr, err)
	}

	t := &transport{
		logger:     logger,
		conn:       conn,
		bufferSize: buffer.DefaultBufferSize,
	}
	t.rewrap()

	return t, nil
}

// rewrap (re)builds the buffered reader/writer around t.conn, used both at
// construction and after a TLS upgrade swaps the underlying net.Conn.
func (t *transport) rewrap() {
	t.reader = buffer.NewReader(t.logger, t.conn, t.bufferSize)
	t.writer = buffer.NewWriter(t.logger, t.conn)
}

// negotiateTLS performs the client side of the SSLRequest exchange described
// in spec.md C3: send the untagged SSLRequest, read the single-byte
// response, and on acceptance perform a TLS client handshake over the raw
// socket before any further protocol bytes are exchanged. An SSLMode of
// disable skips this exchange entirely; require/verify-ca/verify-full treat
// a rejection as fatal, while allow/prefer fall back to cleartext.
func (t *transport) negotiateTLS(ctx context.Context, cfg *Config, hostname string) error {
	if cfg.SSLMode == SSLDisable {
		return nil
	}

	t.writer.StartUntyped()
	t.writer.AddInt32(int32(types.VersionSSLRequest))
	if err := t.writer.End(); err != nil {
		return fmt.Errorf("pgconn: write SSLRequest: %w", err)
	}

	resp, err := t.reader.Buffer.ReadByte()
	if err != nil {
		return fmt.Errorf("pgconn: read SSLRequest response: %w", err)
	}

	switch sslResponse(resp) {
	case sslRejected:
		if requiresTLS(cfg.SSLMode) {
			return fmt.Errorf("pgconn: server rejected TLS but sslmode=%s requires it", cfg.SSLMode)
		}
		return nil
	case sslAccepted:
		tlsConfig := cfg.TLSConfig
		if tlsConfig == nil {
			tlsConfig = defaultTLSConfig(cfg, hostname)
		}

		tlsConn := tls.Client(t.conn, tlsConfig)
		if dl, ok := ctx.Deadline(); ok {
			_ = tlsConn.SetDeadline(dl)
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("pgconn: TLS handshake: %w", err)
		}
		_ = tlsConn.SetDeadline(time.Time{})

		t.conn = tlsConn
		t.rewrap()
		return nil
	default:
		return fmt.Errorf("pgconn: unexpected SSLRequest response byte %q", resp)
	}
}

func requiresTLS(mode SSLMode) bool {
	switch mode {
	case SSLRequire, SSLVerifyCA, SSLVerifyFull:
		return true
	default:
		return false
	}
}

func defaultTLSConfig(cfg *Config, hostname string) *tls.Config {
	tc := &tls.Config{ServerName: hostname}

	switch cfg.SSLMode {
	case SSLAllow, SSLPrefer, SSLRequire:
		tc.InsecureSkipVerify = true
	case SSLVerifyCA:
		tc.InsecureSkipVerify = true
		tc.VerifyPeerCertificate = verifyChainIgnoringHostname(tc)
	case SSLVerifyFull:
		// default verification: hostname + chain
	}

	return tc
}

// setDeadline applies a read/write deadline derived from ctx (if it carries
// one) or cfg.SocketTimeout (if nonzero) to the underlying connection. Used
// to implement cooperative cancellation: a blocked read can be interrupted
// by moving the deadline into the past.
func (t *transport) setDeadline(ctx context.Context, socketTimeout time.Duration) error {
	if dl, ok := ctx.Deadline(); ok {
		return t.conn.SetDeadline(dl)
	}

	if socketTimeout > 0 {
		return t.conn.SetDeadline(time.Now().Add(socketTimeout))
	}

	return t.conn.SetDeadline(time.Time{})
}

// interrupt forces any in-flight read/write on this transport to return
// immediately with a timeout error, by moving the deadline into the past.
// Used by Session cancellation (spec.md C6) to unblock a goroutine stuck
// reading a long-running query's result stream once the out-of-band
// CancelRequest has been sent on a separate connection.
func (t *transport) interrupt() error {
	return t.conn.SetDeadline(time.Now().Add(-time.Second))
}

func (t *transport) Close() error {
	return t.conn.Close()
}

func (t *transport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
