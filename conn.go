package pgconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pgwire/pgconn/internal/types"
)

// Conn is a single logical connection to a PostgreSQL backend: one dialed
// transport, the session/transaction state it has accumulated, and the
// statement/portal caches scoped to its lifetime. It presents the
// synchronous, serial contract described in spec.md §5: at most one
// operation is ever in flight on a Conn, enforced by resourceLock.
//
// Grounded on the teacher's Server/Session pairing in server.go (a
// connection-scoped struct holding the dialed socket, the negotiated
// parameters, and per-session state), inverted from "accepted" to "dialed".
type Conn struct {
	cfg    *Config
	logger *slog.Logger

	host       Host
	transport  *transport
	backendKey backendKeyData

	session       *Session
	stmtCache     *statementCache
	usage         *usageCounter
	portals       *portalCache
	binOids       *BinaryOidPolicy
	notifications *notificationQueue

	lock *resourceLock

	cleanupSentinel *cleanupSentinel

	mu       sync.Mutex
	closed   bool
	closeErr error
}

// Connect dials one of cfg.Hosts (ordered by TargetServerType preference,
// consulting the process-wide host-status cache), performs the TLS
// negotiation, StartupMessage/authentication handshake, and drains startup
// messages up to the first ReadyForQuery, returning a ready-to-use Conn.
//
// Every host is tried in order; a dial, TLS, or authentication failure on
// one host moves on to the next, per spec.md §9's multi-host fallback. The
// last error encountered is returned if every host fails.
func Connect(ctx context.Context, cfg *Config) (*Conn, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("pgconn: no hosts configured")
	}

	// The connection keeps this copy, so later changes to the caller's
	// Config do not reach it.
	cfgCopy := *cfg
	cfg = &cfgCopy

	logger := slog.Default()

	hosts := orderHostsForTarget(cfg.Hosts, cfg.TargetServerType, cfg.HostRecheckPeriod)

	var lastErr error
	for _, host := range hosts {
		c, err := connectHost(ctx, logger, host, cfg)
		if err != nil {
			lastErr = err
			continue
		}

		role := rolePrimary
		if c.session.readOnlyServer() {
			role = roleSecondary
		}
		globalHostStatusCache.set(host, role)

		if !matchesTarget(role, cfg.TargetServerType) &&
			cfg.TargetServerType != TargetPreferPrimary && cfg.TargetServerType != TargetPreferSecondary {
			lastErr = fmt.Errorf("pgconn: host %s:%d is not a %s", host.Host, host.Port, cfg.TargetServerType)
			_ = c.transport.Close()
			continue
		}

		return c, nil
	}

	return nil, fmt.Errorf("pgconn: could not connect to any host: %w", lastErr)
}

func connectHost(ctx context.Context, logger *slog.Logger, host Host, cfg *Config) (*Conn, error) {
	t, err := dial(ctx, logger, host, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.SSLMode != SSLDisable {
		if err := t.negotiateTLS(ctx, cfg, host.Host); err != nil {
			_ = t.Close()
			return nil, err
		}
	}

	if err := t.sendStartup(cfg); err != nil {
		_ = t.Close()
		return nil, err
	}

	var tlsState *tls.ConnectionState
	if tc, ok := t.conn.(*tls.Conn); ok {
		s := tc.ConnectionState()
		tlsState = &s
	}
	if err := t.authenticate(cfg, tlsState); err != nil {
		_ = t.Close()
		return nil, err
	}

	result, err := t.drainStartup(ctx)
	if err != nil {
		_ = t.Close()
		return nil, err
	}

	session := newSession(cfg)
	for k, v := range result.Parameters {
		session.recordParameterStatus(k, v)
	}
	session.applyReadyForQuery(result.TxStatus)

	c := &Conn{
		cfg:           cfg,
		logger:        logger,
		host:          host,
		transport:     t,
		backendKey:    result.BackendKey,
		session:       session,
		stmtCache:     newStatementCache(cfg.PreparedStatementCacheQueries, cfg.PreparedStatementCacheSizeMiB),
		usage:         newUsageCounter(),
		portals:       newPortalCache(),
		binOids:       NewBinaryOidPolicy(cfg),
		notifications: newNotificationQueue(256),
		lock:          newResourceLock(),
	}

	globalCleaner.track(c, t)

	return c, nil
}

// readOnlyServer reports whether the server announced
// default_transaction_read_only=on in a ParameterStatus message. Connect
// classifies such a host as secondary and every other host as primary. No
// `SHOW transaction_read_only` round trip is made, so a server that does not
// report the parameter is classified as primary.
func (s *Session) readOnlyServer() bool {
	v, ok := s.Parameter("default_transaction_read_only")
	return ok && v == "on"
}

// Close terminates the connection: it sends Terminate (best-effort, errors
// ignored since the socket is going away regardless), closes the transport,
// and disarms the leak-detector finalizer.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.lock.Acquire()
	defer c.lock.Release()

	c.transport.writer.Start(types.FrontendTerminate)
	_ = c.transport.writer.End()

	globalCleaner.untrack(c)
	return c.transport.Close()
}

// fail marks the connection permanently unusable and closes its transport.
// Per spec.md §7, a communication-layer failure (I/O error, protocol
// violation, unexpected message) is terminal: every subsequent call on this
// Conn returns a wrapped form of the same error instead of attempting
// further I/O on a socket whose framing state can no longer be trusted.
func (c *Conn) fail(err error) error {
	c.mu.Lock()
	if c.closed {
		stored := c.closeErr
		c.mu.Unlock()
		if stored != nil {
			return stored
		}
		return err
	}
	c.closed = true
	c.closeErr = fmt.Errorf("pgconn: connection closed after protocol error: %w", err)
	c.mu.Unlock()

	globalCleaner.untrack(c)
	_ = c.transport.Close()

	return err
}

// IsClosed reports whether the connection has been closed, either
// explicitly via Close or permanently failed via a communication error.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Session exposes the connection's transaction/parameter state.
func (c *Conn) Session() *Session { return c.session }

// BackendProcessID returns the process ID the server assigned this
// connection, the same value used in CancelRequest.
func (c *Conn) BackendProcessID() int32 { return c.backendKey.ProcessID }
