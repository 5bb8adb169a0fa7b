package pgconn

import (
	"context"
	"log/slog"
	"testing"

	"github.com/pgwire/pgconn/internal/buffer"
	"github.com/pgwire/pgconn/internal/pgtest"
)

// newTestConn establishes a Conn over pgtest's in-memory fake backend,
// running the no-auth startup handshake on a background goroutine. cfg
// defaults to NewConfig() with SSL disabled when nil.
func newTestConn(t *testing.T, cfg *Config) (*Conn, *pgtest.Backend) {
	t.Helper()

	if cfg == nil {
		cfg = NewConfig()
	}
	cfg.SSLMode = SSLDisable
	cfg.Hosts = []Host{{Host: "test", Port: 5432}}

	backend := pgtest.NewBackend(t)

	type result struct {
		c   *Conn
		err error
	}
	done := make(chan result, 1)

	go func() {
		tr := &transport{conn: backend.ClientConn, bufferSize: buffer.DefaultBufferSize, logger: slog.Default()}
		tr.rewrap()

		if err := tr.sendStartup(cfg); err != nil {
			done <- result{err: err}
			return
		}
		if err := tr.authenticate(cfg, nil); err != nil {
			done <- result{err: err}
			return
		}
		sr, err := tr.drainStartup(context.Background())
		if err != nil {
			done <- result{err: err}
			return
		}

		session := newSession(cfg)
		for k, v := range sr.Parameters {
			session.recordParameterStatus(k, v)
		}
		session.applyReadyForQuery(sr.TxStatus)

		c := &Conn{
			cfg:           cfg,
			logger:        slog.Default(),
			host:          cfg.Hosts[0],
			transport:     tr,
			backendKey:    sr.BackendKey,
			session:       session,
			stmtCache:     newStatementCache(cfg.PreparedStatementCacheQueries, cfg.PreparedStatementCacheSizeMiB),
			usage:         newUsageCounter(),
			portals:       newPortalCache(),
			binOids:       NewBinaryOidPolicy(cfg),
			notifications: newNotificationQueue(256),
			lock:          newResourceLock(),
		}
		done <- result{c: c}
	}()

	backend.HandshakeSimple(4242, 99)

	r := <-done
	if r.err != nil {
		t.Fatalf("establishing test connection: %v", r.err)
	}
	return r.c, backend
}
