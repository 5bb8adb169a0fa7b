package pgconn

import (
	"log/slog"
	"runtime"
	"sync"
)

// connCleaner is the single process-wide leak detector described in
// spec.md §9: "a single process-wide cleaner registers a weak handle per
// connection and closes the underlying transport when the handle becomes
// unreachable." Implemented with runtime.SetFinalizer rather than a true
// weak pointer (this module targets go1.21, before the runtime/weak
// package existed) — a finalizer on the Conn itself would keep it
// perpetually reachable, so the finalizer is instead attached to a small
// sentinel value that owns nothing but a reference to the resources that
// need closing, and whose only strong reference comes from the Conn it
// shadows. Once the Conn becomes unreachable, so does the sentinel, and the
// finalizer fires.
type connCleaner struct {
	mu     sync.Mutex
	logger *slog.Logger
}

var globalCleaner = &connCleaner{logger: slog.Default()}

type cleanupSentinel struct {
	transport *transport
	logger    *slog.Logger
}

// track registers t for finalizer-driven cleanup tied to owner's
// reachability. owner is typically the *Conn; t is closed if owner is
// garbage collected without Conn.Close having run first.
func (c *connCleaner) track(owner *Conn, t *transport) {
	sentinel := &cleanupSentinel{transport: t, logger: c.logger}
	runtime.SetFinalizer(sentinel, func(s *cleanupSentinel) {
		s.logger.Warn("closing leaked connection", slog.String("remote", remoteAddrString(s.transport)))
		_ = s.transport.Close()
	})
	owner.cleanupSentinel = sentinel
}

// untrack disarms the finalizer once the owner has been closed through the
// ordinary path, so a correctly-closed connection never logs a leak
// warning merely because it was later garbage collected.
func (c *connCleaner) untrack(owner *Conn) {
	if owner.cleanupSentinel != nil {
		runtime.SetFinalizer(owner.cleanupSentinel, nil)
		owner.cleanupSentinel = nil
	}
}

func remoteAddrString(t *transport) string {
	if t == nil || t.conn == nil {
		return "unknown"
	}
	addr := t.RemoteAddr()
	if addr == nil {
		return "unknown"
	}
	return addr.String()
}
