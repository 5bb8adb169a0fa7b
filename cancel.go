package pgconn

import (
	"context"
	"log/slog"
)

// CancelRequest opens a brand-new transport to the same host the Conn is
// currently connected to, sends CancelRequest(processID, secretKey), and
// closes it — never multiplexed with the main connection, per spec.md §4.6.
// Any failure to open the secondary transport or send the request is
// swallowed: cancellation is inherently best-effort, and a failed cancel
// attempt must never surface as an error on the caller's main connection.
func (c *Conn) CancelRequest(ctx context.Context) {
	host := c.host
	cfg := c.cfg

	t, err := dial(ctx, c.logger, host, cfg)
	if err != nil {
		c.logger.Debug("cancel request: dial failed", slog.Any("err", err))
		return
	}
	defer t.Close()

	if err := t.sendCancelRequest(c.backendKey.ProcessID, c.backendKey.SecretKey); err != nil {
		c.logger.Debug("cancel request: send failed", slog.Any("err", err))
		return
	}

	// The backend closes the connection once it has handled (or rejected)
	// the request; no reply is ever sent, so nothing more is read here.
}

// Cancel is the spec's cancel_query: it issues CancelRequest, then
// interrupts the main transport's blocking read so an in-flight pipeline
// unblocks and observes the resulting ErrorResponse{57014}/ReadyForQuery
// rather than hanging until the server notices the cancellation on its own.
func (c *Conn) Cancel(ctx context.Context) {
	c.CancelRequest(ctx)
	_ = c.transport.interrupt()
}
