package pgconn

import (
	"context"
	"fmt"

	"github.com/pgwire/pgconn/internal/types"
)

// FetchMore continues a portal previously retained by ExtendedQuery/Execute
// (spec.md's Server cursor streaming: "the caller may re-issue
// Execute(portal, fetchSize) + Sync to continue"). A fetchSize of 0 reuses
// the fetch size the portal was opened with.
func (c *Conn) FetchMore(ctx context.Context, portalName string, fetchSize int, onResult func(*ResultReader)) error {
	p, ok := c.portals.get(portalName)
	if !ok || !p.suspended {
		return fmt.Errorf("pgconn: no suspended portal named %q", portalName)
	}

	gen := c.lock.Acquire()
	defer c.lock.Release()

	if err := c.transport.setDeadline(ctx, c.cfg.SocketTimeout); err != nil {
		return err
	}

	if fetchSize == 0 {
		fetchSize = p.fetchSize
	}

	if err := c.writeExecute(portalName, fetchSize); err != nil {
		return c.fail(err)
	}
	c.transport.writer.Start(types.FrontendSync)
	if err := c.transport.writer.End(); err != nil {
		return c.fail(err)
	}

	p.suspended = false
	return c.extendedReplyLoop(gen, p.stmt, false, 1, p, onResult)
}

// ClosePortal aborts a suspended portal (spec.md's "Close(portal) to
// abort"), issuing Close(portal)+Sync and removing it from the local
// tracking table.
func (c *Conn) ClosePortal(ctx context.Context, portalName string) error {
	gen := c.lock.Acquire()
	defer c.lock.Release()
	_ = gen

	if err := c.transport.setDeadline(ctx, c.cfg.SocketTimeout); err != nil {
		return err
	}

	c.transport.writer.Start(types.FrontendClose)
	c.transport.writer.AddByte('P')
	c.transport.writer.AddCString(portalName)
	if err := c.transport.writer.End(); err != nil {
		return c.fail(err)
	}

	c.transport.writer.Start(types.FrontendSync)
	if err := c.transport.writer.End(); err != nil {
		return c.fail(err)
	}

	c.portals.remove(portalName)

	for {
		tag, _, err := c.transport.reader.ReadTypedMsg()
		if err != nil {
			return c.fail(err)
		}
		switch tag {
		case types.BackendCloseComplete:
		case types.BackendReady:
			status, err := c.transport.reader.GetByte()
			if err != nil {
				return c.fail(err)
			}
			c.session.applyReadyForQuery(types.TransactionStatus(status))
			return nil
		case types.BackendErrorResponse:
			pgErr, err := decodeErrorResponse(c.transport.reader)
			if err != nil {
				return c.fail(err)
			}
			return pgErr
		default:
			return c.fail(fmt.Errorf("pgconn: unexpected message %s closing portal", tag))
		}
	}
}
