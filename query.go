package pgconn

import (
	"context"
	"fmt"

	"github.com/pgwire/pgconn/codes"
	"github.com/pgwire/pgconn/internal/types"
)

// SimpleQuery executes sql (which may contain multiple `;`-separated
// statements) via the Simple Query flow (spec.md §4.4): a single Query
// message, followed by one {RowDescription, DataRow*,
// CommandComplete|EmptyQueryResponse|ErrorResponse} group per sub-statement,
// terminated by ReadyForQuery. Every group's rows and final CommandTag are
// delivered to onResult before the next group starts.
func (c *Conn) SimpleQuery(ctx context.Context, sql string, onResult func(*ResultReader)) error {
	gen := c.lock.Acquire()
	defer c.lock.Release()

	if err := c.transport.setDeadline(ctx, c.cfg.SocketTimeout); err != nil {
		return err
	}

	c.transport.writer.Start(types.FrontendQuery)
	c.transport.writer.AddCString(sql)
	if err := c.transport.writer.End(); err != nil {
		return c.fail(err)
	}

	return c.simpleQueryReplyLoop(gen, onResult)
}

func (c *Conn) simpleQueryReplyLoop(gen uint64, onResult func(*ResultReader)) error {
	var fields []FieldDescription
	var reader *ResultReader
	var resultDone <-chan struct{}

	ensureReader := func() {
		if reader == nil {
			reader = newResultReader(fields)
			resultDone = deliverResult(reader, onResult)
		}
	}

	finishResult := func(tag CommandTag) {
		ensureReader()
		reader.emitDone(tag)
		<-resultDone
		reader = nil
		fields = nil
		resultDone = nil
	}

	for {
		tag, _, err := c.transport.reader.ReadTypedMsg()
		if err != nil {
			return c.fail(err)
		}

		switch tag {
		case types.BackendRowDescription:
			fields, err = decodeRowDescription(c.transport.reader)
			if err != nil {
				return c.fail(err)
			}
			reader = newResultReader(fields)
			resultDone = deliverResult(reader, onResult)

		case types.BackendDataRow:
			row, err := decodeDataRow(c.transport.reader)
			if err != nil {
				return c.fail(err)
			}
			ensureReader()
			reader.emitRow(row)

		case types.BackendCommandComplete:
			ct, err := decodeCommandComplete(c.transport.reader)
			if err != nil {
				return c.fail(err)
			}
			finishResult(ct)

		case types.BackendEmptyQuery:
			finishResult(CommandTag{Tag: ""})

		case types.BackendErrorResponse:
			pgErr, err := decodeErrorResponse(c.transport.reader)
			if err != nil {
				return c.fail(err)
			}
			ensureReader()
			reader.emitError(pgErr)
			<-resultDone
			reader = nil
			resultDone = nil

		case types.BackendNoticeResponse:
			c.handleNotice()

		case types.BackendNotificationResponse:
			c.handleNotification()

		case types.BackendParameterStatus:
			c.handleParameterStatus()

		case types.BackendReady:
			status, err := c.transport.reader.GetByte()
			if err != nil {
				return c.fail(err)
			}
			c.session.applyReadyForQuery(types.TransactionStatus(status))
			return nil

		default:
			return c.fail(fmt.Errorf("pgconn: unexpected message %s during simple query", tag))
		}
	}
}

func (c *Conn) handleNotice() {
	fields, err := decodeNoticeFields(c.transport.reader)
	if err != nil {
		return
	}
	c.session.recordWarning(&PgError{
		Severity: fields["S"],
		Code:     codes.Code(fields["C"]),
		Message:  fields["M"],
		Detail:   fields["D"],
		Hint:     fields["H"],
	})
}

func (c *Conn) handleNotification() {
	n, err := decodeNotificationResponse(c.transport.reader)
	if err != nil {
		return
	}
	c.notifications.push(n)
}

func (c *Conn) handleParameterStatus() {
	key, err := c.transport.reader.GetString()
	if err != nil {
		return
	}
	value, err := c.transport.reader.GetString()
	if err != nil {
		return
	}
	c.session.recordParameterStatus(key, value)
}
