package pgconn

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pgwire/pgconn/codes"
	"github.com/pgwire/pgconn/internal/types"
)

// Param is one bound parameter value for the Extended Query flow. Value is
// already wire-encoded (text or binary per Format); this module only
// carries bytes, per spec.md's scope boundary excluding SQL value
// marshalling. A nil Value represents SQL NULL.
type Param struct {
	Oid    uint32
	Format FormatCode
	Value  []byte
}

// ExecOptions configures a single ExtendedQuery call.
type ExecOptions struct {
	// FetchSize is the portal row-streaming chunk size; 0 means "to
	// completion" (spec.md §4.4).
	FetchSize int
	// ResultFormats is not read by ExtendedQuery: every Bind requests the
	// binary format for all result columns, whatever ResultFormats or the
	// connection's BinaryOidPolicy say.
	ResultFormats []FormatCode
}

// pipelineState is the per-request state machine cell described in
// spec.md §4.4's state table.
type pipelineState int

const (
	stateIdle pipelineState = iota
	stateParsed
	stateBound
)

// ExtendedQuery executes sql once per entry of paramSets under a single
// Sync boundary (spec.md's Batch execution), pipelining every Parse/Bind/
// [Describe]/Execute without waiting on intermediate replies. For a single
// paramSets entry this is an ordinary prepared-statement execution; for
// more than one it implements the "multiple parameter vectors for the same
// prepared statement" batch path: one Parse, then one Bind/Execute pair per
// entry (Describe only for the first). Each pair's result, or the error that
// ended the pipeline, reaches onResult in order; the per-row update counts
// ([1, -3, -3]-shaped after a mid-batch error) are built from those calls
// by ExecuteBatch, not here.
func (c *Conn) ExtendedQuery(ctx context.Context, sql string, paramSets [][]Param, opts ExecOptions, onResult func(*ResultReader)) error {
	gen := c.lock.Acquire()
	defer c.lock.Release()

	if err := c.transport.setDeadline(ctx, c.cfg.SocketTimeout); err != nil {
		return err
	}

	sub := ScanStatements(sql)
	if len(sub) != 1 {
		return fmt.Errorf("pgconn: ExtendedQuery requires exactly one statement, got %d", len(sub))
	}
	stmt := sub[0]

	paramOids := make([]uint32, stmt.ParamCount)
	if len(paramSets) > 0 {
		for i, p := range paramSets[0] {
			if i < len(paramOids) {
				paramOids[i] = p.Oid
			}
		}
	}

	entry, name, err := c.prepareIfNeeded(stmt.SQL, paramOids)
	if err != nil {
		return c.fail(err)
	}

	needDescribe := entry == nil || !entry.describeSet

	// spec.md §4.4: "If fetchSize>0 and the statement is a SELECT in a
	// non-autocommit transaction, retain the portal for subsequent Execute
	// calls" — only applies cleanly to a single paramSet; a batch of
	// multiple Bind/Execute pairs under one Sync has no single portal to
	// hand back to the caller for continuation.
	var retain *portal
	if len(paramSets) == 1 && opts.FetchSize > 0 && stmt.Kind == KindSelect && !c.session.Autocommit() {
		retain = &portal{name: fmt.Sprintf("pgconn_c%d", gen), stmt: entry, fetchSize: opts.FetchSize}
	}

	for i, params := range paramSets {
		portalName := ""
		if retain != nil {
			portalName = retain.name
		}

		if err := c.writeBind(portalName, name, params); err != nil {
			return c.fail(err)
		}

		if needDescribe && i == 0 {
			c.transport.writer.Start(types.FrontendDescribe)
			c.transport.writer.AddByte('P')
			c.transport.writer.AddCString(portalName)
			if err := c.transport.writer.End(); err != nil {
				return c.fail(err)
			}
		}

		fetchSize := opts.FetchSize
		if err := c.writeExecute(portalName, fetchSize); err != nil {
			return c.fail(err)
		}
	}

	c.transport.writer.Start(types.FrontendSync)
	if err := c.transport.writer.End(); err != nil {
		return c.fail(err)
	}

	return c.extendedReplyLoop(gen, entry, needDescribe, len(paramSets), retain, onResult)
}

// stmtNameSeq numbers named prepared statements. A name is never handed out
// twice in the process, so no two statements on a connection share one.
var stmtNameSeq atomic.Uint64

// prepareIfNeeded looks up sql in the statement cache; if not yet prepared
// and the usage counter has crossed cfg.PrepareThreshold, issues Parse with
// a freshly generated name and returns the new entry, which
// extendedReplyLoop inserts into the cache at the next ReadyForQuery.
// Otherwise it writes a one-shot unnamed Parse (name ""), never cached.
func (c *Conn) prepareIfNeeded(sql string, paramOids []uint32) (*serverStatement, string, error) {
	if cached := c.stmtCache.lookup(sql); cached != nil {
		return cached, cached.name, nil
	}

	threshold := c.cfg.PrepareThreshold
	count := c.usage.bump(sql)

	shouldName := threshold == 1 || (threshold > 1 && count >= threshold) ||
		c.cfg.PreferQueryMode == QueryModeExtendedCacheEverything

	name := ""
	if shouldName && threshold > 0 {
		name = fmt.Sprintf("pgconn_s%d", stmtNameSeq.Add(1))
	}

	c.transport.writer.Start(types.FrontendParse)
	c.transport.writer.AddCString(name)
	c.transport.writer.AddCString(sql)
	c.transport.writer.AddInt16(int16(len(paramOids)))
	for _, oid := range paramOids {
		c.transport.writer.AddInt32(int32(oid))
	}
	if err := c.transport.writer.End(); err != nil {
		return nil, "", err
	}

	if name == "" {
		return nil, "", nil
	}

	entry := &serverStatement{name: name, sql: sql, paramOids: paramOids}
	return entry, name, nil
}

func (c *Conn) writeBind(portal, stmt string, params []Param) error {
	c.transport.writer.Start(types.FrontendBind)
	c.transport.writer.AddCString(portal)
	c.transport.writer.AddCString(stmt)

	c.transport.writer.AddInt16(int16(len(params)))
	for _, p := range params {
		c.transport.writer.AddInt16(int16(p.Format))
	}

	c.transport.writer.AddInt16(int16(len(params)))
	for _, p := range params {
		if p.Value == nil {
			c.transport.writer.AddInt32(-1)
			continue
		}
		c.transport.writer.AddInt32(int32(len(p.Value)))
		c.transport.writer.AddBytes(p.Value)
	}

	c.transport.writer.AddInt16(1)
	c.transport.writer.AddInt16(int16(FormatBinary))

	return c.transport.writer.End()
}

func (c *Conn) writeExecute(portal string, fetchSize int) error {
	c.transport.writer.Start(types.FrontendExecute)
	c.transport.writer.AddCString(portal)
	c.transport.writer.AddInt32(int32(fetchSize))
	return c.transport.writer.End()
}

// extendedReplyLoop consumes the pipelined reply stream for one
// ExtendedQuery call, tracking the state machine from spec.md §4.4 and
// dispatching rows/completions to onResult once per Bind/Execute pair.
func (c *Conn) extendedReplyLoop(gen uint64, entry *serverStatement, expectDescribe bool, numExecutes int, retain *portal, onResult func(*ResultReader)) error {
	state := stateIdle
	var fields []FieldDescription
	if retain != nil {
		fields = retain.fields
		state = stateBound
	}
	var reader *ResultReader
	var resultDone <-chan struct{}

	ensureReader := func() {
		if reader == nil {
			reader = newResultReader(fields)
			resultDone = deliverResult(reader, onResult)
		}
	}

	finish := func(tag CommandTag) {
		ensureReader()
		reader.emitDone(tag)
		<-resultDone
		reader = nil
		resultDone = nil
		state = stateIdle
	}

	remaining := numExecutes

	for {
		tag, _, err := c.transport.reader.ReadTypedMsg()
		if err != nil {
			return c.fail(err)
		}

		switch tag {
		case types.BackendParseComplete:
			state = stateParsed

		case types.BackendParameterDescription:
			oids, err := decodeParameterDescription(c.transport.reader)
			if err != nil {
				return c.fail(err)
			}
			if entry != nil {
				entry.paramOids = oids
			}

		case types.BackendRowDescription:
			fields, err = decodeRowDescription(c.transport.reader)
			if err != nil {
				return c.fail(err)
			}
			if entry != nil {
				entry.fields = fields
				entry.describeSet = true
			}

		case types.BackendNoData:
			fields = nil
			if entry != nil {
				entry.fields = nil
				entry.describeSet = true
			}

		case types.BackendBindComplete:
			if state != stateParsed && state != stateIdle {
				return c.fail(fmt.Errorf("pgconn: BindComplete received in unexpected state %d", state))
			}
			state = stateBound

		case types.BackendDataRow:
			row, err := decodeDataRow(c.transport.reader)
			if err != nil {
				return c.fail(err)
			}
			ensureReader()
			reader.emitRow(row)

		case types.BackendPortalSuspended:
			ensureReader()
			reader.emitDone(CommandTag{Tag: "SUSPENDED"})
			<-resultDone
			reader = nil
			resultDone = nil
			remaining--
			if retain != nil {
				retain.fields = fields
				retain.suspended = true
				c.portals.put(retain)
			}

		case types.BackendCommandComplete:
			ct, err := decodeCommandComplete(c.transport.reader)
			if err != nil {
				return c.fail(err)
			}
			finish(ct)
			remaining--
			if retain != nil {
				retain.exhausted = true
				c.portals.remove(retain.name)
			}

		case types.BackendEmptyQuery:
			finish(CommandTag{Tag: ""})
			remaining--

		case types.BackendCloseComplete:
			// acknowledges a lazily-issued Close for an evicted statement.

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
			remaining--

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

			if entry != nil && entry.name != "" {
				c.stmtCache.insert(entry)
			}

			if err := c.issuePendingCloses(); err != nil {
				return err
			}

			return nil

		default:
			return c.fail(fmt.Errorf("pgconn: unexpected message %s during extended query", tag))
		}
	}
}

// issuePendingCloses sends a lazy Close for every statement evicted from
// the cache since the last Sync, as described in spec.md's Cache policy.
// It is always safe to call right after a ReadyForQuery, since that is a
// Sync boundary.
func (c *Conn) issuePendingCloses() error {
	names := c.stmtCache.drainPendingClose()
	if len(names) == 0 {
		return nil
	}

	for _, name := range names {
		c.transport.writer.Start(types.FrontendClose)
		c.transport.writer.AddByte('S')
		c.transport.writer.AddCString(name)
		if err := c.transport.writer.End(); err != nil {
			return c.fail(err)
		}
	}

	c.transport.writer.Start(types.FrontendSync)
	if err := c.transport.writer.End(); err != nil {
		return c.fail(err)
	}

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
		}
	}
}

// isCachedPlanInvalidation reports whether err is the
// feature_not_supported-with-stale-plan condition spec.md §4.4/§7
// describes: SQLSTATE 0A000 carrying PostgreSQL's "cached plan must not
// change result type" message. ExecuteWithPlanInvalidationRetry answers it
// with DEALLOCATE ALL and one retry.
func isCachedPlanInvalidation(err error) bool {
	pgErr, ok := err.(*PgError)
	if !ok {
		return false
	}
	return pgErr.Code == codes.FeatureNotSupported &&
		strings.Contains(pgErr.Message, "cached plan must not change result type")
}

// FlushStatementCache issues DEALLOCATE ALL and clears the local cache,
// used by ExecuteWithPlanInvalidationRetry for cached-plan-invalidation
// recovery (spec.md scenario 6).
func (c *Conn) FlushStatementCache(ctx context.Context) error {
	if err := c.SimpleQuery(ctx, "DEALLOCATE ALL", func(r *ResultReader) {
		for r.Next() {
		}
	}); err != nil {
		return err
	}
	c.stmtCache.flush()
	return nil
}
