package pgconn

import (
	"context"
)

// RetryPolicy decides whether a single-statement execution may be
// transparently retried after a cached-plan invalidation, per spec.md §7's
// "queryExecutor.willHealOnRetry policy" gate. The zero value allows
// retrying SELECT only, the one statement kind safe to re-run without
// caller awareness (no side effects to duplicate).
type RetryPolicy struct {
	// AllowedKinds restricts which StatementKind values may be retried. A
	// nil map falls back to {KindSelect: true}.
	AllowedKinds map[StatementKind]bool
}

func (p RetryPolicy) allows(kind StatementKind) bool {
	if p.AllowedKinds == nil {
		return kind == KindSelect
	}
	return p.AllowedKinds[kind]
}

// collectedResult buffers one statement's full result, needed because a
// safe retry must discard any partial delivery from the failed attempt
// rather than hand the caller a doubled-up stream.
type collectedResult struct {
	fields []FieldDescription
	rows   []Row
	tag    CommandTag
	err    error
}

func (c *Conn) executeCollecting(ctx context.Context, sql string, paramSets [][]Param, opts ExecOptions) (*collectedResult, error) {
	out := &collectedResult{}
	done := make(chan struct{})

	err := c.ExtendedQuery(ctx, sql, paramSets, opts, func(r *ResultReader) {
		go func() {
			defer close(done)
			out.fields = r.FieldDescriptions()
			for r.Next() {
				out.rows = append(out.rows, r.Row())
			}
			out.tag = r.CommandTag()
			out.err = r.Err()
		}()
	})
	if err != nil {
		return nil, err
	}

	<-done
	return out, nil
}

// ExecuteWithPlanInvalidationRetry runs a single statement via
// ExtendedQuery, buffering its result, and on a cached-plan-invalidation
// error (spec.md §4.4's Cache policy, §7's retry scenario) flushes the
// statement cache and retries exactly once if policy allows retrying that
// statement's kind. The result is always delivered as a complete, buffered
// ResultReader rather than streamed, since a safe retry requires knowing
// the first attempt failed before anything is handed to the caller.
func (c *Conn) ExecuteWithPlanInvalidationRetry(ctx context.Context, sql string, paramSets [][]Param, opts ExecOptions, policy RetryPolicy, onResult func(*ResultReader)) error {
	sub := ScanStatements(sql)
	if len(sub) != 1 {
		return c.Execute(ctx, sql, paramSets, opts, onResult)
	}

	result, err := c.executeCollecting(ctx, sql, paramSets, opts)
	if err != nil {
		return err
	}

	if result.err != nil && isCachedPlanInvalidation(result.err) && policy.allows(sub[0].Kind) {
		if err := c.FlushStatementCache(ctx); err != nil {
			return err
		}
		result, err = c.executeCollecting(ctx, sql, paramSets, opts)
		if err != nil {
			return err
		}
	}

	reader := newResultReader(result.fields)
	resultDone := deliverResult(reader, onResult)
	for _, row := range result.rows {
		reader.emitRow(row)
	}
	if result.err != nil {
		reader.emitError(result.err)
	} else {
		reader.emitDone(result.tag)
	}
	<-resultDone

	return nil
}
