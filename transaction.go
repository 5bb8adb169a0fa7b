package pgconn

import (
	"context"
	"fmt"
)

// Commit issues COMMIT, a no-op when the session is already Idle (spec.md
// §4.5: "both are no-ops when the server already reports 'I'").
func (c *Conn) Commit(ctx context.Context) error {
	if c.session.Status() == TxIdle {
		return nil
	}
	return c.SimpleQuery(ctx, "COMMIT", drainResult)
}

// Rollback issues ROLLBACK, a no-op when the session is already Idle.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.session.Status() == TxIdle {
		return nil
	}
	return c.SimpleQuery(ctx, "ROLLBACK", drainResult)
}

// Savepoint issues SAVEPOINT for a caller-supplied or freshly generated
// name, returning the name actually used.
func (c *Conn) Savepoint(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = c.session.nextSavepointName()
	}
	if err := c.SimpleQuery(ctx, "SAVEPOINT "+quoteIdent(name), drainResult); err != nil {
		return "", err
	}
	return name, nil
}

// ReleaseSavepoint issues RELEASE SAVEPOINT name.
func (c *Conn) ReleaseSavepoint(ctx context.Context, name string) error {
	return c.SimpleQuery(ctx, "RELEASE SAVEPOINT "+quoteIdent(name), drainResult)
}

// RollbackToSavepoint issues ROLLBACK TO SAVEPOINT name.
func (c *Conn) RollbackToSavepoint(ctx context.Context, name string) error {
	return c.SimpleQuery(ctx, "ROLLBACK TO SAVEPOINT "+quoteIdent(name), drainResult)
}

// quoteIdent escapes name as a double-quoted SQL identifier, used for
// savepoint names (spec.md §4.5: "caller-supplied name, escaped as an
// identifier").
func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	out = append(out, '"')
	return string(out)
}

func drainResult(r *ResultReader) {
	for r.Next() {
	}
}

const autosaveSavepointName = "pgconn_autosave"

// maybeBeginImplicit issues an implicit BEGIN when autocommit is off, the
// session is currently Idle, and kind is not a statement the suppress-begin
// flag exempts (spec.md §4.4's Suppress-begin flag, §4.5's implicit-BEGIN
// rule). readOnly controls whether BEGIN carries READ ONLY, per the
// ReadOnlyMode=transaction resolution in DESIGN.md.
func (c *Conn) maybeBeginImplicit(ctx context.Context, kind StatementKind) error {
	if c.session.Autocommit() {
		return nil
	}
	if c.session.Status() != TxIdle {
		return nil
	}
	if kind.IsUtilityStatement() {
		return nil
	}

	begin := "BEGIN"
	if c.session.ReadOnly() && c.session.ReadOnlyModeConfig() == ReadOnlyTransaction {
		begin = "BEGIN READ ONLY"
	}

	return c.SimpleQuery(ctx, begin, drainResult)
}

// Execute is the session-aware entry point most callers should use: it
// applies the implicit-BEGIN and autosave policies around a single
// ExtendedQuery call for a single statement, then hands off to
// ExtendedQuery. Multi-statement strings must be split by the caller (or
// via SimpleQuery, which never participates in autosave/implicit-BEGIN
// since it has its own server-driven transaction boundary semantics).
func (c *Conn) Execute(ctx context.Context, sql string, paramSets [][]Param, opts ExecOptions, onResult func(*ResultReader)) error {
	sub := ScanStatements(sql)
	if len(sub) != 1 {
		return fmt.Errorf("pgconn: Execute requires exactly one statement, got %d", len(sub))
	}

	if err := c.maybeBeginImplicit(ctx, sub[0].Kind); err != nil {
		return err
	}

	policy := c.cfg.AutoSave
	inTx := c.session.Status() != TxIdle
	useAutosave := inTx && policy != AutoSaveNever && !sub[0].Kind.IsUtilityStatement()

	if !useAutosave {
		return c.ExtendedQuery(ctx, sql, paramSets, opts, onResult)
	}

	if err := c.SimpleQuery(ctx, "SAVEPOINT "+quoteIdent(autosaveSavepointName), drainResult); err != nil {
		return err
	}

	execErr := c.ExtendedQuery(ctx, sql, paramSets, opts, onResult)
	if execErr != nil {
		// A transport-level failure, not a statement error: the connection
		// has already been failed by ExtendedQuery itself, nothing to save.
		return execErr
	}

	// A statement-level ErrorResponse never surfaces as a Go error here
	// (it is delivered through onResult's ResultReader instead); the only
	// reliable signal is the transaction status ReadyForQuery left behind.
	if c.session.Status() == TxInFailedTransaction {
		if rbErr := c.SimpleQuery(ctx, "ROLLBACK TO SAVEPOINT "+quoteIdent(autosaveSavepointName), drainResult); rbErr != nil {
			return rbErr
		}
		return c.SimpleQuery(ctx, "RELEASE SAVEPOINT "+quoteIdent(autosaveSavepointName), drainResult)
	}

	// AutoSaveAlways releases even on success to avoid leaking savepoints
	// across a long-lived transaction; AutoSaveConservative only pays the
	// rollback-to cost when something actually failed.
	if policy == AutoSaveAlways {
		return c.SimpleQuery(ctx, "RELEASE SAVEPOINT "+quoteIdent(autosaveSavepointName), drainResult)
	}
	return nil
}
