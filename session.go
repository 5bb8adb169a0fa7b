package pgconn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pgwire/pgconn/codes"
	pgerr "github.com/pgwire/pgconn/errors"
	"github.com/pgwire/pgconn/internal/types"
)

// TxStatus mirrors the single-byte transaction indicator carried by every
// ReadyForQuery message. It is the observable source of truth for
// transaction state (spec.md §3, §8): the driver never tracks transaction
// state independently of what the server last reported.
type TxStatus int

const (
	TxIdle TxStatus = iota
	TxInTransaction
	TxInFailedTransaction
)

func txStatusFromWire(b types.TransactionStatus) TxStatus {
	switch b {
	case types.TxInTransaction:
		return TxInTransaction
	case types.TxInFailedTransaction:
		return TxInFailedTransaction
	default:
		return TxIdle
	}
}

func (s TxStatus) String() string {
	switch s {
	case TxInTransaction:
		return "in-transaction"
	case TxInFailedTransaction:
		return "in-failed-transaction"
	default:
		return "idle"
	}
}

// Session holds the per-connection transaction/session state described in
// spec.md's Data Model (§3): transaction status, autocommit, read-only
// mode, the savepoint counter, the server parameter map, and the
// notice/warning chain. All mutation funnels through Session's own methods,
// and status changes only in applyReadyForQuery, so the invariant "status
// mirrors the most recent ReadyForQuery" always holds.
type Session struct {
	mu sync.Mutex

	status     TxStatus
	autocommit bool

	readOnly     bool
	readOnlyMode ReadOnlyMode

	savepointSeq int64

	params map[string]string

	warnings []*PgError

	serverVersion             string
	serverEncoding            string
	integerDatetimes          bool
	standardConformingStrings bool
	isSuperuser               bool
}

func newSession(cfg *Config) *Session {
	return &Session{
		status:       TxIdle,
		autocommit:   true,
		readOnly:     cfg.ReadOnly,
		readOnlyMode: cfg.ReadOnlyMode,
		params:       map[string]string{},
	}
}

// applyReadyForQuery is the single path by which transaction status changes,
// called by the query engine every time it observes a ReadyForQuery message.
func (s *Session) applyReadyForQuery(b types.TransactionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = txStatusFromWire(b)
}

// Status returns the transaction status as of the most recent ReadyForQuery.
func (s *Session) Status() TxStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetAutocommit toggles whether the engine inserts an implicit BEGIN before
// the first statement following each Idle ReadyForQuery.
func (s *Session) SetAutocommit(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autocommit = on
}

func (s *Session) Autocommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autocommit
}

// SetReadOnly records read-only intent. Its only wire effect is the
// `BEGIN READ ONLY` that maybeBeginImplicit issues under ReadOnlyTransaction;
// under ReadOnlyIgnore and ReadOnlyAlways nothing is sent.
func (s *Session) SetReadOnly(readOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != TxIdle {
		return pgerr.WithCode(fmt.Errorf("cannot change read-only mode mid-transaction"), codes.InvalidTransactionState)
	}

	s.readOnly = readOnly
	return nil
}

func (s *Session) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

// ReadOnlyModeConfig returns the configured ReadOnlyMode (ignore/
// transaction/always), deciding how SetReadOnly(true) gets applied on the
// wire.
func (s *Session) ReadOnlyModeConfig() ReadOnlyMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnlyMode
}

// nextSavepointName returns a unique, unquoted savepoint identifier from the
// ever-increasing per-connection counter described in spec.md §4.5.
func (s *Session) nextSavepointName() string {
	n := atomic.AddInt64(&s.savepointSeq, 1)
	return fmt.Sprintf("pgconn_sp_%d", n)
}

// recordParameterStatus updates the live server-parameter map from an
// incoming ParameterStatus message (spec.md C6: may arrive at any point).
func (s *Session) recordParameterStatus(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.params[name] = value

	switch name {
	case "server_version":
		s.serverVersion = value
	case "server_encoding":
		s.serverEncoding = value
	case "integer_datetimes":
		s.integerDatetimes = value == "on"
	case "standard_conforming_strings":
		s.standardConformingStrings = value == "on"
	case "is_superuser":
		s.isSuperuser = value == "on"
	}
}

// Parameter returns the current value of a server parameter, e.g.
// "server_version" or "TimeZone".
func (s *Session) Parameter(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.params[name]
	return v, ok
}

// recordWarning appends a NoticeResponse to the session's warning chain.
func (s *Session) recordWarning(notice *PgError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, notice)
}

// Warnings drains and returns the accumulated warning chain.
func (s *Session) Warnings() []*PgError {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.warnings
	s.warnings = nil
	return w
}

// StandardConformingStrings reports whether the server escapes string
// literals in the modern (standard_conforming_strings=on) style.
func (s *Session) StandardConformingStrings() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.standardConformingStrings
}

func (s *Session) IntegerDatetimes() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.integerDatetimes
}

func (s *Session) IsSuperuser() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSuperuser
}

func (s *Session) ServerVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverVersion
}
