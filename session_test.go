package pgconn

import (
	"testing"

	"github.com/pgwire/pgconn/internal/types"
)

func TestSessionApplyReadyForQueryTracksStatus(t *testing.T) {
	s := newSession(NewConfig())

	if s.Status() != TxIdle {
		t.Fatalf("expected initial status idle, got %v", s.Status())
	}

	s.applyReadyForQuery(types.TxInTransaction)
	if s.Status() != TxInTransaction {
		t.Fatalf("expected in-transaction, got %v", s.Status())
	}

	s.applyReadyForQuery(types.TxInFailedTransaction)
	if s.Status() != TxInFailedTransaction {
		t.Fatalf("expected in-failed-transaction, got %v", s.Status())
	}

	s.applyReadyForQuery(types.TxIdle)
	if s.Status() != TxIdle {
		t.Fatalf("expected idle again, got %v", s.Status())
	}
}

func TestSessionSetReadOnlyRejectedMidTransaction(t *testing.T) {
	s := newSession(NewConfig())
	s.applyReadyForQuery(types.TxInTransaction)

	if err := s.SetReadOnly(true); err == nil {
		t.Fatalf("expected error changing read-only mid-transaction")
	}
}

func TestSessionSetReadOnlyAllowedWhenIdle(t *testing.T) {
	s := newSession(NewConfig())

	if err := s.SetReadOnly(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.ReadOnly() {
		t.Fatalf("expected ReadOnly true")
	}
}

func TestSessionNextSavepointNameIsUnique(t *testing.T) {
	s := newSession(NewConfig())

	a := s.nextSavepointName()
	b := s.nextSavepointName()
	if a == b {
		t.Fatalf("expected distinct savepoint names, got %q twice", a)
	}
}

func TestSessionRecordParameterStatusUpdatesDerivedFields(t *testing.T) {
	s := newSession(NewConfig())

	s.recordParameterStatus("server_version", "16.1")
	s.recordParameterStatus("integer_datetimes", "on")
	s.recordParameterStatus("standard_conforming_strings", "on")

	if s.ServerVersion() != "16.1" {
		t.Errorf("ServerVersion = %q", s.ServerVersion())
	}
	if !s.IntegerDatetimes() {
		t.Errorf("expected IntegerDatetimes true")
	}
	if !s.StandardConformingStrings() {
		t.Errorf("expected StandardConformingStrings true")
	}

	v, ok := s.Parameter("server_version")
	if !ok || v != "16.1" {
		t.Errorf("Parameter(server_version) = %q, %v", v, ok)
	}
}

func TestSessionWarningsDrainsOnRead(t *testing.T) {
	s := newSession(NewConfig())
	s.recordWarning(&PgError{Message: "deprecated"})

	w := s.Warnings()
	if len(w) != 1 || w[0].Message != "deprecated" {
		t.Fatalf("unexpected warnings: %+v", w)
	}

	if w2 := s.Warnings(); len(w2) != 0 {
		t.Fatalf("expected warnings drained after first read, got %+v", w2)
	}
}

func TestSessionReadOnlyServer(t *testing.T) {
	s := newSession(NewConfig())
	if s.readOnlyServer() {
		t.Fatalf("expected false before any ParameterStatus observed")
	}

	s.recordParameterStatus("default_transaction_read_only", "on")
	if !s.readOnlyServer() {
		t.Fatalf("expected true after default_transaction_read_only=on")
	}
}
