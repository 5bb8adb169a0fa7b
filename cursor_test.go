package pgconn

import (
	"context"
	"testing"

	"github.com/pgwire/pgconn/internal/pgtest"
)

func TestFetchMoreContinuesASuspendedPortal(t *testing.T) {
	cfg := NewConfig(WithPrepareThreshold(0))
	c, backend := newTestConn(t, cfg)
	defer backend.Close()
	c.session.SetAutocommit(false)
	c.session.applyReadyForQuery('T')

	go func() {
		backend.ReadTypedMsg() // Parse
		backend.GetRemaining()
		backend.ReadTypedMsg() // Bind
		backend.GetRemaining()
		backend.ReadTypedMsg() // Describe
		backend.GetRemaining()
		backend.ReadTypedMsg() // Execute
		backend.GetRemaining()
		backend.ReadTypedMsg() // Sync

		backend.SendParseComplete()
		backend.SendBindComplete()
		backend.SendRowDescription([]pgtest.FieldSpec{{Name: "id", TypeOid: 23}})
		backend.SendDataRow([][]byte{[]byte("1")})
		backend.SendPortalSuspended()
		backend.SendReadyForQuery('T')
	}()

	var firstRows []string
	err := c.ExtendedQuery(context.Background(), "SELECT id FROM t", [][]Param{{}},
		ExecOptions{FetchSize: 1},
		func(r *ResultReader) {
			for r.Next() {
				firstRows = append(firstRows, string(r.Row()[0]))
			}
		})
	if err != nil {
		t.Fatalf("ExtendedQuery: %v", err)
	}
	if len(firstRows) != 1 || firstRows[0] != "1" {
		t.Fatalf("unexpected first batch: %v", firstRows)
	}

	var portalName string
	for name := range c.portals.portals {
		portalName = name
	}
	if portalName == "" {
		t.Fatalf("expected a retained suspended portal")
	}

	go func() {
		tag := backend.ReadTypedMsg()
		if tag != 'E' {
			t.Errorf("expected Execute, got %v", tag)
		}
		backend.GetRemaining()
		backend.ReadTypedMsg() // Sync

		backend.SendDataRow([][]byte{[]byte("2")})
		backend.SendCommandComplete("SELECT 2")
		backend.SendReadyForQuery('T')
	}()

	var secondRows []string
	err = c.FetchMore(context.Background(), portalName, 0, func(r *ResultReader) {
		for r.Next() {
			secondRows = append(secondRows, string(r.Row()[0]))
		}
	})
	if err != nil {
		t.Fatalf("FetchMore: %v", err)
	}
	if len(secondRows) != 1 || secondRows[0] != "2" {
		t.Fatalf("unexpected second batch: %v", secondRows)
	}
}

func TestFetchMoreRejectsUnknownPortal(t *testing.T) {
	c, backend := newTestConn(t, nil)
	defer backend.Close()

	err := c.FetchMore(context.Background(), "nonexistent", 0, func(*ResultReader) {})
	if err == nil {
		t.Fatalf("expected an error for an unknown portal")
	}
}

func TestClosePortalRemovesTrackingAndDrainsCloseComplete(t *testing.T) {
	c, backend := newTestConn(t, nil)
	defer backend.Close()
	c.portals.put(&portal{name: "c1", suspended: true})

	go func() {
		tag := backend.ReadTypedMsg()
		if tag != 'C' {
			t.Errorf("expected Close, got %v", tag)
		}
		target := backend.GetByte()
		if target != 'P' {
			t.Errorf("expected portal close target, got %q", target)
		}
		name := backend.GetString()
		if name != "c1" {
			t.Errorf("expected portal name c1, got %q", name)
		}
		backend.ReadTypedMsg() // Sync

		backend.SendCloseComplete()
		backend.SendReadyForQuery('I')
	}()

	if err := c.ClosePortal(context.Background(), "c1"); err != nil {
		t.Fatalf("ClosePortal: %v", err)
	}
	if _, ok := c.portals.get("c1"); ok {
		t.Fatalf("expected portal to be removed from tracking")
	}
}
