package pgconn

import (
	"context"
	"testing"

	"github.com/pgwire/pgconn/internal/pgtest"
)

func TestExecuteBatchRewritesMultiRowInsert(t *testing.T) {
	cfg := NewConfig(WithReWriteBatchedInserts(true), WithPrepareThreshold(0))
	c, backend := newTestConn(t, cfg)
	defer backend.Close()

	paramSets := [][]Param{
		{{Oid: 23, Format: FormatText, Value: []byte("1")}, {Oid: 25, Format: FormatText, Value: []byte("a")}},
		{{Oid: 23, Format: FormatText, Value: []byte("2")}, {Oid: 25, Format: FormatText, Value: []byte("b")}},
		{{Oid: 23, Format: FormatText, Value: []byte("3")}, {Oid: 25, Format: FormatText, Value: []byte("c")}},
	}

	go func() {
		if tag := backend.ReadTypedMsg(); tag != 'P' {
			t.Errorf("expected Parse, got %v", tag)
		}
		_ = backend.GetString() // statement name
		sql := backend.GetString()
		const want = `INSERT INTO t (id, name) VALUES ($1,$2), ($3,$4), ($5,$6) RETURNING id`
		if sql != want {
			t.Errorf("unexpected rewritten sql:\n got:  %q\n want: %q", sql, want)
		}
		backend.GetRemaining() // param oid list

		if tag := backend.ReadTypedMsg(); tag != 'B' {
			t.Errorf("expected Bind, got %v", tag)
		}
		backend.GetRemaining()

		if tag := backend.ReadTypedMsg(); tag != 'D' {
			t.Errorf("expected Describe, got %v", tag)
		}
		backend.GetRemaining()

		if tag := backend.ReadTypedMsg(); tag != 'E' {
			t.Errorf("expected Execute, got %v", tag)
		}
		backend.GetRemaining()

		if tag := backend.ReadTypedMsg(); tag != 'S' {
			t.Errorf("expected Sync, got %v", tag)
		}

		backend.SendParseComplete()
		backend.SendBindComplete()
		backend.SendRowDescription([]pgtest.FieldSpec{{Name: "id", TypeOid: 23}})
		backend.SendDataRow([][]byte{[]byte("1")})
		backend.SendDataRow([][]byte{[]byte("2")})
		backend.SendDataRow([][]byte{[]byte("3")})
		backend.SendCommandComplete("INSERT 0 3")
		backend.SendReadyForQuery('I')
	}()

	result, err := c.ExecuteBatch(context.Background(),
		`INSERT INTO t (id, name) VALUES ($1,$2) RETURNING id`,
		paramSets, ExecOptions{})
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if result.RowsAffected != 3 {
		t.Fatalf("expected 3 rows affected, got %d", result.RowsAffected)
	}
	if len(result.Returning) != 3 {
		t.Fatalf("expected 3 returned rows, got %d", len(result.Returning))
	}
}

func TestExecuteBatchFallsBackToDiscretePipelineWhenRewriteDisabled(t *testing.T) {
	cfg := NewConfig(WithReWriteBatchedInserts(false), WithPrepareThreshold(0))
	c, backend := newTestConn(t, cfg)
	defer backend.Close()

	paramSets := [][]Param{
		{{Oid: 23, Format: FormatText, Value: []byte("1")}},
		{{Oid: 23, Format: FormatText, Value: []byte("2")}},
	}

	go func() {
		// One Parse, then a Bind/Execute pair per row; only the first pair
		// carries a Describe.
		if tag := backend.ReadTypedMsg(); tag != 'P' {
			t.Errorf("expected a single Parse, got %v", tag)
		}
		backend.GetRemaining()
		for i := 0; i < 2; i++ {
			if tag := backend.ReadTypedMsg(); tag != 'B' {
				t.Errorf("row %d: expected Bind, got %v", i, tag)
			}
			backend.GetRemaining()
			if i == 0 {
				if tag := backend.ReadTypedMsg(); tag != 'D' {
					t.Errorf("row %d: expected Describe, got %v", i, tag)
				}
				backend.GetRemaining()
			}
			if tag := backend.ReadTypedMsg(); tag != 'E' {
				t.Errorf("row %d: expected Execute, got %v", i, tag)
			}
			backend.GetRemaining()
		}

		if tag := backend.ReadTypedMsg(); tag != 'S' {
			t.Errorf("expected a single trailing Sync, got %v", tag)
		}

		backend.SendParseComplete()
		backend.SendBindComplete()
		backend.SendCommandComplete("INSERT 0 1")
		backend.SendBindComplete()
		backend.SendCommandComplete("INSERT 0 1")
		backend.SendReadyForQuery('I')
	}()

	result, err := c.ExecuteBatch(context.Background(),
		`INSERT INTO t (id) VALUES ($1)`, paramSets, ExecOptions{})
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if result.RowsAffected != 2 {
		t.Fatalf("expected 2 total rows affected across the discrete pipeline, got %d", result.RowsAffected)
	}
}

func TestExecuteBatchReportsPerRowCountsOnMidBatchFailure(t *testing.T) {
	cfg := NewConfig(WithReWriteBatchedInserts(false), WithPrepareThreshold(0))
	c, backend := newTestConn(t, cfg)
	defer backend.Close()

	paramSets := [][]Param{
		{{Oid: 23, Format: FormatText, Value: []byte("1")}},
		{{Oid: 23, Format: FormatText, Value: []byte("2")}},
		{{Oid: 23, Format: FormatText, Value: []byte("3")}},
	}

	go func() {
		if tag := backend.ReadTypedMsg(); tag != 'P' {
			t.Errorf("expected a single Parse, got %v", tag)
		}
		backend.GetRemaining()
		for i := 0; i < 3; i++ {
			if tag := backend.ReadTypedMsg(); tag != 'B' {
				t.Errorf("row %d: expected Bind, got %v", i, tag)
			}
			backend.GetRemaining()
			if i == 0 {
				if tag := backend.ReadTypedMsg(); tag != 'D' {
					t.Errorf("row %d: expected Describe, got %v", i, tag)
				}
				backend.GetRemaining()
			}
			if tag := backend.ReadTypedMsg(); tag != 'E' {
				t.Errorf("row %d: expected Execute, got %v", i, tag)
			}
			backend.GetRemaining()
		}

		if tag := backend.ReadTypedMsg(); tag != 'S' {
			t.Errorf("expected a single trailing Sync, got %v", tag)
		}

		// Row 1 succeeds, row 2 fails; per the wire protocol, once an error
		// occurs PostgreSQL skips straight to ReadyForQuery without replying
		// to row 3's Bind/Execute at all.
		backend.SendParseComplete()
		backend.SendBindComplete()
		backend.SendCommandComplete("INSERT 0 1")
		backend.SendBindComplete()
		backend.SendErrorResponse(map[string]string{"S": "ERROR", "C": "23505", "M": "duplicate key"})
		backend.SendReadyForQuery('I')
	}()

	result, err := c.ExecuteBatch(context.Background(),
		`INSERT INTO t (id) VALUES ($1)`, paramSets, ExecOptions{})
	if err == nil {
		t.Fatalf("expected the batch's stored error to surface")
	}
	want := []int64{1, -3, -3}
	if len(result.RowCounts) != len(want) {
		t.Fatalf("expected %d row counts, got %v", len(want), result.RowCounts)
	}
	for i, v := range want {
		if result.RowCounts[i] != v {
			t.Fatalf("row count %d: got %d, want %d", i, result.RowCounts[i], v)
		}
	}
	if result.RowsAffected != 1 {
		t.Fatalf("expected 1 row affected before the failure, got %d", result.RowsAffected)
	}
}

func TestExecuteBatchRejectsMultipleStatements(t *testing.T) {
	c, backend := newTestConn(t, nil)
	defer backend.Close()

	_, err := c.ExecuteBatch(context.Background(), "SELECT 1; SELECT 2", nil, ExecOptions{})
	if err == nil {
		t.Fatalf("expected an error for multiple statements")
	}
}
