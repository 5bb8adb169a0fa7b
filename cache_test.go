package pgconn

import "testing"

func TestStatementCacheLookupMissAndHit(t *testing.T) {
	c := newStatementCache(10, 5)
	if got := c.lookup("SELECT 1"); got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}

	stmt := &serverStatement{name: "s1", sql: "SELECT 1"}
	c.insert(stmt)

	got := c.lookup("SELECT 1")
	if got != stmt {
		t.Fatalf("expected hit returning the inserted statement")
	}
}

func TestStatementCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newStatementCache(2, 0)

	a := &serverStatement{name: "a", sql: "A"}
	b := &serverStatement{name: "b", sql: "B"}
	cc := &serverStatement{name: "c", sql: "C"}

	c.insert(a)
	c.insert(b)
	c.lookup("A") // bump a to MRU, leaving b as LRU
	c.insert(cc)

	names := c.drainPendingClose()
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("expected b evicted, got %v", names)
	}

	if got := c.lookup("B"); got != nil {
		t.Fatalf("expected B to have been evicted")
	}
	if got := c.lookup("A"); got != a {
		t.Fatalf("expected A to remain cached")
	}
}

func TestStatementCacheSkipsEvictingReferencedStatement(t *testing.T) {
	c := newStatementCache(1, 0)

	a := &serverStatement{name: "a", sql: "A", refs: 1}
	c.insert(a)

	b := &serverStatement{name: "b", sql: "B"}
	c.insert(b)

	// a is still referenced, so eviction must stop rather than remove it.
	if got := c.lookup("A"); got != a {
		t.Fatalf("expected referenced statement A to survive eviction")
	}
	if names := c.drainPendingClose(); len(names) != 0 {
		t.Fatalf("expected no pending closes, got %v", names)
	}
}

func TestStatementCacheFlushClearsEverything(t *testing.T) {
	c := newStatementCache(10, 10)
	c.insert(&serverStatement{name: "a", sql: "A"})
	c.flush()

	if got := c.lookup("A"); got != nil {
		t.Fatalf("expected cache empty after flush")
	}
	if names := c.drainPendingClose(); len(names) != 0 {
		t.Fatalf("flush should not queue Close messages, got %v", names)
	}
}

func TestUsageCounterBump(t *testing.T) {
	u := newUsageCounter()
	if n := u.bump("SELECT 1"); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	if n := u.bump("SELECT 1"); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if n := u.bump("SELECT 2"); n != 1 {
		t.Fatalf("expected distinct sql to have its own counter, got %d", n)
	}
}

func TestPortalCachePutGetRemove(t *testing.T) {
	pc := newPortalCache()

	p := &portal{name: "cur1", fetchSize: 50}
	pc.put(p)

	got, ok := pc.get("cur1")
	if !ok || got != p {
		t.Fatalf("expected to retrieve the stored portal")
	}

	pc.remove("cur1")
	if _, ok := pc.get("cur1"); ok {
		t.Fatalf("expected portal to be removed")
	}
}
