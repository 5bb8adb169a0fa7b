package pgconn

import (
	"testing"
	"time"
)

func TestHostStatusCacheGetMissThenSetThenHit(t *testing.T) {
	c := &hostStatusCache{entries: map[string]hostStatusEntry{}}
	h := Host{Host: "dbhost", Port: 5432}

	if _, ok := c.get(h, 0); ok {
		t.Fatalf("expected a miss before anything is set")
	}

	c.set(h, rolePrimary)
	role, ok := c.get(h, 0)
	if !ok || role != rolePrimary {
		t.Fatalf("expected a cached hit of rolePrimary, got role=%v ok=%v", role, ok)
	}
}

func TestHostStatusCacheExpiresAfterTTL(t *testing.T) {
	c := &hostStatusCache{entries: map[string]hostStatusEntry{}}
	h := Host{Host: "dbhost", Port: 5432}
	c.entries[hostKey(h)] = hostStatusEntry{role: rolePrimary, checked: time.Now().Add(-time.Hour)}

	if _, ok := c.get(h, time.Minute); ok {
		t.Fatalf("expected a stale entry past its TTL to miss")
	}
	if role, ok := c.get(h, 0); !ok || role != rolePrimary {
		t.Fatalf("expected a TTL of 0 to mean no expiry, got role=%v ok=%v", role, ok)
	}
}

func TestMatchesTarget(t *testing.T) {
	cases := []struct {
		role   hostRole
		target TargetServerType
		want   bool
	}{
		{rolePrimary, TargetPrimary, true},
		{roleSecondary, TargetPrimary, false},
		{roleSecondary, TargetSecondary, true},
		{rolePrimary, TargetSecondary, false},
		{roleUnknown, TargetAny, true},
		{rolePrimary, TargetPreferPrimary, true},
	}
	for _, c := range cases {
		if got := matchesTarget(c.role, c.target); got != c.want {
			t.Errorf("matchesTarget(%v, %v) = %v, want %v", c.role, c.target, got, c.want)
		}
	}
}

func TestOrderHostsForTargetPrefersCachedPrimaryWithoutExcludingOthers(t *testing.T) {
	globalHostStatusCache.mu.Lock()
	globalHostStatusCache.entries = map[string]hostStatusEntry{}
	globalHostStatusCache.mu.Unlock()

	primary := Host{Host: "a", Port: 5432}
	secondary := Host{Host: "b", Port: 5432}
	unknown := Host{Host: "c", Port: 5432}
	globalHostStatusCache.set(primary, rolePrimary)
	globalHostStatusCache.set(secondary, roleSecondary)

	hosts := []Host{unknown, secondary, primary}
	ordered := orderHostsForTarget(hosts, TargetPreferPrimary, 0)

	if len(ordered) != 3 {
		t.Fatalf("expected all hosts to survive reordering, got %d", len(ordered))
	}
	if ordered[0] != primary {
		t.Fatalf("expected the known primary first, got %+v", ordered[0])
	}
}

func TestOrderHostsForTargetLeavesAnyAndPrimaryUnordered(t *testing.T) {
	hosts := []Host{{Host: "a", Port: 5432}, {Host: "b", Port: 5432}}

	if got := orderHostsForTarget(hosts, TargetAny, 0); len(got) != 2 || got[0] != hosts[0] || got[1] != hosts[1] {
		t.Fatalf("expected TargetAny to leave host order untouched, got %+v", got)
	}
	if got := orderHostsForTarget(hosts, TargetPrimary, 0); len(got) != 2 || got[0] != hosts[0] || got[1] != hosts[1] {
		t.Fatalf("expected TargetPrimary (a hard constraint, not a preference) to leave host order untouched, got %+v", got)
	}
}
