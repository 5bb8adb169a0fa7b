package pgconn

import "testing"

func TestRemoteAddrStringHandlesNilTransportAndConn(t *testing.T) {
	if got := remoteAddrString(nil); got != "unknown" {
		t.Fatalf("remoteAddrString(nil) = %q, want %q", got, "unknown")
	}
	if got := remoteAddrString(&transport{}); got != "unknown" {
		t.Fatalf("remoteAddrString with nil conn = %q, want %q", got, "unknown")
	}
}

func TestRemoteAddrStringReportsRealAddr(t *testing.T) {
	_, backend := newTestConn(t, nil)
	defer backend.Close()

	tr := &transport{conn: backend.ClientConn}
	if got := remoteAddrString(tr); got == "unknown" {
		t.Fatalf("expected a real remote address for a net.Pipe conn, got %q", got)
	}
}

func TestTrackThenUntrackDisarmsTheFinalizer(t *testing.T) {
	owner := &Conn{}
	tr := &transport{}

	globalCleaner.track(owner, tr)
	if owner.cleanupSentinel == nil {
		t.Fatalf("expected track to set a cleanup sentinel")
	}

	globalCleaner.untrack(owner)
	if owner.cleanupSentinel != nil {
		t.Fatalf("expected untrack to clear the cleanup sentinel")
	}
}

func TestUntrackOnAlreadyUntrackedOwnerIsANoOp(t *testing.T) {
	owner := &Conn{}
	globalCleaner.untrack(owner)
	if owner.cleanupSentinel != nil {
		t.Fatalf("expected no cleanup sentinel to appear from untracking a bare owner")
	}
}
