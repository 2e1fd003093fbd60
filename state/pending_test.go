package state

import "testing"

func TestPendingGetReflectsLatestWrite(t *testing.T) {
	p := New()
	p.Set([]byte("a"), []byte("1"), 1)
	v, found, ok := p.Get([]byte("a"))
	if !ok || !found || string(v) != "1" {
		t.Fatalf("Get(a) = (%q, %v, %v), want (1, true, true)", v, found, ok)
	}
}

func TestPendingDeleteShadowsKey(t *testing.T) {
	p := New()
	p.Set([]byte("a"), []byte("1"), 1)
	p.Delete([]byte("a"), 2)
	_, found, ok := p.Get([]byte("a"))
	if !ok || found {
		t.Fatalf("Get(a) after Delete = (_, %v, %v), want (false, true)", found, ok)
	}
}

func TestPendingAckModifyRetiresEntry(t *testing.T) {
	p := New()
	p.Set([]byte("a"), []byte("1"), 1)
	p.AckModify([]byte("a"))
	if _, _, ok := p.Get([]byte("a")); ok {
		t.Fatalf("Get(a) still pending after AckModify")
	}
	if p.Size() != 0 {
		t.Errorf("Size() = %d, want 0", p.Size())
	}
}

// TestPendingAckModifyWaitsForEveryOutstandingWrite exercises a key with
// two writes in flight at once: the entry must survive the first ack
// (reflecting the second, newer write) and only retire once both issued
// writes have come back, since the two acks have no sequence number in
// common to match against the right write.
func TestPendingAckModifyWaitsForEveryOutstandingWrite(t *testing.T) {
	p := New()
	p.Set([]byte("a"), []byte("1"), 1)
	p.Set([]byte("a"), []byte("2"), 2)
	p.AckModify([]byte("a"))
	v, found, ok := p.Get([]byte("a"))
	if !ok || !found || string(v) != "2" {
		t.Fatalf("Get(a) = (%q, %v, %v), want (2, true, true): one ack must not retire a key with two writes outstanding", v, found, ok)
	}
	p.AckModify([]byte("a"))
	if _, _, ok := p.Get([]byte("a")); ok {
		t.Fatalf("Get(a) still pending after both outstanding writes acked")
	}
}

func TestPendingAckModifyOnUntrackedKeyIsNoOp(t *testing.T) {
	p := New()
	p.AckModify([]byte("never-set"))
	if p.Size() != 0 {
		t.Errorf("Size() = %d, want 0", p.Size())
	}
}

func TestPendingClearShadowsOlderWrites(t *testing.T) {
	p := New()
	p.Set([]byte("a"), []byte("1"), 1)
	p.Clear(5)
	if _, found, ok := p.Get([]byte("a")); !ok || found {
		t.Fatalf("Get(a) after Clear = (_, %v, %v), want (false, true)", found, ok)
	}
	p.Set([]byte("b"), []byte("2"), 10)
	v, found, ok := p.Get([]byte("b"))
	if !ok || !found || string(v) != "2" {
		t.Fatalf("Get(b) after later Set = (%q, %v, %v), want (2, true, true)", v, found, ok)
	}
}

func TestPendingAckClearRetiresMarker(t *testing.T) {
	p := New()
	p.Clear(5)
	if !p.HasClear() {
		t.Fatalf("HasClear() = false after Clear")
	}
	p.AckClear()
	if p.HasClear() {
		t.Fatalf("HasClear() = true after AckClear")
	}
}

func TestPendingGetUnknownKeyFallsThrough(t *testing.T) {
	p := New()
	if _, _, ok := p.Get([]byte("nope")); ok {
		t.Errorf("Get(nope) = ok, want fall-through (ok=false)")
	}
}
