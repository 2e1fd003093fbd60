package state

import "testing"

func TestSequencedSetThenGet(t *testing.T) {
	s := New(100)
	s.Set([]byte("a"), []byte("1"), 1)
	v, found, ok := s.Get([]byte("a"))
	if !ok || !found || string(v) != "1" {
		t.Fatalf("Get(a) = (%q, %v, %v), want (1, true, true)", v, found, ok)
	}
}

func TestSequencedDeleteTombstones(t *testing.T) {
	s := New(100)
	s.Set([]byte("a"), []byte("1"), 1)
	s.Delete([]byte("a"), 2)
	_, found, ok := s.Get([]byte("a"))
	if !ok || found {
		t.Fatalf("Get(a) after Delete = (_, %v, %v), want (false, true)", found, ok)
	}
}

func TestUnflushedChangeCountTracksWrites(t *testing.T) {
	s := New(100)
	s.Set([]byte("a"), []byte("1"), 1)
	s.Set([]byte("b"), []byte("2"), 2)
	if got := s.UnflushedChangeCount(); got != 2 {
		t.Fatalf("UnflushedChangeCount() = %d, want 2", got)
	}
	s.Flush(2)
	if got := s.UnflushedChangeCount(); got != 0 {
		t.Fatalf("UnflushedChangeCount() after Flush = %d, want 0", got)
	}
}

func TestClearDropsEverything(t *testing.T) {
	s := New(100)
	s.Set([]byte("a"), []byte("1"), 1)
	s.Clear(5)
	if _, _, ok := s.Get([]byte("a")); ok {
		t.Fatalf("Get(a) after Clear still resident")
	}
	if s.Size() != 0 {
		t.Errorf("Size() = %d after Clear, want 0", s.Size())
	}
}

func TestFlushableChangesOnlyReturnsUnflushed(t *testing.T) {
	s := New(100)
	s.Set([]byte("a"), []byte("1"), 1)
	s.Flush(1)
	s.Set([]byte("b"), []byte("2"), 2)
	changes := s.FlushableChanges()
	if len(changes) != 1 || string(changes[0].Key) != "b" {
		t.Fatalf("FlushableChanges() = %+v, want only key b", changes)
	}
}

func TestCacheDoesNotMarkKeyModified(t *testing.T) {
	s := New(100)
	s.Cache([]byte("a"), []byte("from-tree"))
	v, found, ok := s.Get([]byte("a"))
	if !ok || !found || string(v) != "from-tree" {
		t.Fatalf("Get(a) = (%q, %v, %v), want (from-tree, true, true)", v, found, ok)
	}
	if got := s.UnflushedChangeCount(); got != 0 {
		t.Errorf("UnflushedChangeCount() = %d after Cache, want 0: a read-through entry is not a pending write", got)
	}
}

func TestEvictableKeysExcludesModifiedKeys(t *testing.T) {
	s := New(100)
	s.Set([]byte("a"), []byte("1"), 1)
	s.Flush(1)
	s.Set([]byte("b"), []byte("2"), 2)

	keys := s.EvictableKeys()
	if len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("EvictableKeys() = %v, want only [a]: b is still unflushed", keys)
	}
}

func TestEvictOnModifiedKeyIsNoOp(t *testing.T) {
	s := New(100)
	s.Set([]byte("a"), []byte("1"), 1)
	s.Evict([]byte("a"))
	v, found, ok := s.Get([]byte("a"))
	if !ok || !found || string(v) != "1" {
		t.Fatalf("Get(a) = (%q, %v, %v), want (1, true, true): Evict must refuse an unflushed key", v, found, ok)
	}
}
