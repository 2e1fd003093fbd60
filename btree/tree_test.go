package btree

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jenn-le/partialmap/handle"
)

// memStore is an in-memory BlobStore for tests: content-addressed by a
// simple incrementing counter rather than a real digest, since these
// tests only care about round-tripping through encode/decode.
type memStore struct {
	blobs map[handle.Handle][]byte
	next  int
}

func newMemStore() *memStore {
	return &memStore{blobs: map[handle.Handle][]byte{}}
}

func (m *memStore) Upload(ctx context.Context, b []byte) (handle.Handle, error) {
	m.next++
	h := handle.Handle(fmt.Sprintf("h%d", m.next))
	m.blobs[h] = b
	return h, nil
}

func (m *memStore) Resolve(ctx context.Context, h handle.Handle) ([]byte, error) {
	b, ok := m.blobs[h]
	if !ok {
		return nil, fmt.Errorf("no blob for handle %q", h)
	}
	return b, nil
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tree := New(32)

	var err error
	want := map[string]string{}
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%02d", i)
		value := fmt.Sprintf("value-%02d", i)
		tree, err = tree.Set(ctx, store, []byte(key), []byte(value))
		if err != nil {
			t.Fatalf("Set(%q): %v", key, err)
		}
		want[key] = value
	}

	for key, value := range want {
		got, ok, err := tree.Get(ctx, store, []byte(key))
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		if !ok {
			t.Fatalf("Get(%q): not found", key)
		}
		if string(got) != value {
			t.Errorf("Get(%q) = %q, want %q", key, got, value)
		}
	}

	if _, ok, err := tree.Get(ctx, store, []byte("missing")); err != nil || ok {
		t.Errorf("Get(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestDeleteIsNoOpOnMissingKey(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tree := New(8)
	tree, err := tree.Set(ctx, store, []byte("a"), []byte("1"))
	if err != nil {
		t.Fatal(err)
	}
	same, err := tree.Delete(ctx, store, []byte("does-not-exist"))
	if err != nil {
		t.Fatal(err)
	}
	if same.root != tree.root {
		t.Errorf("Delete of missing key rebuilt the tree; want the same root")
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tree := New(8)
	var err error
	for _, k := range []string{"a", "b", "c"} {
		tree, err = tree.Set(ctx, store, []byte(k), []byte(k+"-value"))
		if err != nil {
			t.Fatal(err)
		}
	}
	tree, err = tree.Delete(ctx, store, []byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := tree.Get(ctx, store, []byte("b")); ok {
		t.Errorf("Get(b) found after Delete")
	}
	if _, ok, _ := tree.Get(ctx, store, []byte("a")); !ok {
		t.Errorf("Get(a) missing after unrelated Delete")
	}
}

// TestOrderThreeSplits exercises node splitting with a tiny order, where
// a handful of inserts is enough to force both leaf and interior splits.
func TestOrderThreeSplits(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tree := New(3)

	var err error
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, k := range keys {
		tree, err = tree.Set(ctx, store, []byte(k), []byte(k))
		if err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	root, err := tree.root.resolve(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if root.leaf {
		t.Fatalf("expected root to have split into an interior node after %d inserts at order 3", len(keys))
	}

	for _, k := range keys {
		v, ok, err := tree.Get(ctx, store, []byte(k))
		if err != nil || !ok || string(v) != k {
			t.Errorf("Get(%q) = (%q, %v, %v), want (%q, true, nil)", k, v, ok, err, k)
		}
	}
}

func TestFlushUploadsAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tree := New(4)

	var err error
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		tree, err = tree.Set(ctx, store, []byte(k), []byte(k))
		if err != nil {
			t.Fatal(err)
		}
	}

	flushed, delta, err := tree.Flush(ctx, store)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if delta.NewRoot == "" {
		t.Fatalf("Flush produced an empty root handle")
	}
	if len(delta.NewHandles) == 0 {
		t.Fatalf("Flush produced no new handles")
	}

	reloaded := &Tree{order: 4, root: newLazyFromHandle(delta.NewRoot)}
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		v, ok, err := reloaded.Get(ctx, store, []byte(k))
		if err != nil || !ok || string(v) != k {
			t.Errorf("reloaded Get(%q) = (%q, %v, %v)", k, v, ok, err)
		}
	}

	all, err := flushed.AllHandles(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if !all.Has(delta.NewRoot) {
		t.Errorf("AllHandles does not contain the new root handle")
	}
}

func TestUpdateReconcilesHandleHistory(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tree := New(4)
	var err error
	tree, err = tree.Set(ctx, store, []byte("a"), []byte("1"))
	if err != nil {
		t.Fatal(err)
	}
	flushed, delta, err := tree.Flush(ctx, store)
	if err != nil {
		t.Fatal(err)
	}

	updated := New(4).Update(delta)
	if diff := cmp.Diff(flushed.priorHandles.Slice(), updated.priorHandles.Slice()); diff != "" {
		t.Errorf("handle history mismatch after Update (-flushed +updated):\n%s", diff)
	}
}

func TestClearEmptiesTheTree(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tree := New(8)
	var err error
	tree, err = tree.Set(ctx, store, []byte("a"), []byte("1"))
	if err != nil {
		t.Fatal(err)
	}
	tree = tree.Clear()
	if _, ok, err := tree.Get(ctx, store, []byte("a")); err != nil || ok {
		t.Errorf("Get(a) after Clear = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}
