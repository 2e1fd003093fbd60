// Package btree implements a chunked, content-addressed, immutable
// B-tree: every edit returns a new Tree value; the old one, and any
// node reachable only through it, is left untouched so
// concurrent readers never observe a half-applied edit. Nodes are
// resolved from the backing BlobStore lazily, on the first access that
// actually needs them.
package btree

import (
	"context"

	"github.com/jenn-le/partialmap/handle"
	"github.com/jenn-le/partialmap/host"
)

// Tree is an immutable snapshot of the chunked B-tree: an order and a
// root LazyNode. order is fixed for the lifetime of a Tree family (it
// never changes across edits, only the handle family the host was
// configured with at attach time).
type Tree struct {
	order int
	root  *lazyNode

	// priorHandles is the handle multiset as of the last flush this Tree
	// (or an ancestor it descends from) knows about; Flush diffs against
	// it to compute DeletedHandles, and Update folds host-confirmed
	// flushes from other clients into it.
	priorHandles *handle.Set
}

// New returns an empty tree with no handle history, ready for local edits
// before the first flush.
func New(order int) *Tree {
	return &Tree{order: order, root: newLazyFromNode(newEmptyLeaf())}
}

// FromSummary reconstructs a Tree from a host attach summary:
// either an inline leaf for small maps, a root handle for larger ones, or
// neither for a brand new map.
func FromSummary(order int, s host.Summary) *Tree {
	var root *lazyNode
	switch {
	case s.Inline != nil:
		root = newLazyFromNode(&node{leaf: true, keys: s.Inline.Keys, values: s.Inline.Values})
	case s.Root != nil:
		root = newLazyFromHandle(*s.Root)
	default:
		root = newLazyFromNode(newEmptyLeaf())
	}
	return &Tree{order: order, root: root, priorHandles: handle.NewSetFrom(s.Handles...)}
}

// Order returns the tree's configured fanout.
func (t *Tree) Order() int { return t.order }

// Get returns the value stored under key, resolving nodes along the
// search path from store as needed.
func (t *Tree) Get(ctx context.Context, store BlobStore, key []byte) ([]byte, bool, error) {
	l := t.root
	for {
		n, err := l.resolve(ctx, store)
		if err != nil {
			return nil, false, err
		}
		if n.leaf {
			i, found := n.findKey(key)
			if !found {
				return nil, false, nil
			}
			return n.values[i], true, nil
		}
		l = n.children[n.childIndex(key)]
	}
}

// Has reports whether key is present, without returning its value.
func (t *Tree) Has(ctx context.Context, store BlobStore, key []byte) (bool, error) {
	_, ok, err := t.Get(ctx, store, key)
	return ok, err
}

// Set returns a new Tree with key mapped to value, resolving and
// rewriting only the path from the root to the affected leaf.
func (t *Tree) Set(ctx context.Context, store BlobStore, key, value []byte) (*Tree, error) {
	newRoot, s, err := insert(ctx, store, t.root, t.order, key, value)
	if err != nil {
		return nil, err
	}
	if s != nil {
		newRoot = newLazyFromNode(&node{keys: [][]byte{s.sep}, children: []*lazyNode{s.left, s.right}})
	}
	return &Tree{order: t.order, root: newRoot, priorHandles: t.priorHandles}, nil
}

func insert(ctx context.Context, store BlobStore, l *lazyNode, order int, key, value []byte) (*lazyNode, *split, error) {
	n, err := l.resolve(ctx, store)
	if err != nil {
		return nil, nil, err
	}
	if n.leaf {
		newNode, s := insertLeaf(n, order, key, value)
		if s != nil {
			return nil, s, nil
		}
		return newLazyFromNode(newNode), nil, nil
	}

	i := n.childIndex(key)
	newChild, s, err := insert(ctx, store, n.children[i], order, key, value)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return newLazyFromNode(replaceChild(n, i, newChild)), nil, nil
	}
	newNode, s2 := insertInteriorSplit(n, order, i, s)
	if s2 != nil {
		return nil, s2, nil
	}
	return newLazyFromNode(newNode), nil, nil
}

// Delete returns a new Tree with key absent. A missing key is a no-op:
// the returned Tree shares its root with t.
func (t *Tree) Delete(ctx context.Context, store BlobStore, key []byte) (*Tree, error) {
	newRoot, err := del(ctx, store, t.root, key)
	if err != nil {
		return nil, err
	}
	return &Tree{order: t.order, root: newRoot, priorHandles: t.priorHandles}, nil
}

func del(ctx context.Context, store BlobStore, l *lazyNode, key []byte) (*lazyNode, error) {
	n, err := l.resolve(ctx, store)
	if err != nil {
		return nil, err
	}
	if n.leaf {
		newNode := deleteLeaf(n, key)
		if newNode == n {
			return l, nil
		}
		return newLazyFromNode(newNode), nil
	}

	i := n.childIndex(key)
	newChild, err := del(ctx, store, n.children[i], key)
	if err != nil {
		return nil, err
	}
	if newChild == n.children[i] {
		return l, nil
	}
	return newLazyFromNode(replaceChild(n, i, newChild)), nil
}

// Clear returns a new, empty Tree. Prior handles are kept so the next
// Flush reports everything the old tree referenced as deleted.
func (t *Tree) Clear() *Tree {
	return &Tree{order: t.order, root: newLazyFromNode(newEmptyLeaf()), priorHandles: t.priorHandles}
}

// Flush uploads every node built in memory since the last flush, depth
// first, and returns the resulting Tree alongside the delta the
// controller submits as a Flush op.
func (t *Tree) Flush(ctx context.Context, store BlobStore) (*Tree, host.FlushDelta, error) {
	newHandles := handle.NewSet()
	newRoot, err := flushNode(ctx, store, t.root, newHandles)
	if err != nil {
		return nil, host.FlushDelta{}, err
	}

	allHandles := handle.NewSet()
	if err := collectHandles(ctx, store, newRoot, allHandles); err != nil {
		return nil, host.FlushDelta{}, err
	}

	var deleted []handle.Handle
	if t.priorHandles != nil {
		for _, h := range t.priorHandles.Slice() {
			if !allHandles.Has(h) {
				deleted = append(deleted, h)
			}
		}
	}

	delta := host.FlushDelta{NewRoot: newRoot.h, NewHandles: newHandles.Slice(), DeletedHandles: deleted}
	newTree := &Tree{order: t.order, root: newRoot, priorHandles: allHandles}
	return newTree, delta, nil
}

// flushNode uploads l's subtree bottom-up, skipping anything already
// backed by a handle (nothing changed along that path since the last
// flush, so there's nothing new to upload).
func flushNode(ctx context.Context, store BlobStore, l *lazyNode, newHandles *handle.Set) (*lazyNode, error) {
	if l.hasH {
		return l, nil
	}
	n := l.node
	if !n.leaf {
		children := make([]*lazyNode, len(n.children))
		for i, c := range n.children {
			nc, err := flushNode(ctx, store, c, newHandles)
			if err != nil {
				return nil, err
			}
			children[i] = nc
		}
		n = &node{keys: n.keys, children: children}
	}
	b, err := encodeNode(n)
	if err != nil {
		return nil, wrapCorruptNode(err)
	}
	h, err := store.Upload(ctx, b)
	if err != nil {
		return nil, wrapStorageUnavailable(err)
	}
	newHandles.Add(h)
	return &lazyNode{h: h, hasH: true, node: n}, nil
}

// FlushSync produces a host attach summary directly: small maps travel inline with no blob round trip at all,
// larger ones are flushed and referenced by root handle.
func (t *Tree) FlushSync(ctx context.Context, store BlobStore) (host.Summary, error) {
	if t.root.node != nil && t.root.node.leaf && len(t.root.node.keys) <= t.order {
		return host.Summary{Order: t.order, Inline: &host.InlineLeaf{Keys: t.root.node.keys, Values: t.root.node.values}}, nil
	}
	newTree, delta, err := t.Flush(ctx, store)
	if err != nil {
		return host.Summary{}, err
	}
	root := delta.NewRoot
	return host.Summary{Order: t.order, Root: &root, Handles: newTree.priorHandles.Slice()}, nil
}

// Update folds a host-confirmed Flush op (this client's own, reconciled,
// or another client's) into t, replacing the root with the handle the
// flush produced and reconciling the handle history
// garbage collection invariant.
func (t *Tree) Update(delta host.FlushDelta) *Tree {
	reconciled := handle.NewSet()
	if t.priorHandles != nil {
		reconciled = t.priorHandles.Clone()
	}
	reconciled = reconciled.Reconcile(delta.NewHandles, delta.DeletedHandles)
	return &Tree{order: t.order, root: newLazyFromHandle(delta.NewRoot), priorHandles: reconciled}
}

// AllHandles walks the whole tree, resolving as needed, and returns every
// handle reachable from the root — the set GC enumeration needs (the
// eviction engine uses ResidentHandles instead).
func (t *Tree) AllHandles(ctx context.Context, store BlobStore) (*handle.Set, error) {
	s := handle.NewSet()
	if err := collectHandles(ctx, store, t.root, s); err != nil {
		return nil, err
	}
	return s, nil
}

func collectHandles(ctx context.Context, store BlobStore, l *lazyNode, s *handle.Set) error {
	if l.hasH {
		s.Add(l.h)
	}
	n := l.node
	if n == nil {
		if !l.hasH {
			return nil
		}
		var err error
		n, err = l.resolve(ctx, store)
		if err != nil {
			return err
		}
	}
	if n.leaf {
		return nil
	}
	for _, c := range n.children {
		if err := collectHandles(ctx, store, c, s); err != nil {
			return err
		}
	}
	return nil
}

// WalkLeaves visits every key/value pair in the tree, resolving nodes as
// needed, and is used solely to enumerate handles embedded inside values
// for garbage collection. It is not exposed through Map — the public map never
// offers ordered iteration.
func (t *Tree) WalkLeaves(ctx context.Context, store BlobStore, fn func(key, value []byte) error) error {
	return walkLeaves(ctx, store, t.root, fn)
}

func walkLeaves(ctx context.Context, store BlobStore, l *lazyNode, fn func(key, value []byte) error) error {
	n, err := l.resolve(ctx, store)
	if err != nil {
		return err
	}
	if n.leaf {
		for i, k := range n.keys {
			if err := fn(k, n.values[i]); err != nil {
				return err
			}
		}
		return nil
	}
	for _, c := range n.children {
		if err := walkLeaves(ctx, store, c, fn); err != nil {
			return err
		}
	}
	return nil
}

// ResidentHandles returns the handles of every currently-resolved node in
// memory, without resolving anything further. The eviction engine uses
// this to find eviction candidates without incurring blob-store I/O of
// its own.
func (t *Tree) ResidentHandles() []handle.Handle {
	s := handle.NewSet()
	var walk func(l *lazyNode)
	walk = func(l *lazyNode) {
		if l == nil || l.node == nil {
			return
		}
		if l.hasH {
			s.Add(l.h)
		}
		if !l.node.leaf {
			for _, c := range l.node.children {
				walk(c)
			}
		}
	}
	walk(t.root)
	return s.Slice()
}

// Evict drops the cached, resolved payload of every node whose handle is
// in handles, reverting those spots back to handle-only. It never
// descends past an evicted node — there is nothing resolved below it to
// evict until something re-resolves it.
func (t *Tree) Evict(handles []handle.Handle) {
	want := handle.NewSetFrom(handles...)
	var walk func(l *lazyNode)
	walk = func(l *lazyNode) {
		if l == nil {
			return
		}
		if l.hasH && want.Has(l.h) {
			l.evict()
			return
		}
		if l.node != nil && !l.node.leaf {
			for _, c := range l.node.children {
				walk(c)
			}
		}
	}
	walk(t.root)
}

// WorkingSetSize reports how many keys currently live resolved in memory.
func (t *Tree) WorkingSetSize() int {
	if t.root.node == nil {
		return 0
	}
	return t.root.node.workingSetSize()
}
