package btree

import (
	"context"

	"github.com/jenn-le/partialmap/handle"
)

// BlobStore is the narrow slice of the host blob service contract
// the tree needs: mint a handle for bytes, and get the bytes
// back for a handle.
type BlobStore interface {
	Upload(ctx context.Context, b []byte) (handle.Handle, error)
	Resolve(ctx context.Context, h handle.Handle) ([]byte, error)
}

// lazyNode is the tagged union: either a bare Handle, or a
// resolved node. It starts handle-only and memoizes its resolution the
// first time anything visits it; Tree.Evict can revert it to handle-only
// again. A lazyNode constructed fresh in memory (not yet uploaded) has no
// handle at all.
type lazyNode struct {
	h        handle.Handle
	hasH     bool
	node     *node
}

func newLazyFromHandle(h handle.Handle) *lazyNode {
	return &lazyNode{h: h, hasH: true}
}

func newLazyFromNode(n *node) *lazyNode {
	return &lazyNode{node: n}
}

func (l *lazyNode) isResolved() bool {
	return l.node != nil
}

// resolve returns the concrete node, fetching and decoding it from the
// blob store on first access. Suspends only when a fetch is actually
// needed.
func (l *lazyNode) resolve(ctx context.Context, store BlobStore) (*node, error) {
	if l.node != nil {
		return l.node, nil
	}
	b, err := store.Resolve(ctx, l.h)
	if err != nil {
		return nil, wrapStorageUnavailable(err)
	}
	n, err := decodeNode(b)
	if err != nil {
		return nil, wrapCorruptNode(err)
	}
	l.node = n
	return n, nil
}

// evict drops the cached resolved payload, reverting to handle-only, but
// only if this node actually has a handle to fall back to (a freshly
// constructed, never-uploaded node has nowhere to go and must stay
// resolved).
func (l *lazyNode) evict() {
	if l.hasH {
		l.node = nil
	}
}
