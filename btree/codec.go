package btree

import (
	bstd "github.com/deneonet/benc/std"
	"github.com/jenn-le/partialmap/handle"
	"github.com/pkg/errors"
)

// Node blob format: a leaf is {keys, values}, an interior is
// {keys, children}. deneonet/benc's tagged mode could distinguish the two
// by field presence in a self-describing wire format, but its "Plain" mode
// (meant for nested, non-top-level fields) is untagged and faster, so here
// we pick Plain and prefix a single explicit kind byte instead of relying
// on field presence.
const (
	kindLeaf     byte = 0
	kindInterior byte = 1
)

func bytesToStrings(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}

func stringsToBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func handlesToStrings(hs []*lazyNode) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = string(h.h)
	}
	return out
}

// encodeNode marshals n into its persisted blob form. Only called on nodes
// that were constructed fresh in memory (see Tree.Flush): an interior
// node's children must already be lazyNodes carrying handles (uploaded
// depth-first before their parent).
func encodeNode(n *node) ([]byte, error) {
	if n.leaf {
		keyStrs := bytesToStrings(n.keys)
		valStrs := bytesToStrings(n.values)
		size := 1 + bstd.SizeSlice(keyStrs, bstd.SizeString) + bstd.SizeSlice(valStrs, bstd.SizeString)
		b := make([]byte, size)
		b[0] = kindLeaf
		pos := 1
		pos = bstd.MarshalSlice(pos, b, keyStrs, bstd.MarshalString)
		pos = bstd.MarshalSlice(pos, b, valStrs, bstd.MarshalString)
		return b, nil
	}

	keyStrs := bytesToStrings(n.keys)
	childStrs := handlesToStrings(n.children)
	size := 1 + bstd.SizeSlice(keyStrs, bstd.SizeString) + bstd.SizeSlice(childStrs, bstd.SizeString)
	b := make([]byte, size)
	b[0] = kindInterior
	pos := 1
	pos = bstd.MarshalSlice(pos, b, keyStrs, bstd.MarshalString)
	pos = bstd.MarshalSlice(pos, b, childStrs, bstd.MarshalString)
	return b, nil
}

// decodeNode parses bytes previously produced by encodeNode. Interior
// children come back as handle-only lazyNodes: resolving them is the
// caller's job, on demand.
func decodeNode(b []byte) (*node, error) {
	if len(b) < 1 {
		return nil, errors.New("empty node blob")
	}
	kind := b[0]
	pos := 1
	switch kind {
	case kindLeaf:
		pos, keyStrs, err := bstd.UnmarshalSlice[string](pos, b, bstd.UnmarshalString)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal leaf keys")
		}
		_, valStrs, err := bstd.UnmarshalSlice[string](pos, b, bstd.UnmarshalString)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal leaf values")
		}
		return &node{leaf: true, keys: stringsToBytes(keyStrs), values: stringsToBytes(valStrs)}, nil
	case kindInterior:
		pos, keyStrs, err := bstd.UnmarshalSlice[string](pos, b, bstd.UnmarshalString)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal interior keys")
		}
		_, childStrs, err := bstd.UnmarshalSlice[string](pos, b, bstd.UnmarshalString)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal interior children")
		}
		children := make([]*lazyNode, len(childStrs))
		for i, s := range childStrs {
			children[i] = newLazyFromHandle(handle.Handle(s))
		}
		return &node{keys: stringsToBytes(keyStrs), children: children}, nil
	default:
		return nil, errors.Errorf("unrecognized node kind byte %d", kind)
	}
}
