package btree

import (
	"bytes"
	"sort"
)

// node is the in-memory, resolved form of either B-tree node variant.
// Nodes are immutable once constructed: every edit builds a new
// node and leaves the old one (and anything reachable only through it)
// untouched, so reads against a prior Tree value keep working.
type node struct {
	leaf bool

	// Leaf: keys[i] maps to values[i], sorted ascending, len(keys)==len(values).
	keys   [][]byte
	values [][]byte

	// Interior: len(keys) == len(children)-1. keys[i] is the minimum key
	// of children[i+1].
	children []*lazyNode
}

func newEmptyLeaf() *node {
	return &node{leaf: true}
}

// findKey returns (index, true) if key is present in a leaf's keys, or
// (insertion index, false) otherwise.
func (n *node) findKey(key []byte) (int, bool) {
	i := sort.Search(len(n.keys), func(i int) bool { return bytes.Compare(n.keys[i], key) >= 0 })
	if i < len(n.keys) && bytes.Equal(n.keys[i], key) {
		return i, true
	}
	return i, false
}

// childIndex returns the index of the child that may contain key: the
// first index i where key < keys[i], or len(children)-1 if none.
func (n *node) childIndex(key []byte) int {
	i := sort.Search(len(n.keys), func(i int) bool { return bytes.Compare(key, n.keys[i]) < 0 })
	return i
}

// split describes a node that overflowed during an insert: the caller
// replaces its reference to the original child with this (left, sep,
// right) triple, promoting sep into its own key list.
type split struct {
	left  *lazyNode
	sep   []byte
	right *lazyNode
}

// cloneLeafSlices returns a shallow copy of a leaf's key/value slices, safe to
// mutate in place before freezing it into a new immutable node.
func (n *node) cloneLeafSlices() ([][]byte, [][]byte) {
	keys := make([][]byte, len(n.keys))
	copy(keys, n.keys)
	values := make([][]byte, len(n.values))
	copy(values, n.values)
	return keys, values
}

func (n *node) cloneInteriorSlices() ([][]byte, []*lazyNode) {
	keys := make([][]byte, len(n.keys))
	copy(keys, n.keys)
	children := make([]*lazyNode, len(n.children))
	copy(children, n.children)
	return keys, children
}

// insertLeaf inserts (or replaces) key/value into a leaf, returning the new
// leaf node and, if it overflowed order, a split.
func insertLeaf(n *node, order int, key, value []byte) (*node, *split) {
	keys, values := n.cloneLeafSlices()
	i, found := n.findKey(key)
	if found {
		values[i] = value
		return &node{leaf: true, keys: keys, values: values}, nil
	}
	keys = spliceBytes(keys, i, key)
	values = spliceBytes(values, i, value)
	if len(keys) < order {
		return &node{leaf: true, keys: keys, values: values}, nil
	}

	// Split: ceil(order/2) entries to the left, floor(order/2) to the right.
	leftCount := (order + 1) / 2
	leftNode := &node{leaf: true, keys: keys[:leftCount], values: values[:leftCount]}
	rightNode := &node{leaf: true, keys: keys[leftCount:], values: values[leftCount:]}
	return nil, &split{
		left:  newLazyFromNode(leftNode),
		sep:   rightNode.keys[0],
		right: newLazyFromNode(rightNode),
	}
}

// deleteLeaf removes key from a leaf if present. Returns the receiver node
// unchanged (same pointer) if the key is absent, matching the "no-op on
// missing key" contract.
func deleteLeaf(n *node, key []byte) *node {
	i, found := n.findKey(key)
	if !found {
		return n
	}
	keys, values := n.cloneLeafSlices()
	keys = append(keys[:i], keys[i+1:]...)
	values = append(values[:i], values[i+1:]...)
	return &node{leaf: true, keys: keys, values: values}
}

// replaceChild rebuilds an interior node with child i swapped for newChild,
// used both when a child comes back unchanged-but-rewritten (a LazyNode
// resolved along the path) and when a delete replaces a child in place (no
// merging/rebalancing is ever performed).
func replaceChild(n *node, i int, newChild *lazyNode) *node {
	keys, children := n.cloneInteriorSlices()
	children[i] = newChild
	return &node{keys: keys, children: children}
}

// insertInteriorSplit rebuilds an interior node after child i split into
// (left, sep, right), possibly overflowing and splitting itself.
func insertInteriorSplit(n *node, order int, i int, s *split) (*node, *split) {
	keys := make([][]byte, 0, len(n.keys)+1)
	keys = append(keys, n.keys[:i]...)
	keys = append(keys, s.sep)
	keys = append(keys, n.keys[i:]...)

	children := make([]*lazyNode, 0, len(n.children)+1)
	children = append(children, n.children[:i]...)
	children = append(children, s.left, s.right)
	children = append(children, n.children[i+1:]...)

	if len(keys) < order {
		return &node{keys: keys, children: children}, nil
	}

	mid := len(keys) / 2
	leftNode := &node{keys: keys[:mid], children: children[:mid+1]}
	rightNode := &node{keys: keys[mid+1:], children: children[mid+1:]}
	return nil, &split{
		left:  newLazyFromNode(leftNode),
		sep:   keys[mid],
		right: newLazyFromNode(rightNode),
	}
}

// spliceBytes inserts v at index i, shifting the tail right by one. The
// result length is always len(s)+1 (splice-insert semantics
// note resolving the "insert helper" ambiguity).
func spliceBytes(s [][]byte, i int, v []byte) [][]byte {
	out := make([][]byte, len(s)+1)
	copy(out[:i], s[:i])
	out[i] = v
	copy(out[i+1:], s[i:])
	return out
}

// workingSetSize counts keys resident in memory rooted at n, not
// descending into unresolved LazyNode handles.
func (n *node) workingSetSize() int {
	if n.leaf {
		return len(n.keys)
	}
	total := 0
	for _, c := range n.children {
		if c.isResolved() {
			total += c.node.workingSetSize()
		}
	}
	return total
}
