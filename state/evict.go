package state

import (
	"github.com/jenn-le/partialmap/btree"
)

// Engine coordinates shedding memory from both in-memory layers once
// their combined resident size passes cache_size_hint. It
// never evicts anything not yet safely durable: a SequencedState entry
// stays resident until its write is folded into a flushed tree, and a
// tree node stays resident until it has been uploaded and has a handle
// to fall back to (lazyNode.evict already enforces the latter on its
// own).
type Engine struct {
	cacheSizeHint int
}

// NewEngine returns an eviction engine bounded to cacheSizeHint resident
// entries across both layers.
func NewEngine(cacheSizeHint int) *Engine {
	return &Engine{cacheSizeHint: cacheSizeHint}
}

// Over reports whether the combined resident size (SequencedState.Size
// plus Tree.WorkingSetSize) has passed the configured bound.
func (e *Engine) Over(seqSize, treeWorkingSetSize int) bool {
	return seqSize+treeWorkingSetSize > e.cacheSizeHint
}

// Run sheds memory down toward cacheSizeHint: it evicts cached
// SequencedState keys whose writes are already flushed, then evicts
// resolved tree nodes back to handle-only, stopping as soon as the
// combined size is back under budget or there is nothing left that is
// safe to drop. evictableKeys must come from SequencedState.EvictableKeys,
// never from FlushableChanges: the latter is exactly the set of keys
// still unsafe to evict.
func (e *Engine) Run(seq *SequencedState, tree *btree.Tree, evictableKeys []string) {
	for _, k := range evictableKeys {
		if !e.Over(seq.Size(), tree.WorkingSetSize()) {
			return
		}
		seq.Evict([]byte(k))
	}

	if !e.Over(seq.Size(), tree.WorkingSetSize()) {
		return
	}
	tree.Evict(tree.ResidentHandles())
}
