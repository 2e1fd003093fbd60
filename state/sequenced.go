package state

import (
	"sync"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

// seqEntry is one cached, acknowledged-but-not-yet-flushed write.
type seqEntry struct {
	value   []byte
	deleted bool
	seq     uint64
}

// Change describes one unflushed write for the compaction path to fold
// into the next tree edit.
type Change struct {
	Key     []byte
	Value   []byte
	Deleted bool
	Seq     uint64
}

// SequencedState caches writes that have been acknowledged by the total
// order but not yet folded into a flushed tree. It is bounded
// by cache_size_hint via an LRU eviction policy, backed by
// go-pkgz/expirable-cache.
type SequencedState struct {
	mu sync.Mutex

	c              cache.Cache[string, seqEntry]
	lastFlushedSeq uint64
	unflushed      map[string]struct{}
}

// New returns an empty SequencedState bounded to at most maxKeys resident
// entries.
func New(maxKeys int) *SequencedState {
	c := cache.NewCache[string, seqEntry]().WithMaxKeys(maxKeys).WithLRU()
	return &SequencedState{c: c, unflushed: map[string]struct{}{}}
}

// Get returns the cached value for key, if resident. Deleted entries
// report found=false, ok=true, distinguishing "known absent" from
// "not cached, fall through to the tree" (ok=false).
func (s *SequencedState) Get(key []byte) (value []byte, found, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, present := s.c.Get(string(key))
	if !present {
		return nil, false, false
	}
	if e.deleted {
		return nil, false, true
	}
	return e.value, true, true
}

// Set records an acknowledged write of value for key at seq.
func (s *SequencedState) Set(key, value []byte, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Set(string(key), seqEntry{value: value, seq: seq})
	if seq > s.lastFlushedSeq {
		s.unflushed[string(key)] = struct{}{}
	}
}

// Delete records an acknowledged deletion of key at seq.
func (s *SequencedState) Delete(key []byte, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Set(string(key), seqEntry{deleted: true, seq: seq})
	if seq > s.lastFlushedSeq {
		s.unflushed[string(key)] = struct{}{}
	}
}

// Cache records value as a read-through cache entry for key: a hit that
// originated from the flushed tree rather than from an acknowledged
// write. Unlike Set, this never marks key unflushed — the tree already
// reflects it, so there's nothing left to fold into a future flush.
func (s *SequencedState) Cache(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Set(string(key), seqEntry{value: value})
}

// Clear drops every cached entry; the tree itself tracks the clear via
// its own Clear operation.
func (s *SequencedState) Clear(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Purge()
	s.unflushed = map[string]struct{}{}
	if seq > s.lastFlushedSeq {
		s.lastFlushedSeq = seq
	}
}

// Evict drops key from the cache without affecting flush bookkeeping,
// used by the eviction engine to shed memory for keys that are safe to
// re-fetch from the flushed tree. Evicting a key with an unflushed write
// would silently drop that write (and the tree would still return the
// stale pre-write value), so Evict refuses to touch anything in
// unflushed; callers should only pass keys from EvictableKeys.
func (s *SequencedState) Evict(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, modified := s.unflushed[string(key)]; modified {
		return
	}
	s.c.Invalidate(string(key))
}

// EvictableKeys returns every key resident in the cache whose write has
// already been folded into a flushed tree — the complement of
// FlushableChanges. These are the only cache entries eviction may drop:
// a key still in the unflushed/modified set must stay resident until its
// write is durable, or Get would fall through to the tree and observe a
// reverted value.
func (s *SequencedState) EvictableKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.c.Keys()
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if _, modified := s.unflushed[k]; !modified {
			keys = append(keys, k)
		}
	}
	return keys
}

// FlushableChanges returns every acknowledged write not yet reflected in
// a flushed tree, for the compaction path to fold into the next edit.
func (s *SequencedState) FlushableChanges() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	changes := make([]Change, 0, len(s.unflushed))
	for k := range s.unflushed {
		e, ok := s.c.Get(k)
		if !ok {
			continue
		}
		changes = append(changes, Change{Key: []byte(k), Value: e.value, Deleted: e.deleted, Seq: e.seq})
	}
	return changes
}

// Flush marks every change up to and including refSeq as folded into the
// flushed tree, so they stop counting toward the unflushed total.
func (s *SequencedState) Flush(refSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if refSeq > s.lastFlushedSeq {
		s.lastFlushedSeq = refSeq
	}
	for k := range s.unflushed {
		e, ok := s.c.Get(k)
		if !ok || e.seq <= refSeq {
			delete(s.unflushed, k)
		}
	}
}

// UnflushedChangeCount is the flush_threshold comparand
func (s *SequencedState) UnflushedChangeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unflushed)
}

// Size returns the number of entries currently resident in the cache.
func (s *SequencedState) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Len()
}
