// Package state implements the two in-memory layers the controller keeps
// on top of the chunked B-tree: PendingState for writes
// the client has issued but not yet seen acknowledged in the total order,
// and SequencedState for the acked-but-not-yet-flushed cache with
// eviction. PendingState is a plain, lock-protected map and
// SequencedState a lock-protected expirable-cache; both expose a narrow,
// purpose-built method set rather than a generic concurrent map type.
package state

import "sync"

// pendingOp tags what a pending write will do to a key once sequenced.
type pendingOp int

const (
	pendingSet pendingOp = iota
	pendingDelete
)

type pendingEntry struct {
	op    pendingOp
	value []byte
	seq   uint64
}

// PendingState holds local writes this client has submitted but has not
// yet observed come back through the total order. Reads
// consult it first so a client always sees its own writes immediately,
// even while detached.
//
// A key can have more than one write outstanding at once (the client
// calls Set twice before either comes back through Apply), so retiring a
// pending entry can't be done by matching a single sequence number —
// there is no single number to match, since this client's local seq and
// the total order's seq are different counters that only coincide by
// accident in the simplest cases. Instead outstanding tracks, per key,
// how many issued writes are still unacknowledged; AckModify just counts
// one down and only drops the entry once every outstanding write for
// that key has come back.
type PendingState struct {
	mu sync.RWMutex

	entries     map[string]pendingEntry
	outstanding map[string]int
	// clearedAt is the local seq of the most recent pending Clear; it is
	// only consulted while hasClear is set. A pending Clear supersedes
	// every pendingEntry with a lower seq and is superseded by any with a
	// higher one.
	clearedAt uint64
	hasClear  bool
	// clearsOutstanding counts issued-but-unacknowledged Clears, for the
	// same reason outstanding does for per-key writes.
	clearsOutstanding int
}

// New returns an empty PendingState.
func New() *PendingState {
	return &PendingState{entries: map[string]pendingEntry{}, outstanding: map[string]int{}}
}

// Get returns the pending value for key, if any write for it is still
// outstanding. ok is false if there is no pending write for key (the
// caller should fall through to SequencedState/the tree); found is false
// if the pending write is a Delete or predates an outstanding Clear (the
// key is pending-absent).
func (p *PendingState) Get(key []byte) (value []byte, found, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, present := p.entries[string(key)]
	if !present {
		if p.hasClear {
			return nil, false, true
		}
		return nil, false, false
	}
	if p.hasClear && p.clearedAt > e.seq {
		return nil, false, true
	}
	if e.op == pendingDelete {
		return nil, false, true
	}
	return e.value, true, true
}

// Set records a pending write of value for key, to be retired once a
// matching AckModify has come back for every write outstanding on key.
func (p *PendingState) Set(key, value []byte, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := string(key)
	p.entries[k] = pendingEntry{op: pendingSet, value: value, seq: seq}
	p.outstanding[k]++
}

// Delete records a pending deletion of key.
func (p *PendingState) Delete(key []byte, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := string(key)
	p.entries[k] = pendingEntry{op: pendingDelete, seq: seq}
	p.outstanding[k]++
}

// Clear records a pending clear of the whole map: every entry with a
// lower seq is superseded, and the map forgets anything it no longer
// needs to track individually (an ack for one of those superseded writes
// arriving later is simply ignored, see AckModify).
func (p *PendingState) Clear(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearedAt = seq
	p.hasClear = true
	p.clearsOutstanding++
	for k, e := range p.entries {
		if e.seq <= seq {
			delete(p.entries, k)
			delete(p.outstanding, k)
		}
	}
}

// AckModify retires one outstanding write for key, so future reads fall
// through to SequencedState once every write issued for key has been
// acknowledged. A no-op if key has nothing outstanding (already fully
// acked, or superseded by a Clear).
func (p *PendingState) AckModify(key []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := string(key)
	n, ok := p.outstanding[k]
	if !ok {
		return
	}
	n--
	if n <= 0 {
		delete(p.outstanding, k)
		delete(p.entries, k)
		return
	}
	p.outstanding[k] = n
}

// AckClear retires one outstanding Clear; the pending-clear marker only
// drops once every issued Clear has been acknowledged.
func (p *PendingState) AckClear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clearsOutstanding == 0 {
		return
	}
	p.clearsOutstanding--
	if p.clearsOutstanding == 0 {
		p.hasClear = false
	}
}

// Size returns the number of keys with an outstanding pending write.
func (p *PendingState) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// HasClear reports whether a Clear is still outstanding.
func (p *PendingState) HasClear() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hasClear
}
