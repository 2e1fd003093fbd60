// Package leader tracks which attached client is the oldest member of
// the current quorum and is therefore responsible for single-leader
// compaction. Leader *election* — the
// consensus protocol that decides quorum membership in the first place
// — is a host concern; Tracker only turns the host's join/leave feed
// into a promoted/demoted signal.
package leader

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jenn-le/partialmap/heap"
)

// MemberID identifies one attached client in the quorum.
type MemberID = uuid.UUID

// member pairs an ID with its join sequence: the oldest join sequence in
// the roster is always the leader.
type member struct {
	id    MemberID
	joined uint64
}

// Tracker maintains the quorum roster and reports whether the local
// client is currently the leader. It uses a heap.Heap to find the
// oldest member in O(log n)
// instead of the position-priority use it originally served.
type Tracker struct {
	mu      sync.Mutex
	self    MemberID
	members map[MemberID]uint64
	roster  *heap.Heap[member]
	seq     uint64
	leader  bool
}

// New returns a Tracker for a client identified by self. self is not
// implicitly a member: the host is expected to call Join(self) as part
// of attaching, the same as it would for any other quorum member, so
// leadership always reflects actual join order rather than an assumed
// head start.
func New(self MemberID) *Tracker {
	return &Tracker{
		self:    self,
		members: map[MemberID]uint64{},
		roster:  heap.New(func(a, b member) bool { return a.joined < b.joined }),
	}
}

// Join records that member id (which may be self) has joined the quorum
// at the next join sequence, and returns (promoted, demoted): at most
// one is true, reporting any leadership change this join caused.
func (t *Tracker) Join(id MemberID) (promoted, demoted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.members[id]; known {
		return false, false
	}
	t.seq++
	t.members[id] = t.seq
	t.roster.Push(member{id: id, joined: t.seq})
	return t.reconcile()
}

// Leave records that member id (which may be self, on local detach) has
// left the quorum, and returns (promoted, demoted) for any leadership
// change this causes.
func (t *Tracker) Leave(id MemberID) (promoted, demoted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.members[id]; !known {
		return false, false
	}
	delete(t.members, id)
	t.rebuildRoster()
	return t.reconcile()
}

// rebuildRoster drops stale entries (already-left members still sitting
// in the heap) by rebuilding it from the current membership. The heap has
// no arbitrary-removal primitive, so a lazy rebuild on Leave is the
// simplest correct approach at quorum sizes this protocol expects.
func (t *Tracker) rebuildRoster() {
	t.roster = heap.New(func(a, b member) bool { return a.joined < b.joined })
	for id, joined := range t.members {
		t.roster.Push(member{id: id, joined: joined})
	}
}

// reconcile recomputes leadership from the current roster and reports
// any change.
func (t *Tracker) reconcile() (promoted, demoted bool) {
	wasLeader := t.leader
	oldest, ok := t.oldestLive()
	isLeader := ok && oldest == t.self
	t.leader = isLeader
	return isLeader && !wasLeader, wasLeader && !isLeader
}

// oldestLive pops stale (left) entries off the roster heap until it finds
// a member still present in t.members, or the heap empties.
func (t *Tracker) oldestLive() (MemberID, bool) {
	for {
		top, found := t.roster.Peek()
		if !found {
			return MemberID{}, false
		}
		if joined, live := t.members[top.id]; live && joined == top.joined {
			return top.id, true
		}
		t.roster.Pop()
	}
}

// IsLeader reports whether the local client currently believes itself to
// be the leader.
func (t *Tracker) IsLeader() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leader
}

// Size returns the number of members currently tracked in the quorum.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.members)
}
