package partialmap

import (
	"context"
	"sync"
	"time"

	"github.com/jenn-le/partialmap/btree"
	"github.com/jenn-le/partialmap/events"
	"github.com/jenn-le/partialmap/handle"
	"github.com/jenn-le/partialmap/host"
	"github.com/jenn-le/partialmap/leader"
	"github.com/jenn-le/partialmap/state"
	"golang.org/x/sync/singleflight"
)

// runtimeBlobStore adapts a host.Runtime's blob methods to btree.BlobStore,
// the narrower contract the tree itself needs.
type runtimeBlobStore struct {
	rt host.Runtime
}

func (r runtimeBlobStore) Upload(ctx context.Context, b []byte) (handle.Handle, error) {
	return r.rt.UploadBlob(ctx, b)
}

func (r runtimeBlobStore) Resolve(ctx context.Context, h handle.Handle) ([]byte, error) {
	return r.rt.ResolveBlob(ctx, h)
}

// flushState is the compaction state machine: None ->
// Uploading -> AwaitingAck -> None.
type flushState int

const (
	flushNone flushState = iota
	flushUploading
	flushAwaitingAck
)

// FlushHealth reports the health of this client's own flush attempts.
// Intended for diagnostics and CLI display, not for anything the
// protocol itself branches on.
type FlushHealth struct {
	LastFlushAt  time.Time
	LastErrorAt  time.Time
	LastError    error
	ConsecErrors int
}

// Healthy reports whether the most recent flush attempt succeeded.
func (h FlushHealth) Healthy() bool { return h.LastError == nil }

// Map is the collaborative partial map controller: the
// public get/set/delete/clear surface, op submission and application,
// compaction scheduling, and summary production, wired together over the
// chunked B-tree and the two in-memory write layers.
type Map struct {
	cfg     Config
	rt      host.Runtime
	codec   host.Codec
	store   btree.BlobStore
	oplog   *OpLogger
	bus     *events.Bus
	gcGroup singleflight.Group

	mu          sync.Mutex
	tree        *btree.Tree
	pending     *state.PendingState
	sequenced   *state.SequencedState
	evictEngine *state.Engine
	tracker     *leader.Tracker
	flush       flushState
	lastFlushSeq uint64
	health      FlushHealth
	localSeq    uint64
}

// New constructs a Map over rt and codec, starting from an empty tree.
// Call Load instead of New if the host already has an attach summary.
func New(cfg Config, rt host.Runtime, codec host.Codec) (*Map, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Map{
		cfg:         cfg,
		rt:          rt,
		codec:       codec,
		store:       runtimeBlobStore{rt: rt},
		bus:         events.NewBus(),
		tree:        btree.New(cfg.Order),
		pending:     state.New(),
		sequenced:   state.New(cfg.CacheSizeHint),
		evictEngine: state.NewEngine(cfg.CacheSizeHint),
	}, nil
}

// Subscribe returns a subscription to this Map's event notifications.
func (m *Map) Subscribe() *events.Subscription {
	return m.bus.Subscribe()
}

// SetOpLog attaches a rotated operational log; nil disables it.
func (m *Map) SetOpLog(l *OpLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oplog = l
}

// Get returns the value stored under key, consulting pending writes,
// then the sequenced cache, then the flushed tree, in that order: a
// client always sees its own writes immediately. A hit that comes from
// the tree is written back into the sequenced cache and triggers
// eviction, so the working set stays bounded by cache_size_hint even
// under a read-heavy workload.
func (m *Map) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, WithStack(ErrInvalidKey)
	}
	m.mu.Lock()
	if v, found, ok := m.pending.Get(key); ok {
		m.mu.Unlock()
		return v, found, nil
	}
	if v, found, ok := m.sequenced.Get(key); ok {
		m.mu.Unlock()
		return v, found, nil
	}
	tree := m.tree
	store := m.store
	m.mu.Unlock()

	v, found, err := tree.Get(ctx, store, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		m.mu.Lock()
		m.sequenced.Cache(key, v)
		m.evictEngine.Run(m.sequenced, m.tree, m.sequenced.EvictableKeys())
		m.mu.Unlock()
	}
	return v, found, nil
}

// Has reports whether key is present.
func (m *Map) Has(ctx context.Context, key []byte) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// Set submits a write of value for key. If the host is attached, the op
// is handed to the ordering service and applied once it comes back
// through Apply; if detached, the write is only recorded in the pending
// layer and no op is submitted for it, then or on a later reattachment.
func (m *Map) Set(ctx context.Context, key, value []byte) error {
	if len(key) == 0 {
		return WithStack(ErrInvalidKey)
	}
	seq := m.nextLocalSeq()
	m.mu.Lock()
	m.pending.Set(key, value, seq)
	m.mu.Unlock()

	if !m.rt.IsAttached() {
		return nil
	}
	if err := m.rt.SubmitLocalMessage(ctx, host.Set(key, value)); err != nil {
		return WithStack(err)
	}
	return nil
}

// Delete submits a deletion of key.
func (m *Map) Delete(ctx context.Context, key []byte) error {
	if len(key) == 0 {
		return WithStack(ErrInvalidKey)
	}
	seq := m.nextLocalSeq()
	m.mu.Lock()
	m.pending.Delete(key, seq)
	m.mu.Unlock()

	if !m.rt.IsAttached() {
		return nil
	}
	if err := m.rt.SubmitLocalMessage(ctx, host.Delete(key)); err != nil {
		return WithStack(err)
	}
	return nil
}

// Clear submits a clear of the whole map.
func (m *Map) Clear(ctx context.Context) error {
	seq := m.nextLocalSeq()
	m.mu.Lock()
	m.pending.Clear(seq)
	m.mu.Unlock()

	if !m.rt.IsAttached() {
		return nil
	}
	if err := m.rt.SubmitLocalMessage(ctx, host.Clear()); err != nil {
		return WithStack(err)
	}
	return nil
}

func (m *Map) nextLocalSeq() uint64 {
	return Increment(&m.localSeq)
}

// Apply is the op-application loop entry point: the host calls this once per op, in total order,
// whether the op originated locally or from another client.
func (m *Map) Apply(ctx context.Context, sq host.Sequenced) error {
	switch sq.Op.Kind {
	case host.OpKindSet:
		m.applySet(sq)
	case host.OpKindDelete:
		m.applyDelete(sq)
	case host.OpKindClear:
		m.applyClear(sq)
	case host.OpKindFlush:
		m.applyFlush(sq)
	default:
		return WithStack(ErrUnknownOp)
	}
	if m.oplog != nil {
		m.oplog.Log(sq.Sequence, string(sq.Op.Kind), sq.Local)
	}
	m.maybeStartFlush(ctx)
	return nil
}

func (m *Map) applySet(sq host.Sequenced) {
	m.mu.Lock()
	m.sequenced.Set(sq.Op.Key, sq.Op.Value, sq.Sequence)
	if sq.Local {
		m.pending.AckModify(sq.Op.Key)
	}
	m.mu.Unlock()
	m.bus.Publish(events.ValueChanged{Key: sq.Op.Key, Local: sq.Local})
}

func (m *Map) applyDelete(sq host.Sequenced) {
	m.mu.Lock()
	m.sequenced.Delete(sq.Op.Key, sq.Sequence)
	if sq.Local {
		m.pending.AckModify(sq.Op.Key)
	}
	m.mu.Unlock()
	m.bus.Publish(events.ValueChanged{Key: sq.Op.Key, Local: sq.Local})
}

func (m *Map) applyClear(sq host.Sequenced) {
	m.mu.Lock()
	m.sequenced.Clear(sq.Sequence)
	m.tree = m.tree.Clear()
	if sq.Local {
		m.pending.AckClear()
	}
	m.mu.Unlock()
	m.bus.Publish(events.Clear{Local: sq.Local})
}

// applyFlush reconciles an incoming Flush op against what this client has
// already applied, silently dropping it if it is stale — a flush is stale once a
// later-sequenced flush has already been applied on top of the snapshot
// it was computed from.
func (m *Map) applyFlush(sq host.Sequenced) {
	m.mu.Lock()
	if sq.Op.RefSeq < m.lastFlushSeq {
		if sq.Local && m.flush == flushAwaitingAck {
			m.flush = flushNone
		}
		m.mu.Unlock()
		return
	}
	m.tree = m.tree.Update(sq.Op.Flush)
	m.sequenced.Flush(sq.Op.RefSeq)
	m.lastFlushSeq = sq.Sequence
	if sq.Local {
		m.flush = flushNone
		m.health.LastFlushAt = time.Now()
		m.health.LastError = nil
		m.health.ConsecErrors = 0
	}
	m.mu.Unlock()
	m.bus.Publish(events.Flush{IsLeader: sq.Local})
}

// maybeStartFlush begins a compaction if this client is the leader, no
// flush is already in flight, and the unflushed change count has passed
// flush_threshold.
func (m *Map) maybeStartFlush(ctx context.Context) {
	m.mu.Lock()
	if m.tracker == nil || !m.tracker.IsLeader() {
		m.mu.Unlock()
		return
	}
	if m.flush != flushNone {
		m.mu.Unlock()
		return
	}
	if m.sequenced.UnflushedChangeCount() <= m.cfg.FlushThreshold {
		m.mu.Unlock()
		return
	}
	m.flush = flushUploading
	m.mu.Unlock()

	go m.runFlush(ctx)
}

// runFlush folds every unflushed change into the tree, uploads the
// resulting nodes, and submits a Flush op for the ordering service to
// sequence. The flush only completes, from this client's
// point of view, once Apply observes it come back.
func (m *Map) runFlush(ctx context.Context) {
	m.bus.Publish(events.StartFlush{})

	m.mu.Lock()
	tree := m.tree
	changes := m.sequenced.FlushableChanges()
	refSeq := m.rt.LastSequenceNumber()
	m.mu.Unlock()

	var err error
	for _, c := range changes {
		if c.Deleted {
			tree, err = tree.Delete(ctx, m.store, c.Key)
		} else {
			tree, err = tree.Set(ctx, m.store, c.Key, c.Value)
		}
		if err != nil {
			m.recordFlushError(err)
			return
		}
	}

	newTree, delta, err := tree.Flush(ctx, m.store)
	if err != nil {
		m.recordFlushError(err)
		return
	}

	m.mu.Lock()
	m.tree = newTree
	m.flush = flushAwaitingAck
	m.mu.Unlock()

	if err := m.rt.SubmitLocalMessage(ctx, host.FlushOp(delta, refSeq)); err != nil {
		m.recordFlushError(err)
	}
}

func (m *Map) recordFlushError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flush = flushNone
	m.health.LastError = err
	m.health.LastErrorAt = time.Now()
	m.health.ConsecErrors++
}

// Health returns a snapshot of this client's own flush health.
func (m *Map) Health() FlushHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// AttachSummary produces the host attach summary for a new client to
// load via Load, forcing a flush first if the tree is too large to
// travel inline.
func (m *Map) AttachSummary(ctx context.Context) (host.Summary, error) {
	m.mu.Lock()
	tree := m.tree
	m.mu.Unlock()
	return tree.FlushSync(ctx, m.store)
}

// Load replaces this Map's tree with the one described by summary,
// typically called once at attach time before any local writes.
func (m *Map) Load(summary host.Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree = btree.FromSummary(m.cfg.Order, summary)
}

// GCData returns every handle reachable from the current flushed tree,
// including handles embedded within stored values, the full root set the
// host's garbage collector keeps alive. Concurrent callers collapse onto a single
// walk of the tree rather than each paying for their own full traversal.
func (m *Map) GCData(ctx context.Context) (*handle.Set, error) {
	v, err, _ := m.gcGroup.Do("gc", func() (any, error) {
		return m.gcData(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*handle.Set), nil
}

func (m *Map) gcData(ctx context.Context) (*handle.Set, error) {
	m.mu.Lock()
	tree := m.tree
	codec := m.codec
	m.mu.Unlock()

	all, err := tree.AllHandles(ctx, m.store)
	if err != nil {
		return nil, err
	}
	if codec == nil {
		return all, nil
	}
	err = tree.WalkLeaves(ctx, m.store, func(_, value []byte) error {
		embedded, err := codec.EmbeddedHandles(value)
		if err != nil {
			return err
		}
		all.AddAll(embedded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// Evict sheds resident memory back toward cache_size_hint.
// Call periodically, or after WorkingSetSize grows past cache_size_hint.
func (m *Map) Evict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictEngine.Run(m.sequenced, m.tree, m.sequenced.EvictableKeys())
}

// WorkingSetSize reports how many keys are currently resident in memory
// across the tree's resolved nodes.
func (m *Map) WorkingSetSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.WorkingSetSize()
}

// SetLeaderTracker wires in the quorum leadership tracker; until one is set, this client never initiates a
// flush on its own.
func (m *Map) SetLeaderTracker(t *leader.Tracker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracker = t
}
