// Package localhost is a single-process, single-client host.Runtime used
// by the demo binaries: it has no real network or total-order service
// behind it, just an in-memory sequence counter and a direct call back
// into the Map's Apply loop. It exists to let partialmapd/partialmapctl
// exercise the real btree/blobstore/oplog stack end to end without
// standing up an actual distributed ordering service, which is a host
// concern this module never implements.
package localhost

import (
	"context"
	"sync"

	"github.com/jenn-le/partialmap"
	"github.com/jenn-le/partialmap/blobstore"
	"github.com/jenn-le/partialmap/handle"
	"github.com/jenn-le/partialmap/host"
)

// Runtime is a minimal host.Runtime over a local blobstore.Store.
type Runtime struct {
	store *blobstore.Store

	mu       sync.Mutex
	seq      uint64
	attached bool
	apply    func(context.Context, host.Sequenced) error
}

// New returns a Runtime backed by a blob store opened at dir/name.
func New(dir, name string) (*Runtime, error) {
	store, err := blobstore.Open(dir, name)
	if err != nil {
		return nil, err
	}
	return &Runtime{store: store, attached: true}, nil
}

// Bind wires the Map's Apply method in as the runtime's delivery target.
// Must be called once before any SubmitLocalMessage.
func (r *Runtime) Bind(apply func(context.Context, host.Sequenced) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apply = apply
}

// Close closes the underlying blob store.
func (r *Runtime) Close() error {
	return r.store.Close()
}

func (r *Runtime) SubmitLocalMessage(ctx context.Context, op host.Op) error {
	r.mu.Lock()
	r.seq = partialmap.Increment(&r.seq)
	seq := r.seq
	apply := r.apply
	r.mu.Unlock()
	if apply == nil {
		return nil
	}
	return apply(ctx, host.Sequenced{Op: op, Sequence: seq, Local: true})
}

func (r *Runtime) UploadBlob(ctx context.Context, b []byte) (handle.Handle, error) {
	return r.store.Upload(ctx, b)
}

func (r *Runtime) ResolveBlob(ctx context.Context, h handle.Handle) ([]byte, error) {
	return r.store.Resolve(ctx, h)
}

func (r *Runtime) LastSequenceNumber() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *Runtime) IsAttached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached
}
