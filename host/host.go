// Package host defines the contracts the core consumes from its enclosing
// runtime: op submission, blob upload/resolve, value
// (de)serialization, and the op wire schema itself. None of these are
// implemented by the core — only JSONCodec is shipped as a reference
// implementation of the Codec contract, built on goccy/go-json.
package host

import (
	"context"

	goccy "github.com/goccy/go-json"
	"github.com/jenn-le/partialmap/handle"
	"github.com/pkg/errors"
)

// Runtime is the host runtime contract: submit_local_message,
// upload_blob, last_sequence_number, is_attached. Blob resolution is part
// of the same contract (the "blob service" is reached through it).
type Runtime interface {
	// SubmitLocalMessage hands op to the ordering service. The op comes
	// back, in order, through the controller's op-application loop.
	SubmitLocalMessage(ctx context.Context, op Op) error
	// UploadBlob persists b and returns a handle for it.
	UploadBlob(ctx context.Context, b []byte) (handle.Handle, error)
	// ResolveBlob returns the bytes previously uploaded under h.
	ResolveBlob(ctx context.Context, h handle.Handle) ([]byte, error)
	// LastSequenceNumber returns the sequence number of the most recently
	// applied op, or 0 before any op has been applied.
	LastSequenceNumber() uint64
	// IsAttached reports whether this client is currently connected to the
	// ordering service. Detached clients buffer mutations locally instead
	// of submitting ops.
	IsAttached() bool
}

// Codec is the value (de)serialization contract The core
// never decodes values itself (Value stays opaque []byte end to end); this
// is only reached for two purposes: producing wire bytes at the host
// boundary, and enumerating handles embedded in a value for GC.
type Codec interface {
	Serialize(v any) ([]byte, error)
	Deserialize(b []byte, out any) error
	// EmbeddedHandles returns the handles referenced from within an
	// encoded value, without requiring the caller to know the value's
	// concrete type.
	EmbeddedHandles(b []byte) ([]handle.Handle, error)
}

// JSONCodec is a reference Codec backed by goccy/go-json. It never embeds
// handles (plain JSON values carry none), so EmbeddedHandles always
// returns nil; it exists so the demo binaries and tests have a concrete,
// runnable Codec to exercise the Runtime/Codec boundary against.
type JSONCodec struct{}

func (JSONCodec) Serialize(v any) ([]byte, error) {
	b, err := goccy.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

func (JSONCodec) Deserialize(b []byte, out any) error {
	if err := goccy.Unmarshal(b, out); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (JSONCodec) EmbeddedHandles(b []byte) ([]handle.Handle, error) {
	return nil, nil
}

// OpKind tags the variant of an Op.
type OpKind string

const (
	OpKindSet    OpKind = "set"
	OpKindDelete OpKind = "delete"
	OpKindClear  OpKind = "clear"
	OpKindFlush  OpKind = "flush"
)

// FlushDelta is the `update` field of a Flush op: the output of
// ChunkedBTree.Flush, ready to be applied by ChunkedBTree.Update.
type FlushDelta struct {
	NewRoot        handle.Handle   `json:"new_root"`
	NewHandles     []handle.Handle `json:"new_handles"`
	DeletedHandles []handle.Handle `json:"deleted_handles"`
}

// Op is the tagged union: Set / Delete / Clear / Flush. Only the fields
// matching Kind are meaningful; the others are left empty, and empty
// key, value and ref_sequence_number fields are omitted from the wire.
type Op struct {
	Kind  OpKind     `json:"kind"`
	Key   []byte     `json:"key,omitempty"`
	Value []byte     `json:"value,omitempty"`
	Flush FlushDelta `json:"flush,omitempty"`
	RefSeq uint64    `json:"ref_sequence_number,omitempty"`
}

// Set builds a Set op.
func Set(key, value []byte) Op { return Op{Kind: OpKindSet, Key: key, Value: value} }

// Delete builds a Delete op.
func Delete(key []byte) Op { return Op{Kind: OpKindDelete, Key: key} }

// Clear builds a Clear op.
func Clear() Op { return Op{Kind: OpKindClear} }

// FlushOp builds a Flush op.
func FlushOp(update FlushDelta, refSeq uint64) Op {
	return Op{Kind: OpKindFlush, Flush: update, RefSeq: refSeq}
}

// Sequenced pairs an Op with the server-assigned total order position and
// whether this client originated it. The controller's op-application loop
// consumes a stream of these.
type Sequenced struct {
	Op       Op
	Sequence uint64
	Local    bool
}

// Encode marshals op to wire bytes using goccy/go-json.
func Encode(op Op) ([]byte, error) {
	b, err := goccy.Marshal(op)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// ErrUnknownOpKind is returned by Decode for an unrecognized tag, matching
// the fatal "UnknownOp" protocol violation
var ErrUnknownOpKind = errors.New("unknown op kind")

// Decode unmarshals wire bytes produced by Encode, validating the tag.
func Decode(b []byte) (Op, error) {
	var op Op
	if err := goccy.Unmarshal(b, &op); err != nil {
		return Op{}, errors.WithStack(err)
	}
	switch op.Kind {
	case OpKindSet, OpKindDelete, OpKindClear, OpKindFlush:
		return op, nil
	default:
		return Op{}, errors.WithStack(ErrUnknownOpKind)
	}
}

// Summary is the host summary contract's wire blob: the named
// "hive" blob that lets a new client attach without replaying history.
type Summary struct {
	Order   int             `json:"order"`
	Root    *handle.Handle  `json:"root,omitempty"`
	Inline  *InlineLeaf     `json:"inline,omitempty"`
	Handles []handle.Handle `json:"handles"`
}

// InlineLeaf packs every key/value pair into the summary itself, used only
// for attach-time summaries of empty/tiny maps.
type InlineLeaf struct {
	Keys   [][]byte `json:"keys"`
	Values [][]byte `json:"values"`
}
