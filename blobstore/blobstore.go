// Package blobstore provides a content-addressed blob store for the
// chunked B-tree: handles are minted from a blake2b digest of the blob's
// bytes, so uploading the same node twice yields the same handle and
// never duplicates storage. The underlying key-value engine is
// github.com/estraier/tkrzw-go.
package blobstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/estraier/tkrzw-go"
	"github.com/jenn-le/partialmap"
	"github.com/jenn-le/partialmap/handle"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// checkStatus converts a tkrzw status into an error, wrapping a
// not-found code in partialmap.ErrCorruptNode: a handle the tree holds
// but the store can't resolve is always a corruption, never an ordinary
// miss.
func checkStatus(stat *tkrzw.Status, h handle.Handle) error {
	if stat.GetCode() == tkrzw.StatusNotFoundError {
		return partialmap.WithStack(errors.Wrapf(partialmap.ErrCorruptNode, "handle %q not found", h))
	}
	if !stat.IsOK() {
		return partialmap.WithStack(errors.Wrap(partialmap.ErrStorageUnavailable, stat.Error()))
	}
	return nil
}

// mintHandle derives a content-addressed handle for b using blake2b,
// the digest most of the content-addressed examples in this domain
// reach for when minting handles.
func mintHandle(b []byte) handle.Handle {
	sum := blake2b.Sum256(b)
	return handle.Handle(hex.EncodeToString(sum[:]))
}

// Store is a tkrzw-backed, content-addressed blob store. It satisfies
// btree.BlobStore and is also suitable as the blob half of a host
// Runtime implementation.
type Store struct {
	dbm   *tkrzw.DBM
	mutex sync.RWMutex
}

// Open opens (creating if absent) a tkrzw hash database at dir/name.tkh
// for use as a blob store.
func Open(dir, name string) (*Store, error) {
	o := &opener{dir: dir}
	dbm := o.openHash(name)
	if o.err != nil {
		return nil, partialmap.WithStack(o.err)
	}
	return &Store{dbm: dbm}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	if stat := s.dbm.Close(); !stat.IsOK() {
		return partialmap.WithStack(stat)
	}
	return nil
}

// Upload stores b under its content-derived handle and returns that
// handle. Uploading identical bytes twice is a no-op the second time:
// the handle is already present.
func (s *Store) Upload(ctx context.Context, b []byte) (handle.Handle, error) {
	h := mintHandle(b)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.dbm.Check(string(h)) {
		return h, nil
	}
	if stat := s.dbm.Set(string(h), b, false); !stat.IsOK() && stat.GetCode() != tkrzw.StatusDuplicationError {
		return "", partialmap.WithStack(errors.Wrap(partialmap.ErrStorageUnavailable, stat.Error()))
	}
	return h, nil
}

// Resolve returns the bytes previously uploaded under h.
func (s *Store) Resolve(ctx context.Context, h handle.Handle) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	b, stat := s.dbm.Get(string(h))
	if err := checkStatus(stat, h); err != nil {
		return nil, err
	}
	return b, nil
}

// Delete removes the blob stored under h, used by the controller's
// garbage collection pass once a handle is no longer reachable from any
// flushed tree. Deleting an absent handle is a no-op.
func (s *Store) Delete(ctx context.Context, h handle.Handle) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	stat := s.dbm.Remove(string(h))
	if stat.GetCode() == tkrzw.StatusNotFoundError {
		return nil
	}
	if !stat.IsOK() {
		return partialmap.WithStack(errors.Wrap(partialmap.ErrStorageUnavailable, stat.Error()))
	}
	return nil
}

// opener centralizes tkrzw.DBM.Open option sets.
type opener struct {
	dir string
	err error
}

func (o *opener) openHash(name string) *tkrzw.DBM {
	if o.err != nil {
		return nil
	}
	dbm := tkrzw.NewDBM()
	stat := dbm.Open(filepath.Join(o.dir, fmt.Sprintf("%s.tkh", name)), true, map[string]string{
		"update_mode":      "UPDATE_APPENDING",
		"record_comp_mode": "RECORD_COMP_NONE",
		"restore_mode":     "RESTORE_SYNC|RESTORE_NO_SHORTCUTS|RESTORE_WITH_HARDSYNC",
	})
	if !stat.IsOK() {
		o.err = errors.WithStack(stat)
	}
	return dbm
}
