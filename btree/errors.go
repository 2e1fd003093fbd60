package btree

import (
	"github.com/jenn-le/partialmap"
	"github.com/pkg/errors"
)

func wrapStorageUnavailable(err error) error {
	return partialmap.WithStack(errors.Wrap(partialmap.ErrStorageUnavailable, err.Error()))
}

func wrapCorruptNode(err error) error {
	return partialmap.WithStack(errors.Wrap(partialmap.ErrCorruptNode, err.Error()))
}
