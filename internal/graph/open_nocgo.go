//go:build !cgo

package graph

import "github.com/pkg/errors"

// OpenFileStore reports ErrNoPersistentStore: the Kuzu backend needs cgo.
func OpenFileStore(path string) (Store, error) {
	return nil, errors.Wrapf(ErrNoPersistentStore, "open %s", path)
}
