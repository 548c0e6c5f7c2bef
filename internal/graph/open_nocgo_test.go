//go:build !cgo

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenFileStore_NoCgo(t *testing.T) {
	_, err := OpenFileStore(t.TempDir())
	assert.ErrorIs(t, err, ErrNoPersistentStore)
}
