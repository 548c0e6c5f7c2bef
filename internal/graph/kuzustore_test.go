//go:build cgo

package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a fresh in-memory KuzuStore with an initialized schema.
func newTestStore(t *testing.T) *KuzuStore {
	t.Helper()
	s, err := NewKuzuStore()
	require.NoError(t, err, "NewKuzuStore should not fail")
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.InitSchema(context.Background()), "InitSchema should not fail")
	return s
}

func TestKuzuStore_InitSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InitSchema(context.Background()))
}

func TestKuzuStore(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s)
	checkStore(t, s)
}

func TestKuzuStore_AddSampleReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddSample(ctx, SampleNode{Name: "a"}))
	require.NoError(t, s.AddSample(ctx, SampleNode{Name: "a", Reference: true}))

	got, err := s.GetSample(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Reference)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SampleCount)
}

func TestKuzuStore_EdgeNeedsSamples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddSample(ctx, SampleNode{Name: "a"}))
	assert.ErrorIs(t, s.AddEdge(ctx, Edge{Source: "a", Target: "b"}), ErrNotFound)
}

func TestOpenFileStore_PersistReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run_graph")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	run := testRun(t)
	require.NoError(t, Persist(ctx, s, run))
	require.NoError(t, s.Close())

	s, err = OpenFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	net, c, refs, err := LoadNetwork(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, run.Network.Edges(), net.Edges())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"s1", "s3", "s4"}, refs)
}
