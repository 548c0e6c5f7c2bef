package lineage

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// randomSquare returns the distances between n random points on a line.
func randomSquare(t *testing.T, n int, seed int64) *mat.SymDense {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	pos := make([]float64, n)
	for i := range pos {
		pos[i] = rng.Float64()
	}
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := pos[i] - pos[j]
			if v < 0 {
				v = -v
			}
			d.SetSym(i, j, v)
		}
	}
	return d
}

func edgeSet(s Sparse) map[[2]int]bool {
	out := make(map[[2]int]bool, s.Len())
	for _, e := range s.Edges() {
		out[e] = true
	}
	return out
}

func TestKNN_RowsAndClamp(t *testing.T) {
	d := mat.NewSymDense(4, []float64{
		0, 0, 0.2, 0.3,
		0, 0, 0.1, 0.4,
		0.2, 0.1, 0, 0.5,
		0.3, 0.4, 0.5, 0,
	})
	g, err := KNN(context.Background(), d, 2, Options{})
	require.NoError(t, err)
	require.Equal(t, 8, g.Len())

	// row 0: 1 (clamped 0), then 2
	assert.Equal(t, []int{0, 0}, g.Row[:2])
	assert.Equal(t, []int{1, 2}, g.Col[:2])
	assert.Equal(t, DefaultEpsilon, g.Data[0])
	for i := range g.Row {
		assert.NotEqual(t, g.Row[i], g.Col[i], "self pairs are never neighbours")
		assert.GreaterOrEqual(t, g.Data[i], DefaultEpsilon)
	}
}

func TestKNN_CountUniqueKeepsTies(t *testing.T) {
	d := mat.NewSymDense(4, []float64{
		0, 0.1, 0.1, 0.2,
		0.1, 0, 0.3, 0.3,
		0.1, 0.3, 0, 0.4,
		0.2, 0.3, 0.4, 0,
	})
	raw, err := KNN(context.Background(), d, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, raw.Len())

	unique, err := KNN(context.Background(), d, 1, Options{CountUnique: true})
	require.NoError(t, err)
	// row 0 ties 1 and 2 at 0.1
	assert.Equal(t, 5, unique.Len())
	assert.True(t, edgeSet(unique)[[2]int{0, 1}])
	assert.True(t, edgeSet(unique)[[2]int{0, 2}])
}

func TestKNN_Errors(t *testing.T) {
	d := randomSquare(t, 3, 1)
	_, err := KNN(context.Background(), d, 0, Options{})
	require.Error(t, err)
	_, err = KNN(context.Background(), d, 3, Options{})
	require.Error(t, err)
}

func TestManager_RankMonotonicity(t *testing.T) {
	for _, opts := range []Options{{}, {CountUnique: true}, {ReciprocalOnly: true}, {Threads: 4}} {
		m, err := NewManager([]int{5, 1, 3}, 8, opts)
		require.NoError(t, err)
		require.NoError(t, m.Build(context.Background(), randomSquare(t, 30, 2)))
		assert.Equal(t, []int{1, 3, 5}, m.Ranks())

		ranks := m.Ranks()
		for i := 1; i < len(ranks); i++ {
			lo, err := m.Graph(ranks[i-1])
			require.NoError(t, err)
			hi, err := m.Graph(ranks[i])
			require.NoError(t, err)
			his := edgeSet(hi)
			for e := range edgeSet(lo) {
				assert.True(t, his[e], "edge %v of rank %d missing from rank %d", e, ranks[i-1], ranks[i])
			}
		}
	}
}

func TestManager_RankMatchesDirectKNN(t *testing.T) {
	d := randomSquare(t, 25, 3)
	m, err := NewManager([]int{2, 4}, 10, Options{})
	require.NoError(t, err)
	require.NoError(t, m.Build(context.Background(), d))

	direct, err := KNN(context.Background(), d, 4, Options{})
	require.NoError(t, err)
	g, err := m.Graph(4)
	require.NoError(t, err)
	assert.Equal(t, direct, g)

	edges, err := m.Edges(2)
	require.NoError(t, err)
	weights, err := m.Weights(2)
	require.NoError(t, err)
	assert.Len(t, edges, 50)
	assert.Len(t, weights, 50)
}

func TestManager_Reciprocal(t *testing.T) {
	m, err := NewManager([]int{2}, 0, Options{ReciprocalOnly: true})
	require.NoError(t, err)
	require.NoError(t, m.Build(context.Background(), randomSquare(t, 20, 4)))
	g, err := m.Graph(2)
	require.NoError(t, err)
	set := edgeSet(g)
	for e := range set {
		assert.True(t, set[[2]int{e[1], e[0]}], "edge %v has no reverse", e)
	}
}

func TestManager_ExtendEqualsRebuild(t *testing.T) {
	const nr, nq = 15, 6
	full := randomSquare(t, nr+nq, 5)

	refs := mat.NewSymDense(nr, nil)
	refs.CopySym(full.SliceSym(0, nr))
	qq := mat.NewSymDense(nq, nil)
	qq.CopySym(full.SliceSym(nr, nr+nq))
	qr := mat.DenseCopyOf(full).Slice(0, nr, nr, nr+nq)

	for _, opts := range []Options{{}, {CountUnique: true}} {
		m, err := NewManager([]int{1, 3}, 5, opts)
		require.NoError(t, err)
		require.NoError(t, m.Build(context.Background(), refs))
		require.NoError(t, m.Extend(context.Background(), qq, qr))
		assert.Equal(t, nr+nq, m.Samples())

		whole, err := NewManager([]int{1, 3}, 5, opts)
		require.NoError(t, err)
		require.NoError(t, whole.Build(context.Background(), full))

		assert.Equal(t, whole.Nearest(), m.Nearest())
		for _, r := range m.Ranks() {
			a, _ := m.Graph(r)
			b, _ := whole.Graph(r)
			assert.Equal(t, b, a, "rank %d", r)
		}
	}
}

func TestManager_Restore(t *testing.T) {
	m, err := NewManager([]int{1, 2}, 0, Options{})
	require.NoError(t, err)
	require.NoError(t, m.Build(context.Background(), randomSquare(t, 10, 6)))

	back, err := Restore(m.Ranks(), m.Depth(), m.Options(), m.Nearest())
	require.NoError(t, err)
	for _, r := range m.Ranks() {
		a, _ := m.Graph(r)
		b, _ := back.Graph(r)
		assert.Equal(t, a, b)
	}
}

func TestManager_ConfigErrors(t *testing.T) {
	_, err := NewManager(nil, 0, Options{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewManager([]int{0, 2}, 0, Options{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewManager([]int{6}, 5, Options{})
	assert.ErrorIs(t, err, ErrConfig)

	m, err := NewManager([]int{5}, 0, Options{})
	require.NoError(t, err)
	err = m.Build(context.Background(), randomSquare(t, 5, 7))
	assert.ErrorIs(t, err, ErrConfig)

	_, err = m.Graph(3)
	assert.ErrorIs(t, err, ErrConfig)

	err = m.Extend(context.Background(), randomSquare(t, 2, 8), mat.NewDense(5, 2, nil))
	require.Error(t, err)
}
