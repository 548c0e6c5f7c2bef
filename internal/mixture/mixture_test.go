package mixture

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/straincluster/internal/dists"
)

// twoBlobs draws n points around each of two centres.
func twoBlobs(n int, seed int64) *dists.Matrix {
	rng := rand.New(rand.NewSource(seed))
	pairs := make([][2]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, [2]float64{0.1 + 0.02*rng.NormFloat64(), 0.15 + 0.02*rng.NormFloat64()})
	}
	for i := 0; i < n; i++ {
		pairs = append(pairs, [2]float64{0.8 + 0.03*rng.NormFloat64(), 0.7 + 0.03*rng.NormFloat64()})
	}
	return dists.FromPairs(pairs)
}

func TestEM_RecoversTwoComponents(t *testing.T) {
	X := twoBlobs(400, 7)
	p, err := NewEM(1).Fit(context.Background(), X, 2)
	require.NoError(t, err)
	require.Equal(t, 2, p.K())

	means := append([][2]float64(nil), p.Means...)
	sort.Slice(means, func(i, j int) bool { return means[i][0] < means[j][0] })
	assert.InDelta(t, 0.1, means[0][0], 0.01)
	assert.InDelta(t, 0.15, means[0][1], 0.01)
	assert.InDelta(t, 0.8, means[1][0], 0.01)
	assert.InDelta(t, 0.7, means[1][1], 0.01)
	assert.InDelta(t, 1.0, p.Weights[0]+p.Weights[1], 1e-9)
}

func TestEM_Deterministic(t *testing.T) {
	X := twoBlobs(200, 3)
	a, err := NewEM(5).Fit(context.Background(), X, 3)
	require.NoError(t, err)
	b, err := NewEM(5).Fit(context.Background(), X, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEM_TooFewPoints(t *testing.T) {
	X := dists.FromPairs([][2]float64{{0.1, 0.1}})
	_, err := NewEM(1).Fit(context.Background(), X, 2)
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestModel_PredictAndResponsibilities(t *testing.T) {
	p := &Params{
		Weights:     []float64{0.5, 0.5},
		Means:       [][2]float64{{0.1, 0.1}, {0.9, 0.9}},
		Covariances: [][4]float64{{0.01, 0, 0, 0.01}, {0.01, 0, 0, 0.01}},
	}
	m, err := NewModel(p)
	require.NoError(t, err)

	assert.Equal(t, 0, m.Predict(0.12, 0.08))
	assert.Equal(t, 1, m.Predict(0.85, 0.95))

	resp := make([]float64, 2)
	m.Responsibilities(resp, 0.5, 0.5)
	assert.InDelta(t, 0.5, resp[0], 1e-9)
	assert.InDelta(t, math.Log(2), Entropy(resp), 1e-9)
}

func TestNewModel_Degenerate(t *testing.T) {
	p := &Params{
		Weights:     []float64{1},
		Means:       [][2]float64{{0, 0}},
		Covariances: [][4]float64{{0, 0, 0, 0}},
	}
	_, err := NewModel(p)
	assert.ErrorIs(t, err, ErrDegenerate)
}
