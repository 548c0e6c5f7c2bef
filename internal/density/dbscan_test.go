package density

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/straincluster/internal/dists"
)

func blobs(t *testing.T, n int) *dists.Matrix {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	pairs := make([][2]float64, 0, 2*n+1)
	for i := 0; i < n; i++ {
		pairs = append(pairs, [2]float64{0.1 + 0.01*rng.NormFloat64(), 0.1 + 0.01*rng.NormFloat64()})
	}
	for i := 0; i < n; i++ {
		pairs = append(pairs, [2]float64{0.8 + 0.01*rng.NormFloat64(), 0.9 + 0.01*rng.NormFloat64()})
	}
	// one isolated row
	pairs = append(pairs, [2]float64{0.45, 0.5})
	return dists.FromPairs(pairs)
}

func TestDBSCAN_TwoClustersAndNoise(t *testing.T) {
	X := blobs(t, 300)
	res, err := NewDBSCAN().Cluster(context.Background(), X, 10, 20)
	require.NoError(t, err)

	assert.Equal(t, 2, res.NClusters)
	assert.Equal(t, 0, res.Labels[0])
	assert.Equal(t, 1, res.Labels[300])
	assert.Equal(t, Noise, res.Labels[600])

	for i := 0; i < 300; i++ {
		assert.Equal(t, res.Labels[0], res.Labels[i])
		assert.Equal(t, res.Labels[300], res.Labels[300+i])
	}
}

func TestDBSCAN_SmallClustersBecomeNoise(t *testing.T) {
	X := blobs(t, 300)
	res, err := NewDBSCAN().Cluster(context.Background(), X, 10, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NClusters)
	for _, l := range res.Labels {
		assert.Equal(t, Noise, l)
	}
	assert.Empty(t, res.Model.CorePoints())
}

func TestModel_Predict(t *testing.T) {
	X := blobs(t, 300)
	res, err := NewDBSCAN().Cluster(context.Background(), X, 10, 20)
	require.NoError(t, err)

	m := res.Model
	assert.Equal(t, 0, m.Predict(0.1, 0.1))
	assert.Equal(t, 1, m.Predict(0.8, 0.9))
	assert.Equal(t, Noise, m.Predict(0.45, 0.5))

	rebuilt := NewModel(m.Eps(), m.CorePoints(), m.CoreLabels())
	assert.Equal(t, m.Predict(0.81, 0.89), rebuilt.Predict(0.81, 0.89))
}

func TestDBSCAN_Errors(t *testing.T) {
	_, err := NewDBSCAN().Cluster(context.Background(), dists.FromPairs(nil), 10, 10)
	require.Error(t, err)

	_, err = NewDBSCAN().Cluster(context.Background(), dists.FromPairs([][2]float64{{0, 0}}), 0, 10)
	require.Error(t, err)
}

func TestDBSCAN_Eps(t *testing.T) {
	d := NewDBSCAN()
	// 100 rows spread evenly over the unit square: a disc of this radius
	// holds 5 of them on average
	eps := d.Eps(100, 5)
	assert.InDelta(t, math.Sqrt(5/(math.Pi*100)), eps, 1e-12)
	assert.InDelta(t, 5.0, 100*math.Pi*eps*eps, 1e-9)

	wide := &DBSCAN{EpsScale: 2}
	assert.InDelta(t, 2*eps, wide.Eps(100, 5), 1e-12)
	assert.Equal(t, eps, (&DBSCAN{}).Eps(100, 5), "unset scale is 1")
}
