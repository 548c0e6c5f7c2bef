package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/straincluster/internal/network"
)

func TestClusters_Ordering(t *testing.T) {
	c := network.NewClustering()
	for _, p := range [][2]string{{"a", "2"}, {"b", "1"}, {"c", "1"}, {"d", "3"}} {
		require.NoError(t, c.Add(p[0], p[1]))
	}
	got := Clusters(c, true)
	require.Len(t, got, 3)
	assert.Equal(t, ClusterExport{ID: "1", Size: 2, Members: []string{"b", "c"}}, got[0])
	assert.Equal(t, "2", got[1].ID)
	assert.Equal(t, "3", got[2].ID)

	assert.Nil(t, Clusters(c, false)[0].Members)
	assert.Nil(t, Clusters(nil, false))
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_summary.json")
	s := NewRunSummary("run", "fit")
	s.Model = ModelExport{Kind: "bgmm", RunID: "abc", Scale: [2]float64{0.5, 0.25}}
	s.Network = &network.Summary{Samples: 5, Edges: 4, Components: 2}
	s.Clusters = []ClusterExport{{ID: "1", Size: 3}}
	s.References = []string{"a", "d"}
	s.Ranks = []RankExport{{Rank: 1, Clusters: 2, Edges: 5}}
	require.NoError(t, Write(path, s))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = Read(bad)
	assert.Error(t, err)
}
