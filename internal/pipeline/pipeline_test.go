package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/straincluster/internal/config"
	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/export"
	"github.com/dusk-indust/straincluster/internal/graph"
	"github.com/dusk-indust/straincluster/internal/model"
	"github.com/dusk-indust/straincluster/internal/network"
)

// memStores hands out MemStores keyed by path. A path whose directory was
// removed gets a fresh store.
type memStores struct {
	stores map[string]*graph.MemStore
}

func (m *memStores) open(path string) (graph.Store, error) {
	if m.stores == nil {
		m.stores = make(map[string]*graph.MemStore)
	}
	if _, err := os.Stat(path); err != nil {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		m.stores[path] = graph.NewMemStore()
	}
	return m.stores[path], nil
}

// groupOf maps a sample to its strain; samples in one strain are close.
type groupOf map[string]int

// writeTSV writes distances between every pair of names to a file and
// returns a source over it.
func writeTSV(t *testing.T, names []string, groups groupOf) *dists.TSVSource {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	var b strings.Builder
	b.WriteString(dists.TSVHeader + "\n")
	for i, a := range names {
		for _, c := range names[i+1:] {
			core, acc := 0.6+0.05*rng.Float64(), 0.3+0.05*rng.Float64()
			if groups[a] == groups[c] {
				core, acc = 0.05+0.005*rng.Float64(), 0.1+0.01*rng.Float64()
			}
			fmt.Fprintf(&b, "%s\t%s\t%.6f\t%.6f\n", c, a, core, acc)
		}
	}
	path := filepath.Join(t.TempDir(), "dists.tsv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return &dists.TSVSource{Path: path}
}

// strains returns groups*size samples plus q0 (in strain 0) and q1 (a strain
// of its own).
func strains(groups, size int) ([]string, groupOf) {
	var names []string
	g := groupOf{}
	for i := 0; i < groups*size; i++ {
		name := fmt.Sprintf("s%02d", i)
		names = append(names, name)
		g[name] = i / size
	}
	g["q0"], g["q1"] = 0, groups
	return names, g
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.OutDir = filepath.Join(t.TempDir(), "run")
	cfg.Seed = 1
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config) (*Pipeline, *memStores) {
	t.Helper()
	stores := &memStores{}
	return New(cfg, WithStoreOpener(stores.open)), stores
}

func readInput(t *testing.T, src dists.Source, samples []string) Input {
	t.Helper()
	in, err := ReadInput(context.Background(), src, samples)
	require.NoError(t, err)
	return in
}

func clusterOf(t *testing.T, c *network.Clustering, sample string) string {
	t.Helper()
	id, ok := c.Cluster(sample)
	require.True(t, ok, "sample %s has no cluster", sample)
	return id
}

func assertStrains(t *testing.T, c *network.Clustering, samples []string, groups groupOf) {
	t.Helper()
	for _, a := range samples {
		for _, b := range samples {
			same := clusterOf(t, c, a) == clusterOf(t, c, b)
			assert.Equal(t, groups[a] == groups[b], same, "%s and %s", a, b)
		}
	}
}

func TestThreshold_Outputs(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(3, 4)
	src := writeTSV(t, names, groups)
	cfg := testConfig(t)
	p, stores := newTestPipeline(t, cfg)

	res, err := p.Threshold(ctx, readInput(t, src, names), 0.3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Clusters.Len())
	assertStrains(t, res.Clusters, names, groups)
	assert.Len(t, res.References, 3, "one reference per complete strain")
	assert.Equal(t, 3, res.Summary.Components)
	assert.InDelta(t, 1.0, res.Summary.Transitivity, 1e-12)

	for _, suffix := range []string{ClustersSuffix, RefsSuffix, SummarySuffix, "_fit.yaml", "_fit.db"} {
		assert.FileExists(t, OutputPath(cfg.OutDir, "run", suffix))
	}

	sum, err := export.Read(OutputPath(cfg.OutDir, "run", SummarySuffix))
	require.NoError(t, err)
	assert.Equal(t, "threshold", sum.Mode)
	assert.Equal(t, "refine", sum.Model.Kind)
	assert.Len(t, sum.Clusters, 3)
	assert.Equal(t, 4, sum.Clusters[0].Size)

	store := stores.stores[OutputPath(cfg.OutDir, "run", GraphSuffix)]
	require.NotNil(t, store)
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.SampleCount, "only references are stored")
	assert.Equal(t, 3, stats.ReferenceCount)
}

func TestThreshold_PreviousSplitStillClusters(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(3, 4)
	src := writeTSV(t, names, groups)

	prev := network.NewClustering()
	for i, n := range names {
		id := "X"
		if i >= 8 {
			id = "Y"
		}
		require.NoError(t, prev.Add(n, id))
	}
	in := readInput(t, src, names)
	in.Previous = prev

	p, _ := newTestPipeline(t, testConfig(t))
	res, err := p.Threshold(ctx, in, 0.3)
	require.NoError(t, err, "a refit that splits a previous cluster completes")
	assertStrains(t, res.Clusters, names, groups)
	assert.Equal(t, "X", clusterOf(t, res.Clusters, "s00"))
	assert.Equal(t, "Y", clusterOf(t, res.Clusters, "s08"))
	split := clusterOf(t, res.Clusters, "s04")
	assert.NotEqual(t, "X", split)
	assert.NotEqual(t, "Y", split)
}

func TestThreshold_FullDBStoresWeights(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(2, 3)
	src := writeTSV(t, names, groups)
	cfg := testConfig(t)
	cfg.FullDB = true
	p, stores := newTestPipeline(t, cfg)

	_, err := p.Threshold(ctx, readInput(t, src, names), 0.3)
	require.NoError(t, err)

	store := stores.stores[OutputPath(cfg.OutDir, "run", GraphSuffix)]
	edges, err := store.GetAllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 6)
	for _, e := range edges {
		assert.InDelta(t, 0.0525, e.Weight, 0.0026)
	}
}

func TestFitThenRefine(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(4, 6)
	src := writeTSV(t, names, groups)
	in := readInput(t, src, names)

	cfg := testConfig(t)
	cfg.Refine.Indiv = model.IndivBoth
	p, _ := newTestPipeline(t, cfg)

	fit, err := p.Fit(ctx, in, model.KindMixture)
	require.NoError(t, err)
	assert.Equal(t, 4, fit.Clusters.Len())
	assertStrains(t, fit.Clusters, names, groups)

	start, ok := fit.Model.(model.Starter)
	require.True(t, ok)

	refined, err := p.Refine(ctx, in, start)
	require.NoError(t, err)
	assert.Equal(t, model.KindRefine, refined.Model.Kind())
	assertStrains(t, refined.Clusters, names, groups)
	require.Contains(t, refined.Indiv, model.IndivCore)
	assertStrains(t, refined.Indiv[model.IndivCore], names, groups)
	assert.FileExists(t, OutputPath(cfg.OutDir, "run", "_core_clusters.csv"))
}

func TestRefine_UnconstrainedAndMultiBoundary(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(3, 5)
	src := writeTSV(t, names, groups)
	in := readInput(t, src, names)

	cfg := testConfig(t)
	cfg.Refine.MultiBoundary = 3
	p, _ := newTestPipeline(t, cfg)
	fit, err := p.Fit(ctx, in, model.KindMixture)
	require.NoError(t, err)
	start := fit.Model.(model.Starter)

	refined, err := p.Refine(ctx, in, start)
	require.NoError(t, err)
	assertStrains(t, refined.Clusters, names, groups)
	require.Len(t, refined.Boundaries, 3)
	assertStrains(t, refined.Boundaries[2], names, groups)
	for k := 1; k <= 3; k++ {
		assert.FileExists(t, OutputPath(cfg.OutDir, "run", BoundarySuffix(k)))
	}

	free := testConfig(t)
	free.Refine.Unconstrained = true
	free.Refine.Points = 8
	free.Refine.MultiBoundary = 3
	fp, _ := newTestPipeline(t, free)
	res, err := fp.Refine(ctx, in, start)
	require.NoError(t, err)
	assertStrains(t, res.Clusters, names, groups)
	assert.True(t, res.Model.(*model.Refine).Unconstrained())
	assert.Empty(t, res.Boundaries, "extra boundaries need a line search")
}

func TestUseModel(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(3, 4)
	src := writeTSV(t, names, groups)
	in := readInput(t, src, names)

	p, _ := newTestPipeline(t, testConfig(t))
	fit, err := p.Threshold(ctx, in, 0.3)
	require.NoError(t, err)
	m := fit.Model.(model.Classifier)

	out := testConfig(t)
	up, _ := newTestPipeline(t, out)
	res, err := up.UseModel(ctx, in, m, model.IndivNone)
	require.NoError(t, err)
	assert.Equal(t, ModeUseModel, res.Mode)
	assertStrains(t, res.Clusters, names, groups)
	assert.FileExists(t, OutputPath(out.OutDir, "run", ClustersSuffix))

	res, err = up.UseModel(ctx, in, m, model.IndivCore)
	require.NoError(t, err)
	assertStrains(t, res.Clusters, names, groups)

	_, err = up.UseModel(ctx, in, m, model.IndivAccessory)
	assert.ErrorIs(t, err, model.ErrConfig, "threshold fits have no accessory boundary")

	_, err = up.UseModel(ctx, in, model.NewRefine(model.Options{}), model.IndivNone)
	assert.ErrorIs(t, err, model.ErrUnfitted)
}

func TestFit_Errors(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(2, 3)
	src := writeTSV(t, names, groups)
	in := readInput(t, src, names)

	t.Run("lineage kind", func(t *testing.T) {
		p, _ := newTestPipeline(t, testConfig(t))
		_, err := p.Fit(ctx, in, model.KindLineage)
		assert.ErrorIs(t, err, model.ErrConfig)
	})

	t.Run("output path is a file", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(cfg.OutDir), 0o755))
		require.NoError(t, os.WriteFile(cfg.OutDir, nil, 0o644))
		p, _ := newTestPipeline(t, cfg)
		_, err := p.Threshold(ctx, in, 0.3)
		assert.ErrorIs(t, err, model.ErrConfig)
	})

	t.Run("accessory QC", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.MaxAccessory = 0.2
		p, _ := newTestPipeline(t, cfg)
		_, err := p.Threshold(ctx, in, 0.3)
		assert.ErrorIs(t, err, dists.ErrAccessoryRange)
	})

	t.Run("names do not match", func(t *testing.T) {
		p, _ := newTestPipeline(t, testConfig(t))
		bad := in
		bad.Samples = bad.Samples[1:]
		_, err := p.Threshold(ctx, bad, 0.3)
		assert.ErrorIs(t, err, model.ErrConfig)
	})
}

func TestAssignQueries(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(3, 4)
	all := append(append([]string(nil), names...), "q0", "q1")
	src := writeTSV(t, all, groups)

	cfg := testConfig(t)
	p, _ := newTestPipeline(t, cfg)
	fit, err := p.Threshold(ctx, readInput(t, src, names), 0.3)
	require.NoError(t, err)
	m := fit.Model.(model.Classifier)

	q, err := ReadQueries(ctx, src, names, []string{"q0", "q1"})
	require.NoError(t, err)
	q.QueryOnly = true
	q.UpdateDB = true

	out := testConfig(t)
	ap, _ := newTestPipeline(t, out)
	res, err := ap.AssignQueries(ctx, m, fit.Network, fit.Clusters, q)
	require.NoError(t, err)

	assert.Equal(t, clusterOf(t, fit.Clusters, "s00"), clusterOf(t, res.Clusters, "q0"))
	newID := clusterOf(t, res.Clusters, "q1")
	assert.Empty(t, fit.Clusters.Members(newID), "q1 gets an unused name")
	assert.Equal(t, 4, res.Clusters.Len())

	c, err := ReadClusterFile(OutputPath(out.OutDir, "run", ClustersSuffix))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"q0", "q1"}, c.Samples())

	refs, err := ReadReferenceFile(OutputPath(out.OutDir, "run", RefsSuffix))
	require.NoError(t, err)
	assert.Contains(t, refs, "q1")
}

func TestAssignQueries_CoreOnly(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(3, 4)
	all := append(append([]string(nil), names...), "q0", "q1")
	src := writeTSV(t, all, groups)

	p, _ := newTestPipeline(t, testConfig(t))
	fit, err := p.Threshold(ctx, readInput(t, src, names), 0.3)
	require.NoError(t, err)
	m := fit.Model.(model.Classifier)

	q, err := ReadQueries(ctx, src, names, []string{"q0", "q1"})
	require.NoError(t, err)
	q.Axis = model.IndivAccessory
	ap, _ := newTestPipeline(t, testConfig(t))
	_, err = ap.AssignQueries(ctx, m, fit.Network, fit.Clusters, q)
	assert.ErrorIs(t, err, model.ErrConfig)

	q.Axis = model.IndivCore
	res, err := ap.AssignQueries(ctx, m, fit.Network, fit.Clusters, q)
	require.NoError(t, err)
	assert.Equal(t, clusterOf(t, fit.Clusters, "s00"), clusterOf(t, res.Clusters, "q0"))
	assert.NotEqual(t, clusterOf(t, res.Clusters, "q0"), clusterOf(t, res.Clusters, "q1"))
}

func TestAssignQueries_Errors(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, testConfig(t))
	net := network.New([]string{"a"})

	_, err := p.AssignQueries(ctx, model.NewRefine(model.Options{}), net, nil, Queries{})
	assert.ErrorIs(t, err, model.ErrUnfitted)

	names, groups := strains(1, 3)
	src := writeTSV(t, append(names, "q0"), groups)
	fit, err := p.Threshold(ctx, readInput(t, src, names), 0.3)
	require.NoError(t, err)
	q, err := ReadQueries(ctx, src, names, []string{"q0"})
	require.NoError(t, err)

	_, err = p.AssignQueries(ctx, fit.Model.(model.Classifier), net, nil, q)
	assert.ErrorIs(t, err, model.ErrConfig, "references missing from network")

	q.QueryOnly = true
	_, err = p.AssignQueries(ctx, fit.Model.(model.Classifier), fit.Network, nil, q)
	assert.ErrorIs(t, err, network.ErrConfig, "query-only output needs previous clusters")
}

func TestOpenDatabase(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(3, 4)
	src := writeTSV(t, names, groups)

	t.Run("from graph store", func(t *testing.T) {
		cfg := testConfig(t)
		p, _ := newTestPipeline(t, cfg)
		fit, err := p.Threshold(ctx, readInput(t, src, names), 0.3)
		require.NoError(t, err)

		db, err := p.OpenDatabase(ctx, cfg.OutDir, "run", nil)
		require.NoError(t, err)
		assert.Equal(t, fit.Model.RunID(), db.Model.RunID())
		assert.Equal(t, fit.References, db.References)
		assert.Len(t, db.Clusters.Samples(), 12)
		assert.Equal(t, 3, db.Network.Order(), "stored network holds references")
	})

	t.Run("rebuilt from distances", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Graph = false
		p, _ := newTestPipeline(t, cfg)
		_, err := p.Threshold(ctx, readInput(t, src, names), 0.3)
		require.NoError(t, err)

		_, err = p.OpenDatabase(ctx, cfg.OutDir, "run", nil)
		assert.ErrorIs(t, err, model.ErrConfig)

		db, err := p.OpenDatabase(ctx, cfg.OutDir, "run", src)
		require.NoError(t, err)
		assert.Equal(t, 3, db.Network.Order())
		assert.Equal(t, 0, db.Network.Size())
	})
}

func TestLineage_FitExtend(t *testing.T) {
	ctx := context.Background()
	names, groups := strains(3, 4)
	all := append(append([]string(nil), names...), "q0", "q1")
	src := writeTSV(t, all, groups)

	cfg := testConfig(t)
	cfg.Lineage.Ranks = []int{1, 3}
	p, _ := newTestPipeline(t, cfg)

	res, err := p.Lineage(ctx, readInput(t, src, names), nil)
	require.NoError(t, err)
	require.Len(t, res.Ranks, 2)
	assertStrains(t, res.Ranks[3], names, groups)
	assert.GreaterOrEqual(t, res.Ranks[1].Len(), 3)
	assert.Equal(t, res.Ranks[1], res.Clusters)
	assert.Len(t, res.References, len(names))
	for _, f := range []string{"_rank_1_lineage_clusters.csv", "_rank_3_lineage_clusters.csv", LineageSuffix} {
		assert.FileExists(t, OutputPath(cfg.OutDir, "run", f))
	}
	data, err := os.ReadFile(OutputPath(cfg.OutDir, "run", LineageSuffix))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "id,Rank_1_Lineage,Rank_3_Lineage\n"))

	db, err := p.OpenDatabase(ctx, cfg.OutDir, "run", nil)
	require.NoError(t, err)
	lm, ok := db.Model.(*model.Lineage)
	require.True(t, ok)

	q, err := ReadQueries(ctx, src, names, []string{"q0", "q1"})
	require.NoError(t, err)
	prev := map[int]*network.Clustering{3: res.Ranks[3]}
	ext, err := p.ExtendLineage(ctx, lm, names, q.Names, q.QQ, q.QR, prev)
	require.NoError(t, err)
	assert.Equal(t, 14, lm.Samples())
	assert.Equal(t, clusterOf(t, ext.Ranks[3], "s00"), clusterOf(t, ext.Ranks[3], "q0"))
	assert.Contains(t, clusterOf(t, ext.Ranks[3], "s00"), clusterOf(t, res.Ranks[3], "s00"),
		"extended clusters keep or join their previous names")
	assert.Equal(t, []string{"q0", "q1"}, ext.Queries)
}

func TestReadSampleList(t *testing.T) {
	got, err := ReadSampleList(strings.NewReader("# names\na\tpath/a.fa\n\n b \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}
