package main

import (
	"bytes"
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
	"github.com/dusk-indust/straincluster/internal/pipeline"
)

// fixture writes distances for three strains of four samples plus q0 (in
// strain 0) and q1 (on its own), a config with the graph store off and a
// sample list naming only the strain members.
type fixture struct {
	dir       string
	configDir string
	dists     string
	samples   string
	queries   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:       dir,
		configDir: filepath.Join(dir, "conf"),
		dists:     filepath.Join(dir, "dists.tsv"),
		samples:   filepath.Join(dir, "samples.txt"),
		queries:   filepath.Join(dir, "queries.txt"),
	}
	group := map[string]int{"q0": 0, "q1": 3}
	var names []string
	for i := 0; i < 12; i++ {
		n := fmt.Sprintf("s%02d", i)
		names = append(names, n)
		group[n] = i / 4
	}
	all := append(append([]string(nil), names...), "q0", "q1")

	rng := rand.New(rand.NewSource(5))
	var b strings.Builder
	b.WriteString(dists.TSVHeader + "\n")
	for i, a := range all {
		for _, c := range all[i+1:] {
			core, acc := 0.6+0.05*rng.Float64(), 0.3+0.05*rng.Float64()
			if group[a] == group[c] {
				core, acc = 0.05+0.005*rng.Float64(), 0.1+0.01*rng.Float64()
			}
			fmt.Fprintf(&b, "%s\t%s\t%.6f\t%.6f\n", c, a, core, acc)
		}
	}
	require.NoError(t, os.WriteFile(f.dists, []byte(b.String()), 0o644))
	require.NoError(t, os.WriteFile(f.samples, []byte(strings.Join(names, "\n")+"\n"), 0o644))
	require.NoError(t, os.WriteFile(f.queries, []byte("q0\nq1\n"), 0o644))
	require.NoError(t, os.MkdirAll(f.configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.configDir, "straincluster.yml"),
		[]byte("graph: false\nthreads: 2\nseed: 1\n"), 0o644))
	return f
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestApplyFlags_OnlyChanged(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--threads", "8"}))

	cfg := config.Defaults()
	cfg.OutDir = "from_file"
	applyFlags(cmd.PersistentFlags(), globalFlags{Threads: 8, OutDir: ""}, cfg)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, "from_file", cfg.OutDir, "unset flags leave the file value")
}

func TestThresholdThenAssign(t *testing.T) {
	f := newFixture(t)
	db := filepath.Join(f.dir, "db")

	out, err := execute(t, "threshold",
		"--config", f.configDir, "--out", db,
		"--distances", f.dists, "--samples", f.samples,
		"--threshold", "0.3")
	require.NoError(t, err)
	assert.Contains(t, out, "threshold: 12 samples in 3 clusters, 3 references")

	c, err := pipeline.ReadClusterFile(pipeline.OutputPath(db, "db", pipeline.ClustersSuffix))
	require.NoError(t, err)
	assert.Len(t, c.Clusters(), 3)

	next := filepath.Join(f.dir, "next")
	_, err = execute(t, "assign",
		"--config", f.configDir, "--out", next,
		"--distances", f.dists, "--db", db,
		"--queries", f.queries, "--query-only")
	require.NoError(t, err)

	assigned, err := pipeline.ReadClusterFile(pipeline.OutputPath(next, "next", pipeline.ClustersSuffix))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"q0", "q1"}, assigned.Samples())
	q0, _ := assigned.Cluster("q0")
	s00, _ := c.Cluster("s00")
	assert.Equal(t, s00, q0)
}

func TestUseModel_AxisFlags(t *testing.T) {
	f := newFixture(t)
	db := filepath.Join(f.dir, "db")
	_, err := execute(t, "threshold",
		"--config", f.configDir, "--out", db,
		"--distances", f.dists, "--samples", f.samples,
		"--threshold", "0.3")
	require.NoError(t, err)

	reuse := filepath.Join(f.dir, "reuse")
	out, err := execute(t, "use-model",
		"--config", f.configDir, "--out", reuse,
		"--distances", f.dists, "--samples", f.samples,
		"--db", db, "--core-only")
	require.NoError(t, err)
	assert.Contains(t, out, "use-model: 12 samples in 3 clusters")
	c, err := pipeline.ReadClusterFile(pipeline.OutputPath(reuse, "reuse", pipeline.ClustersSuffix))
	require.NoError(t, err)
	assert.Len(t, c.Clusters(), 3)

	_, err = execute(t, "assign",
		"--config", f.configDir, "--out", filepath.Join(f.dir, "acc"),
		"--distances", f.dists, "--db", db,
		"--queries", f.queries, "--accessory-only")
	assert.Error(t, err, "threshold fits have no accessory boundary")

	_, err = execute(t, "assign",
		"--config", f.configDir, "--out", filepath.Join(f.dir, "both"),
		"--distances", f.dists, "--db", db,
		"--queries", f.queries, "--core-only", "--accessory-only")
	assert.Error(t, err, "the axis flags exclude each other")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	db := filepath.Join(f.dir, "db")
	_, err := execute(t, "threshold",
		"--config", f.configDir, "--out", db,
		"--distances", f.dists, "--samples", f.samples,
		"--threshold", "0.3")
	require.NoError(t, err)

	out, err := execute(t, "status", f.dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Run: db")
	assert.Contains(t, out, "model refine")
	assert.Contains(t, out, "-> next: straincluster assign")

	out, err = execute(t, "status", filepath.Join(f.dir, "conf"))
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")
}

func TestThreshold_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "threshold", "--config", f.configDir, "--out", filepath.Join(f.dir, "x"), "--distances", f.dists)
	assert.Error(t, err, "threshold is required")

	_, err = execute(t, "threshold", "--config", f.configDir, "--out", filepath.Join(f.dir, "x"), "--threshold", "0.3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no distances")

	_, err = execute(t, "threshold", "--config", f.configDir, "--threads", "0", "--distances", f.dists, "--threshold", "0.3")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOpenRunStore_ClusterFilesOnly(t *testing.T) {
	f := newFixture(t)
	db := filepath.Join(f.dir, "db")
	_, err := execute(t, "threshold",
		"--config", f.configDir, "--out", db,
		"--distances", f.dists, "--samples", f.samples,
		"--threshold", "0.3")
	require.NoError(t, err)

	ctx := context.Background()
	store, err := openRunStore(ctx, db, "db")
	require.NoError(t, err)
	defer store.Close()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.SampleCount)
	assert.Equal(t, 3, stats.ReferenceCount)
	assert.Equal(t, 3, stats.ClusterCount)
	assert.Equal(t, 0, stats.EdgeCount)
}
