package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	data := `out_dir: results
threads: 8
fit:
  kind: dbscan
lineage:
  ranks: [1, 4]
remote:
  endpoint: http://localhost:9000/rpc
  timeout: 5s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "straincluster.yml"), []byte(data), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "results", cfg.OutDir)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, "dbscan", cfg.Fit.Kind)
	assert.Equal(t, 2, cfg.Fit.MaxComponents, "unset fields keep defaults")
	assert.Equal(t, []int{1, 4}, cfg.Lineage.Ranks)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestDefaults_RefineShifts(t *testing.T) {
	rc := Defaults().Refine
	assert.Equal(t, 0.2, rc.PosShift)
	assert.Equal(t, 0.4, rc.NegShift)
	assert.False(t, rc.Unconstrained)
	assert.Zero(t, rc.MultiBoundary)
}

func TestLoad_YamlExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "straincluster.yaml"), []byte("prefix: run1\n"), 0o644))
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "run1", cfg.Prefix)
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "straincluster.yml"), []byte("threads: [\n"), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no out dir", func(c *Config) { c.OutDir = "" }, "OutDir is required"},
		{"zero threads", func(c *Config) { c.Threads = 0 }, "Threads must be at least 1"},
		{"bad kind", func(c *Config) { c.Fit.Kind = "kmeans" }, "Fit.Kind must be one of"},
		{"one component", func(c *Config) { c.Fit.MaxComponents = 1 }, "Fit.MaxComponents must be at least 2"},
		{"bad indiv", func(c *Config) { c.Refine.Indiv = "all" }, "Refine.Indiv must be one of"},
		{"no ranks", func(c *Config) { c.Lineage.Ranks = nil }, "Lineage.Ranks must be at least 1"},
		{"zero rank", func(c *Config) { c.Lineage.Ranks = []int{0} }, "Lineage.Ranks[0] must be at least 1"},
		{"accessory ceiling", func(c *Config) { c.MaxAccessory = 2 }, "MaxAccessory must be at most 1"},
		{"bad endpoint", func(c *Config) { c.Remote.Endpoint = "not a url" }, "Remote.Endpoint must be a URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
