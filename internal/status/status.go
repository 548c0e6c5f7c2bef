package status

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dusk-indust/straincluster/internal/model"
	"github.com/dusk-indust/straincluster/internal/pipeline"
)

// OutputInfo describes one output file of a run.
type OutputInfo struct {
	Name    string // human-readable name (e.g. "Cluster assignments")
	Path    string
	Present bool
}

// RunStatus holds the status of one run directory.
type RunStatus struct {
	Dir     string
	Prefix  string
	Model   *model.Meta // nil when no model was saved
	Outputs []OutputInfo
	// Next is the subcommand that usually follows, empty when none does.
	Next string
}

// Complete reports whether every output of the run is present.
func (s RunStatus) Complete() bool {
	for _, o := range s.Outputs {
		if !o.Present {
			return false
		}
	}
	return true
}

type output struct {
	name, suffix string
	lineage      bool // only written by lineage runs
}

var outputs = []output{
	{name: "Model metadata", suffix: "_fit.yaml"},
	{name: "Model record", suffix: "_fit.db"},
	{name: "Cluster assignments", suffix: pipeline.ClustersSuffix},
	{name: "References", suffix: pipeline.RefsSuffix},
	{name: "Run summary", suffix: pipeline.SummarySuffix},
	{name: "Graph store", suffix: pipeline.GraphSuffix},
	{name: "Lineage table", suffix: pipeline.LineageSuffix, lineage: true},
}

// GetRunStatus checks which outputs of prefix exist in dir. An empty prefix
// means the base name of dir.
func GetRunStatus(dir, prefix string) RunStatus {
	if prefix == "" {
		prefix = filepath.Base(filepath.Clean(dir))
	}
	rs := RunStatus{Dir: dir, Prefix: prefix}
	if meta, err := model.ReadMeta(dir, prefix); err == nil {
		rs.Model = &meta
	}
	isLineage := rs.Model != nil && rs.Model.Kind == model.KindLineage
	for _, o := range outputs {
		if o.lineage && !isLineage {
			continue
		}
		path := pipeline.OutputPath(dir, prefix, o.suffix)
		_, err := os.Stat(path)
		rs.Outputs = append(rs.Outputs, OutputInfo{Name: o.name, Path: path, Present: err == nil})
	}
	rs.Next = NextStep(rs.Model)
	return rs
}

// NextStep returns the subcommand that usually follows a run of the given
// model.
func NextStep(meta *model.Meta) string {
	if meta == nil {
		return "fit"
	}
	switch meta.Kind {
	case model.KindMixture, model.KindDensity:
		return "refine"
	case model.KindRefine:
		return "assign"
	case model.KindLineage:
		return "lineage --db"
	}
	return ""
}

// ListRuns scans root and its immediate subdirectories for saved models.
func ListRuns(root string) ([]RunStatus, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	if hasModel(root, filepath.Base(filepath.Clean(root)), entries) {
		dirs = append(dirs, root)
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasSuffix(entry.Name(), pipeline.GraphSuffix) {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		sub, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if hasModel(dir, entry.Name(), sub) {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)

	results := make([]RunStatus, 0, len(dirs))
	for _, d := range dirs {
		results = append(results, GetRunStatus(d, ""))
	}
	return results, nil
}

func hasModel(dir, prefix string, entries []os.DirEntry) bool {
	metaPath, _ := model.Paths(dir, prefix)
	want := filepath.Base(metaPath)
	for _, e := range entries {
		if e.Name() == want {
			return true
		}
	}
	return false
}
