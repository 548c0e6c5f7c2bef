package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/straincluster/internal/export"
	"github.com/dusk-indust/straincluster/internal/graph"
	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/model"
	"github.com/dusk-indust/straincluster/internal/network"
)

// Output file suffixes, appended to the prefix inside the output directory.
const (
	ClustersSuffix = "_clusters.csv"
	RefsSuffix     = ".refs"
	SummarySuffix  = "_summary.json"
	GraphSuffix    = "_graph"
	LineageSuffix  = "_lineages.csv"
)

// RankSuffix is the suffix of the cluster file of one lineage rank.
func RankSuffix(rank int) string {
	return "_rank_" + strconv.Itoa(rank) + "_lineage_clusters.csv"
}

// BoundarySuffix is the suffix of the cluster file at the k-th extra
// boundary position of a refine fit, counting from 1.
func BoundarySuffix(k int) string {
	return "_boundary" + strconv.Itoa(k) + "_clusters.csv"
}

func (p *Pipeline) path(suffix string) string {
	return OutputPath(p.cfg.OutDir, p.Prefix(), suffix)
}

// OutputPath is where a run in dir with prefix keeps the file with suffix.
func OutputPath(dir, prefix, suffix string) string {
	return filepath.Join(dir, prefix+suffix)
}

func (p *Pipeline) writeClusters(res *Result, filter network.Filter) error {
	return p.writeClusterFile(p.path(ClustersSuffix), res.Clusters, filter)
}

func (p *Pipeline) writeClusterFile(path string, c *network.Clustering, filter network.Filter) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "pipeline: create cluster file")
	}
	if err := network.WriteClusters(f, c, filter); err != nil {
		f.Close()
		return errors.Wrapf(err, "pipeline: write %s", path)
	}
	return errors.Wrap(f.Close(), "pipeline: close cluster file")
}

func (p *Pipeline) writeReferences(refs []string) error {
	path := p.path(RefsSuffix)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "pipeline: create references file")
	}
	if err := network.WriteReferences(f, refs); err != nil {
		f.Close()
		return errors.Wrapf(err, "pipeline: write %s", path)
	}
	return errors.Wrap(f.Close(), "pipeline: close references file")
}

// writeLineages writes one row per sample with its cluster at every rank.
func (p *Pipeline) writeLineages(samples []string, ranks map[int]*network.Clustering) error {
	order := make([]int, 0, len(ranks))
	for r := range ranks {
		order = append(order, r)
	}
	sort.Ints(order)

	f, err := os.Create(p.path(LineageSuffix))
	if err != nil {
		return errors.Wrap(err, "pipeline: create lineage file")
	}
	w := csv.NewWriter(f)
	header := []string{"id"}
	for _, r := range order {
		header = append(header, "Rank_"+strconv.Itoa(r)+"_Lineage")
	}
	_ = w.Write(header)
	sorted := append([]string(nil), samples...)
	sort.Strings(sorted)
	for _, s := range sorted {
		row := []string{s}
		for _, r := range order {
			id, _ := ranks[r].Cluster(s)
			row = append(row, id)
		}
		_ = w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrap(err, "pipeline: write lineage file")
	}
	return errors.Wrap(f.Close(), "pipeline: close lineage file")
}

// weights maps a within-strain pair to its core distance.
type weights map[[2]string]float64

func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

func (w weights) add(rows, cols []string, p network.Pairer, labels []int, within int) {
	m, ok := p.(interface{ Core(int) float64 })
	if !ok {
		return
	}
	p.Pairs(func(row, i, j int) bool {
		if row < len(labels) && labels[row] == within && i < len(rows) && j < len(cols) {
			w[pairKey(rows[i], cols[j])] = m.Core(row)
		}
		return true
	})
}

func (w weights) lookup(a, b string) (float64, bool) {
	v, ok := w[pairKey(a, b)]
	return v, ok
}

// persist stores the network in the graph store. Without FullDB only the
// references are kept. Failures are logged.
func (p *Pipeline) persist(ctx context.Context, res *Result, weight graph.WeightFunc) {
	if !p.cfg.Graph {
		return
	}
	log := logging.Logger(ctx)
	path := p.path(GraphSuffix)
	if err := os.RemoveAll(path); err != nil {
		log.WithError(err).Warn("could not clear old graph store")
		return
	}
	store, err := p.openStore(path)
	if errors.Is(err, graph.ErrNoPersistentStore) {
		log.WithError(err).Info("skipping graph store")
		return
	}
	if err != nil {
		log.WithError(err).Warn("open graph store failed")
		return
	}
	defer store.Close()

	net := res.Network
	if !p.cfg.FullDB {
		net = net.Prune(res.References)
	}
	run := graph.Run{
		Network:    net,
		Clusters:   res.Clusters,
		References: res.References,
		Queries:    res.Queries,
		Weight:     weight,
	}
	if err := graph.Persist(ctx, store, run); err != nil {
		log.WithError(err).Warn("persist graph failed")
		return
	}
	log.WithFields(logrus.Fields{"path": path, "samples": net.Order()}).Info("stored network")
}

// exportSummary writes the JSON summary. Failures are logged.
func (p *Pipeline) exportSummary(ctx context.Context, res *Result) {
	s := export.NewRunSummary(p.Prefix(), string(res.Mode))
	if res.Model != nil {
		s.Model = export.ModelExport{Kind: string(res.Model.Kind()), RunID: res.Model.RunID()}
		if c, ok := res.Model.(model.Classifier); ok {
			s.Model.Scale = c.Scale()
		}
	}
	if res.Network != nil {
		sum := res.Summary
		s.Network = &sum
	}
	s.Clusters = export.Clusters(res.Clusters, false)
	s.References = res.References
	ranks := make([]int, 0, len(res.Ranks))
	for r := range res.Ranks {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	for _, r := range ranks {
		re := export.RankExport{Rank: r, Clusters: res.Ranks[r].Len()}
		if lm, ok := res.Model.(*model.Lineage); ok {
			if edges, err := lm.AssignRank(r); err == nil {
				re.Edges = len(edges)
			}
		}
		s.Ranks = append(s.Ranks, re)
	}
	if err := export.Write(p.path(SummarySuffix), s); err != nil {
		logging.Logger(ctx).WithError(err).Warn("summary export failed")
	}
}
