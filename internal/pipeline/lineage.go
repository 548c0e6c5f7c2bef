package pipeline

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/graph"
	"github.com/dusk-indust/straincluster/internal/lineage"
	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/model"
	"github.com/dusk-indust/straincluster/internal/network"
)

// LineageOptions are the lineage model settings derived from the
// configuration.
func (p *Pipeline) LineageOptions() model.LineageOptions {
	lc := p.cfg.Lineage
	return model.LineageOptions{
		Ranks:          lc.Ranks,
		MaxSearchDepth: lc.MaxSearchDepth,
		Lineage: lineage.Options{
			Epsilon:        lc.Epsilon,
			CountUnique:    lc.CountUnique,
			ReciprocalOnly: lc.ReciprocalOnly,
			Threads:        p.cfg.Threads,
		},
	}
}

// Lineage builds the rank graphs of a self comparison and clusters each
// rank. Previous clusterings, keyed by rank, keep names stable.
func (p *Pipeline) Lineage(ctx context.Context, in Input, prev map[int]*network.Clustering) (*Result, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	ctx, err := p.begin(ctx, ModeLineage, in.Distances)
	if err != nil {
		return nil, err
	}
	m, err := model.NewLineage(p.ModelOptions(), p.LineageOptions())
	if err != nil {
		return nil, err
	}
	if err := m.Fit(ctx, in.Distances, p.cfg.Lineage.UseAccessory); err != nil {
		return nil, err
	}
	res := &Result{Mode: ModeLineage, Model: m}
	return p.ranked(ctx, res, m, in.Samples, prev, false)
}

// ExtendLineage adds queries to a fitted lineage model. refs are the
// samples already in the model, in order; qq is the self layout over
// queries and qr the refs by queries rect layout.
func (p *Pipeline) ExtendLineage(ctx context.Context, m *model.Lineage, refs, queries []string, qq, qr *dists.Matrix, prev map[int]*network.Clustering) (*Result, error) {
	if m == nil || !m.Fitted() {
		return nil, errors.Wrap(model.ErrUnfitted, "lineage model")
	}
	if m.Samples() != len(refs) {
		return nil, errors.Wrapf(model.ErrConfig, "model has %d samples, have %d reference names", m.Samples(), len(refs))
	}
	ctx, err := p.begin(ctx, ModeExtend, qq, qr)
	if err != nil {
		return nil, err
	}
	if err := m.Extend(ctx, qq, qr); err != nil {
		return nil, err
	}
	samples := append(append([]string(nil), refs...), queries...)
	res := &Result{Mode: ModeExtend, Model: m, Queries: queries}
	return p.ranked(ctx, res, m, samples, prev, true)
}

// ranked clusters every rank, writes the per-rank and combined lineage
// files, and keeps the lowest rank as the run's network. Names follow prev
// strictly only when strict is set.
func (p *Pipeline) ranked(ctx context.Context, res *Result, m *model.Lineage, samples []string, prev map[int]*network.Clustering, strict bool) (*Result, error) {
	name := network.Rename
	if strict {
		name = network.Reconcile
	}
	ranks := m.Ranks()
	res.Ranks = make(map[int]*network.Clustering, len(ranks))
	w := make(weights)
	for i, r := range ranks {
		edges, err := m.AssignRank(r)
		if err != nil {
			return nil, err
		}
		net, err := network.FromEdges(samples, edges)
		if err != nil {
			return nil, err
		}
		c, err := name(ctx, net, prev[r])
		if err != nil {
			return nil, errors.Wrapf(err, "rank %d", r)
		}
		res.Ranks[r] = c
		if err := p.writeClusterFile(p.path(RankSuffix(r)), c, nil); err != nil {
			return nil, err
		}
		if i == 0 {
			res.Network = net
			if ws, err := m.EdgeWeights(r); err == nil && len(ws) == len(edges) {
				for k, e := range edges {
					w[pairKey(samples[e[0]], samples[e[1]])] = ws[k]
				}
			}
		}
	}

	res.Summary = network.Summarise(res.Network)
	res.Summary.Log(ctx)
	if p.metrics != nil {
		p.metrics.SetNetwork(res.Summary.Samples, res.Summary.Edges, res.Summary.Components)
	}
	res.Clusters = res.Ranks[ranks[0]]
	// Extending needs every sample's distances, so all samples are kept.
	res.References = append([]string(nil), samples...)

	if err := m.Save(); err != nil {
		return nil, err
	}
	if err := p.writeClusters(res, nil); err != nil {
		return nil, err
	}
	if err := p.writeReferences(res.References); err != nil {
		return nil, err
	}
	if err := p.writeLineages(samples, res.Ranks); err != nil {
		return nil, err
	}
	if err := m.Plot(ctx, nil, nil, p.plotter); err != nil {
		logging.Logger(ctx).WithError(err).Warn("plot failed")
	}
	p.persist(ctx, res, graph.WeightFunc(w.lookup))
	p.exportSummary(ctx, res)
	return res, nil
}
