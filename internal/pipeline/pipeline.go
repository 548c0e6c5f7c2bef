// Package pipeline runs the clustering modes end to end: fit a model, build
// the network, name clusters, pick references and write the outputs.
package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/straincluster/internal/assign"
	"github.com/dusk-indust/straincluster/internal/config"
	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/graph"
	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/metrics"
	"github.com/dusk-indust/straincluster/internal/model"
	"github.com/dusk-indust/straincluster/internal/network"
	"github.com/dusk-indust/straincluster/internal/refine"
)

// Mode names a run in logs and in the summary export.
type Mode string

const (
	ModeFit       Mode = "fit"
	ModeRefine    Mode = "refine"
	ModeThreshold Mode = "threshold"
	ModeLineage   Mode = "lineage"
	ModeAssign    Mode = "assign"
	ModeExtend    Mode = "extend"
	ModeUseModel  Mode = "use-model"
)

// Input is a self comparison of samples.
type Input struct {
	Samples   []string
	Distances *dists.Matrix
	// Previous names clusters of an earlier run; nil numbers them afresh.
	Previous *network.Clustering
}

// Result is what a mode produced.
type Result struct {
	Mode       Mode
	Model      model.Model
	Network    *network.Network
	Summary    network.Summary
	Clusters   *network.Clustering
	References []string
	Queries    []string

	// Ranks holds the clustering of every lineage rank.
	Ranks map[int]*network.Clustering
	// Indiv holds the core-only and accessory-only clusterings of a refine
	// fit, keyed by model.IndivCore and model.IndivAccessory.
	Indiv map[string]*network.Clustering
	// Boundaries holds the clusterings at the extra boundary positions of a
	// refine fit, nearest the origin first.
	Boundaries []*network.Clustering
}

// StoreOpener opens the graph store a run is persisted to.
type StoreOpener func(path string) (graph.Store, error)

// Pipeline runs modes with one configuration.
type Pipeline struct {
	cfg       *config.Config
	plotter   model.Plotter
	metrics   *metrics.Collector
	progress  *assign.ProgressReporter
	openStore StoreOpener
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPlotter replaces the default model.LogPlotter.
func WithPlotter(p model.Plotter) Option {
	return func(pl *Pipeline) { pl.plotter = p }
}

// WithMetrics records fit, chunk and network metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(pl *Pipeline) { pl.metrics = c }
}

// WithProgress reports assignment chunks on pr.
func WithProgress(pr *assign.ProgressReporter) Option {
	return func(pl *Pipeline) { pl.progress = pr }
}

// WithStoreOpener replaces graph.OpenFileStore.
func WithStoreOpener(fn StoreOpener) Option {
	return func(pl *Pipeline) { pl.openStore = fn }
}

// New returns a Pipeline for cfg.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		plotter:   model.LogPlotter{},
		openStore: graph.OpenFileStore,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Prefix is the file name stem of every output.
func (p *Pipeline) Prefix() string {
	if p.cfg.Prefix != "" {
		return p.cfg.Prefix
	}
	return filepath.Base(filepath.Clean(p.cfg.OutDir))
}

// ModelOptions are the model settings derived from the configuration.
func (p *Pipeline) ModelOptions() model.Options {
	return model.Options{
		OutDir:     p.cfg.OutDir,
		Prefix:     p.Prefix(),
		Threads:    p.cfg.Threads,
		MaxSamples: p.cfg.Fit.MaxSamples,
		Seed:       p.cfg.Seed,
		Metrics:    p.metrics,
		Progress:   p.progress,
	}
}

// prepareOut creates the output directory. An existing regular file at the
// path is a configuration error.
func (p *Pipeline) prepareOut() error {
	dir := p.cfg.OutDir
	if dir == "" {
		return errors.Wrap(model.ErrConfig, "no output directory")
	}
	if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
		return errors.Wrapf(model.ErrConfig, "output path %s is a file", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "pipeline: create output directory")
	}
	return nil
}

// qc rejects distances whose accessory component exceeds the ceiling.
func (p *Pipeline) qc(ms ...*dists.Matrix) error {
	for _, m := range ms {
		if m == nil {
			continue
		}
		if err := m.CheckAccessory(p.cfg.MaxAccessory); err != nil {
			return errors.Wrap(err, "pipeline: distance QC")
		}
	}
	return nil
}

func (p *Pipeline) begin(ctx context.Context, mode Mode, ms ...*dists.Matrix) (context.Context, error) {
	ctx = logging.WithFields(ctx, logrus.Fields{"mode": string(mode)})
	if err := p.prepareOut(); err != nil {
		return ctx, err
	}
	if err := p.qc(ms...); err != nil {
		return ctx, err
	}
	return ctx, nil
}

func checkInput(in Input) error {
	if in.Distances == nil {
		return errors.Wrap(model.ErrConfig, "no distances")
	}
	if l := in.Distances.Layout(); l != dists.LayoutSelf && l != dists.LayoutSelfDiagonal {
		return errors.Wrapf(model.ErrConfig, "expected a self comparison, have %s", l)
	}
	if n, _ := in.Distances.Samples(); n != len(in.Samples) {
		return errors.Wrapf(model.ErrConfig, "%d sample names for %d samples", len(in.Samples), n)
	}
	return nil
}

// Fit fits a mixture or density model to a self comparison and clusters
// its network.
func (p *Pipeline) Fit(ctx context.Context, in Input, kind model.Kind) (*Result, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	ctx, err := p.begin(ctx, ModeFit, in.Distances)
	if err != nil {
		return nil, err
	}

	var m model.Classifier
	var labels []int
	switch kind {
	case model.KindMixture:
		mix := model.NewMixture(p.ModelOptions())
		labels, err = mix.Fit(ctx, in.Distances, p.cfg.Fit.MaxComponents)
		m = mix
	case model.KindDensity:
		dens := model.NewDensity(p.ModelOptions())
		labels, err = dens.Fit(ctx, in.Distances, p.cfg.Fit.MaxClusters, p.cfg.Fit.MinClusterProp)
		m = dens
	default:
		return nil, errors.Wrapf(model.ErrConfig, "cannot fit a %q model directly", kind)
	}
	if err != nil {
		return nil, err
	}
	return p.classified(ctx, ModeFit, in, m, labels)
}

// Refine moves the boundary between the start model's within and between
// clusters to maximise the network score.
func (p *Pipeline) Refine(ctx context.Context, in Input, start model.Starter) (*Result, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	ctx, err := p.begin(ctx, ModeRefine, in.Distances)
	if err != nil {
		return nil, err
	}
	rc := p.cfg.Refine
	opts := model.RefineOptions{
		PosShift: rc.PosShift,
		NegShift: rc.NegShift,
		NoLocal:  rc.NoLocal,
		Indiv:    rc.Indiv,

		Unconstrained: rc.Unconstrained,
	}
	if rc.ManualStart != "" {
		if opts.Manual, err = readManualStart(rc.ManualStart); err != nil {
			return nil, err
		}
	}

	m := model.NewRefine(p.ModelOptions())
	m.Optimiser = newOptimiser(p.cfg)
	labels, err := m.Fit(ctx, in.Distances, in.Samples, start, opts)
	if err != nil {
		return nil, err
	}
	res, err := p.classified(ctx, ModeRefine, in, m, labels)
	if err != nil {
		return nil, err
	}
	if m.IndivFitted() {
		p.individual(ctx, res, in, m)
	}
	if rc.MultiBoundary > 1 {
		p.multiBoundary(ctx, res, in, m, rc.MultiBoundary)
	}
	return res, nil
}

// UseModel applies a fitted model to a new self comparison without
// refitting. axis picks a one-dimensional refine boundary; model.IndivNone
// uses the model's own.
func (p *Pipeline) UseModel(ctx context.Context, in Input, m model.Classifier, axis string) (*Result, error) {
	if m == nil || !m.Fitted() {
		return nil, errors.Wrap(model.ErrUnfitted, "model to apply")
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}
	ctx, err := p.begin(ctx, ModeUseModel, in.Distances)
	if err != nil {
		return nil, err
	}
	labels, err := assignAxis(ctx, m, in.Distances, axis)
	if err != nil {
		return nil, err
	}
	return p.classified(ctx, ModeUseModel, in, m, labels)
}

// assignAxis labels X with m, or with the core-only or accessory-only
// boundary of a refine model.
func assignAxis(ctx context.Context, m model.Classifier, X *dists.Matrix, axis string) ([]int, error) {
	if axis == model.IndivNone {
		return m.Assign(ctx, X)
	}
	r, ok := m.(*model.Refine)
	if !ok {
		return nil, errors.Wrapf(model.ErrConfig, "%s-only assignment needs a refine model, have %s", axis, m.Kind())
	}
	switch axis {
	case model.IndivCore:
		return r.AssignSlope(ctx, X, refine.SlopeCore)
	case model.IndivAccessory:
		return r.AssignSlope(ctx, X, refine.SlopeAccessory)
	default:
		return nil, errors.Wrapf(model.ErrConfig, "unknown assignment axis %q", axis)
	}
}

// Threshold clusters on a fixed core distance.
func (p *Pipeline) Threshold(ctx context.Context, in Input, t float64) (*Result, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	ctx, err := p.begin(ctx, ModeThreshold, in.Distances)
	if err != nil {
		return nil, err
	}
	m := model.NewRefine(p.ModelOptions())
	labels, err := m.ApplyThreshold(ctx, in.Distances, t)
	if err != nil {
		return nil, err
	}
	return p.classified(ctx, ModeThreshold, in, m, labels)
}

// classified builds the network from labels and writes every output.
func (p *Pipeline) classified(ctx context.Context, mode Mode, in Input, m model.Classifier, labels []int) (*Result, error) {
	net, err := network.Construct(ctx, in.Samples, in.Distances, labels, m.WithinLabel())
	if err != nil {
		return nil, err
	}
	w := make(weights)
	w.add(in.Samples, in.Samples, in.Distances, labels, m.WithinLabel())

	res := &Result{Mode: mode, Model: m, Network: net}
	if err := p.cluster(ctx, res, in.Previous, false); err != nil {
		return nil, err
	}
	if err := m.Save(); err != nil {
		return nil, err
	}
	if err := p.writeClusters(res, nil); err != nil {
		return nil, err
	}
	if err := p.writeReferences(res.References); err != nil {
		return nil, err
	}
	if err := m.Plot(ctx, in.Distances, labels, p.plotter); err != nil {
		logging.Logger(ctx).WithError(err).Warn("plot failed")
	}
	p.persist(ctx, res, w.lookup)
	p.exportSummary(ctx, res)
	return res, nil
}

// cluster summarises res.Network, names its components and picks
// references. strict names by network.Reconcile, otherwise network.Rename
// is used so a refit that splits a previous cluster still completes.
func (p *Pipeline) cluster(ctx context.Context, res *Result, prev *network.Clustering, strict bool) error {
	res.Summary = network.Summarise(res.Network)
	res.Summary.Log(ctx)
	if p.metrics != nil {
		p.metrics.SetNetwork(res.Summary.Samples, res.Summary.Edges, res.Summary.Components)
	}
	name := network.Rename
	if strict {
		name = network.Reconcile
	}
	var err error
	if res.Clusters, err = name(ctx, res.Network, prev); err != nil {
		return err
	}
	if res.References, err = network.ExtractReferences(ctx, res.Network); err != nil {
		return err
	}
	return nil
}

// multiBoundary writes a clustering for each of n boundaries between the
// within start point and the refined boundary. Failures are logged.
func (p *Pipeline) multiBoundary(ctx context.Context, res *Result, in Input, m *model.Refine, n int) {
	log := logging.Logger(ctx)
	bs, err := m.MultiBoundary(n)
	if err != nil {
		log.WithError(err).Warn("multiple boundaries skipped")
		return
	}
	for k, b := range bs {
		blog := log.WithFields(logrus.Fields{"boundary": k + 1, "core_intercept": b.X, "accessory_intercept": b.Y})
		labels, err := m.AssignAt(ctx, in.Distances, b)
		if err != nil {
			blog.WithError(err).Warn("boundary assignment failed")
			continue
		}
		net, err := network.Construct(ctx, in.Samples, in.Distances, labels, m.WithinLabel())
		if err != nil {
			blog.WithError(err).Warn("boundary network failed")
			continue
		}
		c, err := network.Rename(ctx, net, in.Previous)
		if err != nil {
			blog.WithError(err).Warn("boundary clusters failed")
			continue
		}
		res.Boundaries = append(res.Boundaries, c)
		if err := p.writeClusterFile(p.path(BoundarySuffix(k+1)), c, nil); err != nil {
			blog.WithError(err).Warn("write boundary clusters failed")
			continue
		}
		blog.WithField("clusters", c.Len()).Debug("boundary clustered")
	}
}

// individual clusters with the core-only and accessory-only boundaries. A
// failure is logged and the axis skipped.
func (p *Pipeline) individual(ctx context.Context, res *Result, in Input, m *model.Refine) {
	log := logging.Logger(ctx)
	res.Indiv = make(map[string]*network.Clustering)
	for _, ax := range []struct {
		name  string
		slope int
	}{
		{model.IndivCore, refine.SlopeCore},
		{model.IndivAccessory, refine.SlopeAccessory},
	} {
		labels, err := m.AssignSlope(ctx, in.Distances, ax.slope)
		if err != nil {
			log.WithError(err).WithField("axis", ax.name).Debug("no individual boundary")
			continue
		}
		net, err := network.Construct(ctx, in.Samples, in.Distances, labels, m.WithinLabel())
		if err != nil {
			log.WithError(err).WithField("axis", ax.name).Warn("individual network failed")
			continue
		}
		c, err := network.Rename(ctx, net, in.Previous)
		if err != nil {
			log.WithError(err).WithField("axis", ax.name).Warn("individual clusters failed")
			continue
		}
		res.Indiv[ax.name] = c
		if err := p.writeClusterFile(p.path("_"+ax.name+"_clusters.csv"), c, nil); err != nil {
			log.WithError(err).WithField("axis", ax.name).Warn("write individual clusters failed")
		}
	}
}
