package model

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/straincluster/internal/assign"
	"github.com/dusk-indust/straincluster/internal/density"
	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/logging"
)

// DefaultDensitySamples caps the rows density clustering is run on.
const DefaultDensitySamples = 100000

// minParam is the floor of both density parameters.
const minParam = 10

// ClusterStats are per-cluster summaries in scaled space, indexed by label.
type ClusterStats struct {
	Means [][2]float64
	Mins  [][2]float64
	Maxs  [][2]float64
	Sizes []int
}

// DistinctFunc decides whether the within and between clusters are far
// enough apart to accept a density fit.
type DistinctFunc func(s ClusterStats, within, between int) bool

// Distinct accepts a fit when the within cluster lies below the between
// cluster on both axes, by mean and by bounding box.
func Distinct(s ClusterStats, within, between int) bool {
	w, b := within, between
	for ax := 0; ax < 2; ax++ {
		if s.Means[w][ax] >= s.Means[b][ax] {
			return false
		}
		if s.Maxs[w][ax] >= s.Mins[b][ax] {
			return false
		}
	}
	return true
}

// Density labels rows by the density cluster of the nearest core point.
type Density struct {
	base

	// Clusterer groups rows; nil uses density.NewDBSCAN.
	Clusterer density.Clusterer
	// Distinct accepts a fit; nil uses Distinct.
	Distinct DistinctFunc

	model   *density.Model
	stats   ClusterStats
	within  int
	between int

	minSamples     int
	minClusterSize int

	sample       *dists.Matrix
	sampleLabels []int
}

// NewDensity returns an unfitted density model.
func NewDensity(opts Options) *Density {
	return &Density{base: newBase(KindDensity, opts, DefaultDensitySamples, assign.DensityBlockSize)}
}

// Fit subsamples and scales X, then clusters it with progressively relaxed
// parameters until the within and between clusters are distinct and there
// are more than one and at most maxClusters clusters. Every row of X is then
// labelled.
func (m *Density) Fit(ctx context.Context, X *dists.Matrix, maxClusters int, minClusterProp float64) ([]int, error) {
	start := time.Now()
	if maxClusters < 2 {
		return nil, errors.Wrapf(ErrConfig, "density needs a cluster cap of at least 2, got %d", maxClusters)
	}
	sub := X.Subsample(m.maxSamples, m.rng())
	scale := sub.MaxPerAxis()
	if !(scale[0] > 0) || !(scale[1] > 0) {
		return nil, errors.Wrapf(ErrConfig, "cannot scale distances by %v", scale)
	}
	sub = sub.Scaled(scale)

	clusterer := m.Clusterer
	if clusterer == nil {
		clusterer = density.NewDBSCAN()
	}
	distinct := m.Distinct
	if distinct == nil {
		distinct = Distinct
	}

	log := logging.Logger(ctx).WithFields(logrus.Fields{"model": string(m.kind)})
	n := sub.Rows()
	minSamples := max(int(minClusterProp*float64(n)), minParam)
	minClusterSize := max(int(0.01*float64(n)), minParam)

	var accepted *density.Result
	var stats ClusterStats
	var within, between int
	for accepted == nil && minClusterSize >= minSamples && minSamples >= minParam {
		res, err := clusterer.Cluster(ctx, sub, minSamples, minClusterSize)
		if err != nil {
			return nil, errors.Wrap(err, "model: density clustering")
		}
		log.WithFields(logrus.Fields{
			"min_samples":      minSamples,
			"min_cluster_size": minClusterSize,
			"clusters":         res.NClusters,
		}).Debug("density pass")

		if res.NClusters > 1 && res.NClusters <= maxClusters {
			stats = clusterStats(sub, res.Labels, res.NClusters)
			within, between = densityLabels(stats, res.Labels)
			if between >= 0 && distinct(stats, within, between) {
				accepted = res
				break
			}
		}
		if minClusterSize < minSamples/2 {
			minSamples /= 10
		}
		minClusterSize /= 2
	}
	if accepted == nil {
		return nil, errors.Wrapf(ErrNoDistinctClusters,
			"min_samples=%d min_cluster_size=%d max_clusters=%d", minSamples, minClusterSize, maxClusters)
	}

	m.model, m.stats, m.scale = accepted.Model, stats, scale
	m.within, m.between = within, between
	m.minSamples, m.minClusterSize = minSamples, minClusterSize
	m.sample, m.sampleLabels = sub, accepted.Labels
	m.markFitted(start)

	log.WithFields(logrus.Fields{
		"clusters": accepted.NClusters,
		"within":   within,
		"between":  between,
		"eps":      accepted.Model.Eps(),
	}).Info("fitted density clusters")
	return m.Assign(ctx, X)
}

// clusterStats computes mean, bounding box and size per cluster. Noise is
// skipped.
func clusterStats(X *dists.Matrix, labels []int, k int) ClusterStats {
	s := ClusterStats{
		Means: make([][2]float64, k),
		Mins:  make([][2]float64, k),
		Maxs:  make([][2]float64, k),
		Sizes: make([]int, k),
	}
	for j := 0; j < k; j++ {
		s.Mins[j] = [2]float64{math.Inf(1), math.Inf(1)}
		s.Maxs[j] = [2]float64{math.Inf(-1), math.Inf(-1)}
	}
	for i, l := range labels {
		if l < 0 {
			continue
		}
		c, a := X.Row(i)
		s.Means[l][0] += c
		s.Means[l][1] += a
		s.Mins[l] = [2]float64{math.Min(s.Mins[l][0], c), math.Min(s.Mins[l][1], a)}
		s.Maxs[l] = [2]float64{math.Max(s.Maxs[l][0], c), math.Max(s.Maxs[l][1], a)}
		s.Sizes[l]++
	}
	for j := range s.Means {
		if s.Sizes[j] > 0 {
			s.Means[j][0] /= float64(s.Sizes[j])
			s.Means[j][1] /= float64(s.Sizes[j])
		}
	}
	return s
}

// densityLabels picks the used cluster nearest the origin as within and the
// most populous other cluster as between. between is -1 if there is none.
func densityLabels(s ClusterStats, labels []int) (within, between int) {
	used := usedLabels(labels)
	within, between = -1, -1
	for _, l := range used {
		if within < 0 || norm(s.Means[l]) < norm(s.Means[within]) {
			within = l
		}
	}
	for _, l := range used {
		if l != within && (between < 0 || s.Sizes[l] > s.Sizes[between]) {
			between = l
		}
	}
	return within, between
}

// Assign labels every row of X with its density cluster, or density.Noise.
func (m *Density) Assign(ctx context.Context, X *dists.Matrix) ([]int, error) {
	if err := m.requireFitted(); err != nil {
		return nil, err
	}
	return m.engine().Labels(ctx, X, scaledLabel(m.scale, m.model.Predict))
}

// WithinLabel implements Classifier.
func (m *Density) WithinLabel() int { return m.within }

// BetweenLabel implements Classifier.
func (m *Density) BetweenLabel() int { return m.between }

// Stats returns the per-cluster summaries of the accepted fit.
func (m *Density) Stats() ClusterStats { return m.stats }

// StartPoints implements Starter.
func (m *Density) StartPoints() (within, between [2]float64, err error) {
	if err := m.requireFitted(); err != nil {
		return within, between, err
	}
	return m.stats.Means[m.within], m.stats.Means[m.between], nil
}

// Plot reports cluster count, points plotted and the number not assigned
// to noise.
func (m *Density) Plot(ctx context.Context, X *dists.Matrix, labels []int, p Plotter) error {
	if err := m.requireFitted(); err != nil {
		return err
	}
	points, plotLabels := m.sample, m.sampleLabels
	if points == nil {
		if X == nil {
			return errors.New("model: no points to plot")
		}
		points = X.Subsample(m.maxSamples, m.rng()).Scaled(m.scale)
		plotLabels = make([]int, points.Rows())
		for i := range plotLabels {
			plotLabels[i] = m.model.Predict(points.Row(i))
		}
	}
	assigned := 0
	for _, l := range plotLabels {
		if l != density.Noise {
			assigned++
		}
	}
	return p.Plot(ctx, Figure{
		Kind:    m.kind,
		Title:   "density fit",
		Name:    m.figureName("dbscan"),
		Points:  points,
		Labels:  plotLabels,
		Centres: m.stats.Means,
		Stats: map[string]float64{
			"clusters":   float64(len(m.stats.Means)),
			"datapoints": float64(points.Rows()),
			"assigned":   float64(assigned),
		},
	})
}

// Save writes the metadata and numeric records.
func (m *Density) Save() error {
	if err := m.requireFitted(); err != nil {
		return err
	}
	meta := m.meta()
	meta.Within, meta.Between = m.within, m.between
	meta.Density = &DensityMeta{
		Clusters:       len(m.stats.Means),
		Eps:            m.model.Eps(),
		MinSamples:     m.minSamples,
		MinClusterSize: m.minClusterSize,
		MaxSamples:     m.maxSamples,
	}

	rec := NewRecord()
	rec.PutPairs("density", "means", m.stats.Means)
	rec.PutPairs("density", "mins", m.stats.Mins)
	rec.PutPairs("density", "maxs", m.stats.Maxs)
	rec.PutInts("density", "sizes", m.stats.Sizes)
	rec.PutVec("core", "points", m.model.CorePoints())
	rec.PutInts("core", "labels", m.model.CoreLabels())
	return m.save(meta, rec)
}

func (m *Density) restore(meta Meta, rec *Record) error {
	if err := m.restoreBase(meta, rec); err != nil {
		return err
	}
	if meta.Density == nil {
		return errors.Wrap(ErrConfig, "density metadata missing")
	}
	var err error
	if m.stats.Means, err = rec.Pairs("density", "means"); err != nil {
		return err
	}
	if m.stats.Mins, err = rec.Pairs("density", "mins"); err != nil {
		return err
	}
	if m.stats.Maxs, err = rec.Pairs("density", "maxs"); err != nil {
		return err
	}
	if m.stats.Sizes, err = rec.Ints("density", "sizes"); err != nil {
		return err
	}
	core, err := rec.Vec("core", "points")
	if err != nil {
		return err
	}
	labels, err := rec.Ints("core", "labels")
	if err != nil {
		return err
	}
	if 2*len(labels) != len(core) {
		return errors.Errorf("model: %d core labels for %d core points", len(labels), len(core)/2)
	}
	m.model = density.NewModel(meta.Density.Eps, core, labels)
	m.within, m.between = meta.Within, meta.Between
	m.minSamples, m.minClusterSize = meta.Density.MinSamples, meta.Density.MinClusterSize
	if meta.Density.MaxSamples > 0 {
		m.maxSamples = meta.Density.MaxSamples
	}
	return nil
}
