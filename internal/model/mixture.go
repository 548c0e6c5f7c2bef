package model

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/dusk-indust/straincluster/internal/assign"
	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/mixture"
)

// DefaultMixtureSamples caps the rows a mixture is fitted on.
const DefaultMixtureSamples = 50000

// Mixture labels rows by the most likely component of a two-dimensional
// Gaussian mixture.
type Mixture struct {
	base

	// Fitter estimates the mixture; nil uses mixture.NewEM.
	Fitter mixture.Fitter

	mix     *mixture.Model
	within  int
	between int

	// scaled subsample kept for Plot
	sample *dists.Matrix
}

// NewMixture returns an unfitted mixture model.
func NewMixture(opts Options) *Mixture {
	return &Mixture{base: newBase(KindMixture, opts, DefaultMixtureSamples, assign.MixtureBlockSize)}
}

// Fit subsamples X, scales it by its per-axis maximum, fits at most
// maxComponents components and labels every row of X.
func (m *Mixture) Fit(ctx context.Context, X *dists.Matrix, maxComponents int) ([]int, error) {
	start := time.Now()
	if maxComponents < 2 {
		return nil, errors.Wrapf(ErrConfig, "mixture needs at least 2 components, got %d", maxComponents)
	}
	sub := X.Subsample(m.maxSamples, m.rng())
	scale := sub.MaxPerAxis()
	if !(scale[0] > 0) || !(scale[1] > 0) {
		return nil, errors.Wrapf(ErrConfig, "cannot scale distances by %v", scale)
	}
	sub = sub.Scaled(scale)

	fitter := m.Fitter
	if fitter == nil {
		fitter = mixture.NewEM(m.seed)
	}
	params, err := fitter.Fit(ctx, sub, maxComponents)
	if err != nil {
		return nil, errors.Wrap(err, "model: fit mixture")
	}
	mix, err := mixture.NewModel(params)
	if err != nil {
		return nil, errors.Wrap(err, "model: fit mixture")
	}

	subLabels := make([]int, sub.Rows())
	for i := range subLabels {
		subLabels[i] = mix.Predict(sub.Row(i))
	}
	within, between, err := nearestLabels(params.Means, subLabels)
	if err != nil {
		return nil, err
	}

	m.mix, m.scale, m.within, m.between, m.sample = mix, scale, within, between, sub
	m.markFitted(start)

	logging.Logger(ctx).WithFields(logrus.Fields{
		"model":      string(m.kind),
		"components": params.K(),
		"within":     within,
		"between":    between,
		"rows":       sub.Rows(),
	}).Info("fitted mixture")
	return m.Assign(ctx, X)
}

// nearestLabels returns the used labels whose means lie closest and second
// closest to the origin.
func nearestLabels(means [][2]float64, labels []int) (within, between int, err error) {
	used := usedLabels(labels)
	if len(used) < 2 {
		return 0, 0, errors.Wrapf(ErrNoDistinctClusters, "%d component(s) used", len(used))
	}
	sort.SliceStable(used, func(i, j int) bool {
		return norm(means[used[i]]) < norm(means[used[j]])
	})
	return used[0], used[1], nil
}

// usedLabels returns the distinct non-negative labels, ascending.
func usedLabels(labels []int) []int {
	seen := make(map[int]bool)
	var used []int
	for _, l := range labels {
		if l >= 0 && !seen[l] {
			seen[l] = true
			used = append(used, l)
		}
	}
	sort.Ints(used)
	return used
}

func norm(p [2]float64) float64 { return math.Hypot(p[0], p[1]) }

// Assign labels every row of X with its most likely component.
func (m *Mixture) Assign(ctx context.Context, X *dists.Matrix) ([]int, error) {
	if err := m.requireFitted(); err != nil {
		return nil, err
	}
	return m.engine().Labels(ctx, X, scaledLabel(m.scale, m.mix.Predict))
}

// AssignValues returns the component responsibilities of every row, K
// values per row.
func (m *Mixture) AssignValues(ctx context.Context, X *dists.Matrix) ([]float64, error) {
	if err := m.requireFitted(); err != nil {
		return nil, err
	}
	s := m.scale
	return m.engine().Values(ctx, X, m.mix.K(), func(dst []float64, c, a float64) {
		m.mix.Responsibilities(dst, c/s[0], a/s[1])
	})
}

// Params returns the fitted parameters in scaled space.
func (m *Mixture) Params() *mixture.Params {
	if m.mix == nil {
		return nil
	}
	return m.mix.Params()
}

// WithinLabel implements Classifier.
func (m *Mixture) WithinLabel() int { return m.within }

// BetweenLabel implements Classifier.
func (m *Mixture) BetweenLabel() int { return m.between }

// StartPoints implements Starter.
func (m *Mixture) StartPoints() (within, between [2]float64, err error) {
	if err := m.requireFitted(); err != nil {
		return within, between, err
	}
	means := m.mix.Params().Means
	return means[m.within], means[m.between], nil
}

// Plot reports the mean assignment entropy and used component count over
// the fitted subsample, or over X when the model was loaded.
func (m *Mixture) Plot(ctx context.Context, X *dists.Matrix, labels []int, p Plotter) error {
	if err := m.requireFitted(); err != nil {
		return err
	}
	points := m.sample
	if points == nil {
		if X == nil {
			return errors.New("model: no points to plot")
		}
		points = X.Subsample(m.maxSamples, m.rng()).Scaled(m.scale)
	}
	k := m.mix.K()
	resp := make([]float64, k)
	plotLabels := make([]int, points.Rows())
	entropy := 0.0
	for i := range plotLabels {
		c, a := points.Row(i)
		m.mix.Responsibilities(resp, c, a)
		entropy += mixture.Entropy(resp)
		plotLabels[i] = m.mix.Predict(c, a)
	}
	if n := points.Rows(); n > 0 {
		entropy /= float64(n)
	}
	return p.Plot(ctx, Figure{
		Kind:    m.kind,
		Title:   "mixture fit",
		Name:    m.figureName("DPGMM_fit"),
		Points:  points,
		Labels:  plotLabels,
		Centres: m.mix.Params().Means,
		Stats: map[string]float64{
			"avg_entropy":     entropy,
			"used_components": float64(len(usedLabels(plotLabels))),
			"components":      float64(k),
		},
	})
}

// Save writes the metadata and numeric records.
func (m *Mixture) Save() error {
	if err := m.requireFitted(); err != nil {
		return err
	}
	p := m.mix.Params()
	meta := m.meta()
	meta.Within, meta.Between = m.within, m.between
	meta.Mixture = &MixtureMeta{Components: p.K(), MaxSamples: m.maxSamples}

	rec := NewRecord()
	rec.PutVec("mixture", "weights", p.Weights)
	rec.PutPairs("mixture", "means", p.Means)
	cov := mat.NewDense(p.K(), 4, nil)
	for j, c := range p.Covariances {
		cov.SetRow(j, c[:])
	}
	rec.Put("mixture", "covariances", cov)
	return m.save(meta, rec)
}

func (m *Mixture) restore(meta Meta, rec *Record) error {
	if err := m.restoreBase(meta, rec); err != nil {
		return err
	}
	weights, err := rec.Vec("mixture", "weights")
	if err != nil {
		return err
	}
	means, err := rec.Pairs("mixture", "means")
	if err != nil {
		return err
	}
	covs, err := rec.Vec("mixture", "covariances")
	if err != nil {
		return err
	}
	if len(means) != len(weights) || len(covs) != 4*len(weights) {
		return errors.Errorf("model: mixture arrays disagree on %d components", len(weights))
	}
	p := &mixture.Params{Weights: weights, Means: means, Covariances: make([][4]float64, len(weights))}
	for j := range p.Covariances {
		copy(p.Covariances[j][:], covs[4*j:4*j+4])
	}
	mix, err := mixture.NewModel(p)
	if err != nil {
		return err
	}
	m.mix, m.within, m.between = mix, meta.Within, meta.Between
	if meta.Mixture != nil && meta.Mixture.MaxSamples > 0 {
		m.maxSamples = meta.Mixture.MaxSamples
	}
	return nil
}
