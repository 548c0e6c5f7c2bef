package model

import (
	"bufio"
	"context"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/straincluster/internal/assign"
	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/refine"
)

// Individual refinement targets.
const (
	IndivNone      = ""
	IndivCore      = "core"
	IndivAccessory = "accessory"
	IndivBoth      = "both"
)

// ManualStart gives the two refinement start points directly.
type ManualStart struct {
	Start [2]float64
	End   [2]float64
	// Scaled is set when the points are already divided by the scale.
	Scaled bool
}

// ReadManualStart parses lines of the form
//
//	start 0.1,0.2
//	end 0.4,0.6
//	scaled true
func ReadManualStart(r io.Reader) (*ManualStart, error) {
	ms := &ManualStart{}
	var haveStart, haveEnd bool
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) != 2 {
			return nil, errors.Wrapf(ErrConfig, "manual start line %q", sc.Text())
		}
		switch strings.ToLower(fields[0]) {
		case "start", "end":
			p, err := parsePoint(fields[1])
			if err != nil {
				return nil, err
			}
			if strings.EqualFold(fields[0], "start") {
				ms.Start, haveStart = p, true
			} else {
				ms.End, haveEnd = p, true
			}
		case "scaled":
			v, err := strconv.ParseBool(fields[1])
			if err != nil {
				return nil, errors.Wrapf(ErrConfig, "manual start scaled flag %q", fields[1])
			}
			ms.Scaled = v
		default:
			return nil, errors.Wrapf(ErrConfig, "unknown manual start key %q", fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "model: read manual start")
	}
	if !haveStart || !haveEnd {
		return nil, errors.Wrap(ErrConfig, "manual start needs start and end points")
	}
	return ms, nil
}

func parsePoint(s string) ([2]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return [2]float64{}, errors.Wrapf(ErrConfig, "point %q is not x,y", s)
	}
	var p [2]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return p, errors.Wrapf(ErrConfig, "point %q: %v", s, err)
		}
		p[i] = v
	}
	return p, nil
}

// RefineOptions control a refinement fit.
type RefineOptions struct {
	PosShift float64
	NegShift float64
	NoLocal  bool
	// Indiv also fits core-only and/or accessory-only boundaries.
	Indiv string
	// Manual overrides the start points of the start model.
	Manual *ManualStart
	// Unconstrained searches the core and accessory intercepts of the
	// joint boundary independently.
	Unconstrained bool
}

// Refine labels rows against a decision boundary moved to maximise the
// network score.
type Refine struct {
	base

	// Optimiser searches for the boundary; nil uses a default optimiser
	// built from the fit options.
	Optimiser *refine.Optimiser

	optimal      [2]float64
	coreBoundary float64
	accBoundary  float64
	slope        int
	threshold    bool
	indivFitted  bool
	free         bool
	shift        float64

	start    [2][2]float64
	hasStart bool
}

// NewRefine returns an unfitted refine model.
func NewRefine(opts Options) *Refine {
	return &Refine{
		base:         newBase(KindRefine, opts, 0, assign.MixtureBlockSize),
		optimal:      [2]float64{math.NaN(), math.NaN()},
		coreBoundary: math.NaN(),
		accBoundary:  math.NaN(),
		slope:        refine.SlopeBoth,
		shift:        math.NaN(),
	}
}

// Fit moves a boundary along the line joining the start points and keeps
// the position with the best network score. X must be a self layout over
// samples; it is not subsampled. The scale is copied from start.
func (m *Refine) Fit(ctx context.Context, X *dists.Matrix, samples []string, start Starter, opts RefineOptions) ([]int, error) {
	began := time.Now()
	if start == nil {
		return nil, errors.Wrap(ErrConfig, "refine needs a fitted start model")
	}
	if !start.Fitted() {
		return nil, errors.Wrap(ErrUnfitted, "refine start model")
	}
	if X.Layout() != dists.LayoutSelf && X.Layout() != dists.LayoutSelfDiagonal {
		return nil, errors.Wrapf(ErrConfig, "refine needs a self layout, have %s", X.Layout())
	}
	scale := start.Scale()

	var mean0, mean1 [2]float64
	if opts.Manual != nil {
		mean0, mean1 = opts.Manual.Start, opts.Manual.End
		if !opts.Manual.Scaled {
			mean0 = [2]float64{mean0[0] / scale[0], mean0[1] / scale[1]}
			mean1 = [2]float64{mean1[0] / scale[0], mean1[1] / scale[1]}
		}
	} else {
		var err error
		if mean0, mean1, err = start.StartPoints(); err != nil {
			return nil, err
		}
	}

	opt := m.Optimiser
	if opt == nil {
		opt = &refine.Optimiser{
			PosShift: opts.PosShift,
			NegShift: opts.NegShift,
			NoLocal:  opts.NoLocal,
			Threads:  m.threads,
		}
	}
	if opts.Unconstrained && !opt.Unconstrained {
		o := *opt
		o.Unconstrained = true
		opt = &o
	}
	eval := &refine.NetworkEvaluator{Samples: samples, X: X.Scaled(scale)}
	log := logging.Logger(ctx).WithFields(logrus.Fields{"model": string(m.kind)})

	res, err := opt.Optimise(ctx, mean0, mean1, refine.SlopeBoth, eval)
	if err != nil {
		return nil, errors.Wrap(err, "model: refine boundary")
	}
	m.scale = scale
	m.optimal = [2]float64{res.Boundary.X, res.Boundary.Y}
	m.slope = refine.SlopeBoth
	m.threshold = false
	m.free = opt.Unconstrained
	m.shift = res.Shift
	m.start, m.hasStart = [2][2]float64{mean0, mean1}, true
	log.WithFields(logrus.Fields{
		"core_intercept":      res.Boundary.X,
		"accessory_intercept": res.Boundary.Y,
		"score":               res.Score,
	}).Info("refined boundary")

	m.coreBoundary, m.accBoundary = res.Boundary.X, res.Boundary.Y
	m.indivFitted = false
	if opts.Indiv != IndivNone {
		m.fitIndividual(ctx, opt, mean0, mean1, opts.Indiv, eval)
	}
	m.markFitted(began)
	return m.Assign(ctx, X)
}

// fitIndividual fits the one-dimensional boundaries. A failed axis is
// logged and keeps the joint intercept.
func (m *Refine) fitIndividual(ctx context.Context, opt *refine.Optimiser, mean0, mean1 [2]float64, which string, eval refine.Evaluator) {
	log := logging.Logger(ctx).WithFields(logrus.Fields{"model": string(m.kind)})
	axes := []struct {
		name  string
		slope int
		dst   *float64
	}{
		{IndivCore, refine.SlopeCore, &m.coreBoundary},
		{IndivAccessory, refine.SlopeAccessory, &m.accBoundary},
	}
	for _, ax := range axes {
		if which != IndivBoth && which != ax.name {
			continue
		}
		res, err := opt.Optimise(ctx, mean0, mean1, ax.slope, eval)
		if err != nil {
			log.WithError(err).WithField("axis", ax.name).Warn("individual refinement failed, keeping joint boundary")
			continue
		}
		if ax.slope == refine.SlopeCore {
			*ax.dst = res.Boundary.X
		} else {
			*ax.dst = res.Boundary.Y
		}
		m.indivFitted = true
		log.WithFields(logrus.Fields{"axis": ax.name, "boundary": *ax.dst, "score": res.Score}).Info("refined individual boundary")
	}
}

// ApplyThreshold fixes a core distance boundary at t without optimisation.
// The accessory boundary is undefined.
func (m *Refine) ApplyThreshold(ctx context.Context, X *dists.Matrix, t float64) ([]int, error) {
	began := time.Now()
	if !(t > 0) || math.IsInf(t, 0) {
		return nil, errors.Wrapf(ErrConfig, "threshold must be positive, got %v", t)
	}
	m.scale = [2]float64{1, 1}
	m.coreBoundary = t
	m.accBoundary = math.NaN()
	m.optimal = [2]float64{t, math.NaN()}
	m.slope = refine.SlopeCore
	m.threshold = true
	m.indivFitted = false
	m.free = false
	m.shift = math.NaN()
	m.hasStart = false
	m.markFitted(began)
	logging.Logger(ctx).WithFields(logrus.Fields{"model": string(m.kind), "threshold": t}).Info("applied core distance threshold")
	return m.Assign(ctx, X)
}

// boundary returns the decision boundary for slope.
func (m *Refine) boundary(slope int) (refine.Boundary, error) {
	var b refine.Boundary
	switch slope {
	case refine.SlopeBoth:
		b = refine.Boundary{Slope: slope, X: m.optimal[0], Y: m.optimal[1]}
	case refine.SlopeCore:
		b = refine.Boundary{Slope: slope, X: m.coreBoundary, Y: math.NaN()}
	case refine.SlopeAccessory:
		b = refine.Boundary{Slope: slope, X: math.NaN(), Y: m.accBoundary}
	default:
		return b, errors.Wrapf(ErrConfig, "unknown boundary slope %d", slope)
	}
	if !b.Valid() {
		return b, errors.Wrapf(ErrConfig, "no boundary fitted for slope %d", slope)
	}
	return b, nil
}

// Assign labels every row of X with the fitted boundary.
func (m *Refine) Assign(ctx context.Context, X *dists.Matrix) ([]int, error) {
	return m.AssignSlope(ctx, X, m.slope)
}

// AssignSlope labels every row of X with the boundary of the given slope:
// refine.SlopeBoth for the joint fit, SlopeCore or SlopeAccessory for the
// individual fits.
func (m *Refine) AssignSlope(ctx context.Context, X *dists.Matrix, slope int) ([]int, error) {
	if err := m.requireFitted(); err != nil {
		return nil, err
	}
	b, err := m.boundary(slope)
	if err != nil {
		return nil, err
	}
	return m.engine().Labels(ctx, X, scaledLabel(m.scale, b.Label))
}

// AssignAt labels every row of X with boundary b, given in scaled space.
func (m *Refine) AssignAt(ctx context.Context, X *dists.Matrix, b refine.Boundary) ([]int, error) {
	if err := m.requireFitted(); err != nil {
		return nil, err
	}
	if !b.Valid() {
		return nil, errors.Wrapf(ErrConfig, "invalid boundary %+v", b)
	}
	return m.engine().Labels(ctx, X, scaledLabel(m.scale, b.Label))
}

// MultiBoundary returns n joint boundaries from the within start point up
// to the fitted one. It needs a fit along the search line in this session.
func (m *Refine) MultiBoundary(n int) ([]refine.Boundary, error) {
	if err := m.requireFitted(); err != nil {
		return nil, err
	}
	if !m.hasStart || m.threshold || m.free || math.IsNaN(m.shift) {
		return nil, errors.Wrap(ErrConfig, "multiple boundaries need a line search fit")
	}
	bs, err := refine.Sweep(m.start[0], m.start[1], m.shift, n)
	if err != nil {
		return nil, errors.Wrap(err, "model: multiple boundaries")
	}
	return bs, nil
}

// WithinLabel implements Classifier.
func (m *Refine) WithinLabel() int { return refine.Within }

// BetweenLabel implements Classifier.
func (m *Refine) BetweenLabel() int { return refine.Between }

// Threshold reports whether the boundary was fixed by ApplyThreshold.
func (m *Refine) Threshold() bool { return m.threshold }

// Unconstrained reports whether the joint intercepts were searched
// independently.
func (m *Refine) Unconstrained() bool { return m.free }

// IndivFitted reports whether any one-dimensional boundary was fitted.
func (m *Refine) IndivFitted() bool { return m.indivFitted }

// Boundaries returns the joint intercepts and the core-only and
// accessory-only boundaries, all in scaled space. Unfitted values are NaN.
func (m *Refine) Boundaries() (optimal [2]float64, core, accessory float64) {
	return m.optimal, m.coreBoundary, m.accBoundary
}

// Plot reports the boundary. In threshold mode the accessory boundary is NaN.
func (m *Refine) Plot(ctx context.Context, X *dists.Matrix, labels []int, p Plotter) error {
	if err := m.requireFitted(); err != nil {
		return err
	}
	fig := Figure{
		Kind:     m.kind,
		Title:    "refined fit",
		Name:     m.figureName("refined_fit"),
		Labels:   labels,
		Boundary: &[2]float64{m.optimal[0], m.optimal[1]},
		Stats: map[string]float64{
			"slope":     float64(m.slope),
			"threshold": boolFloat(m.threshold),
		},
	}
	if m.threshold {
		fig.Title = "threshold fit"
		fig.Boundary = &[2]float64{m.coreBoundary, math.NaN()}
	}
	if X != nil {
		fig.Points = X.Scaled(m.scale)
	}
	if m.hasStart {
		fig.Centres = [][2]float64{m.start[0], m.start[1]}
	}
	if m.indivFitted {
		fig.Stats["core_boundary"] = m.coreBoundary
		fig.Stats["accessory_boundary"] = m.accBoundary
	}
	return p.Plot(ctx, fig)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Save writes the metadata and numeric records.
func (m *Refine) Save() error {
	if err := m.requireFitted(); err != nil {
		return err
	}
	meta := m.meta()
	meta.Within, meta.Between = refine.Within, refine.Between
	meta.Refine = &RefineMeta{
		Slope:         m.slope,
		Threshold:     m.threshold,
		IndivFitted:   m.indivFitted,
		Unconstrained: m.free,
	}

	rec := NewRecord()
	rec.PutVec("refine", "intercept", m.optimal[:])
	rec.PutVec("refine", "core_acc_intercepts", []float64{m.coreBoundary, m.accBoundary})
	return m.save(meta, rec)
}

func (m *Refine) restore(meta Meta, rec *Record) error {
	if err := m.restoreBase(meta, rec); err != nil {
		return err
	}
	optimal, err := rec.Vec("refine", "intercept")
	if err != nil {
		return err
	}
	indiv, err := rec.Vec("refine", "core_acc_intercepts")
	if err != nil {
		return err
	}
	if len(optimal) != 2 || len(indiv) != 2 {
		return errors.New("model: refine intercepts must hold two values")
	}
	m.optimal = [2]float64{optimal[0], optimal[1]}
	m.coreBoundary, m.accBoundary = indiv[0], indiv[1]
	m.threshold = math.IsNaN(m.optimal[1]) && math.IsNaN(m.accBoundary)
	if !m.threshold {
		if math.IsNaN(m.coreBoundary) {
			m.coreBoundary = m.optimal[0]
		}
		if math.IsNaN(m.accBoundary) {
			m.accBoundary = m.optimal[1]
		}
	}
	m.slope = refine.SlopeBoth
	if meta.Refine != nil {
		m.slope = meta.Refine.Slope
		m.indivFitted = meta.Refine.IndivFitted
		m.free = meta.Refine.Unconstrained
		m.threshold = m.threshold || meta.Refine.Threshold
	}
	return nil
}
