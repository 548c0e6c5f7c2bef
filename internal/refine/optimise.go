package refine

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/straincluster/internal/logging"
)

// ErrNoBoundary is returned when no position along the search line gives a
// usable boundary.
var ErrNoBoundary = errors.New("refine: no valid boundary found")

// DefaultPoints is the number of grid positions scored before the local
// search.
const DefaultPoints = 40

// Optimiser moves a boundary along the line joining a within start point
// and a between start point, measured from their midpoint. Positive shifts
// move away from the origin.
type Optimiser struct {
	// PosShift and NegShift bound the move away from and towards the
	// origin. Zero means half the distance between the start points.
	PosShift float64
	NegShift float64

	Points  int
	NoLocal bool
	Threads int

	// Tol is the width at which the local search stops.
	Tol float64

	// Unconstrained searches the two intercepts of a SlopeBoth boundary
	// independently instead of keeping the boundary normal to the line.
	Unconstrained bool
}

// Result is the best boundary found.
type Result struct {
	Boundary Boundary
	Shift    float64
	Score    float64
}

// line is the search line in scaled space.
type line struct {
	mid      [2]float64
	dir      [2]float64
	gradient float64
}

func newLine(mean0, mean1 [2]float64) (line, error) {
	dx, dy := mean1[0]-mean0[0], mean1[1]-mean0[1]
	length := math.Hypot(dx, dy)
	if length == 0 || math.IsNaN(length) {
		return line{}, errors.Wrap(ErrNoBoundary, "start points coincide")
	}
	return line{
		mid:      [2]float64{(mean0[0] + mean1[0]) / 2, (mean0[1] + mean1[1]) / 2},
		dir:      [2]float64{dx / length, dy / length},
		gradient: dy / dx,
	}, nil
}

// at returns the boundary normal to the line at shift s.
func (l line) at(s float64, slope int) Boundary {
	px := l.mid[0] + s*l.dir[0]
	py := l.mid[1] + s*l.dir[1]
	switch slope {
	case SlopeCore:
		return Boundary{Slope: SlopeCore, X: px, Y: math.NaN()}
	case SlopeAccessory:
		return Boundary{Slope: SlopeAccessory, X: math.NaN(), Y: py}
	default:
		return Boundary{Slope: SlopeBoth, X: px + py*l.gradient, Y: py + px/l.gradient}
	}
}

// Sweep returns n joint boundaries normal to the line from mean0 to mean1,
// evenly spaced from the within start point mean0 up to shift to. The start
// point itself is excluded.
func Sweep(mean0, mean1 [2]float64, to float64, n int) ([]Boundary, error) {
	l, err := newLine(mean0, mean1)
	if err != nil {
		return nil, err
	}
	if n < 1 || math.IsNaN(to) {
		return nil, errors.Wrapf(ErrNoBoundary, "sweep of %d boundaries to shift %v", n, to)
	}
	from := -math.Hypot(mean1[0]-mean0[0], mean1[1]-mean0[1]) / 2
	out := make([]Boundary, n)
	for k := range out {
		out[k] = l.at(from+(to-from)*float64(k+1)/float64(n), SlopeBoth)
	}
	return out, nil
}

// Optimise returns the boundary with the best score.
func (o *Optimiser) Optimise(ctx context.Context, mean0, mean1 [2]float64, slope int, eval Evaluator) (Result, error) {
	l, err := newLine(mean0, mean1)
	if err != nil {
		return Result{}, err
	}
	half := math.Hypot(mean1[0]-mean0[0], mean1[1]-mean0[1]) / 2
	lo, hi := -o.NegShift, o.PosShift
	if o.NegShift <= 0 {
		lo = -half
	}
	if o.PosShift <= 0 {
		hi = half
	}
	points := o.Points
	if points < 2 {
		points = DefaultPoints
	}
	if o.Unconstrained && slope == SlopeBoth {
		return o.optimiseFree(ctx, l, lo, hi, points, eval)
	}

	shifts := make([]float64, points)
	for k := range shifts {
		shifts[k] = lo + (hi-lo)*float64(k)/float64(points-1)
	}
	scores, err := o.grid(ctx, l, slope, shifts, eval)
	if err != nil {
		return Result{}, err
	}

	best := -1
	for k, s := range scores {
		if !math.IsNaN(s) && (best < 0 || s > scores[best]) {
			best = k
		}
	}
	if best < 0 {
		return Result{}, errors.Wrapf(ErrNoBoundary, "slope %d, shifts %.3f to %.3f", slope, lo, hi)
	}
	res := Result{Boundary: l.at(shifts[best], slope), Shift: shifts[best], Score: scores[best]}

	log := logging.Logger(ctx).WithFields(logrus.Fields{"slope": slope})
	log.WithFields(logrus.Fields{"shift": res.Shift, "score": res.Score}).Debug("grid search done")

	if !o.NoLocal {
		a := shifts[max(best-1, 0)]
		b := shifts[min(best+1, points-1)]
		if local, ok := o.golden(ctx, l, slope, a, b, eval); ok && local.Score > res.Score {
			res = local
		}
		log.WithFields(logrus.Fields{"shift": res.Shift, "score": res.Score}).Debug("local search done")
	}
	return res, nil
}

// grid scores every shift in parallel. Invalid boundaries score NaN.
func (o *Optimiser) grid(ctx context.Context, l line, slope int, shifts []float64, eval Evaluator) ([]float64, error) {
	scores := make([]float64, len(shifts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.Threads, 1))
	for k, s := range shifts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[k] = o.score(gctx, l.at(s, slope), eval)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "refine: grid search")
	}
	return scores, nil
}

func (o *Optimiser) score(ctx context.Context, b Boundary, eval Evaluator) float64 {
	if !b.Valid() {
		return math.NaN()
	}
	s, err := eval.Score(ctx, b)
	if err != nil {
		return math.NaN()
	}
	return s
}

// golden maximises the score on [a, b] by golden section search.
func (o *Optimiser) golden(ctx context.Context, l line, slope int, a, b float64, eval Evaluator) (Result, bool) {
	s, v, ok := o.goldenOn(ctx, func(s float64) Boundary { return l.at(s, slope) }, a, b, eval)
	if !ok {
		return Result{}, false
	}
	return Result{Boundary: l.at(s, slope), Shift: s, Score: v}, true
}

// goldenOn maximises the score of at(v) for v in [a, b].
func (o *Optimiser) goldenOn(ctx context.Context, at func(float64) Boundary, a, b float64, eval Evaluator) (float64, float64, bool) {
	tol := o.Tol
	if tol <= 0 {
		tol = 1e-4
	}
	f := func(v float64) float64 {
		s := o.score(ctx, at(v), eval)
		if math.IsNaN(s) {
			return math.Inf(-1)
		}
		return s
	}
	invPhi := (math.Sqrt(5) - 1) / 2
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for i := 0; i < 60 && b-a > tol; i++ {
		if ctx.Err() != nil {
			break
		}
		if fc >= fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	arg, v := c, fc
	if fd > fc {
		arg, v = d, fd
	}
	if math.IsInf(v, -1) {
		return 0, 0, false
	}
	return arg, v, true
}

// optimiseFree grids the core and accessory intercepts over the range swept
// by the normal boundary between shifts lo and hi, then refines each
// intercept in turn. Shift is NaN in the result.
func (o *Optimiser) optimiseFree(ctx context.Context, l line, lo, hi float64, points int, eval Evaluator) (Result, error) {
	b0, b1 := l.at(lo, SlopeBoth), l.at(hi, SlopeBoth)
	xs := span(b0.X, b1.X, points)
	ys := span(b0.Y, b1.Y, points)

	cells := make([]Boundary, 0, len(xs)*len(ys))
	for _, x := range xs {
		for _, y := range ys {
			cells = append(cells, Boundary{Slope: SlopeBoth, X: x, Y: y})
		}
	}
	scores := make([]float64, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.Threads, 1))
	for k, b := range cells {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[k] = o.score(gctx, b, eval)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, errors.Wrap(err, "refine: intercept grid search")
	}

	best := -1
	for k, s := range scores {
		if !math.IsNaN(s) && (best < 0 || s > scores[best]) {
			best = k
		}
	}
	if best < 0 {
		return Result{}, errors.Wrapf(ErrNoBoundary, "intercepts %.3f-%.3f by %.3f-%.3f", xs[0], xs[len(xs)-1], ys[0], ys[len(ys)-1])
	}
	res := Result{Boundary: cells[best], Shift: math.NaN(), Score: scores[best]}
	log := logging.Logger(ctx).WithFields(logrus.Fields{"slope": SlopeBoth, "unconstrained": true})
	log.WithFields(logrus.Fields{"core_intercept": res.Boundary.X, "accessory_intercept": res.Boundary.Y, "score": res.Score}).
		Debug("intercept grid search done")
	if o.NoLocal {
		return res, nil
	}

	xi, yi := best/len(ys), best%len(ys)
	core := func(v float64) Boundary { return Boundary{Slope: SlopeBoth, X: v, Y: res.Boundary.Y} }
	if x, v, ok := o.goldenOn(ctx, core, xs[max(xi-1, 0)], xs[min(xi+1, len(xs)-1)], eval); ok && v > res.Score {
		res.Boundary, res.Score = core(x), v
	}
	acc := func(v float64) Boundary { return Boundary{Slope: SlopeBoth, X: res.Boundary.X, Y: v} }
	if y, v, ok := o.goldenOn(ctx, acc, ys[max(yi-1, 0)], ys[min(yi+1, len(ys)-1)], eval); ok && v > res.Score {
		res.Boundary, res.Score = acc(y), v
	}
	log.WithFields(logrus.Fields{"core_intercept": res.Boundary.X, "accessory_intercept": res.Boundary.Y, "score": res.Score}).
		Debug("intercept local search done")
	return res, nil
}

// span returns n evenly spaced values between a and b, lowest first.
func span(a, b float64, n int) []float64 {
	if a > b {
		a, b = b, a
	}
	out := make([]float64, n)
	for k := range out {
		out[k] = a + (b-a)*float64(k)/float64(n-1)
	}
	return out
}
