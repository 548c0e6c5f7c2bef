// Package mixture fits and evaluates two-dimensional Gaussian mixtures over
// scaled (core, accessory) distances.
package mixture

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/dusk-indust/straincluster/internal/dists"
)

var (
	// ErrTooFewPoints is returned when there are fewer rows than components.
	ErrTooFewPoints = errors.New("mixture: too few points")

	// ErrDegenerate is returned when a component covariance cannot be made
	// positive definite.
	ErrDegenerate = errors.New("mixture: degenerate component")
)

// Params are the fitted mixture parameters. Covariances are 2x2 row-major.
type Params struct {
	Weights     []float64    `yaml:"weights"`
	Means       [][2]float64 `yaml:"means"`
	Covariances [][4]float64 `yaml:"covariances"`
}

// K returns the number of components.
func (p *Params) K() int { return len(p.Weights) }

// Fitter estimates a mixture from already scaled distances.
type Fitter interface {
	Fit(ctx context.Context, X *dists.Matrix, maxComponents int) (*Params, error)
}

// Compile-time interface check.
var _ Fitter = (*EM)(nil)

// EM fits a mixture by expectation maximisation from a k-means++ start.
// Components whose weight falls below MinWeight are pruned, which lets the
// caller pass an upper bound on the number of components.
type EM struct {
	MaxIter   int
	Tol       float64
	MinWeight float64
	Reg       float64
	Seed      int64
}

// NewEM returns an EM fitter with the usual defaults.
func NewEM(seed int64) *EM {
	return &EM{
		MaxIter:   500,
		Tol:       1e-6,
		MinWeight: 1e-3,
		Reg:       1e-6,
		Seed:      seed,
	}
}

// Fit implements Fitter.
func (e *EM) Fit(ctx context.Context, X *dists.Matrix, maxComponents int) (*Params, error) {
	n := X.Rows()
	if maxComponents < 1 {
		return nil, errors.Errorf("mixture: need at least one component, got %d", maxComponents)
	}
	if n < maxComponents || n < 2 {
		return nil, errors.Wrapf(ErrTooFewPoints, "%d rows for %d components", n, maxComponents)
	}

	rng := rand.New(rand.NewSource(e.Seed))
	p, err := e.initialise(X, maxComponents, rng)
	if err != nil {
		return nil, err
	}

	resp := make([]float64, n*maxComponents)
	prevLL := math.Inf(-1)
	for iter := 0; iter < e.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := NewModel(p)
		if err != nil {
			return nil, err
		}
		k := p.K()
		ll := 0.0
		for i := 0; i < n; i++ {
			c, a := X.Row(i)
			ll += m.responsibilities(resp[i*k:(i+1)*k], c, a)
		}
		ll /= float64(n)

		p = e.maximise(X, resp[:n*k], k)
		if p.K() == 0 {
			return nil, errors.Wrap(ErrDegenerate, "all components pruned")
		}
		if math.Abs(ll-prevLL) < e.Tol {
			break
		}
		prevLL = ll
	}
	return p, nil
}

// initialise seeds means by k-means++ and gives every component the pooled
// covariance.
func (e *EM) initialise(X *dists.Matrix, k int, rng *rand.Rand) (*Params, error) {
	n := X.Rows()
	centres := make([][2]float64, 0, k)
	first := rng.Intn(n)
	c0, a0 := X.Row(first)
	centres = append(centres, [2]float64{c0, a0})

	d2 := make([]float64, n)
	for len(centres) < k {
		for i := 0; i < n; i++ {
			c, a := X.Row(i)
			best := math.Inf(1)
			for _, ctr := range centres {
				dc, da := c-ctr[0], a-ctr[1]
				best = math.Min(best, dc*dc+da*da)
			}
			d2[i] = best
		}
		total := floats.Sum(d2)
		var next int
		if total == 0 {
			next = rng.Intn(n)
		} else {
			target := rng.Float64() * total
			acc := 0.0
			for i, v := range d2 {
				acc += v
				if acc >= target {
					next = i
					break
				}
			}
		}
		c, a := X.Row(next)
		centres = append(centres, [2]float64{c, a})
	}

	pooled := mat.NewSymDense(2, nil)
	stat.CovarianceMatrix(pooled, mat.NewDense(n, 2, X.Data()), nil)
	cov := [4]float64{
		pooled.At(0, 0) + e.Reg, pooled.At(0, 1),
		pooled.At(1, 0), pooled.At(1, 1) + e.Reg,
	}

	p := &Params{
		Weights:     make([]float64, k),
		Means:       centres,
		Covariances: make([][4]float64, k),
	}
	for j := 0; j < k; j++ {
		p.Weights[j] = 1 / float64(k)
		p.Covariances[j] = cov
	}
	return p, nil
}

// maximise re-estimates parameters from responsibilities and drops
// components below the weight floor.
func (e *EM) maximise(X *dists.Matrix, resp []float64, k int) *Params {
	n := X.Rows()
	out := &Params{}
	for j := 0; j < k; j++ {
		nk, mc, ma := 0.0, 0.0, 0.0
		for i := 0; i < n; i++ {
			r := resp[i*k+j]
			c, a := X.Row(i)
			nk += r
			mc += r * c
			ma += r * a
		}
		w := nk / float64(n)
		if nk == 0 || w < e.MinWeight {
			continue
		}
		mc /= nk
		ma /= nk
		var scc, sca, saa float64
		for i := 0; i < n; i++ {
			r := resp[i*k+j]
			c, a := X.Row(i)
			dc, da := c-mc, a-ma
			scc += r * dc * dc
			sca += r * dc * da
			saa += r * da * da
		}
		out.Weights = append(out.Weights, w)
		out.Means = append(out.Means, [2]float64{mc, ma})
		out.Covariances = append(out.Covariances, [4]float64{
			scc/nk + e.Reg, sca / nk,
			sca / nk, saa/nk + e.Reg,
		})
	}
	total := floats.Sum(out.Weights)
	if total > 0 {
		floats.Scale(1/total, out.Weights)
	}
	return out
}

// Model evaluates a fitted mixture. It is read-only once built and safe for
// concurrent use.
type Model struct {
	params  *Params
	normals []*distmv.Normal
	logW    []float64
}

// NewModel prepares a mixture for evaluation.
func NewModel(p *Params) (*Model, error) {
	m := &Model{params: p}
	for j := range p.Weights {
		cov := p.Covariances[j]
		sigma := mat.NewSymDense(2, []float64{cov[0], cov[1], cov[2], cov[3]})
		normal, ok := distmv.NewNormal([]float64{p.Means[j][0], p.Means[j][1]}, sigma, nil)
		if !ok {
			return nil, errors.Wrapf(ErrDegenerate, "component %d covariance is not positive definite", j)
		}
		m.normals = append(m.normals, normal)
		m.logW = append(m.logW, math.Log(p.Weights[j]))
	}
	return m, nil
}

// K returns the number of components.
func (m *Model) K() int { return len(m.normals) }

// Params returns the parameters the model was built from.
func (m *Model) Params() *Params { return m.params }

// responsibilities writes normalised responsibilities into dst and returns
// the log likelihood of the point.
func (m *Model) responsibilities(dst []float64, c, a float64) float64 {
	x := []float64{c, a}
	for j, normal := range m.normals {
		dst[j] = m.logW[j] + normal.LogProb(x)
	}
	logProb := floats.LogSumExp(dst)
	for j := range dst {
		dst[j] = math.Exp(dst[j] - logProb)
	}
	return logProb
}

// Responsibilities writes the posterior probability of each component for
// the point (c, a) into dst, which must have length K.
func (m *Model) Responsibilities(dst []float64, c, a float64) {
	m.responsibilities(dst, c, a)
}

// Predict returns the most likely component for (c, a).
func (m *Model) Predict(c, a float64) int {
	x := []float64{c, a}
	best, bestLP := 0, math.Inf(-1)
	for j, normal := range m.normals {
		if lp := m.logW[j] + normal.LogProb(x); lp > bestLP {
			best, bestLP = j, lp
		}
	}
	return best
}

// Entropy returns the Shannon entropy of a responsibility vector.
func Entropy(resp []float64) float64 {
	return stat.Entropy(resp)
}
