// Package refine searches for the within/between decision boundary that
// maximises the network score along the line joining two start points.
package refine

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/network"
)

// Boundary slopes.
const (
	// SlopeCore is a vertical boundary on the core axis.
	SlopeCore = 0
	// SlopeAccessory is a horizontal boundary on the accessory axis.
	SlopeAccessory = 1
	// SlopeBoth is the line through the two intercepts.
	SlopeBoth = 2
)

// Labels used by boundary assignment.
const (
	Within  = -1
	Between = 1
)

// Boundary is a decision boundary in scaled space. X is the core intercept
// and Y the accessory intercept; SlopeCore ignores Y and SlopeAccessory
// ignores X.
type Boundary struct {
	Slope int
	X     float64
	Y     float64
}

// Valid reports whether the intercepts the slope uses are finite and
// positive.
func (b Boundary) Valid() bool {
	ok := func(v float64) bool { return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) }
	switch b.Slope {
	case SlopeCore:
		return ok(b.X)
	case SlopeAccessory:
		return ok(b.Y)
	case SlopeBoth:
		return ok(b.X) && ok(b.Y)
	default:
		return false
	}
}

// Label returns Within or Between for a scaled (core, accessory) pair.
func (b Boundary) Label(c, a float64) int {
	var within bool
	switch b.Slope {
	case SlopeCore:
		within = c < b.X
	case SlopeAccessory:
		within = a < b.Y
	default:
		within = c/b.X+a/b.Y < 1
	}
	if within {
		return Within
	}
	return Between
}

// Evaluator scores a boundary; higher is better.
type Evaluator interface {
	Score(ctx context.Context, b Boundary) (float64, error)
}

// Compile-time interface check.
var _ Evaluator = (*NetworkEvaluator)(nil)

// NetworkEvaluator scores a boundary by the summary score of the network it
// induces over a self comparison.
type NetworkEvaluator struct {
	Samples []string
	// X holds scaled distances in a self layout.
	X *dists.Matrix
}

// Score implements Evaluator.
func (e *NetworkEvaluator) Score(_ context.Context, b Boundary) (float64, error) {
	if !b.Valid() {
		return 0, errors.Errorf("refine: invalid boundary %+v", b)
	}
	labels := make([]int, e.X.Rows())
	for i := range labels {
		c, a := e.X.Row(i)
		labels[i] = b.Label(c, a)
	}
	net := network.New(e.Samples)
	if _, err := net.AddPairs(e.Samples, e.Samples, e.X, labels, Within); err != nil {
		return 0, err
	}
	return network.Summarise(net).Score, nil
}
