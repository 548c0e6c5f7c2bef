// Package density clusters scaled distance rows by density and predicts the
// cluster of new rows from the fitted core points.
//
// The clusterer is DBSCAN over rows scaled to the unit square, with points
// bucketed into square cells of side eps so a neighbour query scans only
// the 3x3 block of cells around a row. There is no eps parameter. It is
// derived from minSamples and the row count n as
//
//	eps = EpsScale * sqrt(minSamples / (pi * n))
//
// If n rows were spread evenly over the unit square, a disc of radius r
// would hold n*pi*r^2 of them; setting that to minSamples and solving for r
// gives the formula. EpsScale widens or narrows the disc and defaults to 1.
// A row is a core point when at least minSamples rows, itself included,
// lie within eps of it. Prediction labels a new row with the cluster of the
// nearest core point within eps, or Noise.
package density

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/dusk-indust/straincluster/internal/dists"
)

// Noise is the label of rows that belong to no cluster.
const Noise = -1

// Result is the outcome of one clustering pass.
type Result struct {
	Labels    []int
	NClusters int
	Model     *Model
}

// Clusterer groups rows into dense clusters. Rows outside every cluster are
// labelled Noise.
type Clusterer interface {
	Cluster(ctx context.Context, X *dists.Matrix, minSamples, minClusterSize int) (*Result, error)
}

// Compile-time interface check.
var _ Clusterer = (*DBSCAN)(nil)

// DBSCAN is a grid-indexed DBSCAN. The neighbourhood radius is derived from
// minSamples: eps = EpsScale * sqrt(minSamples / (pi * n)), which is the
// radius at which a uniform spread over the unit square would give each row
// minSamples neighbours. Input rows are expected to be scaled to [0, 1].
type DBSCAN struct {
	EpsScale float64
}

// NewDBSCAN returns a DBSCAN clusterer with the default radius scale.
func NewDBSCAN() *DBSCAN {
	return &DBSCAN{EpsScale: 1}
}

// Eps returns the radius used for n rows.
func (d *DBSCAN) Eps(n, minSamples int) float64 {
	scale := d.EpsScale
	if scale <= 0 {
		scale = 1
	}
	return scale * math.Sqrt(float64(minSamples)/(math.Pi*float64(n)))
}

// Cluster implements Clusterer. Clusters with fewer than minClusterSize rows
// are relabelled as noise; surviving clusters are numbered from zero in order
// of discovery.
func (d *DBSCAN) Cluster(ctx context.Context, X *dists.Matrix, minSamples, minClusterSize int) (*Result, error) {
	n := X.Rows()
	if n == 0 {
		return nil, errors.New("density: no rows to cluster")
	}
	if minSamples < 1 {
		return nil, errors.Errorf("density: minSamples must be positive, got %d", minSamples)
	}
	eps := d.Eps(n, minSamples)
	idx := newGrid(eps, X.Data())

	const undefined = -2
	labels := make([]int, n)
	for i := range labels {
		labels[i] = undefined
	}
	core := make([]bool, n)
	cluster := -1

	for i := 0; i < n; i++ {
		if labels[i] != undefined {
			continue
		}
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		neighbours := idx.within(X.Data(), i, eps)
		if len(neighbours) < minSamples {
			labels[i] = Noise
			continue
		}
		cluster++
		labels[i] = cluster
		core[i] = true

		seed := make([]int, 0, len(neighbours))
		for _, j := range neighbours {
			if j != i {
				seed = append(seed, j)
			}
		}
		for len(seed) > 0 {
			q := seed[0]
			seed = seed[1:]
			if labels[q] == Noise {
				labels[q] = cluster
			}
			if labels[q] != undefined {
				continue
			}
			labels[q] = cluster
			qn := idx.within(X.Data(), q, eps)
			if len(qn) >= minSamples {
				core[q] = true
				seed = append(seed, qn...)
			}
		}
	}

	// drop small clusters and renumber the rest
	sizes := make([]int, cluster+1)
	for _, l := range labels {
		if l >= 0 {
			sizes[l]++
		}
	}
	remap := make([]int, cluster+1)
	next := 0
	for c, size := range sizes {
		if size >= minClusterSize {
			remap[c] = next
			next++
		} else {
			remap[c] = Noise
		}
	}
	var corePts []float64
	var coreLabels []int
	for i, l := range labels {
		if l >= 0 {
			labels[i] = remap[l]
		}
		if labels[i] >= 0 && core[i] {
			c, a := X.Row(i)
			corePts = append(corePts, c, a)
			coreLabels = append(coreLabels, labels[i])
		}
	}

	return &Result{
		Labels:    labels,
		NClusters: next,
		Model:     NewModel(eps, corePts, coreLabels),
	}, nil
}

// Model predicts clusters for new rows: a row takes the label of the nearest
// core point within Eps, otherwise Noise. It is read-only once built and
// safe for concurrent use.
type Model struct {
	eps    float64
	core   []float64
	labels []int
	grid   *grid
}

// NewModel builds a predictor from core points (core, accessory interleaved)
// and their labels.
func NewModel(eps float64, core []float64, labels []int) *Model {
	return &Model{
		eps:    eps,
		core:   core,
		labels: labels,
		grid:   newGrid(eps, core),
	}
}

// Eps returns the neighbourhood radius.
func (m *Model) Eps() float64 { return m.eps }

// CorePoints returns the core points, interleaved.
func (m *Model) CorePoints() []float64 { return m.core }

// CoreLabels returns the label of each core point.
func (m *Model) CoreLabels() []int { return m.labels }

// Predict returns the cluster of the point (c, a).
func (m *Model) Predict(c, a float64) int {
	best := Noise
	bestD := m.eps * m.eps
	m.grid.visit(c, a, func(j int) {
		dc, da := m.core[2*j]-c, m.core[2*j+1]-a
		if d := dc*dc + da*da; d <= bestD {
			if d < bestD || best == Noise || m.labels[j] < best {
				best = m.labels[j]
			}
			bestD = d
		}
	})
	return best
}

type cell struct{ x, y int }

// grid buckets points into square cells of side eps so that a radius query
// only scans the 3x3 block around the query cell.
type grid struct {
	size  float64
	cells map[cell][]int
}

func newGrid(eps float64, pts []float64) *grid {
	g := &grid{size: eps, cells: make(map[cell][]int)}
	if eps <= 0 {
		g.size = 1
	}
	for i := 0; i < len(pts)/2; i++ {
		k := g.key(pts[2*i], pts[2*i+1])
		g.cells[k] = append(g.cells[k], i)
	}
	return g
}

func (g *grid) key(c, a float64) cell {
	return cell{int(math.Floor(c / g.size)), int(math.Floor(a / g.size))}
}

func (g *grid) visit(c, a float64, fn func(j int)) {
	k := g.key(c, a)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for _, j := range g.cells[cell{k.x + dx, k.y + dy}] {
				fn(j)
			}
		}
	}
}

// within returns every point within eps of point i, including i.
func (g *grid) within(pts []float64, i int, eps float64) []int {
	c, a := pts[2*i], pts[2*i+1]
	var out []int
	e2 := eps * eps
	g.visit(c, a, func(j int) {
		dc, da := pts[2*j]-c, pts[2*j+1]-a
		if dc*dc+da*da <= e2 {
			out = append(out, j)
		}
	})
	return out
}
