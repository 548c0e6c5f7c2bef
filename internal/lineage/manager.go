package lineage

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/dusk-indust/straincluster/internal/logging"
)

// ErrConfig is returned for invalid rank settings.
var ErrConfig = errors.New("lineage: invalid configuration")

// Manager owns the deepest neighbour graph and every configured rank graph
// derived from it. It is not safe for concurrent use.
type Manager struct {
	ranks []int
	depth int
	opts  Options

	nearest Sparse
	graphs  map[int]Sparse
}

// NewManager validates the rank list. maxSearchDepth of 0 means the largest
// rank.
func NewManager(ranks []int, maxSearchDepth int, opts Options) (*Manager, error) {
	if len(ranks) == 0 {
		return nil, errors.Wrap(ErrConfig, "no ranks given")
	}
	sorted := append([]int(nil), ranks...)
	sort.Ints(sorted)
	sorted = dedupe(sorted)
	if sorted[0] < 1 {
		return nil, errors.Wrapf(ErrConfig, "rank %d must be at least 1", sorted[0])
	}
	top := sorted[len(sorted)-1]
	if maxSearchDepth == 0 {
		maxSearchDepth = top
	}
	if top > maxSearchDepth {
		return nil, errors.Wrapf(ErrConfig, "rank %d exceeds the search depth %d", top, maxSearchDepth)
	}
	return &Manager{
		ranks:  sorted,
		depth:  maxSearchDepth,
		opts:   opts,
		graphs: make(map[int]Sparse),
	}, nil
}

// Restore rebuilds a manager from a persisted deepest graph and re-derives
// the rank graphs.
func Restore(ranks []int, maxSearchDepth int, opts Options, nearest Sparse) (*Manager, error) {
	m, err := NewManager(ranks, maxSearchDepth, opts)
	if err != nil {
		return nil, err
	}
	m.nearest = nearest
	if err := m.derive(); err != nil {
		return nil, err
	}
	return m, nil
}

func dedupe(sorted []int) []int {
	out := sorted[:0]
	for i, r := range sorted {
		if i == 0 || r != sorted[i-1] {
			out = append(out, r)
		}
	}
	return out
}

// Ranks returns the configured ranks in ascending order.
func (m *Manager) Ranks() []int { return append([]int(nil), m.ranks...) }

// Depth returns the search depth of the deepest graph.
func (m *Manager) Depth() int { return m.depth }

// Options returns the neighbour selection options.
func (m *Manager) Options() Options { return m.opts }

// Samples returns the number of nodes in the graphs.
func (m *Manager) Samples() int { return m.nearest.N }

// Nearest returns the deepest graph.
func (m *Manager) Nearest() Sparse { return m.nearest }

// Build computes the deepest graph from a full square distance matrix and
// derives every rank.
func (m *Manager) Build(ctx context.Context, d mat.Symmetric) error {
	n := d.SymmetricDim()
	if top := m.ranks[len(m.ranks)-1]; top >= n {
		return errors.Wrapf(ErrConfig, "rank %d must be below the sample count %d", top, n)
	}
	depth := min(m.depth, n-1)
	nearest, err := KNN(ctx, d, depth, m.opts)
	if err != nil {
		return err
	}
	m.nearest = nearest
	logging.Logger(ctx).WithFields(logrus.Fields{
		"samples": n,
		"depth":   depth,
		"edges":   nearest.Len(),
	}).Debug("built nearest neighbour graph")
	return m.derive()
}

// Extend adds queries to the deepest graph and re-derives every rank.
// qq is query against query, qr is reference (rows) against query.
func (m *Manager) Extend(ctx context.Context, qq mat.Symmetric, qr mat.Matrix) error {
	if m.nearest.N == 0 {
		return errors.New("lineage: extend before build")
	}
	nearest, err := Extend(ctx, m.nearest, qq, qr, m.depth, m.opts)
	if err != nil {
		return err
	}
	m.nearest = nearest
	return m.derive()
}

func (m *Manager) derive() error {
	for _, r := range m.ranks {
		g, err := LowerRank(m.nearest, r, m.opts)
		if err != nil {
			return err
		}
		m.graphs[r] = g
	}
	return nil
}

// Graph returns the rank graph.
func (m *Manager) Graph(rank int) (Sparse, error) {
	g, ok := m.graphs[rank]
	if !ok {
		return Sparse{}, errors.Wrapf(ErrConfig, "rank %d was not fitted", rank)
	}
	return g, nil
}

// Edges returns the (row, col) edges of the rank graph.
func (m *Manager) Edges(rank int) ([][2]int, error) {
	g, err := m.Graph(rank)
	if err != nil {
		return nil, err
	}
	return g.Edges(), nil
}

// Weights returns the edge weights of the rank graph, aligned with Edges.
func (m *Manager) Weights(rank int) ([]float64, error) {
	g, err := m.Graph(rank)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), g.Data...), nil
}
