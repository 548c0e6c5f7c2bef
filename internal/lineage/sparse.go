// Package lineage builds nested k-nearest-neighbour graphs ("ranks") over a
// single distance axis and extends them with new samples.
package lineage

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// DefaultEpsilon is the floor below which edge weights are clamped.
const DefaultEpsilon = 1e-10

// Options control neighbour selection.
type Options struct {
	// Epsilon clamps weights from below.
	Epsilon float64

	// CountUnique counts distinct distance values instead of neighbours, so
	// every neighbour tied with the k-th distance is kept.
	CountUnique bool

	// ReciprocalOnly keeps i->j only when j->i is also in the rank graph.
	ReciprocalOnly bool

	// Threads bounds the row workers; 0 or 1 runs serially.
	Threads int
}

func (o Options) epsilon() float64 {
	if o.Epsilon <= 0 {
		return DefaultEpsilon
	}
	return o.Epsilon
}

// Sparse is a directed graph in coordinate form over N nodes. Entries are
// grouped by Row in ascending order; within a row they are sorted by
// (Data, Col).
type Sparse struct {
	N    int       `yaml:"n"`
	Row  []int     `yaml:"row"`
	Col  []int     `yaml:"col"`
	Data []float64 `yaml:"data"`
}

// Len returns the number of entries.
func (s Sparse) Len() int { return len(s.Row) }

// Edges returns the (row, col) pairs.
func (s Sparse) Edges() [][2]int {
	out := make([][2]int, len(s.Row))
	for i := range s.Row {
		out[i] = [2]int{s.Row[i], s.Col[i]}
	}
	return out
}

// rows splits the entries into per-row neighbour lists.
func (s Sparse) rows() [][]neighbour {
	out := make([][]neighbour, s.N)
	for i := range s.Row {
		out[s.Row[i]] = append(out[s.Row[i]], neighbour{col: s.Col[i], dist: s.Data[i]})
	}
	return out
}

type neighbour struct {
	col  int
	dist float64
}

func sortNeighbours(ns []neighbour) {
	sort.Slice(ns, func(a, b int) bool {
		if ns[a].dist != ns[b].dist {
			return ns[a].dist < ns[b].dist
		}
		return ns[a].col < ns[b].col
	})
}

// truncate keeps the leading k neighbours of a sorted list, or every
// neighbour whose distance is among the first k distinct values.
func truncate(ns []neighbour, k int, countUnique bool) []neighbour {
	if !countUnique {
		if len(ns) > k {
			return ns[:k]
		}
		return ns
	}
	unique := 0
	for i, n := range ns {
		if i == 0 || n.dist != ns[i-1].dist {
			unique++
			if unique > k {
				return ns[:i]
			}
		}
	}
	return ns
}

func fromRows(rows [][]neighbour) Sparse {
	s := Sparse{N: len(rows)}
	for i, ns := range rows {
		for _, n := range ns {
			s.Row = append(s.Row, i)
			s.Col = append(s.Col, n.col)
			s.Data = append(s.Data, n.dist)
		}
	}
	return s
}

// eachRow runs fn for every row in [0, n) on up to threads goroutines.
func eachRow(ctx context.Context, n, threads int, fn func(i int)) error {
	if threads < 1 {
		threads = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	block := max(1, (n+threads-1)/threads)
	for start := 0; start < n; start += block {
		end := min(start+block, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				fn(i)
			}
			return nil
		})
	}
	return g.Wait()
}

// KNN builds the k-nearest-neighbour graph of a square distance matrix.
// Self pairs are skipped and weights are clamped to the epsilon floor.
func KNN(ctx context.Context, d mat.Symmetric, k int, opts Options) (Sparse, error) {
	n := d.SymmetricDim()
	if k < 1 {
		return Sparse{}, errors.Errorf("lineage: k must be at least 1, got %d", k)
	}
	if k >= n {
		return Sparse{}, errors.Errorf("lineage: k=%d needs more than %d samples", k, n)
	}
	eps := opts.epsilon()
	rows := make([][]neighbour, n)
	err := eachRow(ctx, n, opts.Threads, func(i int) {
		ns := make([]neighbour, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				ns = append(ns, neighbour{col: j, dist: max(d.At(i, j), eps)})
			}
		}
		sortNeighbours(ns)
		rows[i] = truncate(ns, k, opts.CountUnique)
	})
	if err != nil {
		return Sparse{}, err
	}
	return fromRows(rows), nil
}

// LowerRank derives the rank graph from a deeper graph built with the same
// options by truncating each row. With ReciprocalOnly, an edge survives only
// if its reverse survives the truncation too.
func LowerRank(deep Sparse, rank int, opts Options) (Sparse, error) {
	if rank < 1 {
		return Sparse{}, errors.Errorf("lineage: rank must be at least 1, got %d", rank)
	}
	rows := deep.rows()
	for i, ns := range rows {
		rows[i] = truncate(ns, rank, opts.CountUnique)
	}
	if opts.ReciprocalOnly {
		kept := make(map[[2]int]bool)
		for i, ns := range rows {
			for _, n := range ns {
				kept[[2]int{i, n.col}] = true
			}
		}
		for i, ns := range rows {
			var recip []neighbour
			for _, n := range ns {
				if kept[[2]int{n.col, i}] {
					recip = append(recip, n)
				}
			}
			rows[i] = recip
		}
	}
	return fromRows(rows), nil
}

// Extend adds nq query samples to a graph over nr references. qq holds the
// query against query distances and qr the reference (rows) against query
// (columns) distances. Queries are numbered after the references. Every
// reference row is re-merged with its query distances and every query row
// is built from scratch, so the result equals KNN over the combined matrix.
func Extend(ctx context.Context, rr Sparse, qq mat.Symmetric, qr mat.Matrix, k int, opts Options) (Sparse, error) {
	nr := rr.N
	nq := qq.SymmetricDim()
	if r, c := qr.Dims(); r != nr || c != nq {
		return Sparse{}, errors.Errorf("lineage: reference-query distances are %dx%d, want %dx%d", r, c, nr, nq)
	}
	if k < 1 {
		return Sparse{}, errors.Errorf("lineage: k must be at least 1, got %d", k)
	}
	eps := opts.epsilon()
	rows := make([][]neighbour, nr+nq)
	existing := rr.rows()

	err := eachRow(ctx, nr+nq, opts.Threads, func(i int) {
		var ns []neighbour
		if i < nr {
			ns = make([]neighbour, 0, len(existing[i])+nq)
			ns = append(ns, existing[i]...)
			for q := 0; q < nq; q++ {
				ns = append(ns, neighbour{col: nr + q, dist: max(qr.At(i, q), eps)})
			}
		} else {
			q := i - nr
			ns = make([]neighbour, 0, nr+nq-1)
			for r := 0; r < nr; r++ {
				ns = append(ns, neighbour{col: r, dist: max(qr.At(r, q), eps)})
			}
			for q2 := 0; q2 < nq; q2++ {
				if q2 != q {
					ns = append(ns, neighbour{col: nr + q2, dist: max(qq.At(q, q2), eps)})
				}
			}
		}
		sortNeighbours(ns)
		rows[i] = truncate(ns, k, opts.CountUnique)
	})
	if err != nil {
		return Sparse{}, err
	}
	return fromRows(rows), nil
}
