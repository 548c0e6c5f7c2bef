// Package dists holds the pairwise (core, accessory) distance matrix that
// every model consumes, together with the sources that produce it.
package dists

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Column indices within a distance row.
const (
	Core      = 0
	Accessory = 1
)

// Layout describes how the rows of a Matrix map onto sample pairs.
type Layout int

const (
	// LayoutRows is a plain list of distance rows with no pair structure
	// (subsamples, chunk views).
	LayoutRows Layout = iota

	// LayoutSelf is the upper triangle without the diagonal, n(n-1)/2 rows
	// ordered i then j>i.
	LayoutSelf

	// LayoutSelfDiagonal is the upper triangle including self pairs,
	// n(n+1)/2 rows ordered i then j>=i.
	LayoutSelfDiagonal

	// LayoutRect is reference against query, nRef*nQuery rows ordered
	// query-major: for each query, every reference.
	LayoutRect
)

func (l Layout) String() string {
	switch l {
	case LayoutRows:
		return "rows"
	case LayoutSelf:
		return "self"
	case LayoutSelfDiagonal:
		return "self-diagonal"
	case LayoutRect:
		return "rect"
	default:
		return "unknown"
	}
}

var (
	// ErrShape is returned when the row count does not fit the requested layout.
	ErrShape = errors.New("dists: shape mismatch")

	// ErrAccessoryRange is returned by CheckAccessory.
	ErrAccessoryRange = errors.New("dists: accessory distance out of range")
)

// Matrix is an immutable n x 2 array of (core, accessory) distances stored
// row-major in a single backing slice. Views returned by Slice share it.
type Matrix struct {
	data   []float64
	layout Layout
	nRef   int
	nQuery int
}

// NewRows wraps data (core, accessory interleaved) without a pair layout.
func NewRows(data []float64) (*Matrix, error) {
	if len(data)%2 != 0 {
		return nil, errors.Wrapf(ErrShape, "odd value count %d", len(data))
	}
	return &Matrix{data: data, layout: LayoutRows}, nil
}

// FromPairs copies pairs into a LayoutRows matrix.
func FromPairs(pairs [][2]float64) *Matrix {
	data := make([]float64, 0, 2*len(pairs))
	for _, p := range pairs {
		data = append(data, p[0], p[1])
	}
	return &Matrix{data: data, layout: LayoutRows}
}

// NewSelf wraps the distances of n samples against themselves without self
// pairs.
func NewSelf(n int, data []float64) (*Matrix, error) {
	if len(data) != n*(n-1) {
		return nil, errors.Wrapf(ErrShape, "self layout of %d samples needs %d rows, got %d", n, n*(n-1)/2, len(data)/2)
	}
	return &Matrix{data: data, layout: LayoutSelf, nRef: n, nQuery: n}, nil
}

// NewSelfDiagonal wraps the distances of n samples against themselves
// including the n self pairs.
func NewSelfDiagonal(n int, data []float64) (*Matrix, error) {
	if len(data) != n*(n+1) {
		return nil, errors.Wrapf(ErrShape, "self layout of %d samples with diagonal needs %d rows, got %d", n, n*(n+1)/2, len(data)/2)
	}
	return &Matrix{data: data, layout: LayoutSelfDiagonal, nRef: n, nQuery: n}, nil
}

// NewRect wraps nRef x nQuery distances in query-major order.
func NewRect(nRef, nQuery int, data []float64) (*Matrix, error) {
	if len(data) != 2*nRef*nQuery {
		return nil, errors.Wrapf(ErrShape, "rect layout %dx%d needs %d rows, got %d", nRef, nQuery, nRef*nQuery, len(data)/2)
	}
	return &Matrix{data: data, layout: LayoutRect, nRef: nRef, nQuery: nQuery}, nil
}

// SamplesFromPairs inverts the triangular row count of a self layout.
func SamplesFromPairs(rows int, diagonal bool) (int, error) {
	// n(n-1)/2 = rows  =>  n = (1 + sqrt(1 + 8 rows)) / 2
	// n(n+1)/2 = rows  =>  n = (-1 + sqrt(1 + 8 rows)) / 2
	root := math.Sqrt(1 + 8*float64(rows))
	var n int
	if diagonal {
		n = int(math.Round((root - 1) / 2))
		if n*(n+1)/2 != rows {
			return 0, errors.Wrapf(ErrShape, "%d rows is not triangular", rows)
		}
	} else {
		n = int(math.Round((root + 1) / 2))
		if n*(n-1)/2 != rows {
			return 0, errors.Wrapf(ErrShape, "%d rows is not triangular", rows)
		}
	}
	return n, nil
}

// Rows returns the number of distance rows.
func (m *Matrix) Rows() int { return len(m.data) / 2 }

// Layout returns the pair layout of the matrix.
func (m *Matrix) Layout() Layout { return m.layout }

// Samples returns the number of reference and query samples. Self layouts
// report the same count twice; LayoutRows reports zeros.
func (m *Matrix) Samples() (nRef, nQuery int) { return m.nRef, m.nQuery }

// Core returns the core distance of row i.
func (m *Matrix) Core(i int) float64 { return m.data[2*i] }

// Accessory returns the accessory distance of row i.
func (m *Matrix) Accessory(i int) float64 { return m.data[2*i+1] }

// Row returns both distances of row i.
func (m *Matrix) Row(i int) (core, acc float64) { return m.data[2*i], m.data[2*i+1] }

// Data exposes the backing slice. Callers must not modify it.
func (m *Matrix) Data() []float64 { return m.data }

// Slice returns a LayoutRows view of rows [start, end) sharing storage.
func (m *Matrix) Slice(start, end int) *Matrix {
	return &Matrix{data: m.data[2*start : 2*end : 2*end], layout: LayoutRows}
}

// Pairs calls emit with the row index and the sample indices of each row in
// canonical order, until emit returns false. For LayoutRect i is the
// reference and j the query. LayoutRows has no pairs.
func (m *Matrix) Pairs(emit func(row, i, j int) bool) {
	row := 0
	switch m.layout {
	case LayoutSelf:
		for i := 0; i < m.nRef; i++ {
			for j := i + 1; j < m.nRef; j++ {
				if !emit(row, i, j) {
					return
				}
				row++
			}
		}
	case LayoutSelfDiagonal:
		for i := 0; i < m.nRef; i++ {
			for j := i; j < m.nRef; j++ {
				if !emit(row, i, j) {
					return
				}
				row++
			}
		}
	case LayoutRect:
		for q := 0; q < m.nQuery; q++ {
			for r := 0; r < m.nRef; r++ {
				if !emit(row, r, q) {
					return
				}
				row++
			}
		}
	}
}

// MaxPerAxis returns the column maxima.
func (m *Matrix) MaxPerAxis() [2]float64 {
	out := [2]float64{math.Inf(-1), math.Inf(-1)}
	for i := 0; i < m.Rows(); i++ {
		c, a := m.Row(i)
		out[0] = math.Max(out[0], c)
		out[1] = math.Max(out[1], a)
	}
	return out
}

// Scaled returns a copy with each column divided by scale. The layout is kept.
func (m *Matrix) Scaled(scale [2]float64) *Matrix {
	data := make([]float64, len(m.data))
	for i := 0; i < len(m.data); i += 2 {
		data[i] = m.data[i] / scale[0]
		data[i+1] = m.data[i+1] / scale[1]
	}
	return &Matrix{data: data, layout: m.layout, nRef: m.nRef, nQuery: m.nQuery}
}

// Subsample draws up to max rows uniformly without replacement. When the
// matrix already fits, a plain copy is returned.
func (m *Matrix) Subsample(max int, rng *rand.Rand) *Matrix {
	n := m.Rows()
	if max <= 0 || n <= max {
		data := make([]float64, len(m.data))
		copy(data, m.data)
		return &Matrix{data: data, layout: LayoutRows}
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	// partial Fisher-Yates
	for i := 0; i < max; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	data := make([]float64, 0, 2*max)
	for _, i := range idx[:max] {
		data = append(data, m.data[2*i], m.data[2*i+1])
	}
	return &Matrix{data: data, layout: LayoutRows}
}

// CheckAccessory fails if any accessory distance exceeds max.
func (m *Matrix) CheckAccessory(max float64) error {
	for i := 0; i < m.Rows(); i++ {
		if a := m.Accessory(i); a > max || math.IsNaN(a) {
			return errors.Wrapf(ErrAccessoryRange, "row %d has accessory distance %.4f (max %.4f)", i, a, max)
		}
	}
	return nil
}

// Square expands one column of a self layout into a dense symmetric matrix
// with a zero diagonal.
func (m *Matrix) Square(col int) (*mat.SymDense, error) {
	if m.layout != LayoutSelf && m.layout != LayoutSelfDiagonal {
		return nil, errors.Wrapf(ErrShape, "square form needs a self layout, have %s", m.layout)
	}
	if m.nRef == 0 {
		return nil, errors.Wrap(ErrShape, "square form of zero samples")
	}
	sq := mat.NewSymDense(m.nRef, nil)
	m.Pairs(func(row, i, j int) bool {
		if i != j {
			sq.SetSym(i, j, m.data[2*row+col])
		}
		return true
	})
	return sq, nil
}

// Rect expands one column of a rect layout into an nRef x nQuery matrix.
func (m *Matrix) Rect(col int) (*mat.Dense, error) {
	if m.layout != LayoutRect {
		return nil, errors.Wrapf(ErrShape, "rect form needs a rect layout, have %s", m.layout)
	}
	if m.nRef == 0 || m.nQuery == 0 {
		return nil, errors.Wrap(ErrShape, "rect form of zero samples")
	}
	out := mat.NewDense(m.nRef, m.nQuery, nil)
	m.Pairs(func(row, r, q int) bool {
		out.Set(r, q, m.data[2*row+col])
		return true
	})
	return out, nil
}
