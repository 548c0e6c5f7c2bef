package dists

import (
	"context"
	"os"

	"github.com/pkg/errors"
)

// Table is a distance matrix together with the sample names along each axis.
// For self layouts Refs and Queries are the same list.
type Table struct {
	Refs    []string
	Queries []string
	Matrix  *Matrix
}

// Source produces distances between named samples. Implementations: a text
// file written by the sketching tool (TSVSource) and a remote distance
// service (RemoteSource).
type Source interface {
	// QueryDistances returns refs against queries. When self is true refs and
	// queries must be the same list and a self layout without the diagonal
	// is returned. Empty name lists select everything the source holds.
	QueryDistances(ctx context.Context, refs, queries []string, self bool) (*Table, error)
}

// Compile-time interface checks.
var (
	_ Source = (*TSVSource)(nil)
	_ Source = (*RemoteSource)(nil)
)

// TSVSource reads distances from a text file in the sketching tool format.
type TSVSource struct {
	Path string
}

// QueryDistances implements Source.
func (s *TSVSource) QueryDistances(_ context.Context, refs, queries []string, self bool) (*Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "dists: open")
	}
	defer f.Close()

	rec, err := ParseTSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "dists: %s", s.Path)
	}
	return rec.Table(refs, queries, self)
}

// Table selects a matrix out of the records. Empty name lists fall back to
// the names seen in the file.
func (r *Records) Table(refs, queries []string, self bool) (*Table, error) {
	if self {
		names := refs
		if len(names) == 0 {
			names = r.Samples()
		}
		m, err := r.Self(names, false)
		if err != nil {
			return nil, err
		}
		return &Table{Refs: names, Queries: names, Matrix: m}, nil
	}
	if len(refs) == 0 {
		refs = r.References()
	}
	if len(queries) == 0 {
		queries = r.Queries()
	}
	m, err := r.Rect(refs, queries)
	if err != nil {
		return nil, err
	}
	return &Table{Refs: refs, Queries: queries, Matrix: m}, nil
}
