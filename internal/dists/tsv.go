package dists

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TSVHeader is the first line of the distance text format written by the
// sketching tool.
const TSVHeader = "Query\tReference\tCore\tAccessory"

// ErrMissingPair is returned when a requested pair is absent from the records.
var ErrMissingPair = errors.New("dists: missing pair")

type pairKey struct{ a, b string }

// Records is a parsed distance text file: every listed pair, addressable by
// name in either direction.
type Records struct {
	samples []string
	refs    []string
	queries []string
	dist    map[pairKey][2]float64
}

// ParseTSV reads the Query/Reference/Core/Accessory text format.
func ParseTSV(r io.Reader) (*Records, error) {
	rec := &Records{dist: make(map[pairKey][2]float64)}
	seen := make(map[string]bool)
	seenRef := make(map[string]bool)
	seenQuery := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 1 {
			if line != TSVHeader {
				return nil, errors.Errorf("dists: unexpected header %q", line)
			}
			continue
		}
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			return nil, errors.Errorf("dists: line %d: expected 4 fields, got %d", lineNo, len(fields))
		}
		core, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "dists: line %d: core distance", lineNo)
		}
		acc, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "dists: line %d: accessory distance", lineNo)
		}
		query, ref := fields[0], fields[1]
		for _, name := range []string{query, ref} {
			if !seen[name] {
				seen[name] = true
				rec.samples = append(rec.samples, name)
			}
		}
		if !seenRef[ref] {
			seenRef[ref] = true
			rec.refs = append(rec.refs, ref)
		}
		if !seenQuery[query] {
			seenQuery[query] = true
			rec.queries = append(rec.queries, query)
		}
		rec.dist[pairKey{query, ref}] = [2]float64{core, acc}
		if _, ok := rec.dist[pairKey{ref, query}]; !ok {
			rec.dist[pairKey{ref, query}] = [2]float64{core, acc}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "dists: read")
	}
	if lineNo == 0 {
		return nil, errors.New("dists: empty distance file")
	}
	return rec, nil
}

// Samples returns every name in order of first appearance.
func (r *Records) Samples() []string { return append([]string(nil), r.samples...) }

// References returns the Reference column names in order of first appearance.
func (r *Records) References() []string { return append([]string(nil), r.refs...) }

// Queries returns the Query column names in order of first appearance.
func (r *Records) Queries() []string { return append([]string(nil), r.queries...) }

// Lookup returns the distances between a and b.
func (r *Records) Lookup(a, b string) (core, acc float64, ok bool) {
	if a == b {
		if d, ok := r.dist[pairKey{a, b}]; ok {
			return d[0], d[1], true
		}
		return 0, 0, true
	}
	d, ok := r.dist[pairKey{a, b}]
	return d[0], d[1], ok
}

// Self builds a self layout over samples.
func (r *Records) Self(samples []string, diagonal bool) (*Matrix, error) {
	n := len(samples)
	var data []float64
	var m *Matrix
	if diagonal {
		data = make([]float64, 0, n*(n+1))
		m = &Matrix{layout: LayoutSelfDiagonal, nRef: n, nQuery: n}
	} else {
		data = make([]float64, 0, n*(n-1))
		m = &Matrix{layout: LayoutSelf, nRef: n, nQuery: n}
	}
	var missing error
	m.Pairs(func(_, i, j int) bool {
		c, a, ok := r.Lookup(samples[i], samples[j])
		if !ok {
			missing = errors.Wrapf(ErrMissingPair, "%s vs %s", samples[i], samples[j])
			return false
		}
		data = append(data, c, a)
		return true
	})
	if missing != nil {
		return nil, missing
	}
	m.data = data
	return m, nil
}

// Rect builds a query-major rect layout of refs against queries.
func (r *Records) Rect(refs, queries []string) (*Matrix, error) {
	m := &Matrix{layout: LayoutRect, nRef: len(refs), nQuery: len(queries)}
	data := make([]float64, 0, 2*len(refs)*len(queries))
	var missing error
	m.Pairs(func(_, i, j int) bool {
		c, a, ok := r.Lookup(refs[i], queries[j])
		if !ok {
			missing = errors.Wrapf(ErrMissingPair, "%s vs %s", refs[i], queries[j])
			return false
		}
		data = append(data, c, a)
		return true
	})
	if missing != nil {
		return nil, missing
	}
	m.data = data
	return m, nil
}

// WriteTSV writes m in the text distance format. For self layouts refs and
// queries are the same list.
func WriteTSV(w io.Writer, refs, queries []string, m *Matrix) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, TSVHeader); err != nil {
		return err
	}
	var werr error
	m.Pairs(func(row, i, j int) bool {
		// self layouts put the later sample in the Query column
		query, ref := queries[j], refs[i]
		c, a := m.Row(row)
		_, werr = fmt.Fprintf(bw, "%s\t%s\t%s\t%s\n", query, ref,
			strconv.FormatFloat(c, 'g', -1, 64), strconv.FormatFloat(a, 'g', -1, 64))
		return werr == nil
	})
	if werr != nil {
		return errors.Wrap(werr, "dists: write")
	}
	return bw.Flush()
}
