// Package network turns within-strain pair labels into a sample graph and
// derives clusters, summary statistics and reference samples from it.
package network

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/soniakeys/graph"

	"github.com/dusk-indust/straincluster/internal/logging"
)

var (
	// ErrConfig is returned for invalid caller input.
	ErrConfig = errors.New("network: invalid configuration")

	// ErrConsistency is returned when cluster reconciliation would give one
	// identifier to two components or one sample to two clusters.
	ErrConsistency = errors.New("network: consistency violation")
)

// Scale thresholds above which Construct warns.
const (
	MaxDensity = 0.4
	MaxEdges   = 500000
)

// Pairer enumerates the sample pair behind each distance row.
// *dists.Matrix implements it.
type Pairer interface {
	Rows() int
	Pairs(emit func(row, i, j int) bool)
}

type edgeKey struct{ lo, hi graph.NI }

func key(a, b graph.NI) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// Network is an undirected simple graph over named samples. Isolated samples
// are kept as nodes.
type Network struct {
	names []string
	index map[string]graph.NI
	g     graph.Undirected
	edges map[edgeKey]struct{}
}

// New returns a network holding samples and no edges.
func New(samples []string) *Network {
	n := &Network{
		index: make(map[string]graph.NI, len(samples)),
		edges: make(map[edgeKey]struct{}),
	}
	for _, s := range samples {
		n.AddSample(s)
	}
	return n
}

// FromEdges builds a network over samples from index pairs. Self pairs and
// repeats are dropped.
func FromEdges(samples []string, edges [][2]int) (*Network, error) {
	n := New(samples)
	for _, e := range edges {
		if e[0] < 0 || e[1] < 0 || e[0] >= len(samples) || e[1] >= len(samples) {
			return nil, errors.Wrapf(ErrConfig, "edge %v outside %d samples", e, len(samples))
		}
		n.addEdge(n.index[samples[e[0]]], n.index[samples[e[1]]])
	}
	return n, nil
}

// AddSample adds a node if it is not already present and returns its index.
func (n *Network) AddSample(name string) graph.NI {
	if ni, ok := n.index[name]; ok {
		return ni
	}
	ni := graph.NI(len(n.names))
	n.names = append(n.names, name)
	n.index[name] = ni
	n.g.AdjacencyList = append(n.g.AdjacencyList, nil)
	return ni
}

// AddEdge adds an edge between two samples, adding them as needed. It
// reports whether a new edge was created; self loops and repeats are not.
func (n *Network) AddEdge(a, b string) bool {
	return n.addEdge(n.AddSample(a), n.AddSample(b))
}

func (n *Network) addEdge(a, b graph.NI) bool {
	if a == b {
		return false
	}
	k := key(a, b)
	if _, ok := n.edges[k]; ok {
		return false
	}
	n.edges[k] = struct{}{}
	n.g.AddEdge(a, b)
	return true
}

// AddPairs adds an edge for every distance row labelled within. Row sample i
// is looked up in rowNames and j in colNames; both lists are added as nodes.
// It returns the number of new edges.
func (n *Network) AddPairs(rowNames, colNames []string, p Pairer, labels []int, within int) (int, error) {
	if len(labels) != p.Rows() {
		return 0, errors.Wrapf(ErrConfig, "%d labels for %d distance rows", len(labels), p.Rows())
	}
	rows := make([]graph.NI, len(rowNames))
	for i, s := range rowNames {
		rows[i] = n.AddSample(s)
	}
	cols := make([]graph.NI, len(colNames))
	for j, s := range colNames {
		cols[j] = n.AddSample(s)
	}

	added := 0
	var bad error
	p.Pairs(func(row, i, j int) bool {
		if i >= len(rows) || j >= len(cols) {
			bad = errors.Wrapf(ErrConfig, "pair (%d, %d) outside %d x %d names", i, j, len(rows), len(cols))
			return false
		}
		if labels[row] == within && n.addEdge(rows[i], cols[j]) {
			added++
		}
		return true
	})
	return added, bad
}

// Construct builds the network of within-strain pairs of a self comparison.
// It warns when the edge density or count looks too high for the boundary to
// be sensible.
func Construct(ctx context.Context, samples []string, p Pairer, labels []int, within int) (*Network, error) {
	n := New(samples)
	if _, err := n.AddPairs(samples, samples, p, labels, within); err != nil {
		return nil, err
	}
	n.checkScale(ctx)
	return n, nil
}

// AddQueries adds query samples and their within-strain edges to refs from a
// reference against query comparison.
func AddQueries(ctx context.Context, n *Network, refs, queries []string, p Pairer, labels []int, within int) error {
	added, err := n.AddPairs(refs, queries, p, labels, within)
	if err != nil {
		return err
	}
	logging.Logger(ctx).WithFields(logrus.Fields{
		"queries": len(queries),
		"edges":   added,
	}).Debug("added queries to network")
	n.checkScale(ctx)
	return nil
}

func (n *Network) checkScale(ctx context.Context) {
	order := float64(n.Order())
	possible := 0.5 * order * (order + 1)
	if possible == 0 {
		return
	}
	if float64(n.Size())/possible > MaxDensity || n.Size() > MaxEdges {
		logging.Logger(ctx).WithFields(logrus.Fields{
			"samples": n.Order(),
			"edges":   n.Size(),
		}).Warn("network has a very high edge density; the fitted boundary may be too permissive")
	}
}

// Order returns the number of samples.
func (n *Network) Order() int { return len(n.names) }

// Size returns the number of edges.
func (n *Network) Size() int { return len(n.edges) }

// Samples returns the sample names in insertion order.
func (n *Network) Samples() []string { return append([]string(nil), n.names...) }

// Has reports whether name is a node.
func (n *Network) Has(name string) bool {
	_, ok := n.index[name]
	return ok
}

// HasEdge reports whether a and b are joined.
func (n *Network) HasEdge(a, b string) bool {
	ia, ok := n.index[a]
	if !ok {
		return false
	}
	ib, ok := n.index[b]
	if !ok {
		return false
	}
	_, ok = n.edges[key(ia, ib)]
	return ok
}

// Edges returns every edge as a name pair, ordered by node index.
func (n *Network) Edges() [][2]string {
	keys := make([]edgeKey, 0, len(n.edges))
	for k := range n.edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].lo != keys[j].lo {
			return keys[i].lo < keys[j].lo
		}
		return keys[i].hi < keys[j].hi
	})
	out := make([][2]string, len(keys))
	for i, k := range keys {
		out[i] = [2]string{n.names[k.lo], n.names[k.hi]}
	}
	return out
}

// Neighbours returns the samples joined to name, sorted.
func (n *Network) Neighbours(name string) []string {
	ni, ok := n.index[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(n.g.AdjacencyList[ni]))
	for _, to := range n.g.AdjacencyList[ni] {
		out = append(out, n.names[to])
	}
	sort.Strings(out)
	return out
}

// Components returns the connected components, largest first with ties
// broken by the smallest member name. Members are sorted by name.
func (n *Network) Components() [][]string {
	var out [][]string
	next := n.g.ConnectedComponentLists()
	for {
		nodes, _ := next()
		if nodes == nil {
			break
		}
		comp := make([]string, len(nodes))
		for i, ni := range nodes {
			comp[i] = n.names[ni]
		}
		sort.Strings(comp)
		out = append(out, comp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}

// Prune returns the subgraph induced on keep. Names not in the network are
// ignored.
func (n *Network) Prune(keep []string) *Network {
	var nis []graph.NI
	for _, s := range keep {
		if ni, ok := n.index[s]; ok {
			nis = append(nis, ni)
		}
	}
	sub := n.g.InduceList(nis)
	out := New(nil)
	for _, super := range sub.SuperNI {
		out.AddSample(n.names[super])
	}
	for fr, tos := range sub.AdjacencyList {
		for _, to := range tos {
			out.addEdge(graph.NI(fr), to)
		}
	}
	return out
}
