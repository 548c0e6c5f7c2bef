package network

import (
	"bufio"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/soniakeys/bits"
	"github.com/soniakeys/graph"

	"github.com/dusk-indust/straincluster/internal/logging"
)

// Cliques returns every maximal clique, each sorted by name, ordered by
// descending size and then by member list. Isolated samples are cliques of
// one.
func Cliques(ctx context.Context, n *Network) ([][]string, error) {
	var cliques [][]string
	next := n.g.ConnectedComponentLists()
	for {
		nodes, _ := next()
		if nodes == nil {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(nodes) == 1 {
			cliques = append(cliques, []string{n.names[nodes[0]]})
			continue
		}
		sub := n.g.InduceList(nodes)
		sub.BronKerbosch3(sub.BKPivotMaxDegree, func(R bits.Bits) bool {
			members := R.Slice()
			clique := make([]string, len(members))
			for i, m := range members {
				clique[i] = n.names[sub.SuperNI[graph.NI(m)]]
			}
			sort.Strings(clique)
			cliques = append(cliques, clique)
			return true
		})
	}
	sort.Slice(cliques, func(i, j int) bool {
		a, b := cliques[i], cliques[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return cliques, nil
}

// ExtractReferences picks a reference set that covers every maximal clique.
// Cliques are visited largest first; a clique with no member chosen yet
// contributes its smallest member name. Samples on shortest paths are then
// added until references that were connected stay connected among
// themselves. The result is sorted.
func ExtractReferences(ctx context.Context, n *Network) ([]string, error) {
	cliques, err := Cliques(ctx, n)
	if err != nil {
		return nil, err
	}
	chosen := make([]bool, n.Order())
	for _, clique := range cliques {
		covered := false
		for _, s := range clique {
			if chosen[n.index[s]] {
				covered = true
				break
			}
		}
		if !covered {
			chosen[n.index[clique[0]]] = true
		}
	}
	added := n.connect(chosen)

	var refs []string
	for ni, ok := range chosen {
		if ok {
			refs = append(refs, n.names[ni])
		}
	}
	sort.Strings(refs)

	logging.Logger(ctx).WithFields(logrus.Fields{
		"cliques":    len(cliques),
		"references": len(refs),
		"bridging":   added,
		"samples":    n.Order(),
	}).Info("selected references")
	return refs, nil
}

// connect adds nodes to chosen until every pair of chosen nodes in the same
// component is joined through chosen nodes only. It returns the number of
// nodes added.
func (n *Network) connect(chosen []bool) int {
	comp, _ := n.g.ConnectedComponentInts()
	added := 0
	for {
		group := n.chosenGroups(chosen)

		// first component whose chosen nodes fall into more than one group
		source := -1
		seen := make(map[int]int)
		for ni, ok := range chosen {
			if !ok {
				continue
			}
			if g, found := seen[comp[ni]]; found && g != group[ni] {
				source = g
				break
			}
			if _, found := seen[comp[ni]]; !found {
				seen[comp[ni]] = group[ni]
			}
		}
		if source < 0 {
			return added
		}
		added += n.bridge(chosen, group, source)
	}
}

// chosenGroups labels each chosen node with the smallest index reachable
// from it through chosen nodes. Unchosen nodes get -1.
func (n *Network) chosenGroups(chosen []bool) []int {
	group := make([]int, len(chosen))
	for i := range group {
		group[i] = -1
	}
	for start, ok := range chosen {
		if !ok || group[start] >= 0 {
			continue
		}
		group[start] = start
		queue := []graph.NI{graph.NI(start)}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			for _, to := range n.g.AdjacencyList[v] {
				if chosen[to] && group[to] < 0 {
					group[to] = start
					queue = append(queue, to)
				}
			}
		}
	}
	return group
}

// bridge runs a breadth first search from every node of group source to the
// nearest chosen node of another group and chooses the nodes in between.
func (n *Network) bridge(chosen []bool, group []int, source int) int {
	parent := make([]graph.NI, len(chosen))
	visited := make([]bool, len(chosen))
	var queue []graph.NI
	for ni, g := range group {
		if g == source {
			visited[ni] = true
			parent[ni] = -1
			queue = append(queue, graph.NI(ni))
		}
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, to := range n.g.AdjacencyList[v] {
			if visited[to] {
				continue
			}
			visited[to] = true
			parent[to] = v
			if chosen[to] {
				added := 0
				for p := v; !chosen[p]; p = parent[p] {
					chosen[p] = true
					added++
				}
				return added
			}
			queue = append(queue, to)
		}
	}
	return 0
}

// WriteReferences writes one name per line.
func WriteReferences(w io.Writer, refs []string) error {
	bw := bufio.NewWriter(w)
	for _, r := range refs {
		if _, err := bw.WriteString(r + "\n"); err != nil {
			return errors.Wrap(err, "network: write references")
		}
	}
	return errors.Wrap(bw.Flush(), "network: write references")
}

// ReadReferences reads one name per line, skipping blank lines.
func ReadReferences(r io.Reader) ([]string, error) {
	var refs []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			refs = append(refs, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "network: read references")
	}
	return refs, nil
}
