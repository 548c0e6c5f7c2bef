package network

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/soniakeys/graph"

	"github.com/dusk-indust/straincluster/internal/logging"
)

// Summary holds the structural statistics used to judge a boundary.
type Summary struct {
	Samples      int     `json:"samples"`
	Edges        int     `json:"edges"`
	Components   int     `json:"components"`
	Density      float64 `json:"density"`
	Transitivity float64 `json:"transitivity"`
	// Score is Transitivity * (1 - Density).
	Score float64 `json:"score"`
}

// Summarise computes component count, density, transitivity and score.
func Summarise(n *Network) Summary {
	s := Summary{
		Samples: n.Order(),
		Edges:   n.Size(),
	}
	_, s.Components = n.g.ConnectedComponentInts()
	if n.Order() > 1 {
		s.Density = graph.Density(n.Order(), n.Size())
	}
	s.Transitivity = n.transitivity()
	s.Score = s.Transitivity * (1 - s.Density)
	return s
}

// Log writes the summary at info level.
func (s Summary) Log(ctx context.Context) {
	logging.Logger(ctx).WithFields(logrus.Fields{
		"samples":      s.Samples,
		"edges":        s.Edges,
		"components":   s.Components,
		"density":      s.Density,
		"transitivity": s.Transitivity,
		"score":        s.Score,
	}).Info("network summary")
}

// transitivity is 3 * triangles / connected triples.
func (n *Network) transitivity() float64 {
	adj := make([][]graph.NI, len(n.g.AdjacencyList))
	triples := 0.0
	for i, tos := range n.g.AdjacencyList {
		adj[i] = append([]graph.NI(nil), tos...)
		sort.Slice(adj[i], func(a, b int) bool { return adj[i][a] < adj[i][b] })
		d := float64(len(tos))
		triples += d * (d - 1) / 2
	}
	if triples == 0 {
		return 0
	}

	// count each triangle u < v < w once, from the edge (u, v)
	triangles := 0
	for k := range n.edges {
		u, v := k.lo, k.hi
		a, b := adj[u], adj[v]
		x, y := 0, 0
		for x < len(a) && y < len(b) {
			switch {
			case a[x] < b[y]:
				x++
			case a[x] > b[y]:
				y++
			default:
				if a[x] > v {
					triangles++
				}
				x++
				y++
			}
		}
	}
	return 3 * float64(triangles) / triples
}
