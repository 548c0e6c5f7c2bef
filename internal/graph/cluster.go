package graph

// bfs walks breadth first from start up to maxDepth hops, returning every
// reached node with its hop count. A maxDepth below 1 means one hop.
func bfs(start string, maxDepth int, next func(string) []string) []Neighbour {
	if maxDepth < 1 {
		maxDepth = 1
	}
	visited := map[string]bool{start: true}
	frontier := []string{start}
	var out []Neighbour
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var nextFrontier []string
		for _, node := range frontier {
			for _, nb := range next(node) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				out = append(out, Neighbour{Name: nb, Depth: depth})
				nextFrontier = append(nextFrontier, nb)
			}
		}
		frontier = nextFrontier
	}
	return out
}

// Cohesion calculates internal_edges / (internal_edges + external_edges)
// for a set of members. Internal edges connect two members; external edges
// connect a member to a non-member. A cluster with no edges has cohesion 0.
func Cohesion(members []string, edges []Edge) float64 {
	memberSet := make(map[string]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}
	internal, external := 0, 0
	for _, e := range edges {
		src, tgt := memberSet[e.Source], memberSet[e.Target]
		switch {
		case src && tgt:
			internal++
		case src || tgt:
			external++
		}
	}
	total := internal + external
	if total == 0 {
		return 0
	}
	return float64(internal) / float64(total)
}
