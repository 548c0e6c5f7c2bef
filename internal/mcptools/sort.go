package mcptools

import (
	"sort"

	"github.com/dusk-indust/straincluster/internal/graph"
)

// sortClusters orders by size, largest first, then by name.
func sortClusters(cs []graph.ClusterNode) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Size != cs[j].Size {
			return cs[i].Size > cs[j].Size
		}
		return cs[i].Name < cs[j].Name
	})
}
