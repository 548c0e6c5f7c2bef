package graph

import "strings"

// SampleNode is a genome in the stored network.
type SampleNode struct {
	Name      string `json:"name"`
	Cluster   string `json:"cluster"`
	Reference bool   `json:"reference"`
	Query     bool   `json:"query"`
}

// ClusterNode is a strain cluster and its members.
type ClusterNode struct {
	Name string `json:"name"`
	Size int    `json:"size"`
	// Cohesion is internal / (internal + external) edges of the members.
	Cohesion float64  `json:"cohesion"`
	Members  []string `json:"members,omitempty"`
}

// Edge is an undirected within-strain link. Source sorts before Target.
// Weight is the core distance when known, otherwise zero.
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// SampleFilter narrows QuerySamples. Zero values match everything.
type SampleFilter struct {
	Cluster        string
	Prefix         string
	ReferencesOnly bool
	QueriesOnly    bool
	Limit          int
}

func (f SampleFilter) match(s SampleNode) bool {
	if f.Cluster != "" && s.Cluster != f.Cluster {
		return false
	}
	if !strings.HasPrefix(s.Name, f.Prefix) {
		return false
	}
	if f.ReferencesOnly && !s.Reference {
		return false
	}
	if f.QueriesOnly && !s.Query {
		return false
	}
	return true
}

// Neighbour is a sample reached from another within a number of hops.
type Neighbour struct {
	Name  string `json:"name"`
	Depth int    `json:"depth"`
}

// GraphStats holds counts of nodes and edges in the store.
type GraphStats struct {
	SampleCount    int `json:"sample_count"`
	ReferenceCount int `json:"reference_count"`
	ClusterCount   int `json:"cluster_count"`
	EdgeCount      int `json:"edge_count"`
}
