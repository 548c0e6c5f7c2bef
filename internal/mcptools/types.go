package mcptools

import (
	"github.com/dusk-indust/straincluster/internal/export"
	"github.com/dusk-indust/straincluster/internal/graph"
)

// --- MCP Tool Input Types ---
// The MCP Go SDK generates JSON schemas from these struct tags.

// GetSummaryInput is the input for the get_summary MCP tool.
type GetSummaryInput struct{}

// GetSummaryOutput is the result of the get_summary MCP tool.
type GetSummaryOutput struct {
	Stats   graph.GraphStats   `json:"stats"`
	Summary *export.RunSummary `json:"summary,omitempty"`
}

// GetClustersInput is the input for the get_clusters MCP tool.
type GetClustersInput struct {
	MinSize     int  `json:"minSize,omitempty" jsonschema:"only return clusters with at least this many samples"`
	Limit       int  `json:"limit,omitempty" jsonschema:"maximum number of clusters (default: 50)"`
	WithMembers bool `json:"withMembers,omitempty" jsonschema:"include the member sample names"`
}

// GetClustersOutput is the result of the get_clusters MCP tool.
type GetClustersOutput struct {
	Clusters []graph.ClusterNode `json:"clusters"`
	Total    int                 `json:"total"`
}

// GetReferencesInput is the input for the get_references MCP tool.
type GetReferencesInput struct {
	Cluster string `json:"cluster,omitempty" jsonschema:"restrict to the references of one cluster"`
}

// GetReferencesOutput is the result of the get_references MCP tool.
type GetReferencesOutput struct {
	References []graph.SampleNode `json:"references"`
}

// FindSampleInput is the input for the find_sample MCP tool.
type FindSampleInput struct {
	Name     string `json:"name" jsonschema:"sample name, or a name prefix when prefix is set"`
	Prefix   bool   `json:"prefix,omitempty" jsonschema:"match every sample whose name starts with name"`
	MaxDepth int    `json:"maxDepth,omitempty" jsonschema:"neighbourhood depth for an exact match (default: 1, max: 5)"`
}

// FindSampleOutput is the result of the find_sample MCP tool.
type FindSampleOutput struct {
	Samples    []graph.SampleNode `json:"samples"`
	Neighbours []graph.Neighbour  `json:"neighbours,omitempty"`
}
