package mcptools

import (
	"context"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"

	"github.com/dusk-indust/straincluster/internal/export"
	"github.com/dusk-indust/straincluster/internal/graph"
	"github.com/dusk-indust/straincluster/internal/metrics"
)

const (
	defaultClusterLimit = 50
	defaultDepth        = 1
	maxDepth            = 5
	maxPrefixMatches    = 100
)

// RunService answers queries about a stored clustering run.
type RunService struct {
	store       graph.Store
	summaryPath string
	metrics     *metrics.Collector
}

// NewRunService serves store. summaryPath is the run's JSON summary; it may
// be empty or missing.
func NewRunService(store graph.Store, summaryPath string, m *metrics.Collector) *RunService {
	return &RunService{store: store, summaryPath: summaryPath, metrics: m}
}

// GetSummary returns the store counts and the run summary when present.
func (s *RunService) GetSummary(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ GetSummaryInput,
) (*mcp.CallToolResult, GetSummaryOutput, error) {
	out, err := s.getSummary(ctx)
	s.metrics.ToolCall("get_summary", err)
	return nil, out, err
}

func (s *RunService) getSummary(ctx context.Context) (GetSummaryOutput, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return GetSummaryOutput{}, errors.Wrap(err, "stats")
	}
	out := GetSummaryOutput{Stats: *stats}
	if s.summaryPath == "" {
		return out, nil
	}
	sum, err := export.Read(s.summaryPath)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return GetSummaryOutput{}, err
	}
	out.Summary = sum
	return out, nil
}

// GetClusters returns stored clusters, largest first.
func (s *RunService) GetClusters(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetClustersInput,
) (*mcp.CallToolResult, GetClustersOutput, error) {
	out, err := s.getClusters(ctx, input)
	s.metrics.ToolCall("get_clusters", err)
	return nil, out, err
}

func (s *RunService) getClusters(ctx context.Context, input GetClustersInput) (GetClustersOutput, error) {
	clusters, err := s.store.GetClusters(ctx)
	if err != nil {
		return GetClustersOutput{}, errors.Wrap(err, "get clusters")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultClusterLimit
	}
	kept := make([]graph.ClusterNode, 0, len(clusters))
	for _, c := range clusters {
		if c.Size < input.MinSize {
			continue
		}
		if !input.WithMembers {
			c.Members = nil
		}
		kept = append(kept, c)
	}
	sortClusters(kept)
	out := GetClustersOutput{Total: len(kept), Clusters: kept}
	if len(kept) > limit {
		out.Clusters = kept[:limit]
	}
	return out, nil
}

// GetReferences lists the stored references.
func (s *RunService) GetReferences(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetReferencesInput,
) (*mcp.CallToolResult, GetReferencesOutput, error) {
	refs, err := s.store.QuerySamples(ctx, graph.SampleFilter{Cluster: input.Cluster, ReferencesOnly: true})
	if err != nil {
		err = errors.Wrap(err, "query references")
	}
	s.metrics.ToolCall("get_references", err)
	if refs == nil {
		refs = []graph.SampleNode{}
	}
	return nil, GetReferencesOutput{References: refs}, err
}

// FindSample looks a sample up by name or prefix. An exact match also
// returns its within-strain neighbourhood.
func (s *RunService) FindSample(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FindSampleInput,
) (*mcp.CallToolResult, FindSampleOutput, error) {
	out, err := s.findSample(ctx, input)
	s.metrics.ToolCall("find_sample", err)
	return nil, out, err
}

func (s *RunService) findSample(ctx context.Context, input FindSampleInput) (FindSampleOutput, error) {
	if input.Name == "" {
		return FindSampleOutput{}, errors.New("name is required")
	}
	if input.Prefix {
		samples, err := s.store.QuerySamples(ctx, graph.SampleFilter{Prefix: input.Name, Limit: maxPrefixMatches})
		if err != nil {
			return FindSampleOutput{}, errors.Wrap(err, "query samples")
		}
		if samples == nil {
			samples = []graph.SampleNode{}
		}
		return FindSampleOutput{Samples: samples}, nil
	}

	sample, err := s.store.GetSample(ctx, input.Name)
	if err != nil {
		return FindSampleOutput{}, err
	}
	depth := input.MaxDepth
	if depth <= 0 {
		depth = defaultDepth
	}
	if depth > maxDepth {
		depth = maxDepth
	}
	nb, err := s.store.GetNeighbourhood(ctx, input.Name, depth)
	if err != nil {
		return FindSampleOutput{}, errors.Wrap(err, "neighbourhood")
	}
	return FindSampleOutput{Samples: []graph.SampleNode{*sample}, Neighbours: nb}, nil
}
