package graph

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a named sample is not in the store.
var ErrNotFound = errors.New("graph: not found")

// Store persists a clustered strain network for later queries.
type Store interface {
	// InitSchema creates tables. It is idempotent.
	InitSchema(ctx context.Context) error

	AddSample(ctx context.Context, node SampleNode) error
	AddEdge(ctx context.Context, edge Edge) error
	// AddCluster stores the cluster and links its members, which must
	// already have been added.
	AddCluster(ctx context.Context, node ClusterNode) error

	GetSample(ctx context.Context, name string) (*SampleNode, error)
	QuerySamples(ctx context.Context, filter SampleFilter) ([]SampleNode, error)
	// GetNeighbourhood walks WITHIN edges breadth first from name up to
	// maxDepth hops. The start sample is not included.
	GetNeighbourhood(ctx context.Context, name string, maxDepth int) ([]Neighbour, error)

	GetSamples(ctx context.Context) ([]SampleNode, error)
	GetClusters(ctx context.Context) ([]ClusterNode, error)
	GetAllEdges(ctx context.Context) ([]Edge, error)
	Stats(ctx context.Context) (*GraphStats, error)

	Close() error
}
