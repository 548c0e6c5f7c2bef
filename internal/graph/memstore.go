package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemStore is an in-memory Store backed by maps and slices. It is safe for
// concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	samples  map[string]SampleNode
	order    []string
	adj      map[string]map[string]bool
	edges    []Edge
	clusters []ClusterNode
}

// Compile-time check that MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		samples: make(map[string]SampleNode),
		adj:     make(map[string]map[string]bool),
	}
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

// AddSample inserts or replaces a sample.
func (m *MemStore) AddSample(_ context.Context, node SampleNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.samples[node.Name]; !ok {
		m.order = append(m.order, node.Name)
		m.adj[node.Name] = make(map[string]bool)
	}
	m.samples[node.Name] = node
	return nil
}

// AddEdge links two stored samples. Repeated edges are ignored.
func (m *MemStore) AddEdge(_ context.Context, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	edge = canonical(edge)
	if m.adj[edge.Source] == nil || m.adj[edge.Target] == nil {
		return errors.Wrapf(ErrNotFound, "edge %s-%s", edge.Source, edge.Target)
	}
	if m.adj[edge.Source][edge.Target] {
		return nil
	}
	m.adj[edge.Source][edge.Target] = true
	m.adj[edge.Target][edge.Source] = true
	m.edges = append(m.edges, edge)
	return nil
}

// AddCluster stores a cluster and sets the cluster of its members.
func (m *MemStore) AddCluster(_ context.Context, node ClusterNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range node.Members {
		s, ok := m.samples[name]
		if !ok {
			return errors.Wrapf(ErrNotFound, "cluster %s member %s", node.Name, name)
		}
		s.Cluster = node.Name
		m.samples[name] = s
	}
	node.Members = append([]string(nil), node.Members...)
	m.clusters = append(m.clusters, node)
	return nil
}

// GetSample returns the named sample or ErrNotFound.
func (m *MemStore) GetSample(_ context.Context, name string) (*SampleNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samples[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "sample %s", name)
	}
	return &s, nil
}

// QuerySamples returns samples matching filter, in insertion order.
func (m *MemStore) QuerySamples(_ context.Context, filter SampleFilter) ([]SampleNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SampleNode
	for _, name := range m.order {
		s := m.samples[name]
		if !filter.match(s) {
			continue
		}
		out = append(out, s)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// GetNeighbourhood performs a BFS over WITHIN edges.
func (m *MemStore) GetNeighbourhood(_ context.Context, name string, maxDepth int) ([]Neighbour, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.samples[name]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "sample %s", name)
	}
	return bfs(name, maxDepth, func(n string) []string {
		out := make([]string, 0, len(m.adj[n]))
		for k := range m.adj[n] {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}), nil
}

// GetSamples returns all samples in insertion order.
func (m *MemStore) GetSamples(ctx context.Context) ([]SampleNode, error) {
	return m.QuerySamples(ctx, SampleFilter{})
}

// GetClusters returns all stored clusters.
func (m *MemStore) GetClusters(_ context.Context) ([]ClusterNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ClusterNode, len(m.clusters))
	copy(out, m.clusters)
	return out, nil
}

// GetAllEdges returns a copy of all edges in the store.
func (m *MemStore) GetAllEdges(_ context.Context) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Edge, len(m.edges))
	copy(out, m.edges)
	return out, nil
}

// Stats returns counts of samples, references, clusters and edges.
func (m *MemStore) Stats(_ context.Context) (*GraphStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := 0
	for _, s := range m.samples {
		if s.Reference {
			refs++
		}
	}
	return &GraphStats{
		SampleCount:    len(m.samples),
		ReferenceCount: refs,
		ClusterCount:   len(m.clusters),
		EdgeCount:      len(m.edges),
	}, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}

func canonical(e Edge) Edge {
	if e.Target < e.Source {
		e.Source, e.Target = e.Target, e.Source
	}
	return e
}
