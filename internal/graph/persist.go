package graph

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/network"
)

// ErrNoPersistentStore is returned by OpenFileStore in builds without cgo.
var ErrNoPersistentStore = errors.New("graph: persistent store unavailable in this build")

// WeightFunc returns the distance stored on an edge, and whether it is known.
type WeightFunc func(a, b string) (float64, bool)

// Run is a clustered network ready to be stored.
type Run struct {
	Network    *network.Network
	Clusters   *network.Clustering
	References []string
	Queries    []string
	Weight     WeightFunc
}

// Persist writes every sample, within-strain edge and cluster of run to the
// store. The schema is initialised first. Clusters keep their full size but
// only link members present in the network.
func Persist(ctx context.Context, store Store, run Run) error {
	if run.Network == nil {
		return errors.New("graph: nothing to persist")
	}
	if err := store.InitSchema(ctx); err != nil {
		return err
	}
	refs := toSet(run.References)
	queries := toSet(run.Queries)

	for _, name := range run.Network.Samples() {
		node := SampleNode{Name: name, Reference: refs[name], Query: queries[name]}
		if run.Clusters != nil {
			node.Cluster, _ = run.Clusters.Cluster(name)
		}
		if err := store.AddSample(ctx, node); err != nil {
			return errors.Wrapf(err, "graph: add sample %s", name)
		}
	}

	pairs := run.Network.Edges()
	edges := make([]Edge, 0, len(pairs))
	for _, p := range pairs {
		e := canonical(Edge{Source: p[0], Target: p[1]})
		if run.Weight != nil {
			if w, ok := run.Weight(e.Source, e.Target); ok {
				e.Weight = w
			}
		}
		if err := store.AddEdge(ctx, e); err != nil {
			return errors.Wrapf(err, "graph: add edge %s-%s", e.Source, e.Target)
		}
		edges = append(edges, e)
	}

	if run.Clusters != nil {
		for _, id := range run.Clusters.Clusters() {
			all := run.Clusters.Members(id)
			var members []string
			for _, m := range all {
				if run.Network.Has(m) {
					members = append(members, m)
				}
			}
			node := ClusterNode{
				Name:     id,
				Size:     len(all),
				Cohesion: Cohesion(members, edges),
				Members:  members,
			}
			if err := store.AddCluster(ctx, node); err != nil {
				return errors.Wrapf(err, "graph: add cluster %s", id)
			}
		}
	}

	logging.Logger(ctx).WithFields(logrus.Fields{
		"samples":  run.Network.Order(),
		"edges":    len(edges),
		"clusters": clusterCount(run.Clusters),
	}).Debug("persisted network")
	return nil
}

// LoadNetwork rebuilds the network, clustering and references held in a
// store. Samples come back sorted by name.
func LoadNetwork(ctx context.Context, store Store) (*network.Network, *network.Clustering, []string, error) {
	samples, err := store.GetSamples(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })

	names := make([]string, len(samples))
	var refs []string
	for i, s := range samples {
		names[i] = s.Name
		if s.Reference {
			refs = append(refs, s.Name)
		}
	}
	net := network.New(names)

	edges, err := store.GetAllEdges(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, e := range edges {
		if !net.Has(e.Source) || !net.Has(e.Target) {
			return nil, nil, nil, errors.Wrapf(ErrNotFound, "edge %s-%s", e.Source, e.Target)
		}
		net.AddEdge(e.Source, e.Target)
	}

	clusters, err := store.GetClusters(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Name < clusters[j].Name })
	c := network.NewClustering()
	for _, cl := range clusters {
		members := append([]string(nil), cl.Members...)
		sort.Strings(members)
		for _, m := range members {
			if err := c.Add(m, cl.Name); err != nil {
				return nil, nil, nil, err
			}
		}
	}
	return net, c, refs, nil
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}

func clusterCount(c *network.Clustering) int {
	if c == nil {
		return 0
	}
	return c.Len()
}
