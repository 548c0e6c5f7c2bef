package network

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/straincluster/internal/logging"
)

// ClusterHeader is the first line of a cluster CSV.
var ClusterHeader = []string{"Taxon", "Cluster"}

// Clustering maps samples to cluster identifiers. Clusters keep the order in
// which they were first added.
type Clustering struct {
	order   []string
	members map[string][]string
	of      map[string]string
}

// NewClustering returns an empty clustering.
func NewClustering() *Clustering {
	return &Clustering{
		members: make(map[string][]string),
		of:      make(map[string]string),
	}
}

// Add puts sample in cluster. Adding a sample to a second cluster is a
// consistency violation; repeating the same assignment is a no-op.
func (c *Clustering) Add(sample, cluster string) error {
	if prev, ok := c.of[sample]; ok {
		if prev == cluster {
			return nil
		}
		return errors.Wrapf(ErrConsistency, "sample %q is in clusters %q and %q", sample, prev, cluster)
	}
	if _, ok := c.members[cluster]; !ok {
		c.order = append(c.order, cluster)
	}
	c.members[cluster] = append(c.members[cluster], sample)
	c.of[sample] = cluster
	return nil
}

// Len returns the number of clusters.
func (c *Clustering) Len() int { return len(c.order) }

// Clusters returns the cluster identifiers in first-appearance order.
func (c *Clustering) Clusters() []string { return append([]string(nil), c.order...) }

// Members returns the samples of a cluster in insertion order.
func (c *Clustering) Members(cluster string) []string {
	return append([]string(nil), c.members[cluster]...)
}

// Cluster returns the cluster of sample.
func (c *Clustering) Cluster(sample string) (string, bool) {
	id, ok := c.of[sample]
	return id, ok
}

// Samples returns every sample, sorted.
func (c *Clustering) Samples() []string {
	out := make([]string, 0, len(c.of))
	for s := range c.of {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ReadClusters parses a Taxon,Cluster CSV.
func ReadClusters(r io.Reader) (*Clustering, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "network: read cluster header")
	}
	if !strings.EqualFold(header[0], ClusterHeader[0]) || !strings.EqualFold(header[1], ClusterHeader[1]) {
		return nil, errors.Errorf("network: unexpected cluster header %q", strings.Join(header, ","))
	}

	c := NewClustering()
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "network: read clusters")
		}
		if err := c.Add(rec[0], rec[1]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Filter selects the samples written by WriteClusters.
type Filter func(sample string) bool

// QueryOnly drops samples that already appear in prev. Query-only output
// needs a previous clustering.
func QueryOnly(prev *Clustering) (Filter, error) {
	if prev == nil {
		return nil, errors.Wrap(ErrConfig, "query-only cluster output needs a previous clustering")
	}
	return func(sample string) bool {
		_, seen := prev.of[sample]
		return !seen
	}, nil
}

// WriteClusters writes Taxon,Cluster rows sorted by taxon. A nil filter
// writes every sample.
func WriteClusters(w io.Writer, c *Clustering, filter Filter) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ClusterHeader); err != nil {
		return errors.Wrap(err, "network: write clusters")
	}
	for _, s := range c.Samples() {
		if filter != nil && !filter(s) {
			continue
		}
		if err := cw.Write([]string{s, c.of[s]}); err != nil {
			return errors.Wrap(err, "network: write clusters")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "network: write clusters")
}

// Reconcile names the connected components of n. Without a previous
// clustering components are numbered from 0, largest first. Otherwise each
// component is matched against prev by the previously clustered samples it
// contains:
//
//   - none: a new numeric identifier not used by prev
//   - all within one previous cluster: that cluster's name
//   - spread over several previous clusters: their names joined by "_" in
//     prev order
//
// A previous cluster split across two components is a consistency violation.
func Reconcile(ctx context.Context, n *Network, prev *Clustering) (*Clustering, error) {
	return reconcile(ctx, n, prev, true)
}

// Rename names components like Reconcile but tolerates splits: the first
// component to claim a previous name keeps it and any later claimant, or a
// component whose previous clusters cannot be matched consistently, gets a
// fresh name. It never returns ErrConsistency.
func Rename(ctx context.Context, n *Network, prev *Clustering) (*Clustering, error) {
	return reconcile(ctx, n, prev, false)
}

func reconcile(ctx context.Context, n *Network, prev *Clustering, strict bool) (*Clustering, error) {
	comps := n.Components()
	out := NewClustering()

	if prev == nil {
		for i, comp := range comps {
			id := strconv.Itoa(i)
			for _, s := range comp {
				if err := out.Add(s, id); err != nil {
					return nil, err
				}
			}
		}
		return out, nil
	}

	used := make(map[string]bool)
	nextID := prev.Len()
	allocate := func() string {
		for {
			id := strconv.Itoa(nextID)
			nextID++
			if _, taken := prev.members[id]; !taken && !used[id] {
				return id
			}
		}
	}

	log := logging.Logger(ctx)
	for _, comp := range comps {
		id, merged, err := matchPrevious(comp, prev)
		if err == nil && id != "" && used[id] {
			err = errors.Wrapf(ErrConsistency, "cluster %q assigned to two components", id)
		}
		if err != nil {
			if strict {
				return nil, err
			}
			log.WithError(err).WithField("samples", len(comp)).Warn("previous cluster split, naming afresh")
			id, merged = "", false
		}
		if id == "" {
			id = allocate()
		}
		if merged {
			log.WithFields(logrus.Fields{"cluster": id, "samples": len(comp)}).Info("previous clusters merged")
		}
		used[id] = true
		for _, s := range comp {
			if err := out.Add(s, id); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// matchPrevious returns the name for a component, or "" if none of its
// samples were clustered before. merged is set when the name joins several
// previous clusters.
func matchPrevious(comp []string, prev *Clustering) (id string, merged bool, err error) {
	known := make(map[string]bool)
	for _, s := range comp {
		if _, ok := prev.of[s]; ok {
			known[s] = true
		}
	}
	if len(known) == 0 {
		return "", false, nil
	}

	var parts []string
	for _, cluster := range prev.order {
		join := 0
		for _, s := range prev.members[cluster] {
			if known[s] {
				join++
			}
		}
		switch {
		case join == 0:
		case join < len(known):
			parts = append(parts, cluster)
		default:
			if len(parts) > 0 {
				return "", false, errors.Wrapf(ErrConsistency, "cluster %q matched fully after a partial match with %v", cluster, parts)
			}
			return cluster, false, nil
		}
	}
	return strings.Join(parts, "_"), true, nil
}
