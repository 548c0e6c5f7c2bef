// Package export writes the JSON summary of a clustering run.
package export

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/dusk-indust/straincluster/internal/network"
)

// RunSummary is the top-level JSON export structure.
type RunSummary struct {
	Name       string           `json:"name"`
	Mode       string           `json:"mode"`
	ExportedAt string           `json:"exportedAt"`
	Model      ModelExport      `json:"model"`
	Network    *network.Summary `json:"network,omitempty"`
	Clusters   []ClusterExport  `json:"clusters"`
	References []string         `json:"references,omitempty"`
	Ranks      []RankExport     `json:"ranks,omitempty"`
}

// ModelExport identifies the fitted model behind a run.
type ModelExport struct {
	Kind  string     `json:"kind"`
	RunID string     `json:"runId"`
	Scale [2]float64 `json:"scale"`
}

// ClusterExport describes one cluster.
type ClusterExport struct {
	ID      string   `json:"id"`
	Size    int      `json:"size"`
	Members []string `json:"members,omitempty"`
}

// RankExport describes the clustering at one lineage rank.
type RankExport struct {
	Rank     int `json:"rank"`
	Clusters int `json:"clusters"`
	Edges    int `json:"edges"`
}

// NewRunSummary starts a summary stamped with the current time.
func NewRunSummary(name, mode string) *RunSummary {
	return &RunSummary{
		Name:       name,
		Mode:       mode,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Clusters:   []ClusterExport{},
	}
}

// Clusters lists the clusters of c, largest first and then by identifier.
func Clusters(c *network.Clustering, withMembers bool) []ClusterExport {
	if c == nil {
		return nil
	}
	out := make([]ClusterExport, 0, c.Len())
	for _, id := range c.Clusters() {
		members := c.Members(id)
		ce := ClusterExport{ID: id, Size: len(members)}
		if withMembers {
			ce.Members = members
		}
		out = append(out, ce)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Write stores s as indented JSON at path.
func Write(path string, s *RunSummary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "export: marshal summary")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrap(err, "export: write summary")
	}
	return nil
}

// Read loads a summary written by Write.
func Read(path string) (*RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "export: read summary")
	}
	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "export: parse %s", path)
	}
	return &s, nil
}
