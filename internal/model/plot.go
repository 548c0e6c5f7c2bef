package model

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/logging"
)

// Figure describes one fit diagnostic for a Plotter.
type Figure struct {
	Kind  Kind
	Title string
	// Name is the output stem, <outdir>/<prefix>_<suffix>.
	Name string
	// Points are the scaled distances plotted.
	Points *dists.Matrix
	Labels []int
	// Centres are component means or cluster centroids in scaled space.
	Centres [][2]float64
	// Boundary holds the core and accessory intercepts of a refined fit.
	// Either may be NaN.
	Boundary *[2]float64
	Stats    map[string]float64
}

// Plotter renders fit diagnostics.
type Plotter interface {
	Plot(ctx context.Context, fig Figure) error
}

// Compile-time interface check.
var _ Plotter = LogPlotter{}

// LogPlotter writes the figure statistics to the context logger instead of
// drawing anything.
type LogPlotter struct{}

// Plot implements Plotter.
func (LogPlotter) Plot(ctx context.Context, fig Figure) error {
	fields := logrus.Fields{
		"model": string(fig.Kind),
		"name":  fig.Name,
	}
	if fig.Points != nil {
		fields["points"] = fig.Points.Rows()
	}
	keys := make([]string, 0, len(fig.Stats))
	for k := range fig.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields[k] = fig.Stats[k]
	}
	if fig.Boundary != nil {
		fields["core_boundary"] = fig.Boundary[0]
		fields["accessory_boundary"] = fig.Boundary[1]
	}
	logging.Logger(ctx).WithFields(fields).Info(fig.Title)
	return nil
}

func (b *base) figureName(suffix string) string {
	return filepath.Join(b.outDir, b.prefix+"_"+suffix)
}
