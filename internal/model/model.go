// Package model defines the fitted decision rules that turn (core,
// accessory) distances into within/between labels, and their persistence.
package model

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dusk-indust/straincluster/internal/assign"
	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/metrics"
)

// Kind tags a model variant in its metadata record.
type Kind string

const (
	KindMixture Kind = "bgmm"
	KindDensity Kind = "dbscan"
	KindRefine  Kind = "refine"
	KindLineage Kind = "lineage"
)

// Valid reports whether k names a known variant.
func (k Kind) Valid() bool {
	switch k {
	case KindMixture, KindDensity, KindRefine, KindLineage:
		return true
	}
	return false
}

var (
	// ErrUnfitted is returned by any query on a model that has been neither
	// fitted nor loaded.
	ErrUnfitted = errors.New("model: not fitted")

	// ErrConfig is returned for invalid parameters or output paths.
	ErrConfig = errors.New("model: invalid configuration")

	// ErrNoDistinctClusters is returned when density clustering cannot
	// separate within and between pairs after relaxing its parameters.
	ErrNoDistinctClusters = errors.New("model: no distinct clusters found")
)

// Model is the contract shared by every variant. It is sealed: only the
// types in this package implement it.
type Model interface {
	Kind() Kind
	Fitted() bool
	RunID() string
	Save() error
	Plot(ctx context.Context, X *dists.Matrix, labels []int, p Plotter) error
	sealed()
}

// Classifier is a model that labels arbitrary distance rows.
type Classifier interface {
	Model
	Assign(ctx context.Context, X *dists.Matrix) ([]int, error)
	WithinLabel() int
	BetweenLabel() int
	Scale() [2]float64
}

// Starter supplies the two start points of a boundary refinement in scaled
// space.
type Starter interface {
	Classifier
	StartPoints() (within, between [2]float64, err error)
}

// Compile-time interface checks.
var (
	_ Starter    = (*Mixture)(nil)
	_ Starter    = (*Density)(nil)
	_ Classifier = (*Refine)(nil)
	_ Model      = (*Lineage)(nil)
)

// Options configure a model. Zero values take per-variant defaults.
type Options struct {
	OutDir     string
	Prefix     string
	Threads    int
	MaxSamples int
	BlockSize  int
	Seed       int64

	Metrics  *metrics.Collector
	Progress *assign.ProgressReporter
}

// base holds the fields every variant shares.
type base struct {
	kind       Kind
	fitted     bool
	runID      string
	scale      [2]float64
	threads    int
	outDir     string
	prefix     string
	maxSamples int
	blockSize  int
	seed       int64

	metrics  *metrics.Collector
	progress *assign.ProgressReporter
}

func newBase(kind Kind, opts Options, maxSamples, blockSize int) base {
	b := base{
		kind:       kind,
		scale:      [2]float64{1, 1},
		threads:    max(opts.Threads, 1),
		outDir:     opts.OutDir,
		prefix:     opts.Prefix,
		maxSamples: maxSamples,
		blockSize:  blockSize,
		seed:       opts.Seed,
		metrics:    opts.Metrics,
		progress:   opts.Progress,
	}
	if opts.MaxSamples > 0 {
		b.maxSamples = opts.MaxSamples
	}
	if opts.BlockSize > 0 {
		b.blockSize = opts.BlockSize
	}
	if b.prefix == "" {
		b.prefix = filepath.Base(filepath.Clean(opts.OutDir))
	}
	return b
}

func (b *base) sealed() {}

// Kind returns the variant tag.
func (b *base) Kind() Kind { return b.kind }

// Fitted reports whether the model has been fitted or loaded.
func (b *base) Fitted() bool { return b.fitted }

// RunID identifies the fit that produced the model.
func (b *base) RunID() string { return b.runID }

// Scale returns the per-axis divisor applied before assignment.
func (b *base) Scale() [2]float64 { return b.scale }

// Threads returns the worker count used for assignment.
func (b *base) Threads() int { return b.threads }

// markFitted stamps a fresh run id and records the fit duration.
func (b *base) markFitted(start time.Time) {
	b.fitted = true
	b.runID = uuid.NewString()
	b.metrics.ObserveFit(string(b.kind), time.Since(start))
}

func (b *base) requireFitted() error {
	if !b.fitted {
		return errors.Wrapf(ErrUnfitted, "%s model", b.kind)
	}
	return nil
}

func (b *base) rng() *rand.Rand {
	return rand.New(rand.NewSource(b.seed))
}

func (b *base) engine() *assign.Engine {
	return &assign.Engine{
		Name:      string(b.kind),
		Threads:   b.threads,
		BlockSize: b.blockSize,
		Progress:  b.progress,
		Metrics:   b.metrics,
	}
}

// paths returns the metadata and numeric record paths, creating the output
// directory. An output directory that exists as a regular file is a
// configuration error.
func (b *base) paths() (meta, record string, err error) {
	if b.outDir == "" {
		return "", "", errors.Wrap(ErrConfig, "no output directory")
	}
	if fi, err := os.Stat(b.outDir); err == nil && !fi.IsDir() {
		return "", "", errors.Wrapf(ErrConfig, "output path %s is a file", b.outDir)
	}
	if err := os.MkdirAll(b.outDir, 0o755); err != nil {
		return "", "", errors.Wrap(err, "model: create output directory")
	}
	meta, record = Paths(b.outDir, b.prefix)
	return meta, record, nil
}

// Paths returns the metadata and numeric record paths for a prefix.
func Paths(dir, prefix string) (meta, record string) {
	stem := filepath.Join(dir, prefix+"_fit")
	return stem + ".yaml", stem + ".db"
}

// scaledLabel wraps a label function on scaled values.
func scaledLabel(scale [2]float64, fn assign.LabelFunc) assign.LabelFunc {
	return func(c, a float64) int { return fn(c/scale[0], a/scale[1]) }
}
