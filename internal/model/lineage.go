package model

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/lineage"
	"github.com/dusk-indust/straincluster/internal/logging"
)

// LineageOptions configure the rank graphs.
type LineageOptions struct {
	Ranks []int
	// MaxSearchDepth is the depth of the stored neighbour graph; 0 means
	// the largest rank.
	MaxSearchDepth int
	Lineage        lineage.Options
}

// Lineage connects every sample to its nearest neighbours at each
// configured rank. It has no within/between decision.
type Lineage struct {
	base

	manager      *lineage.Manager
	useAccessory bool
}

func newLineage(opts Options) *Lineage {
	return &Lineage{base: newBase(KindLineage, opts, 0, 0)}
}

// NewLineage validates the ranks and returns an unfitted lineage model.
func NewLineage(opts Options, lo LineageOptions) (*Lineage, error) {
	if lo.Lineage.Threads == 0 {
		lo.Lineage.Threads = opts.Threads
	}
	mgr, err := lineage.NewManager(lo.Ranks, lo.MaxSearchDepth, lo.Lineage)
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}
	m := newLineage(opts)
	m.manager = mgr
	return m, nil
}

// column returns the distance axis the graphs are built on.
func (m *Lineage) column() int {
	if m.useAccessory {
		return dists.Accessory
	}
	return dists.Core
}

// Fit builds the neighbour graph of a self layout on the core distances, or
// the accessory distances when useAccessory is set.
func (m *Lineage) Fit(ctx context.Context, X *dists.Matrix, useAccessory bool) error {
	start := time.Now()
	if m.manager == nil {
		return errors.Wrap(ErrConfig, "lineage model has no ranks")
	}
	m.useAccessory = useAccessory
	sq, err := X.Square(m.column())
	if err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}
	if err := m.manager.Build(ctx, sq); err != nil {
		return wrapLineage(err)
	}
	m.markFitted(start)
	logging.Logger(ctx).WithFields(logrus.Fields{
		"model":   string(m.kind),
		"samples": m.manager.Samples(),
		"ranks":   m.manager.Ranks(),
		"depth":   m.manager.Depth(),
	}).Info("fitted lineage graphs")
	return nil
}

func wrapLineage(err error) error {
	if errors.Is(err, lineage.ErrConfig) {
		return errors.Wrap(ErrConfig, err.Error())
	}
	return errors.Wrap(err, "model: lineage")
}

// Extend adds queries to the neighbour graph. qq is the self layout of the
// queries and qr the reference by query layout; references are the samples
// already in the graph, in order.
func (m *Lineage) Extend(ctx context.Context, qq, qr *dists.Matrix) error {
	if err := m.requireFitted(); err != nil {
		return err
	}
	col := m.column()
	qqSq, err := qq.Square(col)
	if err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}
	qrRect, err := qr.Rect(col)
	if err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}
	before := m.manager.Samples()
	if err := m.manager.Extend(ctx, qqSq, qrRect); err != nil {
		return wrapLineage(err)
	}
	logging.Logger(ctx).WithFields(logrus.Fields{
		"model":   string(m.kind),
		"added":   m.manager.Samples() - before,
		"samples": m.manager.Samples(),
	}).Info("extended lineage graphs")
	return nil
}

// Ranks returns the configured ranks, ascending.
func (m *Lineage) Ranks() []int {
	if m.manager == nil {
		return nil
	}
	return m.manager.Ranks()
}

// Samples returns the number of samples in the graph.
func (m *Lineage) Samples() int {
	if m.manager == nil {
		return 0
	}
	return m.manager.Samples()
}

// AssignRank returns the edges of the rank graph as sample index pairs.
func (m *Lineage) AssignRank(rank int) ([][2]int, error) {
	if err := m.requireFitted(); err != nil {
		return nil, err
	}
	edges, err := m.manager.Edges(rank)
	if err != nil {
		return nil, wrapLineage(err)
	}
	return edges, nil
}

// EdgeWeights returns the distances of the rank graph edges, in the order
// of AssignRank.
func (m *Lineage) EdgeWeights(rank int) ([]float64, error) {
	if err := m.requireFitted(); err != nil {
		return nil, err
	}
	w, err := m.manager.Weights(rank)
	if err != nil {
		return nil, wrapLineage(err)
	}
	return w, nil
}

// Plot reports the edge count of each rank graph.
func (m *Lineage) Plot(ctx context.Context, _ *dists.Matrix, _ []int, p Plotter) error {
	if err := m.requireFitted(); err != nil {
		return err
	}
	stats := map[string]float64{"samples": float64(m.manager.Samples())}
	for _, r := range m.manager.Ranks() {
		g, err := m.manager.Graph(r)
		if err != nil {
			return wrapLineage(err)
		}
		stats["rank_"+strconv.Itoa(r)+"_edges"] = float64(g.Len())
	}
	return p.Plot(ctx, Figure{
		Kind:  m.kind,
		Title: "lineage fit",
		Name:  m.figureName("lineage"),
		Stats: stats,
	})
}

// Save writes the metadata and the neighbour graph of every rank.
func (m *Lineage) Save() error {
	if err := m.requireFitted(); err != nil {
		return err
	}
	opts := m.manager.Options()
	meta := m.meta()
	meta.Within, meta.Between = 0, 0
	meta.Lineage = &LineageMeta{
		Ranks:          m.manager.Ranks(),
		MaxSearchDepth: m.manager.Depth(),
		Samples:        m.manager.Samples(),
		UseAccessory:   m.useAccessory,
		Epsilon:        opts.Epsilon,
		CountUnique:    opts.CountUnique,
		ReciprocalOnly: opts.ReciprocalOnly,
	}

	rec := NewRecord()
	putSparse(rec, "nn", m.manager.Nearest())
	for _, r := range m.manager.Ranks() {
		g, err := m.manager.Graph(r)
		if err != nil {
			return wrapLineage(err)
		}
		putSparse(rec, "rank_"+strconv.Itoa(r), g)
	}
	return m.save(meta, rec)
}

func putSparse(rec *Record, bucket string, s lineage.Sparse) {
	rec.PutInts(bucket, "row", s.Row)
	rec.PutInts(bucket, "col", s.Col)
	rec.PutVec(bucket, "data", s.Data)
	rec.PutInts(bucket, "n", []int{s.N})
}

func getSparse(rec *Record, bucket string) (lineage.Sparse, error) {
	var s lineage.Sparse
	var err error
	if s.Row, err = rec.Ints(bucket, "row"); err != nil {
		return s, err
	}
	if s.Col, err = rec.Ints(bucket, "col"); err != nil {
		return s, err
	}
	if s.Data, err = rec.Vec(bucket, "data"); err != nil {
		return s, err
	}
	n, err := rec.Ints(bucket, "n")
	if err != nil {
		return s, err
	}
	if len(n) != 1 || len(s.Col) != len(s.Row) || len(s.Data) != len(s.Row) {
		return s, errors.Errorf("model: malformed sparse graph in bucket %s", bucket)
	}
	s.N = n[0]
	return s, nil
}

func (m *Lineage) restore(meta Meta, rec *Record) error {
	if err := m.restoreBase(meta, rec); err != nil {
		return err
	}
	lm := meta.Lineage
	if lm == nil {
		return errors.Wrap(ErrConfig, "lineage metadata missing")
	}
	nearest, err := getSparse(rec, "nn")
	if err != nil {
		return err
	}
	opts := lineage.Options{
		Epsilon:        lm.Epsilon,
		CountUnique:    lm.CountUnique,
		ReciprocalOnly: lm.ReciprocalOnly,
		Threads:        m.threads,
	}
	mgr, err := lineage.Restore(lm.Ranks, lm.MaxSearchDepth, opts, nearest)
	if err != nil {
		return wrapLineage(err)
	}
	m.manager, m.useAccessory = mgr, lm.UseAccessory
	return nil
}
