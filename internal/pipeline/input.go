package pipeline

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/dusk-indust/straincluster/internal/config"
	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/model"
	"github.com/dusk-indust/straincluster/internal/network"
	"github.com/dusk-indust/straincluster/internal/refine"
)

// ReadInput fetches the self comparison of samples from src. An empty list
// selects every sample the source holds.
func ReadInput(ctx context.Context, src dists.Source, samples []string) (Input, error) {
	t, err := src.QueryDistances(ctx, samples, samples, true)
	if err != nil {
		return Input{}, err
	}
	return Input{Samples: t.Refs, Distances: t.Matrix}, nil
}

// ReadQueries fetches refs against queries and the queries against each
// other.
func ReadQueries(ctx context.Context, src dists.Source, refs, queries []string) (Queries, error) {
	qr, err := src.QueryDistances(ctx, refs, queries, false)
	if err != nil {
		return Queries{}, err
	}
	q := Queries{References: qr.Refs, Names: qr.Queries, QR: qr.Matrix}
	qq, err := src.QueryDistances(ctx, q.Names, q.Names, true)
	if err != nil {
		return Queries{}, err
	}
	q.QQ = qq.Matrix
	return q, nil
}

// ReadSampleList reads one sample name per line, taking the first
// tab-separated field. Blank lines and # comments are skipped.
func ReadSampleList(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.SplitN(line, "\t", 2)[0])
	}
	return out, errors.Wrap(sc.Err(), "pipeline: read sample list")
}

// ReadSampleFile is ReadSampleList on a file.
func ReadSampleFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: open sample list")
	}
	defer f.Close()
	return ReadSampleList(f)
}

// ReadClusterFile reads a cluster CSV written by an earlier run.
func ReadClusterFile(path string) (*network.Clustering, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: open clusters")
	}
	defer f.Close()
	return network.ReadClusters(f)
}

// ReadReferenceFile reads a references file written by an earlier run.
func ReadReferenceFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: open references")
	}
	defer f.Close()
	return network.ReadReferences(f)
}

func readManualStart(path string) (*model.ManualStart, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(model.ErrConfig, err.Error())
	}
	defer f.Close()
	return model.ReadManualStart(f)
}

func newOptimiser(cfg *config.Config) *refine.Optimiser {
	return &refine.Optimiser{
		PosShift: cfg.Refine.PosShift,
		NegShift: cfg.Refine.NegShift,
		Points:   cfg.Refine.Points,
		NoLocal:  cfg.Refine.NoLocal,
		Threads:  cfg.Threads,

		Unconstrained: cfg.Refine.Unconstrained,
	}
}
