package pipeline

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/graph"
	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/model"
	"github.com/dusk-indust/straincluster/internal/network"
)

// Database is the output of an earlier run, read back for query
// assignment or lineage extension.
type Database struct {
	Dir        string
	Prefix     string
	Model      model.Model
	Network    *network.Network
	Clusters   *network.Clustering
	References []string
}

// OpenDatabase loads the model, clusters and references written to dir.
// The network comes from the graph store when there is one, otherwise it
// is rebuilt from the reference distances in src. Saves of the loaded model
// go to this pipeline's output directory.
func (p *Pipeline) OpenDatabase(ctx context.Context, dir, prefix string, src dists.Source) (*Database, error) {
	log := logging.Logger(ctx).WithFields(logrus.Fields{"db": dir})
	m, err := model.Load(dir, prefix, p.ModelOptions())
	if err != nil {
		return nil, err
	}
	db := &Database{Dir: dir, Prefix: prefix, Model: m}
	if db.Clusters, err = ReadClusterFile(OutputPath(dir, prefix, ClustersSuffix)); err != nil {
		return nil, err
	}
	if db.References, err = ReadReferenceFile(OutputPath(dir, prefix, RefsSuffix)); err != nil {
		return nil, err
	}
	if m.Kind() == model.KindLineage {
		return db, nil
	}

	if net, err := p.loadStored(ctx, OutputPath(dir, prefix, GraphSuffix)); err == nil {
		db.Network = net
		log.WithField("samples", net.Order()).Debug("loaded stored network")
		return db, nil
	} else if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, graph.ErrNoPersistentStore) {
		log.WithError(err).Warn("stored network unreadable, rebuilding from distances")
	}

	c, ok := m.(model.Classifier)
	if !ok {
		return nil, errors.Wrapf(model.ErrConfig, "%s model cannot label distances", m.Kind())
	}
	if src == nil {
		return nil, errors.Wrap(model.ErrConfig, "no stored network and no reference distances")
	}
	in, err := ReadInput(ctx, src, db.References)
	if err != nil {
		return nil, err
	}
	labels, err := c.Assign(ctx, in.Distances)
	if err != nil {
		return nil, err
	}
	if db.Network, err = network.Construct(ctx, in.Samples, in.Distances, labels, c.WithinLabel()); err != nil {
		return nil, err
	}
	return db, nil
}

func (p *Pipeline) loadStored(ctx context.Context, path string) (*network.Network, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	store, err := p.openStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	net, _, _, err := graph.LoadNetwork(ctx, store)
	return net, err
}
