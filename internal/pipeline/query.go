package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/model"
	"github.com/dusk-indust/straincluster/internal/network"
)

// Queries are new samples compared against the references of an existing
// network.
type Queries struct {
	// References name the rows of QR, in order. They must be in the network.
	References []string
	Names      []string
	// QR is a rect layout of References against Names.
	QR *dists.Matrix
	// QQ is a self layout over Names; nil when there is a single query or
	// query-query distances are not wanted.
	QQ *dists.Matrix

	// UpdateDB saves the model, references and graph store to the output
	// directory as a new database.
	UpdateDB bool
	// QueryOnly limits the cluster file to samples not in the previous
	// clustering.
	QueryOnly bool
	// Axis assigns with the core-only (model.IndivCore) or accessory-only
	// (model.IndivAccessory) boundary of a refine model. Empty uses the
	// model's own boundary.
	Axis string
}

func checkQueries(q Queries) error {
	if q.QR == nil || q.QR.Layout() != dists.LayoutRect {
		return errors.Wrap(model.ErrConfig, "queries need a reference by query comparison")
	}
	if nRef, nQuery := q.QR.Samples(); nRef != len(q.References) || nQuery != len(q.Names) {
		return errors.Wrapf(model.ErrConfig, "comparison is %d x %d, have %d references and %d queries",
			nRef, nQuery, len(q.References), len(q.Names))
	}
	if q.QQ != nil {
		if n, _ := q.QQ.Samples(); n != len(q.Names) {
			return errors.Wrapf(model.ErrConfig, "query comparison has %d samples, have %d queries", n, len(q.Names))
		}
	}
	return nil
}

// AssignQueries adds queries to net with the edges m labels within-strain,
// then names clusters consistently with prev. net is modified in place.
func (p *Pipeline) AssignQueries(ctx context.Context, m model.Classifier, net *network.Network, prev *network.Clustering, q Queries) (*Result, error) {
	if m == nil || !m.Fitted() {
		return nil, errors.Wrap(model.ErrUnfitted, "query assignment model")
	}
	if net == nil {
		return nil, errors.Wrap(model.ErrConfig, "no network to extend")
	}
	if err := checkQueries(q); err != nil {
		return nil, err
	}
	for _, r := range q.References {
		if !net.Has(r) {
			return nil, errors.Wrapf(model.ErrConfig, "reference %s is not in the network", r)
		}
	}
	ctx, err := p.begin(ctx, ModeAssign, q.QR, q.QQ)
	if err != nil {
		return nil, err
	}
	log := logging.Logger(ctx)
	within := m.WithinLabel()
	w := make(weights)

	labels, err := assignAxis(ctx, m, q.QR, q.Axis)
	if err != nil {
		return nil, err
	}
	if err := network.AddQueries(ctx, net, q.References, q.Names, q.QR, labels, within); err != nil {
		return nil, err
	}
	w.add(q.References, q.Names, q.QR, labels, within)

	if q.QQ != nil && len(q.Names) > 1 {
		qqLabels, err := assignAxis(ctx, m, q.QQ, q.Axis)
		if err != nil {
			return nil, err
		}
		if _, err := net.AddPairs(q.Names, q.Names, q.QQ, qqLabels, within); err != nil {
			return nil, err
		}
		w.add(q.Names, q.Names, q.QQ, qqLabels, within)
	}

	res := &Result{Mode: ModeAssign, Model: m, Network: net, Queries: q.Names}
	if err := p.cluster(ctx, res, prev, true); err != nil {
		return nil, err
	}

	var filter network.Filter
	if q.QueryOnly {
		if filter, err = network.QueryOnly(prev); err != nil {
			return nil, err
		}
	}
	if err := p.writeClusters(res, filter); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"queries":  len(q.Names),
		"clusters": res.Clusters.Len(),
	}).Info("assigned queries")

	if q.UpdateDB {
		if err := m.Save(); err != nil {
			return nil, err
		}
		if err := p.writeReferences(res.References); err != nil {
			return nil, err
		}
		p.persist(ctx, res, w.lookup)
	}
	p.exportSummary(ctx, res)
	return res, nil
}
