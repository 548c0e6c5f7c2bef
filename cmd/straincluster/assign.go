package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dusk-indust/straincluster/internal/model"
	"github.com/dusk-indust/straincluster/internal/pipeline"
)

func newAssignCmd(a *app) *cobra.Command {
	var (
		db        dbFlags
		queries   string
		updateDB  bool
		queryOnly bool
		axis      axisFlags
	)
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign new samples to the strains of an earlier run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}
			src, err := a.source()
			if err != nil {
				return err
			}
			names, err := pipeline.ReadSampleFile(queries)
			if err != nil {
				return err
			}
			p, stop := a.pipeline(ctx)
			defer stop()

			d, err := p.OpenDatabase(ctx, db.Dir, db.prefix(), src)
			if err != nil {
				return err
			}
			c, ok := d.Model.(model.Classifier)
			if !ok {
				return errors.Wrapf(model.ErrConfig, "%s holds a %s model; use lineage --db to extend it", db.Dir, d.Model.Kind())
			}
			prev := d.Clusters
			if a.flags.Previous != "" {
				if prev, err = a.previous(); err != nil {
					return err
				}
			}
			q, err := pipeline.ReadQueries(ctx, src, d.References, names)
			if err != nil {
				return err
			}
			q.UpdateDB, q.QueryOnly = updateDB, queryOnly
			q.Axis = axis.axis()
			res, err := p.AssignQueries(ctx, c, d.Network, prev, q)
			if err != nil {
				return err
			}
			a.report(res)
			return nil
		},
	}
	fs := cmd.Flags()
	db.register(fs)
	fs.StringVar(&queries, "queries", "", "file listing the samples to assign")
	fs.BoolVar(&updateDB, "update-db", false, "write the extended network as a new database")
	fs.BoolVar(&queryOnly, "query-only", false, "only write the queries to the cluster file")
	axis.register(cmd)
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("queries")
	return cmd
}

// axisFlags pick a one-dimensional boundary of a refine model.
type axisFlags struct {
	Core      bool
	Accessory bool
}

func (f *axisFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&f.Core, "core-only", false, "assign with the core distance boundary of a refine model")
	fs.BoolVar(&f.Accessory, "accessory-only", false, "assign with the accessory distance boundary of a refine model")
	cmd.MarkFlagsMutuallyExclusive("core-only", "accessory-only")
}

func (f *axisFlags) axis() string {
	switch {
	case f.Core:
		return model.IndivCore
	case f.Accessory:
		return model.IndivAccessory
	default:
		return model.IndivNone
	}
}

func newUseModelCmd(a *app) *cobra.Command {
	var (
		db   dbFlags
		axis axisFlags
	)
	cmd := &cobra.Command{
		Use:   "use-model",
		Short: "Cluster a new set of samples with the model of an earlier run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}
			src, err := a.source()
			if err != nil {
				return err
			}
			in, err := a.input(ctx, src)
			if err != nil {
				return err
			}
			p, stop := a.pipeline(ctx)
			defer stop()

			m, err := model.Load(db.Dir, db.prefix(), p.ModelOptions())
			if err != nil {
				return err
			}
			c, ok := m.(model.Classifier)
			if !ok {
				return errors.Wrapf(model.ErrConfig, "a %s model cannot be applied; use lineage instead", m.Kind())
			}
			res, err := p.UseModel(ctx, in, c, axis.axis())
			if err != nil {
				return err
			}
			a.report(res)
			return nil
		},
	}
	db.register(cmd.Flags())
	axis.register(cmd)
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
