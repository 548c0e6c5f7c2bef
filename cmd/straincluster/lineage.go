package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dusk-indust/straincluster/internal/model"
	"github.com/dusk-indust/straincluster/internal/network"
	"github.com/dusk-indust/straincluster/internal/pipeline"
)

func newLineageCmd(a *app) *cobra.Command {
	var (
		ranks        []int
		useAccessory bool
		db           dbFlags
		queries      string
	)
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Group samples by shared nearest neighbours at each rank",
		Long: "Builds a nearest neighbour graph per rank and clusters its components.\n" +
			"With --db the queries listed in --queries are added to an existing lineage database.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("ranks") {
				a.cfg.Lineage.Ranks = ranks
			}
			if fs.Changed("use-accessory") {
				a.cfg.Lineage.UseAccessory = useAccessory
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			src, err := a.source()
			if err != nil {
				return err
			}
			p, stop := a.pipeline(ctx)
			defer stop()

			if db.Dir == "" {
				in, err := a.input(ctx, src)
				if err != nil {
					return err
				}
				res, err := p.Lineage(ctx, in, nil)
				if err != nil {
					return err
				}
				a.report(res)
				return nil
			}

			if queries == "" {
				return errors.Wrap(model.ErrConfig, "--queries is required with --db")
			}
			names, err := pipeline.ReadSampleFile(queries)
			if err != nil {
				return err
			}
			d, err := p.OpenDatabase(ctx, db.Dir, db.prefix(), nil)
			if err != nil {
				return err
			}
			m, ok := d.Model.(*model.Lineage)
			if !ok {
				return errors.Wrapf(model.ErrConfig, "%s holds a %s model, not a lineage model", db.Dir, d.Model.Kind())
			}
			q, err := pipeline.ReadQueries(ctx, src, d.References, names)
			if err != nil {
				return err
			}
			prev, err := rankClusters(db.Dir, db.prefix(), m.Ranks())
			if err != nil {
				return err
			}
			res, err := p.ExtendLineage(ctx, m, q.References, q.Names, q.QQ, q.QR, prev)
			if err != nil {
				return err
			}
			a.report(res)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.IntSliceVar(&ranks, "ranks", nil, "comma-separated neighbour ranks (default from config)")
	fs.BoolVar(&useAccessory, "use-accessory", false, "build the graphs on accessory rather than core distances")
	fs.StringVar(&queries, "queries", "", "file listing the samples to add to --db")
	db.register(fs)
	return cmd
}

// rankClusters reads the per-rank cluster files of a lineage database.
// Ranks without a file are left out.
func rankClusters(dir, prefix string, ranks []int) (map[int]*network.Clustering, error) {
	out := make(map[int]*network.Clustering, len(ranks))
	for _, r := range ranks {
		path := pipeline.OutputPath(dir, prefix, pipeline.RankSuffix(r))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		c, err := pipeline.ReadClusterFile(path)
		if err != nil {
			return nil, err
		}
		out[r] = c
	}
	return out, nil
}

// dbFlags locate the output of an earlier run.
type dbFlags struct {
	Dir    string
	Prefix string
}

func (d *dbFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&d.Dir, "db", "", "output directory of an earlier run")
	fs.StringVar(&d.Prefix, "db-prefix", "", "file prefix of --db (default: its base name)")
}

func (d *dbFlags) prefix() string {
	if d.Prefix != "" {
		return d.Prefix
	}
	return filepath.Base(filepath.Clean(d.Dir))
}
