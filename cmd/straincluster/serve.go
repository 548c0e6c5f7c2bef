package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dusk-indust/straincluster/internal/graph"
	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/mcptools"
	"github.com/dusk-indust/straincluster/internal/network"
	"github.com/dusk-indust/straincluster/internal/pipeline"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		db    dbFlags
		addr  string
		stdio bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the results of a run over MCP",
		Long: "Exposes get_summary, get_clusters, get_references and find_sample.\n" +
			"With --stdio the server talks MCP on stdin and stdout; otherwise it\n" +
			"listens on --addr with /mcp, /metrics and /healthz.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				a.cfg.Serve.Addr = addr
			}
			if db.Dir == "" {
				db.Dir, db.Prefix = a.cfg.OutDir, a.cfg.Prefix
			}
			store, err := openRunStore(ctx, db.Dir, db.prefix())
			if err != nil {
				return err
			}
			defer store.Close()

			svc := mcptools.NewRunService(store, pipeline.OutputPath(db.Dir, db.prefix(), pipeline.SummarySuffix), a.metrics)
			server := mcptools.NewRunMCPServer(svc)
			if stdio {
				return mcptools.RunStdio(ctx, server)
			}
			logging.Logger(ctx).WithField("addr", a.cfg.Serve.Addr).Info("serving MCP over HTTP")
			return mcptools.ListenAndServe(ctx, a.cfg.Serve.Addr, mcptools.NewRouter(server, a.metrics))
		},
	}
	fs := cmd.Flags()
	db.register(fs)
	fs.StringVar(&addr, "addr", "", "listen address (default from config)")
	fs.BoolVar(&stdio, "stdio", false, "serve on stdin and stdout")
	return cmd
}

// openRunStore opens the graph store of a run. Builds without a persistent
// store get an in-memory one holding the cluster and reference files.
func openRunStore(ctx context.Context, dir, prefix string) (graph.Store, error) {
	path := pipeline.OutputPath(dir, prefix, pipeline.GraphSuffix)
	if _, err := os.Stat(path); err == nil {
		store, err := graph.OpenFileStore(path)
		if err == nil {
			return store, nil
		}
		if !errors.Is(err, graph.ErrNoPersistentStore) {
			return nil, err
		}
	}
	logging.Logger(ctx).WithField("db", dir).Info("no graph store, serving cluster files only")

	clusters, err := pipeline.ReadClusterFile(pipeline.OutputPath(dir, prefix, pipeline.ClustersSuffix))
	if err != nil {
		return nil, err
	}
	refs, err := pipeline.ReadReferenceFile(pipeline.OutputPath(dir, prefix, pipeline.RefsSuffix))
	if err != nil {
		return nil, err
	}
	store := graph.NewMemStore()
	err = graph.Persist(ctx, store, graph.Run{
		Network:    network.New(clusters.Samples()),
		Clusters:   clusters,
		References: refs,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
