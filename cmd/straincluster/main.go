package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dusk-indust/straincluster/internal/assign"
	"github.com/dusk-indust/straincluster/internal/config"
	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/metrics"
	"github.com/dusk-indust/straincluster/internal/network"
	"github.com/dusk-indust/straincluster/internal/pipeline"
)

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand. Values given on the command
// line override the config file.
type globalFlags struct {
	ConfigDir string
	OutDir    string
	Prefix    string
	Threads   int
	Seed      int64
	Verbose   bool
	Distances string
	Remote    string
	Samples   string
	Previous  string
}

// app carries what a subcommand needs after setup.
type app struct {
	flags   globalFlags
	cfg     *config.Config
	log     *logrus.Logger
	metrics *metrics.Collector
	out     io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "straincluster",
		Short:         "Cluster bacterial genomes into strains from pairwise core and accessory distances",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.ConfigDir, "config", ".", "directory holding straincluster.yml")
	pf.StringVar(&a.flags.OutDir, "out", "", "output directory")
	pf.StringVar(&a.flags.Prefix, "prefix", "", "output file prefix (default: base name of the output directory)")
	pf.IntVar(&a.flags.Threads, "threads", 0, "worker count")
	pf.Int64Var(&a.flags.Seed, "seed", 0, "random seed for subsampling and fitting")
	pf.BoolVar(&a.flags.Verbose, "verbose", false, "enable debug logging")
	pf.StringVar(&a.flags.Distances, "distances", "", "distance file (Query, Reference, Core, Accessory)")
	pf.StringVar(&a.flags.Remote, "remote", "", "remote distance service endpoint")
	pf.StringVar(&a.flags.Samples, "samples", "", "file listing the samples to use (default: all)")
	pf.StringVar(&a.flags.Previous, "previous", "", "cluster file of an earlier run, used to keep names stable")

	root.AddCommand(
		newFitCmd(a),
		newRefineCmd(a),
		newThresholdCmd(a),
		newLineageCmd(a),
		newAssignCmd(a),
		newUseModelCmd(a),
		newServeCmd(a),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// setup loads and validates the configuration, applies the flags that were
// set and returns a context carrying the logger.
func (a *app) setup(cmd *cobra.Command) (context.Context, error) {
	cfg, err := config.Load(a.flags.ConfigDir)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd.Flags(), a.flags, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	a.log = logging.New(cmd.ErrOrStderr(), cfg.Verbose)
	a.metrics = metrics.NewCollector("straincluster")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, a.log)
	logging.Logger(ctx).WithFields(logrus.Fields{
		"command": cmd.Name(),
		"out":     cfg.OutDir,
		"threads": cfg.Threads,
	}).Debug("configured")
	return ctx, nil
}

func applyFlags(fs *pflag.FlagSet, f globalFlags, cfg *config.Config) {
	if fs.Changed("out") {
		cfg.OutDir = f.OutDir
	}
	if fs.Changed("prefix") {
		cfg.Prefix = f.Prefix
	}
	if fs.Changed("threads") {
		cfg.Threads = f.Threads
	}
	if fs.Changed("seed") {
		cfg.Seed = f.Seed
	}
	if fs.Changed("verbose") {
		cfg.Verbose = f.Verbose
	}
	if fs.Changed("remote") {
		cfg.Remote.Endpoint = f.Remote
	}
}

// source picks the distance file when given, else the remote service.
func (a *app) source() (dists.Source, error) {
	if a.flags.Distances != "" {
		return &dists.TSVSource{Path: a.flags.Distances}, nil
	}
	if a.cfg.Remote.Endpoint != "" {
		return dists.NewRemoteSource(a.cfg.Remote.Endpoint,
			dists.WithTimeout(a.cfg.Remote.Timeout),
			dists.WithBreakerSettings(dists.DefaultBreakerSettings("straincluster-dists")),
		), nil
	}
	return nil, errors.New("no distances: pass --distances or --remote")
}

// pipeline returns a pipeline reporting assignment progress to the log.
// The returned func stops the reporting.
func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, func()) {
	pr := assign.NewProgressReporter()
	done := make(chan struct{})
	go func() {
		defer close(done)
		log := logging.Logger(ctx)
		for ev := range pr.Subscribe() {
			log.WithField("status", string(ev.Status)).Debug(assign.FormatProgress(ev))
		}
	}()
	p := pipeline.New(a.cfg,
		pipeline.WithMetrics(a.metrics),
		pipeline.WithProgress(pr),
	)
	return p, func() {
		pr.Close()
		<-done
	}
}

// input reads the self comparison of the selected samples.
func (a *app) input(ctx context.Context, src dists.Source) (pipeline.Input, error) {
	var samples []string
	if a.flags.Samples != "" {
		var err error
		if samples, err = pipeline.ReadSampleFile(a.flags.Samples); err != nil {
			return pipeline.Input{}, err
		}
	}
	in, err := pipeline.ReadInput(ctx, src, samples)
	if err != nil {
		return pipeline.Input{}, err
	}
	if in.Previous, err = a.previous(); err != nil {
		return pipeline.Input{}, err
	}
	return in, nil
}

func (a *app) previous() (*network.Clustering, error) {
	if a.flags.Previous == "" {
		return nil, nil
	}
	return pipeline.ReadClusterFile(a.flags.Previous)
}

// report prints a one-paragraph summary of a finished run.
func (a *app) report(res *pipeline.Result) {
	fmt.Fprintf(a.out, "%s: %d samples in %d clusters, %d references, %d edges\n",
		res.Mode, res.Summary.Samples, len(res.Clusters.Clusters()), len(res.References), res.Summary.Edges)
	if res.Mode != pipeline.ModeLineage && res.Mode != pipeline.ModeExtend {
		fmt.Fprintf(a.out, "network score %.4f (density %.4f, transitivity %.4f)\n",
			res.Summary.Score, res.Summary.Density, res.Summary.Transitivity)
	}
	fmt.Fprintf(a.out, "outputs written to %s\n", a.cfg.OutDir)
}
