package main

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dusk-indust/straincluster/internal/model"
)

func newFitCmd(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a mixture or density model to the distances and cluster the samples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("model") {
				a.cfg.Fit.Kind = kind
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
			res, err := p.Fit(ctx, in, model.Kind(a.cfg.Fit.Kind))
			if err != nil {
				return err
			}
			a.report(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "model", "", "model to fit: bgmm or dbscan (default from config)")
	return cmd
}

func newRefineCmd(a *app) *cobra.Command {
	var (
		modelDir      string
		modelPrefix   string
		manualStart   string
		indiv         string
		noLocal       bool
		unconstrained bool
		multiBoundary int
	)
	cmd := &cobra.Command{
		Use:   "refine",
		Short: "Move the boundary of a fitted model to maximise the network score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("manual-start") {
				a.cfg.Refine.ManualStart = manualStart
			}
			if fs.Changed("indiv") {
				a.cfg.Refine.Indiv = indiv
			}
			if fs.Changed("no-local") {
				a.cfg.Refine.NoLocal = noLocal
			}
			if fs.Changed("unconstrained") {
				a.cfg.Refine.Unconstrained = unconstrained
			}
			if fs.Changed("multi-boundary") {
				a.cfg.Refine.MultiBoundary = multiBoundary
			}
			if err := a.cfg.Validate(); err != nil {
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

			if modelPrefix == "" {
				modelPrefix = filepath.Base(filepath.Clean(modelDir))
			}
			m, err := model.Load(modelDir, modelPrefix, p.ModelOptions())
			if err != nil {
				return err
			}
			start, ok := m.(model.Starter)
			if !ok {
				return errors.Wrapf(model.ErrConfig, "a %s model cannot start a refinement", m.Kind())
			}
			res, err := p.Refine(ctx, in, start)
			if err != nil {
				return err
			}
			a.report(res)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&modelDir, "model-dir", "", "output directory of the fit to refine")
	fs.StringVar(&modelPrefix, "model-prefix", "", "file prefix of the fit (default: base name of --model-dir)")
	fs.StringVar(&manualStart, "manual-start", "", "file giving the start and end points of the search line")
	fs.StringVar(&indiv, "indiv", "", "also refine on one axis: core, accessory or both")
	fs.BoolVar(&noLocal, "no-local", false, "skip the local optimisation after the line search")
	fs.BoolVar(&unconstrained, "unconstrained", false, "search the core and accessory intercepts independently")
	fs.IntVar(&multiBoundary, "multi-boundary", 0, "also write clusters at this many boundaries up to the refined one")
	_ = cmd.MarkFlagRequired("model-dir")
	return cmd
}

func newThresholdCmd(a *app) *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Cluster on a fixed core distance cut-off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = a.cfg.Refine.Threshold
			}
			if !(threshold > 0) {
				return errors.Wrap(model.ErrConfig, "a positive --threshold is required")
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
			res, err := p.Threshold(ctx, in, threshold)
			if err != nil {
				return err
			}
			a.report(res)
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "core distance below which two samples are in the same strain")
	return cmd
}
