package commands

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyxk8160/mathtag"
	"github.com/tyxk8160/mathtag/internal/build"
	"github.com/tyxk8160/mathtag/internal/cache"
	"github.com/tyxk8160/mathtag/internal/metrics"
	"github.com/tyxk8160/mathtag/internal/watch"
)

func newBuildCommand(g *globals) *cobra.Command {
	var (
		workers int
		noCache bool
		watchFS bool
	)

	cmd := &cobra.Command{
		Use:   "build [input] [output]",
		Short: "Rewrite every HTML file under a directory",
		Long: `Rewrite every .html/.htm file under input. Output mirrors the input tree;
without an output directory files are rewritten in place. Unchanged files are
skipped using the build cache.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.config
			opts := build.Options{
				Input:       cfg.Build.Input,
				Output:      cfg.Build.Output,
				Workers:     cfg.Build.Workers,
				Encoding:    cfg.Encoding,
				Fingerprint: cfg.Fingerprint(),
			}
			if len(args) > 0 {
				opts.Input = args[0]
			}
			if len(args) > 1 {
				opts.Output = args[1]
			}
			if cmd.Flags().Changed("workers") {
				opts.Workers = workers
			}

			var c *cache.Cache
			if cfg.Build.Cache != "" && !noCache {
				var err error
				c, err = cache.Open(cmd.Context(), cfg.Build.Cache)
				if err != nil {
					return err
				}
				defer c.Close()
			}

			collector := metrics.NewCollector()
			b := build.New(mathtag.New(cfg.Options(g.logger)...), c, collector, g.logger)

			report, err := b.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printSummary(cmd.ErrOrStderr(), "build", report.Result,
				pluralize(report.Files, "file"), pluralize(report.Cached, "cached"),
				pluralize(report.Unchanged, "unchanged"))

			if !watchFS {
				return nil
			}
			return watchAndRebuild(cmd, g.logger, b, opts)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "parallel workers (overrides config)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "rewrite every file regardless of the cache")
	cmd.Flags().BoolVar(&watchFS, "watch", false, "keep running and rebuild changed files")
	return cmd
}

func watchAndRebuild(cmd *cobra.Command, logger *zap.Logger, b *build.Builder, opts build.Options) error {
	absOutput := ""
	if opts.Output != "" {
		absOutput, _ = filepath.Abs(opts.Output)
	}

	handler := func(ctx context.Context, paths []string) {
		var rels []string
		for _, p := range paths {
			if absOutput != "" {
				if abs, err := filepath.Abs(p); err == nil && isWithin(abs, absOutput) {
					continue
				}
			}
			rel, err := filepath.Rel(opts.Input, p)
			if err != nil {
				continue
			}
			rels = append(rels, rel)
		}
		if len(rels) == 0 {
			return
		}
		report, err := b.Files(ctx, opts, rels)
		if err != nil {
			logger.Error("rebuild failed", zap.Error(err))
			return
		}
		printSummary(cmd.ErrOrStderr(), "rebuild", report.Result,
			pluralize(report.Files, "file"), pluralize(report.Unchanged, "unchanged"))
	}

	w, err := watch.New(opts.Input, handler, watch.WithFilter(build.IsHTML), watch.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := w.Start(cmd.Context()); err != nil {
		return err
	}
	defer w.Stop()

	<-cmd.Context().Done()
	return nil
}
