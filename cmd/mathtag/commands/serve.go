package commands

import (
	"github.com/spf13/cobra"

	"github.com/tyxk8160/mathtag"
	"github.com/tyxk8160/mathtag/internal/build"
	"github.com/tyxk8160/mathtag/internal/metrics"
	"github.com/tyxk8160/mathtag/internal/server"
	"github.com/tyxk8160/mathtag/internal/watch"
)

func newServeCommand(g *globals) *cobra.Command {
	var (
		addr     string
		noReload bool
	)

	cmd := &cobra.Command{
		Use:   "serve [root]",
		Short: "Serve a directory with math rewritten on every page load",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.config
			root := cfg.Serve.Root
			if len(args) == 1 {
				root = args[0]
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Serve.Addr
			}

			s := server.New(mathtag.New(cfg.Options(g.logger)...), server.Config{
				Root:           root,
				Metrics:        metrics.NewCollector(),
				Logger:         g.logger,
				ReloadDisabled: noReload,
			})

			if !noReload {
				w, err := watch.New(root, s.Notify, watch.WithFilter(build.IsHTML), watch.WithLogger(g.logger))
				if err != nil {
					return err
				}
				if err := w.Start(cmd.Context()); err != nil {
					return err
				}
				defer w.Stop()
			}

			cmd.PrintErrf("%s  %s\n", titleStyle.Render("serving"), valueStyle.Render("http://"+addr))
			return s.ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:8080", "listen address (overrides config)")
	cmd.Flags().BoolVar(&noReload, "no-reload", false, "disable file watching and live reload")
	return cmd
}
