package commands

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyxk8160/mathtag/internal/config"
	"github.com/tyxk8160/mathtag/internal/logging"
)

// BuildInfo carries version details set at link time
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// globals holds state shared by all subcommands after flag parsing
type globals struct {
	configPath string
	logLevel   string
	dev        bool

	config *config.Config
	logger *zap.Logger
}

// NewRootCommand builds the mathtag command tree
func NewRootCommand(info BuildInfo) *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "mathtag",
		Short: "Rewrite $...$ and $$...$$ math in HTML into math elements",
		Long: `mathtag scans HTML text for dollar-delimited math and replaces it with
inline and block math elements for client-side rendering. Text inside code
and pre elements is left alone.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.logger != nil {
				g.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.ConfigFileName, "config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&g.dev, "dev", false, "development logging")

	root.AddCommand(
		newRewriteCommand(g),
		newBuildCommand(g),
		newServeCommand(g),
		newConfigCommand(g),
		newVersionCommand(info),
	)
	return root
}

func (g *globals) load() error {
	cfg, err := config.LoadConfig(g.configPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.dev {
		cfg.Log.Development = true
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}

	g.config = cfg
	g.logger = logger
	return nil
}

func newVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Version needs no config or logger
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mathtag version %s\n", info.Version)

			bi, ok := debug.ReadBuildInfo()
			if !ok {
				return
			}

			var vcsRevision, vcsTime, vcsModified string
			for _, setting := range bi.Settings {
				switch setting.Key {
				case "vcs.revision":
					vcsRevision = setting.Value
				case "vcs.time":
					vcsTime = setting.Value
				case "vcs.modified":
					vcsModified = setting.Value
				}
			}

			if info.Commit != "" && info.Commit != "unknown" {
				fmt.Fprintf(out, "commit: %s\n", info.Commit)
			} else if vcsRevision != "" {
				if len(vcsRevision) > 12 {
					vcsRevision = vcsRevision[:12]
				}
				fmt.Fprintf(out, "commit: %s\n", vcsRevision)
			}

			if info.Date != "" && info.Date != "unknown" {
				fmt.Fprintf(out, "built: %s\n", info.Date)
			} else if vcsTime != "" {
				if t, err := time.Parse(time.RFC3339, vcsTime); err == nil {
					fmt.Fprintf(out, "commit date: %s\n", t.Format("2006-01-02 15:04:05 MST"))
				}
			}

			if vcsModified == "true" {
				fmt.Fprintln(out, "modified: true (uncommitted changes)")
			}

			fmt.Fprintf(out, "go: %s\n", bi.GoVersion)
		},
	}
}
