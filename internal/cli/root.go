// Package cli builds the discover command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-discover/internal/config"
)

// VersionInfo is stamped at build time.
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

type rootOptions struct {
	cfgFile string
	verbose bool
	cfg     *config.Config
}

// NewRootCommand returns the discover CLI.
func NewRootCommand(info VersionInfo) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "discover",
		Short:         "AI discoverability evaluation engine",
		Long:          `discover measures how visible a brand is to AI assistants and scores it across a fixed dimension taxonomy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return opts.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "Path to configuration file (e.g. config/discover.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newServeCommand(opts),
		newFleetCommand(opts),
		newSweeperCommand(opts),
		newEvaluateCommand(opts),
		newVersionCommand(info),
	)
	return root
}

func (o *rootOptions) load(logOut io.Writer) error {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return err
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	cfg.Logging.Install(logOut)
	if o.cfgFile != "" {
		slog.Debug("using config file", "path", o.cfgFile)
	}
	o.cfg = cfg
	return nil
}

func newVersionCommand(info VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "discover\n")
			fmt.Fprintf(out, "  Version:    %s\n", info.Version)
			fmt.Fprintf(out, "  Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  Built:      %s\n", info.Date)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
