package cli

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-discover/internal/worker"
	"github.com/ahrav/go-discover/internal/workflow"
)

func newSweeperCommand(opts *rootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sweeper",
		Short: "Run the durable finalization sweep on Temporal",
		Long: `Registers the sweep workflow and activities on the configured task queue and
keeps the sweep workflow running. With --once, performs a single sweep
directly against the store and prints the report.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := openCore(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			if once {
				report, err := c.finalizer.Sweep(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			return worker.Run(ctx, worker.Config{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
				TaskQueue: cfg.Temporal.TaskQueue,
			}, workflow.SweepWorkflowInput{Interval: cfg.Finalizer.SweepInterval}, c.finalizer, c.sink, cfg.Events.Source)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Sweep once in-process and exit")
	return cmd
}
