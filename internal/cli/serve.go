package cli

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-discover/internal/bridge"
	"github.com/ahrav/go-discover/internal/finalizer"
	"github.com/ahrav/go-discover/internal/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		noSweep bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation API and fleet callback endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := openCore(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			srvOpts := []server.Option{server.WithOperatorKey(cfg.Server.OperatorKey)}
			if c.bridge != nil {
				srvOpts = append(srvOpts,
					server.WithQueueStatus(c.bridge),
					server.WithCallbacks(bridge.NewCallbackHandler(c.orch, c.finalizer, c.verifier)))
			}
			api := server.New(c.orch, c.store, c.registry, srvOpts...)

			if !noSweep {
				go func() {
					err := finalizer.NewSweeper(c.finalizer).Run(ctx, cfg.Finalizer.SweepInterval)
					if err != nil && ctx.Err() == nil {
						slog.Error("sweeper stopped", "error", err)
					}
				}()
			}

			slog.Info("api listening", "addr", cfg.Server.Addr, "remote", c.bridge != nil)
			return serveHTTP(ctx, &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}, cfg.Server.Shutdown)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "Disable the in-process finalization sweeper (use the Temporal sweeper instead)")
	return cmd
}

