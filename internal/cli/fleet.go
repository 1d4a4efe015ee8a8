package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-discover/internal/config"
	"github.com/ahrav/go-discover/internal/fleet"
	"github.com/ahrav/go-discover/internal/probe"
	"github.com/ahrav/go-discover/internal/worker"
)

func newFleetCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Run the remote agent fleet: queue API plus probe workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Fleet.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runFleet(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides fleet.addr)")
	return cmd
}

func openQueue(cfg config.FleetConfig) (fleet.Queue, func(), error) {
	if cfg.Queue == "redis" {
		q, err := fleet.NewRedisQueueFromURL(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return q, func() { _ = q.Close() }, nil
	}
	return fleet.NewMemoryQueue(), func() {}, nil
}

func runFleet(ctx context.Context, cfg *config.Config) error {
	queue, closeQueue, err := openQueue(cfg.Fleet)
	if err != nil {
		return err
	}
	defer closeQueue()
	if err := queue.Ping(ctx); err != nil {
		return fmt.Errorf("fleet queue unavailable: %w", err)
	}

	client, err := worker.InitializeLLMClient(ctx, &cfg.LLM, nil)
	if err != nil {
		return err
	}
	harness, err := probe.NewHarness(client, probe.ConfigFromLLM(&cfg.LLM))
	if err != nil {
		return err
	}

	runner := fleet.NewProbeRunner(harness, cfg.Fleet.Panel, cfg.Fleet.MaxRetries)
	callbacks := fleet.NewCallbackClient(&http.Client{Timeout: cfg.Bridge.Timeout}, cfg.Fleet.Callbacks)
	pool := fleet.NewPool(queue, runner, callbacks, fleet.PoolConfig{
		Workers:    cfg.Fleet.Workers,
		PollWait:   cfg.Fleet.PollWait,
		JobTimeout: cfg.Fleet.JobTimeout,
	})
	api := fleet.NewServer(queue, fleet.ServerConfig{
		APIKey:  cfg.Fleet.APIKey,
		Workers: pool.Workers(),
	})

	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(ctx) }()

	slog.Info("fleet listening", "addr", cfg.Fleet.Addr, "queue", cfg.Fleet.Queue, "workers", pool.Workers())
	err = serveHTTP(ctx, &http.Server{
		Addr:              cfg.Fleet.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}, cfg.Server.Shutdown)
	if err != nil {
		return err
	}
	if perr := <-poolDone; perr != nil && ctx.Err() == nil {
		return perr
	}
	return nil
}
