package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/bridge"
	"github.com/ahrav/go-discover/internal/config"
	"github.com/ahrav/go-discover/internal/finalizer"
	"github.com/ahrav/go-discover/internal/orchestrator"
	"github.com/ahrav/go-discover/internal/scoring"
	"github.com/ahrav/go-discover/internal/tracker"
	"github.com/ahrav/go-discover/internal/worker"
	"github.com/ahrav/go-discover/pkg/events"
)

// core is the orchestrator side of the system: store, registry, finalizer
// and, when a fleet is configured, the bridge.
type core struct {
	store     *tracker.Store
	registry  *agents.Registry
	finalizer *finalizer.Finalizer
	orch      *orchestrator.Orchestrator
	bridge    *bridge.Client
	verifier  *bridge.Verifier
	sink      events.EventSink
	closers   []func()
}

func (c *core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func loadRegistry(path string) (*agents.Registry, error) {
	if path == "" {
		return agents.DefaultRegistry(), nil
	}
	return agents.LoadRegistryFile(path)
}

func eventSink(cfg *config.Config) (events.EventSink, func(), error) {
	return worker.InitializeEventSink(worker.SinkConfig{
		Sinks:         cfg.Events.Sinks,
		NATSURL:       cfg.Events.NATSURL,
		SubjectPrefix: cfg.Events.SubjectPrefix,
		RedisURL:      cfg.Events.RedisURL,
		RedisChannel:  cfg.Events.RedisChannel,
	})
}

func openCore(ctx context.Context, cfg *config.Config) (_ *core, err error) {
	c := &core{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.registry, err = loadRegistry(cfg.Server.TiersFile); err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}
	if c.store, err = tracker.Open(ctx, cfg.Store.Path); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() { _ = c.store.Close() })

	sink, closeSink, err := eventSink(cfg)
	if err != nil {
		return nil, err
	}
	c.sink = sink
	c.closers = append(c.closers, closeSink)
	publisher := events.NewPublisher(sink, cfg.Events.Source)

	c.finalizer = finalizer.New(c.store, c.registry, scoring.NewEngine(),
		finalizer.WithDeadline(cfg.Finalizer.Deadline),
		finalizer.WithEvents(publisher))

	// Interfaces stay nil without a fleet so dispatch reports it.
	var (
		br     orchestrator.Bridge
		signer orchestrator.TokenSigner
	)
	if cfg.RemoteEnabled() {
		tokenOpts := []bridge.TokenOption{
			bridge.WithIssuer(cfg.Bridge.Issuer),
			bridge.WithTokenTTL(cfg.Bridge.TokenTTL),
		}
		s, err := bridge.NewSigner(cfg.Bridge.TokenSecret, tokenOpts...)
		if err != nil {
			return nil, err
		}
		if c.verifier, err = bridge.NewVerifier(cfg.Bridge.TokenSecret, tokenOpts...); err != nil {
			return nil, err
		}
		c.bridge = bridge.NewClient(cfg.Bridge.FleetURL,
			bridge.WithHTTPClient(&http.Client{Timeout: cfg.Bridge.Timeout}),
			bridge.WithAPIKey(cfg.Bridge.APIKey))
		br, signer = c.bridge, s
	} else {
		slog.Warn("remote fleet not configured; remote agents will fail at dispatch")
	}

	local := agents.NewLocalAgents(&http.Client{Timeout: cfg.Orchestrator.FetchTimeout})
	c.orch = orchestrator.New(c.store, c.registry, local, br, signer, orchestrator.Config{
		CallbackURL:      cfg.CallbackURL(),
		LocalConcurrency: cfg.Orchestrator.LocalConcurrency,
		LocalTimeout:     cfg.Orchestrator.LocalTimeout,
	},
		orchestrator.WithEvents(publisher),
		orchestrator.WithFinalizer(c.finalizer))
	return c, nil
}

// serveHTTP runs srv until ctx ends, then shuts it down within grace.
func serveHTTP(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
