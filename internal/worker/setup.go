package worker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-discover/internal/llm"
	"github.com/ahrav/go-discover/internal/llm/configuration"
	"github.com/ahrav/go-discover/pkg/events"
)

// InitializeLLMClient builds the probe client. rdb may be nil; when set it
// backs the response cache and the global rate limiter.
func InitializeLLMClient(ctx context.Context, cfg *configuration.Config, rdb redis.UniversalClient) (llm.Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	var opts []llm.Option
	if rdb != nil {
		opts = append(opts, llm.WithRedis(rdb))
	}
	c, err := llm.NewClient(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return c, nil
}

// SinkConfig selects lifecycle event sinks.
type SinkConfig struct {
	Sinks         []string
	NATSURL       string
	SubjectPrefix string
	RedisURL      string
	RedisChannel  string
}

// InitializeEventSink connects every configured sink. The returned close
// function releases their connections. No sinks yields a no-op sink.
func InitializeEventSink(cfg SinkConfig) (events.EventSink, func(), error) {
	var (
		fanout  events.FanoutSink
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, name := range cfg.Sinks {
		switch name {
		case "nats":
			s, err := events.NewNATSSink(cfg.NATSURL, cfg.SubjectPrefix)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("nats event sink: %w", err)
			}
			fanout = append(fanout, s)
			closers = append(closers, func() { _ = s.Close() })
		case "redis":
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("redis event sink: %w", err)
			}
			rdb := redis.NewClient(opts)
			fanout = append(fanout, events.NewRedisSink(rdb, cfg.RedisChannel))
			closers = append(closers, func() { _ = rdb.Close() })
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown event sink %q", name)
		}
	}

	switch len(fanout) {
	case 0:
		return events.NewNoOpEventSink(), func() {}, nil
	case 1:
		return fanout[0], closeAll, nil
	default:
		return fanout, closeAll, nil
	}
}
