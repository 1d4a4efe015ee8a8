// Package config loads the service configuration from defaults, an optional
// YAML file, and DISCOVER_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-discover/internal/llm/configuration"
)

// EnvPrefix prefixes every environment override, e.g. DISCOVER_SERVER_ADDR.
const EnvPrefix = "DISCOVER"

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig         `yaml:"server"       mapstructure:"server"`
	Store        StoreConfig          `yaml:"store"        mapstructure:"store"`
	Orchestrator OrchestratorConfig   `yaml:"orchestrator" mapstructure:"orchestrator"`
	Finalizer    FinalizerConfig      `yaml:"finalizer"    mapstructure:"finalizer"`
	Bridge       BridgeConfig         `yaml:"bridge"       mapstructure:"bridge"`
	Fleet        FleetConfig          `yaml:"fleet"        mapstructure:"fleet"`
	Events       EventsConfig         `yaml:"events"       mapstructure:"events"`
	Temporal     TemporalConfig       `yaml:"temporal"     mapstructure:"temporal"`
	Logging      LoggingConfig        `yaml:"logging"      mapstructure:"logging"`
	LLM          configuration.Config `yaml:"llm"          mapstructure:"llm"`
}

// ServerConfig configures the public API.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
	// PublicURL is where the fleet reaches this server; callback URLs are
	// built from it.
	PublicURL   string        `yaml:"public_url"       mapstructure:"public_url"`
	OperatorKey string        `yaml:"-"                mapstructure:"operator_key"`
	TiersFile   string        `yaml:"tiers_file"       mapstructure:"tiers_file"`
	Shutdown    time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// StoreConfig locates the tracker database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// OrchestratorConfig tunes the local pool.
type OrchestratorConfig struct {
	LocalConcurrency int           `yaml:"local_concurrency" mapstructure:"local_concurrency"`
	LocalTimeout     time.Duration `yaml:"local_timeout"     mapstructure:"local_timeout"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"     mapstructure:"fetch_timeout"`
}

// FinalizerConfig tunes finalization.
type FinalizerConfig struct {
	Deadline      time.Duration `yaml:"deadline"       mapstructure:"deadline"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// BridgeConfig points the orchestrator at the fleet and sets callback
// token parameters.
type BridgeConfig struct {
	FleetURL    string        `yaml:"fleet_url"   mapstructure:"fleet_url"`
	APIKey      string        `yaml:"-"           mapstructure:"api_key"`
	Timeout     time.Duration `yaml:"timeout"     mapstructure:"timeout"`
	TokenSecret string        `yaml:"-"           mapstructure:"token_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"   mapstructure:"token_ttl"`
	Issuer      string        `yaml:"issuer"      mapstructure:"issuer"`
}

// FleetConfig configures the reference fleet process.
type FleetConfig struct {
	Addr        string                    `yaml:"addr"          mapstructure:"addr"`
	APIKey      string                    `yaml:"-"             mapstructure:"api_key"`
	Workers     int                       `yaml:"workers"       mapstructure:"workers"`
	PollWait    time.Duration             `yaml:"poll_wait"     mapstructure:"poll_wait"`
	JobTimeout  time.Duration             `yaml:"job_timeout"   mapstructure:"job_timeout"`
	Queue       string                    `yaml:"queue"         mapstructure:"queue"`
	RedisURL    string                    `yaml:"redis_url"     mapstructure:"redis_url"`
	RedisPrefix string                    `yaml:"redis_prefix"  mapstructure:"redis_prefix"`
	Panel       []string                  `yaml:"panel"         mapstructure:"panel"`
	MaxRetries  int                       `yaml:"max_retries"   mapstructure:"max_retries"`
	Callbacks   configuration.RetryConfig `yaml:"callbacks"     mapstructure:"callbacks"`
}

// EventsConfig selects lifecycle event sinks.
type EventsConfig struct {
	// Sinks lists any of "nats" and "redis"; empty disables events.
	Sinks         []string `yaml:"sinks"          mapstructure:"sinks"`
	Source        string   `yaml:"source"         mapstructure:"source"`
	NATSURL       string   `yaml:"nats_url"       mapstructure:"nats_url"`
	SubjectPrefix string   `yaml:"subject_prefix" mapstructure:"subject_prefix"`
	RedisURL      string   `yaml:"redis_url"      mapstructure:"redis_url"`
	RedisChannel  string   `yaml:"redis_channel"  mapstructure:"redis_channel"`
}

// TemporalConfig configures the durable sweep.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"  mapstructure:"host_port"`
	Namespace string `yaml:"namespace"  mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// Configuration errors.
var (
	ErrInvalidQueue = errors.New("fleet queue must be memory or redis")
	ErrInvalidSink  = errors.New("unknown event sink")
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8080",
			PublicURL: "http://localhost:8080",
			Shutdown:  15 * time.Second,
		},
		Store: StoreConfig{Path: "data/discover.db"},
		Orchestrator: OrchestratorConfig{
			LocalConcurrency: 4,
			LocalTimeout:     2 * time.Minute,
			FetchTimeout:     15 * time.Second,
		},
		Finalizer: FinalizerConfig{
			Deadline:      30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Bridge: BridgeConfig{
			Timeout:  10 * time.Second,
			TokenTTL: 2 * time.Hour,
			Issuer:   "go-discover",
		},
		Fleet: FleetConfig{
			Addr:        ":8090",
			Workers:     4,
			PollWait:    2 * time.Second,
			JobTimeout:  10 * time.Minute,
			Queue:       "memory",
			RedisURL:    "redis://127.0.0.1:6379",
			RedisPrefix: "discover:fleet",
			MaxRetries:  2,
			Callbacks: configuration.RetryConfig{
				MaxAttempts:     5,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
				Multiplier:      2,
				UseJitter:       true,
			},
		},
		Events: EventsConfig{
			Source:        "go-discover",
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "discover.events",
			RedisURL:      "redis://127.0.0.1:6379",
			RedisChannel:  "discover:events",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "discover-sweep",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		LLM:     *configuration.DefaultConfig(),
	}
}

// Load builds the configuration. path may be empty. Defaults are seeded
// into viper so every key can be overridden from the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("seed defaults: %w", err)
	}
	// Secrets carry no yaml tag, so they are registered explicitly.
	for _, key := range []string{
		"server.operator_key", "bridge.api_key", "bridge.token_secret", "fleet.api_key",
	} {
		v.SetDefault(key, "")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the services cannot start without.
func (c *Config) Validate() error {
	switch c.Fleet.Queue {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidQueue, c.Fleet.Queue)
	}
	for _, s := range c.Events.Sinks {
		if s != "nats" && s != "redis" {
			return fmt.Errorf("%w: %q", ErrInvalidSink, s)
		}
	}
	if c.Finalizer.Deadline <= 0 {
		return fmt.Errorf("%w: finalizer.deadline must be positive", ErrInvalidValue)
	}
	if c.Bridge.TokenTTL > 0 && c.Bridge.TokenTTL < c.Finalizer.Deadline {
		return fmt.Errorf("%w: bridge.token_ttl must outlive finalizer.deadline", ErrInvalidValue)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return c.LLM.Validate()
}

// CallbackURL is the base the fleet posts callbacks to.
func (c *Config) CallbackURL() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/api/v1/bridge/callbacks"
}

// RemoteEnabled reports whether the orchestrator can reach a fleet.
func (c *Config) RemoteEnabled() bool {
	return c.Bridge.FleetURL != "" && c.Bridge.TokenSecret != ""
}
