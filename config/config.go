// Package config loads the YAML configuration of a queuemux host.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miladsoleymani/queuemux/broker"
	"github.com/miladsoleymani/queuemux/core"
)

// Config holds the configuration of a bus and the infrastructure around it.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Bus     BusConfig     `yaml:"bus"`
	Groups  []GroupConfig `yaml:"groups"`
	Lock    LockConfig    `yaml:"lock"`
	Backoff BackoffConfig `yaml:"backoff"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// BusConfig holds bus-wide settings.
type BusConfig struct {
	// MaxConcurrentHandlers caps handler runs across every group; 0 disables
	// the cap.
	MaxConcurrentHandlers int           `yaml:"max_concurrent_handlers"`
	SettleTimeout         time.Duration `yaml:"settle_timeout"`
}

// GroupConfig describes one consumer group and its queues.
type GroupConfig struct {
	Name                string          `yaml:"name"`
	ConsumerCount       int             `yaml:"consumer_count"`
	BufferSize          int             `yaml:"buffer_size"`
	MultiplexerCapacity int             `yaml:"multiplexer_capacity"`
	Prefetch            int             `yaml:"prefetch"`
	ReceiveTimeout      time.Duration   `yaml:"receive_timeout"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	Queues              []QueueConfig   `yaml:"queues"`
}

// RateLimitConfig selects the limiter of a group.
type RateLimitConfig struct {
	// Kind is "", "token_bucket" or "smooth". Empty disables rate limiting.
	Kind string `yaml:"kind"`

	// Capacity is the token bucket size, or the smooth limiter burst.
	Capacity int `yaml:"capacity"`

	// Interval is the token bucket refill period.
	Interval time.Duration `yaml:"interval"`

	// Rate is the smooth limiter rate in events per second.
	Rate float64 `yaml:"rate"`
}

// QueueConfig describes one queue and the broker serving it.
type QueueConfig struct {
	Name              string         `yaml:"name"`
	Broker            string         `yaml:"broker"` // memory, nats, rabbitmq, kafka
	Brokers           []string       `yaml:"brokers"`
	Group             string         `yaml:"group"`
	VisibilityTimeout time.Duration  `yaml:"visibility_timeout"`
	Extra             map[string]any `yaml:"extra"`
}

// LockConfig selects the exactly-once lock provider.
type LockConfig struct {
	Provider    string        `yaml:"provider"` // memory, badger, etcd
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Dir         string        `yaml:"dir"`
	InMemory    bool          `yaml:"in_memory"`
	TTL         time.Duration `yaml:"ttl"`
	Prefix      string        `yaml:"prefix"`
}

// BackoffConfig holds the exponential backoff applied to failed messages.
type BackoffConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// MetricsConfig toggles OpenTelemetry instrumentation.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Tracing bool `yaml:"tracing"`
}

// Default returns a configuration with default values and no groups.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Bus: BusConfig{
			SettleTimeout: core.DefaultSettleTimeout,
		},
		Lock: LockConfig{
			Provider:    "memory",
			DialTimeout: 5 * time.Second,
			TTL:         30 * time.Second,
		},
		Backoff: BackoffConfig{
			Enabled:    true,
			Initial:    time.Second,
			Max:        15 * time.Minute,
			Multiplier: 2,
		},
	}
}

// Load reads configuration from a YAML file. An empty filename or a missing
// file yields Default.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Bus.MaxConcurrentHandlers < 0 {
		return fmt.Errorf("bus.max_concurrent_handlers cannot be negative")
	}
	if c.Bus.SettleTimeout < 0 {
		return fmt.Errorf("bus.settle_timeout cannot be negative")
	}

	seen := make(map[string]bool, len(c.Groups))
	for i, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("groups[%d].name cannot be empty", i)
		}
		if seen[g.Name] {
			return fmt.Errorf("groups[%d].name %q is used twice", i, g.Name)
		}
		seen[g.Name] = true
		if err := g.validate(); err != nil {
			return fmt.Errorf("groups[%d] (%s): %w", i, g.Name, err)
		}
	}

	switch c.Lock.Provider {
	case "", "memory":
	case "badger":
		if c.Lock.Dir == "" && !c.Lock.InMemory {
			return fmt.Errorf("lock.dir required for the badger provider unless lock.in_memory is set")
		}
	case "etcd":
		if len(c.Lock.Endpoints) == 0 {
			return fmt.Errorf("lock.endpoints required for the etcd provider")
		}
	default:
		return fmt.Errorf("lock.provider must be one of: memory, badger, etcd")
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}

	if c.Backoff.Enabled {
		if c.Backoff.Initial <= 0 {
			return fmt.Errorf("backoff.initial must be positive")
		}
		if c.Backoff.Max < c.Backoff.Initial {
			return fmt.Errorf("backoff.max cannot be less than backoff.initial")
		}
		if c.Backoff.Multiplier < 1 {
			return fmt.Errorf("backoff.multiplier must be at least 1")
		}
	}

	return nil
}

func (g GroupConfig) validate() error {
	if g.ConsumerCount < 0 {
		return fmt.Errorf("consumer_count cannot be negative")
	}
	if g.BufferSize < 0 || g.MultiplexerCapacity < 0 || g.Prefetch < 0 {
		return fmt.Errorf("buffer_size, multiplexer_capacity and prefetch cannot be negative")
	}
	if len(g.Queues) == 0 {
		return fmt.Errorf("at least one queue is required")
	}
	for i, q := range g.Queues {
		if q.Name == "" {
			return fmt.Errorf("queues[%d].name cannot be empty", i)
		}
		if q.Broker == "" {
			return fmt.Errorf("queues[%d].broker cannot be empty", i)
		}
	}

	switch g.RateLimit.Kind {
	case "":
	case "token_bucket":
		if g.RateLimit.Capacity <= 0 {
			return fmt.Errorf("rate_limit.capacity must be positive")
		}
	case "smooth":
		if g.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate_limit.rate must be positive")
		}
	default:
		return fmt.Errorf("rate_limit.kind must be one of: token_bucket, smooth")
	}
	return nil
}

// Settings converts the group configuration to core.GroupSettings. Zero
// fields keep the defaults; the limiter is left to the caller.
func (g GroupConfig) Settings() core.GroupSettings {
	s := core.DefaultGroupSettings()
	if g.ConsumerCount > 0 {
		s.ConsumerCount = g.ConsumerCount
	}
	if g.BufferSize > 0 {
		s.BufferSize = g.BufferSize
	}
	if g.MultiplexerCapacity > 0 {
		s.MultiplexerCapacity = g.MultiplexerCapacity
	}
	if g.Prefetch > 0 {
		s.Prefetch = g.Prefetch
	}
	if g.ReceiveTimeout > 0 {
		s.ReceiveTimeout = g.ReceiveTimeout
	}
	return s
}

// BrokerConfig converts the queue configuration to broker.Config.
func (q QueueConfig) BrokerConfig() broker.Config {
	return broker.Config{
		Brokers:           q.Brokers,
		Queue:             q.Name,
		Group:             q.Group,
		VisibilityTimeout: q.VisibilityTimeout,
		Extra:             q.Extra,
	}
}

// Strategy returns the configured backoff strategy, or nil when backoff is
// disabled.
func (b BackoffConfig) Strategy() core.BackoffStrategy {
	if !b.Enabled {
		return nil
	}
	return core.ExponentialBackoff{Initial: b.Initial, Max: b.Max, Multiplier: b.Multiplier}
}
