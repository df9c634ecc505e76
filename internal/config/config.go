// Package config loads the gateway configuration: defaults, then an
// optional YAML or JSON file, then environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pavankpdev/rate-limiting-implementation/internal/counter"
	"github.com/pavankpdev/rate-limiting-implementation/internal/limiter"
)

// Config is the top-level configuration for one gateway process.
type Config struct {
	Server  ServerConfig
	Limiter LimiterConfig
	Tiers   TiersConfig
	Pool    PoolConfig
	Chat    ChatConfig
	Counter CounterConfig
	Users   map[string]string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string
}

// LimiterConfig selects the rate-limit algorithm.
type LimiterConfig struct {
	Algorithm limiter.Algorithm
}

// TierConfig is one rate-limit profile.
type TierConfig struct {
	Capacity int
	Window   time.Duration
}

// Tier converts the profile to the limiter's tier type.
func (t TierConfig) Tier(name string) limiter.Tier {
	return limiter.Tier{Name: name, Capacity: t.Capacity, Window: t.Window}
}

// TiersConfig maps authentication status to a tier.
type TiersConfig struct {
	Authenticated TierConfig
	Guest         TierConfig
}

// PoolConfig sizes the worker pool and the deadline both admission flows
// race against.
type PoolConfig struct {
	Concurrency    int
	MaxQueueSize   int
	RequestTimeout time.Duration
}

// ChatConfig bounds the simulated response delay.
type ChatConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

// CounterConfig selects and tunes the counter store backend.
type CounterConfig struct {
	Backend string
	Memory  MemoryConfig
	Redis   counter.RedisConfig
}

// MemoryConfig tunes the in-memory backend.
type MemoryConfig struct {
	CleanupInterval time.Duration
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Limiter: LimiterConfig{
			Algorithm: limiter.AlgorithmFixedWindow,
		},
		Tiers: TiersConfig{
			Authenticated: TierConfig{Capacity: 10, Window: time.Minute},
			Guest:         TierConfig{Capacity: 3, Window: time.Minute},
		},
		Pool: PoolConfig{
			Concurrency:    4,
			MaxQueueSize:   8,
			RequestTimeout: 10 * time.Second,
		},
		Chat: ChatConfig{
			MinDelay: 2 * time.Second,
			MaxDelay: 3 * time.Second,
		},
		Counter: CounterConfig{
			Backend: BackendMemory,
			Memory:  MemoryConfig{CleanupInterval: time.Minute},
			Redis: counter.RedisConfig{
				Addr:        "localhost:6379",
				PoolSize:    20,
				MaxRetries:  3,
				DialTimeout: 5 * time.Second,
			},
		},
	}
}

// Load assembles the effective configuration: defaults, the file at path
// if given, then environment overrides (a .env file is honored).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = LoadFile(path)
		if err != nil {
			return cfg, err
		}
	}
	_ = godotenv.Load()
	applyEnv(&cfg)
	return cfg, nil
}

// LoadFile reads a YAML or JSON config file, selected by extension, and
// merges it over the defaults. Fields not present keep their defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var raw rawConfig
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension %q, use .yaml, .yml or .json", ext)
	}

	if err := raw.mergeInto(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers recognized environment variables over cfg.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("RATELIMITD_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("RATELIMITD_REDIS_ADDR")); v != "" {
		cfg.Counter.Redis.Addr = v
	}
	if v := os.Getenv("RATELIMITD_REDIS_PASSWORD"); v != "" {
		cfg.Counter.Redis.Password = v
	}
}

// Validate checks that the config can actually run.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	if _, err := limiter.ParseAlgorithm(string(c.Limiter.Algorithm)); err != nil {
		return err
	}
	if err := validateTier("authenticated", c.Tiers.Authenticated); err != nil {
		return err
	}
	if err := validateTier("guest", c.Tiers.Guest); err != nil {
		return err
	}
	if c.Pool.Concurrency <= 0 {
		return fmt.Errorf("pool concurrency must be positive, got %d", c.Pool.Concurrency)
	}
	if c.Pool.MaxQueueSize <= 0 {
		return fmt.Errorf("pool max_queue_size must be positive, got %d", c.Pool.MaxQueueSize)
	}
	if c.Pool.RequestTimeout <= 0 {
		return fmt.Errorf("pool request_timeout must be positive, got %s", c.Pool.RequestTimeout)
	}
	if c.Chat.MinDelay < 0 {
		return fmt.Errorf("chat min_delay must not be negative, got %s", c.Chat.MinDelay)
	}
	if c.Chat.MaxDelay < c.Chat.MinDelay {
		return fmt.Errorf("chat max_delay %s is shorter than min_delay %s", c.Chat.MaxDelay, c.Chat.MinDelay)
	}
	switch c.Counter.Backend {
	case BackendMemory:
		if c.Counter.Memory.CleanupInterval <= 0 {
			return fmt.Errorf("counter memory cleanup_interval must be positive, got %s", c.Counter.Memory.CleanupInterval)
		}
	case BackendRedis:
		if c.Counter.Redis.Addr == "" {
			return fmt.Errorf("counter redis addr must not be empty")
		}
	default:
		return fmt.Errorf("unknown counter backend %q, must be one of: memory, redis", c.Counter.Backend)
	}
	return nil
}

func validateTier(name string, t TierConfig) error {
	if t.Capacity <= 0 {
		return fmt.Errorf("%s tier capacity must be positive, got %d", name, t.Capacity)
	}
	if t.Window <= 0 {
		return fmt.Errorf("%s tier window must be positive, got %s", name, t.Window)
	}
	return nil
}

// rawConfig is the file-friendly representation with string durations.
type rawConfig struct {
	Server struct {
		Addr string `json:"addr" yaml:"addr"`
	} `json:"server" yaml:"server"`
	Limiter struct {
		Algorithm string `json:"algorithm" yaml:"algorithm"`
	} `json:"limiter" yaml:"limiter"`
	Tiers struct {
		Authenticated rawTier `json:"authenticated" yaml:"authenticated"`
		Guest         rawTier `json:"guest" yaml:"guest"`
	} `json:"tiers" yaml:"tiers"`
	Pool struct {
		Concurrency    int    `json:"concurrency" yaml:"concurrency"`
		MaxQueueSize   int    `json:"max_queue_size" yaml:"max_queue_size"`
		RequestTimeout string `json:"request_timeout" yaml:"request_timeout"`
	} `json:"pool" yaml:"pool"`
	Chat struct {
		MinDelay string `json:"min_delay" yaml:"min_delay"`
		MaxDelay string `json:"max_delay" yaml:"max_delay"`
	} `json:"chat" yaml:"chat"`
	Counter struct {
		Backend string `json:"backend" yaml:"backend"`
		Memory  struct {
			CleanupInterval string `json:"cleanup_interval" yaml:"cleanup_interval"`
		} `json:"memory" yaml:"memory"`
		Redis struct {
			Addr        string `json:"addr" yaml:"addr"`
			Password    string `json:"password" yaml:"password"`
			DB          int    `json:"db" yaml:"db"`
			PoolSize    int    `json:"pool_size" yaml:"pool_size"`
			MaxRetries  int    `json:"max_retries" yaml:"max_retries"`
			DialTimeout string `json:"dial_timeout" yaml:"dial_timeout"`
		} `json:"redis" yaml:"redis"`
	} `json:"counter" yaml:"counter"`
	Users map[string]string `json:"users" yaml:"users"`
}

type rawTier struct {
	Capacity int    `json:"capacity" yaml:"capacity"`
	Window   string `json:"window" yaml:"window"`
}

func (raw rawConfig) mergeInto(cfg *Config) error {
	if raw.Server.Addr != "" {
		cfg.Server.Addr = raw.Server.Addr
	}
	if raw.Limiter.Algorithm != "" {
		cfg.Limiter.Algorithm = limiter.Algorithm(raw.Limiter.Algorithm)
	}
	if err := mergeTier(&cfg.Tiers.Authenticated, raw.Tiers.Authenticated, "tiers.authenticated"); err != nil {
		return err
	}
	if err := mergeTier(&cfg.Tiers.Guest, raw.Tiers.Guest, "tiers.guest"); err != nil {
		return err
	}
	if raw.Pool.Concurrency > 0 {
		cfg.Pool.Concurrency = raw.Pool.Concurrency
	}
	if raw.Pool.MaxQueueSize > 0 {
		cfg.Pool.MaxQueueSize = raw.Pool.MaxQueueSize
	}
	if err := mergeDuration(&cfg.Pool.RequestTimeout, raw.Pool.RequestTimeout, "pool.request_timeout"); err != nil {
		return err
	}
	if err := mergeDuration(&cfg.Chat.MinDelay, raw.Chat.MinDelay, "chat.min_delay"); err != nil {
		return err
	}
	if err := mergeDuration(&cfg.Chat.MaxDelay, raw.Chat.MaxDelay, "chat.max_delay"); err != nil {
		return err
	}
	if raw.Counter.Backend != "" {
		cfg.Counter.Backend = raw.Counter.Backend
	}
	if err := mergeDuration(&cfg.Counter.Memory.CleanupInterval, raw.Counter.Memory.CleanupInterval, "counter.memory.cleanup_interval"); err != nil {
		return err
	}
	if raw.Counter.Redis.Addr != "" {
		cfg.Counter.Redis.Addr = raw.Counter.Redis.Addr
	}
	if raw.Counter.Redis.Password != "" {
		cfg.Counter.Redis.Password = raw.Counter.Redis.Password
	}
	if raw.Counter.Redis.DB != 0 {
		cfg.Counter.Redis.DB = raw.Counter.Redis.DB
	}
	if raw.Counter.Redis.PoolSize > 0 {
		cfg.Counter.Redis.PoolSize = raw.Counter.Redis.PoolSize
	}
	if raw.Counter.Redis.MaxRetries > 0 {
		cfg.Counter.Redis.MaxRetries = raw.Counter.Redis.MaxRetries
	}
	if err := mergeDuration(&cfg.Counter.Redis.DialTimeout, raw.Counter.Redis.DialTimeout, "counter.redis.dial_timeout"); err != nil {
		return err
	}
	if len(raw.Users) > 0 {
		cfg.Users = raw.Users
	}
	return nil
}

func mergeTier(dst *TierConfig, raw rawTier, field string) error {
	if raw.Capacity > 0 {
		dst.Capacity = raw.Capacity
	}
	return mergeDuration(&dst.Window, raw.Window, field+".window")
}

func mergeDuration(dst *time.Duration, s, field string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", field, err)
	}
	*dst = d
	return nil
}

// WriteExample writes a commented example config to the given path.
func WriteExample(path string) error {
	example := `server:
  addr: ":8080"

limiter:
  # fixed_window | sliding_window | token_bucket
  algorithm: fixed_window

tiers:
  authenticated:
    capacity: 10
    window: 1m
  guest:
    capacity: 3
    window: 1m

pool:
  concurrency: 4
  max_queue_size: 8
  request_timeout: 10s

chat:
  min_delay: 2s
  max_delay: 3s

counter:
  # memory | redis
  backend: memory
  memory:
    cleanup_interval: 1m
  redis:
    addr: "localhost:6379"
    password: ""
    db: 0
    pool_size: 20
    max_retries: 3
    dial_timeout: 5s

users:
  alice: "s3cret"
`
	return os.WriteFile(path, []byte(example), 0o644)
}
