// Package config provides server configuration loading.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wrannaman/agentdo/ratelimit"
)

// Config holds everything the server needs to start.
type Config struct {
	Server ServerConfig `toml:"server"`
	Store  StoreConfig  `toml:"store"`
	Log    LogConfig    `toml:"log"`
	Poll   PollConfig   `toml:"poll"`
	Limits LimitsConfig `toml:"limits"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `toml:"addr"`

	// ReadTimeoutSeconds bounds request reads. Write timeouts are derived
	// from the poll cap, since long polls hold the response open.
	ReadTimeoutSeconds int `toml:"read_timeout_seconds"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `toml:"backend"`

	// Path is the SQLite database file. Ignored for memory.
	Path string `toml:"path"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`
}

// PollConfig overrides the long-poll cadence.
type PollConfig struct {
	// TimeoutSeconds is the default wait when a client sends none.
	TimeoutSeconds int `toml:"timeout_seconds"`

	// MaxWaitSeconds is the hard cap on any single wait.
	MaxWaitSeconds int `toml:"max_wait_seconds"`

	// IntervalSeconds is the probe cadence.
	IntervalSeconds int `toml:"interval_seconds"`
}

// LimitsConfig overrides individual rate-limit policies. A zero entry
// leaves the stock policy in place.
type LimitsConfig struct {
	KeyMint    LimitConfig `toml:"key_mint"`
	TaskCreate LimitConfig `toml:"task_create"`
	TaskAction LimitConfig `toml:"task_action"`
	Read       LimitConfig `toml:"read"`
	Poll       LimitConfig `toml:"poll"`
}

// LimitConfig is one policy override.
type LimitConfig struct {
	// Limit is the number of actions per window.
	Limit int `toml:"limit"`

	// WindowSeconds is the counting period.
	WindowSeconds int `toml:"window_seconds"`
}

// New creates a config with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8080",
			ReadTimeoutSeconds: 30,
		},
		Store: StoreConfig{
			Backend: "memory",
			Path:    "agentdo.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Poll: PollConfig{
			TimeoutSeconds:  8,
			MaxWaitSeconds:  25,
			IntervalSeconds: 2,
		},
	}
}

// LoadFile loads a config from a TOML file, applied over the defaults.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse parses a config from TOML content, applied over the defaults.
func Parse(content string) (*Config, error) {
	cfg := New()
	if _, err := toml.Decode(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (want memory or sqlite)", c.Store.Backend)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Poll.MaxWaitSeconds > 0 && c.Poll.TimeoutSeconds > c.Poll.MaxWaitSeconds {
		return fmt.Errorf("poll.timeout_seconds cannot exceed poll.max_wait_seconds")
	}

	for name, l := range map[string]LimitConfig{
		"key_mint":    c.Limits.KeyMint,
		"task_create": c.Limits.TaskCreate,
		"task_action": c.Limits.TaskAction,
		"read":        c.Limits.Read,
		"poll":        c.Limits.Poll,
	} {
		if l.Limit < 0 || l.WindowSeconds < 0 {
			return fmt.Errorf("limits.%s cannot be negative", name)
		}
		if (l.Limit > 0) != (l.WindowSeconds > 0) {
			return fmt.Errorf("limits.%s needs both limit and window_seconds", name)
		}
	}
	return nil
}

// ReadTimeout returns the request read bound as a duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

// PollTimeout returns the default poll wait as a duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Poll.TimeoutSeconds) * time.Second
}

// PollMaxWait returns the poll cap as a duration.
func (c *Config) PollMaxWait() time.Duration {
	return time.Duration(c.Poll.MaxWaitSeconds) * time.Second
}

// PollInterval returns the probe cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// Policies returns the rate-limit policy set with any overrides applied.
func (c *Config) Policies() ratelimit.PolicySet {
	set := ratelimit.DefaultPolicies()
	apply(&set.KeyMint, c.Limits.KeyMint)
	apply(&set.TaskCreate, c.Limits.TaskCreate)
	apply(&set.TaskAction, c.Limits.TaskAction)
	apply(&set.Read, c.Limits.Read)
	apply(&set.Poll, c.Limits.Poll)
	return set
}

func apply(p *ratelimit.Policy, override LimitConfig) {
	if override.Limit > 0 && override.WindowSeconds > 0 {
		p.Limit = override.Limit
		p.Window = time.Duration(override.WindowSeconds) * time.Second
	}
}
