// Package config holds the runtime's Config struct and its three-layer
// load order: built-in defaults, then environment variables, then
// functional options (highest priority) -- the same layering and env-tag
// style the teacher framework uses for its own Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config collects every tunable named in spec.md §6.
type Config struct {
	MaxConcurrentTasks int           `json:"max_concurrent_tasks" env:"ORCH_MAX_CONCURRENT_TASKS" default:"8"`
	TaskTimeout        time.Duration `json:"task_timeout" env:"ORCH_TASK_TIMEOUT" default:"5m"`
	AgentTimeout       time.Duration `json:"agent_timeout" env:"ORCH_AGENT_TIMEOUT" default:"30s"`
	HeartbeatInterval  time.Duration `json:"heartbeat_interval" env:"ORCH_HEARTBEAT_INTERVAL" default:"10s"`
	MaxQueueSize       int           `json:"max_queue_size" env:"ORCH_MAX_QUEUE_SIZE" default:"1000"`
	AllocationTimeout  time.Duration `json:"allocation_timeout" env:"ORCH_ALLOCATION_TIMEOUT" default:"15s"`
	QualityThreshold   float64       `json:"quality_threshold" env:"ORCH_QUALITY_THRESHOLD" default:"1.0"`
	AutoArchiveComplete bool         `json:"auto_archive_completed" env:"ORCH_AUTO_ARCHIVE_COMPLETED" default:"true"`

	Reliability ReliabilityConfig `json:"reliability"`
	Resources   ResourcesConfig   `json:"resources"`
}

// ReliabilityConfig governs the Transport's reliability tracker.
type ReliabilityConfig struct {
	MaxRetries            int           `json:"max_retries" env:"ORCH_RELIABILITY_MAX_RETRIES" default:"3"`
	AckTimeout             time.Duration `json:"ack_timeout" env:"ORCH_RELIABILITY_ACK_TIMEOUT" default:"5s"`
	RetryDelay             time.Duration `json:"retry_delay" env:"ORCH_RELIABILITY_RETRY_DELAY" default:"500ms"`
	CheckInterval          time.Duration `json:"check_interval" env:"ORCH_RELIABILITY_CHECK_INTERVAL" default:"5s"`
}

// ResourcesConfig caps handed to an external ResourceAllocator collaborator.
// The core never enforces these itself -- it only carries the values
// through so a collaborator can read them (spec §6). LoadFromEnv does not
// read the ORCH_RESOURCES_* variables named in the env tags; these values
// come from defaults or a config file only.
type ResourcesConfig struct {
	CPU     float64 `json:"cpu" env:"ORCH_RESOURCES_CPU" default:"4"`
	Agent   int     `json:"agent" env:"ORCH_RESOURCES_AGENT" default:"10"`
	Storage int64   `json:"storage" env:"ORCH_RESOURCES_STORAGE" default:"1073741824"`
	Network int64   `json:"network" env:"ORCH_RESOURCES_NETWORK" default:"104857600"`
	Time    time.Duration `json:"time" env:"ORCH_RESOURCES_TIME" default:"1h"`
}

// Option mutates a Config during New; applied after defaults and env,
// so options always win.
type Option func(*Config) error

func Default() *Config {
	return &Config{
		MaxConcurrentTasks:  8,
		TaskTimeout:         5 * time.Minute,
		AgentTimeout:        30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		MaxQueueSize:        1000,
		AllocationTimeout:   15 * time.Second,
		QualityThreshold:    1.0,
		AutoArchiveComplete: true,
		Reliability: ReliabilityConfig{
			MaxRetries:    3,
			AckTimeout:    5 * time.Second,
			RetryDelay:    500 * time.Millisecond,
			CheckInterval: 5 * time.Second,
		},
		Resources: ResourcesConfig{
			CPU:     4,
			Agent:   10,
			Storage: 1 << 30,
			Network: 100 << 20,
			Time:    time.Hour,
		},
	}
}

// LoadFromEnv overlays environment variables onto the current values, only
// touching fields whose env var is actually set.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ORCH_MAX_CONCURRENT_TASKS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ORCH_MAX_CONCURRENT_TASKS: %w", err)
		}
		c.MaxConcurrentTasks = n
	}
	if v := os.Getenv("ORCH_TASK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ORCH_TASK_TIMEOUT: %w", err)
		}
		c.TaskTimeout = d
	}
	if v := os.Getenv("ORCH_AGENT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ORCH_AGENT_TIMEOUT: %w", err)
		}
		c.AgentTimeout = d
	}
	if v := os.Getenv("ORCH_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ORCH_HEARTBEAT_INTERVAL: %w", err)
		}
		c.HeartbeatInterval = d
	}
	if v := os.Getenv("ORCH_MAX_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ORCH_MAX_QUEUE_SIZE: %w", err)
		}
		c.MaxQueueSize = n
	}
	if v := os.Getenv("ORCH_ALLOCATION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ORCH_ALLOCATION_TIMEOUT: %w", err)
		}
		c.AllocationTimeout = d
	}
	if v := os.Getenv("ORCH_QUALITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ORCH_QUALITY_THRESHOLD: %w", err)
		}
		c.QualityThreshold = f
	}
	if v := os.Getenv("ORCH_AUTO_ARCHIVE_COMPLETED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ORCH_AUTO_ARCHIVE_COMPLETED: %w", err)
		}
		c.AutoArchiveComplete = b
	}
	if v := os.Getenv("ORCH_RELIABILITY_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ORCH_RELIABILITY_MAX_RETRIES: %w", err)
		}
		c.Reliability.MaxRetries = n
	}
	if v := os.Getenv("ORCH_RELIABILITY_ACK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ORCH_RELIABILITY_ACK_TIMEOUT: %w", err)
		}
		c.Reliability.AckTimeout = d
	}
	if v := os.Getenv("ORCH_RELIABILITY_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ORCH_RELIABILITY_RETRY_DELAY: %w", err)
		}
		c.Reliability.RetryDelay = d
	}
	if v := os.Getenv("ORCH_RELIABILITY_CHECK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ORCH_RELIABILITY_CHECK_INTERVAL: %w", err)
		}
		c.Reliability.CheckInterval = d
	}
	return nil
}

// LoadFromFile overlays a YAML config file onto the current values.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// New builds a Config: defaults, then env vars, then options (highest
// priority), validated at the end.
func New(opts ...Option) (*Config, error) {
	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that would make the runtime meaningless.
func (c *Config) Validate() error {
	if c.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("max_concurrent_tasks must be > 0")
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be > 0")
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality_threshold must be within [0,1]")
	}
	if c.Reliability.MaxRetries < 0 {
		return fmt.Errorf("reliability.max_retries must be >= 0")
	}
	return nil
}

// WithMaxConcurrentTasks overrides the per-run concurrent task cap.
func WithMaxConcurrentTasks(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("max concurrent tasks must be > 0")
		}
		c.MaxConcurrentTasks = n
		return nil
	}
}

// WithAgentTimeout overrides the per-agent call wall clock.
func WithAgentTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.AgentTimeout = d
		return nil
	}
}

// WithQualityThreshold overrides the minimum completion rate for a run to
// be reported as "completed".
func WithQualityThreshold(f float64) Option {
	return func(c *Config) error {
		if f < 0 || f > 1 {
			return fmt.Errorf("quality threshold must be within [0,1]")
		}
		c.QualityThreshold = f
		return nil
	}
}

// WithMaxQueueSize overrides the Transport's bounded queue size.
func WithMaxQueueSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("max queue size must be > 0")
		}
		c.MaxQueueSize = n
		return nil
	}
}

// WithConfigFile layers a YAML file's contents over the current config.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}
