// Package config provides configuration loading and management for the
// orchestrator service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete orchestrator configuration.
type Config struct {
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Storage   ObjectStorage   `yaml:"object_storage"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	API       APIConfig       `yaml:"api"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Task      TaskConfig      `yaml:"task"`
}

// NATSConfig configures the broker/persistence connection.
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server).
	URL string `yaml:"url"`
	// Embedded indicates whether to run an in-process NATS server.
	Embedded bool `yaml:"embedded"`
}

// StoreConfig configures the JetStream KeyValue persistence layer.
type StoreConfig struct {
	// BucketPrefix namespaces the KV buckets (JOBS, TASKS, ...) for multi-tenant
	// deployments sharing one NATS account.
	BucketPrefix string `yaml:"bucket_prefix"`
	// RetentionDays is how long terminal jobs are kept before the scheduler's
	// retention GC removes them.
	RetentionDays int `yaml:"retention_days"`
}

// ObjectStorage configures the (out-of-scope) object storage endpoint; the
// core only ever stores the opaque storage_key returned by workers.
type ObjectStorage struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	// JWTSecret is the shared HS256 secret used to verify presented tokens.
	// Token issuance is out of scope for this service.
	JWTSecret string `yaml:"jwt_secret"`
}

// LLMEndpoint names one provider in the planner's fallback chain.
type LLMEndpoint struct {
	Provider string `yaml:"provider"` // anthropic, openai, ollama
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// LLMConfig configures the planner's provider fan-out.
type LLMConfig struct {
	Primary   LLMEndpoint `yaml:"primary"`
	Fallback1 LLMEndpoint `yaml:"fallback1"`
	Fallback2 LLMEndpoint `yaml:"fallback2"`
}

// APIConfig configures the public HTTP API.
type APIConfig struct {
	Port int `yaml:"port"`
}

// SchedulerConfig configures the periodic ticker.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// TaskConfig configures per-task execution limits.
type TaskConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Store: StoreConfig{
			BucketPrefix:  "orchestrator",
			RetentionDays: 7,
		},
		Auth: AuthConfig{
			JWTSecret: "",
		},
		LLM: LLMConfig{
			Primary: LLMEndpoint{Provider: "anthropic", Model: "claude-sonnet-4"},
		},
		API: APIConfig{
			Port: 8080,
		},
		Scheduler: SchedulerConfig{
			TickInterval: 30 * time.Second,
		},
		Task: TaskConfig{
			Timeout:    10 * time.Minute,
			MaxRetries: 3,
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Store.BucketPrefix == "" {
		return fmt.Errorf("store.bucket_prefix is required")
	}
	if c.Store.RetentionDays <= 0 {
		return fmt.Errorf("store.retention_days must be positive")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be a valid port number")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Task.Timeout <= 0 {
		return fmt.Errorf("task.timeout must be positive")
	}
	if c.Task.MaxRetries < 0 {
		return fmt.Errorf("task.max_retries must not be negative")
	}
	if c.LLM.Primary.Provider == "" {
		return fmt.Errorf("llm.primary.provider is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one; other takes precedence for
// every non-zero field.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	if other.Store.BucketPrefix != "" {
		c.Store.BucketPrefix = other.Store.BucketPrefix
	}
	if other.Store.RetentionDays != 0 {
		c.Store.RetentionDays = other.Store.RetentionDays
	}

	if other.Storage.Endpoint != "" {
		c.Storage = other.Storage
	}

	if other.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = other.Auth.JWTSecret
	}

	if other.LLM.Primary.Provider != "" {
		c.LLM.Primary = other.LLM.Primary
	}
	if other.LLM.Fallback1.Provider != "" {
		c.LLM.Fallback1 = other.LLM.Fallback1
	}
	if other.LLM.Fallback2.Provider != "" {
		c.LLM.Fallback2 = other.LLM.Fallback2
	}

	if other.API.Port != 0 {
		c.API.Port = other.API.Port
	}

	if other.Scheduler.TickInterval != 0 {
		c.Scheduler.TickInterval = other.Scheduler.TickInterval
	}

	if other.Task.Timeout != 0 {
		c.Task.Timeout = other.Task.Timeout
	}
	if other.Task.MaxRetries != 0 {
		c.Task.MaxRetries = other.Task.MaxRetries
	}
}
