package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store.BucketPrefix != "orchestrator" {
		t.Errorf("expected default bucket prefix orchestrator, got %s", cfg.Store.BucketPrefix)
	}
	if cfg.Store.RetentionDays != 7 {
		t.Errorf("expected default retention of 7 days, got %d", cfg.Store.RetentionDays)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.API.Port)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if cfg.LLM.Primary.Provider != "anthropic" {
		t.Errorf("expected default primary provider anthropic, got %s", cfg.LLM.Primary.Provider)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing bucket prefix",
			modify:  func(c *Config) { c.Store.BucketPrefix = "" },
			wantErr: true,
		},
		{
			name:    "non-positive retention",
			modify:  func(c *Config) { c.Store.RetentionDays = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port",
			modify:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "negative max retries",
			modify:  func(c *Config) { c.Task.MaxRetries = -1 },
			wantErr: true,
		},
		{
			name:    "missing primary provider",
			modify:  func(c *Config) { c.LLM.Primary.Provider = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
nats:
  url: "nats://test:4222"
store:
  bucket_prefix: "test"
  retention_days: 14
auth:
  jwt_secret: "shh"
llm:
  primary:
    provider: "openai"
    model: "gpt-4o"
    base_url: "https://api.openai.com/v1"
api:
  port: 9090
scheduler:
  tick_interval: 15s
task:
  timeout: 5m
  max_retries: 5
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.Store.BucketPrefix != "test" {
		t.Errorf("expected bucket prefix test, got %s", cfg.Store.BucketPrefix)
	}
	if cfg.Store.RetentionDays != 14 {
		t.Errorf("expected retention 14, got %d", cfg.Store.RetentionDays)
	}
	if cfg.Auth.JWTSecret != "shh" {
		t.Errorf("expected jwt secret shh, got %s", cfg.Auth.JWTSecret)
	}
	if cfg.LLM.Primary.Model != "gpt-4o" {
		t.Errorf("expected primary model gpt-4o, got %s", cfg.LLM.Primary.Model)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.API.Port)
	}
	if cfg.Scheduler.TickInterval != 15*time.Second {
		t.Errorf("expected tick interval 15s, got %v", cfg.Scheduler.TickInterval)
	}
	if cfg.Task.MaxRetries != 5 {
		t.Errorf("expected max retries 5, got %d", cfg.Task.MaxRetries)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Store: StoreConfig{
			BucketPrefix: "override",
		},
		API: APIConfig{
			Port: 9999,
		},
	}

	base.Merge(override)

	if base.Store.BucketPrefix != "override" {
		t.Errorf("expected bucket prefix override, got %s", base.Store.BucketPrefix)
	}
	// Retention should remain from base since override didn't set it.
	if base.Store.RetentionDays != 7 {
		t.Errorf("expected retention to remain default, got %d", base.Store.RetentionDays)
	}
	if base.API.Port != 9999 {
		t.Errorf("expected port 9999, got %d", base.API.Port)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Store.BucketPrefix = "saved"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Store.BucketPrefix != "saved" {
		t.Errorf("expected bucket prefix saved, got %s", loaded.Store.BucketPrefix)
	}
}
