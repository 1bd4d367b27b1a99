package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "dry_run: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.MaxTasks != 100 {
		t.Errorf("MaxTasks = %d, want 100", cfg.Monitor.MaxTasks)
	}
	if cfg.Monitor.SpotPollInterval != 2*time.Second {
		t.Errorf("SpotPollInterval = %v, want 2s", cfg.Monitor.SpotPollInterval)
	}
	if cfg.Strategy.ExecutionSpacing != 2*time.Second {
		t.Errorf("ExecutionSpacing = %v, want 2s", cfg.Strategy.ExecutionSpacing)
	}
	if cfg.Strategy.QueueCapacity != 512 {
		t.Errorf("QueueCapacity = %d, want 512", cfg.Strategy.QueueCapacity)
	}
	if cfg.Bybit.RESTBase != restMainnet {
		t.Errorf("RESTBase = %q, want mainnet default", cfg.Bybit.RESTBase)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadTestnetEndpoints(t *testing.T) {
	path := writeConfig(t, "dry_run: true\nbybit:\n  testnet: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bybit.RESTBase != restTestnet {
		t.Errorf("RESTBase = %q, want %q", cfg.Bybit.RESTBase, restTestnet)
	}
	if cfg.Bybit.WSURL != wsTestnet {
		t.Errorf("WSURL = %q, want %q", cfg.Bybit.WSURL, wsTestnet)
	}
}

func TestExplicitEndpointsWin(t *testing.T) {
	path := writeConfig(t, `dry_run: true
bybit:
  testnet: true
  rest_base_url: "http://localhost:9999"
  ws_url: "ws://localhost:9998"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bybit.RESTBase != "http://localhost:9999" {
		t.Errorf("RESTBase = %q, explicit URL should win", cfg.Bybit.RESTBase)
	}
	if cfg.Bybit.WSURL != "ws://localhost:9998" {
		t.Errorf("WSURL = %q, explicit URL should win", cfg.Bybit.WSURL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "env-key")
	t.Setenv("BYBIT_API_SECRET", "env-secret")
	path := writeConfig(t, "dry_run: false\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bybit.APIKey != "env-key" || cfg.Bybit.APISecret != "env-secret" {
		t.Errorf("env credentials not applied: %+v", cfg.Bybit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			DryRun: true,
			Monitor: MonitorConfig{
				MaxTasks:         100,
				SpotPollInterval: 2 * time.Second,
			},
			Strategy: StrategyConfig{
				ExecutionSpacing: 2 * time.Second,
				QueueCapacity:    512,
				MonitorBaseURL:   "http://localhost:8888",
				WebhookBaseURL:   "http://localhost:8080",
			},
			Store: StoreConfig{DataDir: "data"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing key", func(c *Config) { c.DryRun = false }},
		{"zero max tasks", func(c *Config) { c.Monitor.MaxTasks = 0 }},
		{"fast spot poll", func(c *Config) { c.Monitor.SpotPollInterval = 100 * time.Millisecond }},
		{"tight spacing", func(c *Config) { c.Strategy.ExecutionSpacing = time.Second }},
		{"zero queue", func(c *Config) { c.Strategy.QueueCapacity = 0 }},
		{"no monitor url", func(c *Config) { c.Strategy.MonitorBaseURL = "" }},
		{"no webhook url", func(c *Config) { c.Strategy.WebhookBaseURL = "" }},
		{"no data dir", func(c *Config) { c.Store.DataDir = "" }},
	}
	for _, tt := range tests {
		cfg := base()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate should fail", tt.name)
		}
	}
}
