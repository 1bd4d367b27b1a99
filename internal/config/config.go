// Package config defines all configuration for the trading system.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via BYBIT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Bybit    BybitConfig    `mapstructure:"bybit"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BybitConfig holds venue credentials and endpoints. When Testnet is true
// the default REST/WS URLs point at the testnet cluster; explicit URLs in
// the YAML always win.
type BybitConfig struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Testnet    bool   `mapstructure:"testnet"`
	RESTBase   string `mapstructure:"rest_base_url"`
	WSURL      string `mapstructure:"ws_url"`
	RecvWindow int    `mapstructure:"recv_window"` // milliseconds
}

// MonitorConfig tunes the price monitor service.
//
//   - MaxTasks: cap on simultaneously active monitor tasks.
//   - SpotPollInterval: spot price poll cadence (floored at 500ms).
//   - ExpirySweepInterval: how often expired tasks are reaped.
//   - WebhookTimeout: per-delivery timeout for trigger webhooks.
type MonitorConfig struct {
	ListenAddr          string        `mapstructure:"listen_addr"`
	MaxTasks            int           `mapstructure:"max_tasks"`
	SpotPollInterval    time.Duration `mapstructure:"spot_poll_interval"`
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
	WebhookTimeout      time.Duration `mapstructure:"webhook_timeout"`
}

// StrategyConfig tunes the strategy engine and its level executor.
//
//   - MonitorBaseURL: where the engine reaches the price monitor API.
//   - WebhookBaseURL: externally reachable base of the strategy API; the
//     engine registers {base}/api/strategies/webhook as the trigger sink.
//   - ExecutionSpacing: minimum pause between consecutive venue orders.
//   - QueueCapacity: executor queue size; enqueues beyond it are rejected
//     and logged rather than blocking producers.
type StrategyConfig struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	MonitorBaseURL   string        `mapstructure:"monitor_base_url"`
	WebhookBaseURL   string        `mapstructure:"webhook_base_url"`
	ExecutionSpacing time.Duration `mapstructure:"execution_spacing"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
}

// StoreConfig sets where JSON documents are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	restMainnet = "https://api.bybit.com"
	restTestnet = "https://api-testnet.bybit.com"
	wsMainnet   = "wss://stream.bybit.com/v5/public/option"
	wsTestnet   = "wss://stream-testnet.bybit.com/v5/public/option"
)

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: BYBIT_API_KEY, BYBIT_API_SECRET, BYBIT_TESTNET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BYBIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("monitor.listen_addr", ":8888")
	v.SetDefault("monitor.max_tasks", 100)
	v.SetDefault("monitor.spot_poll_interval", "2s")
	v.SetDefault("monitor.expiry_sweep_interval", "300s")
	v.SetDefault("monitor.webhook_timeout", "30s")
	v.SetDefault("strategy.listen_addr", ":8080")
	v.SetDefault("strategy.monitor_base_url", "http://localhost:8888")
	v.SetDefault("strategy.webhook_base_url", "http://localhost:8080")
	v.SetDefault("strategy.execution_spacing", "2s")
	v.SetDefault("strategy.queue_capacity", 512)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("bybit.recv_window", 5000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("BYBIT_API_KEY"); key != "" {
		cfg.Bybit.APIKey = key
	}
	if secret := os.Getenv("BYBIT_API_SECRET"); secret != "" {
		cfg.Bybit.APISecret = secret
	}
	if tn := os.Getenv("BYBIT_TESTNET"); tn == "true" || tn == "1" {
		cfg.Bybit.Testnet = true
	}
	if os.Getenv("BYBIT_DRY_RUN") == "true" || os.Getenv("BYBIT_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.applyEndpointDefaults()
	return &cfg, nil
}

func (c *Config) applyEndpointDefaults() {
	if c.Bybit.RESTBase == "" {
		if c.Bybit.Testnet {
			c.Bybit.RESTBase = restTestnet
		} else {
			c.Bybit.RESTBase = restMainnet
		}
	}
	if c.Bybit.WSURL == "" {
		if c.Bybit.Testnet {
			c.Bybit.WSURL = wsTestnet
		} else {
			c.Bybit.WSURL = wsMainnet
		}
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if !c.DryRun && c.Bybit.APIKey == "" {
		return fmt.Errorf("bybit.api_key is required (set BYBIT_API_KEY)")
	}
	if !c.DryRun && c.Bybit.APISecret == "" {
		return fmt.Errorf("bybit.api_secret is required (set BYBIT_API_SECRET)")
	}
	if c.Monitor.MaxTasks <= 0 {
		return fmt.Errorf("monitor.max_tasks must be > 0")
	}
	if c.Monitor.SpotPollInterval < 500*time.Millisecond {
		return fmt.Errorf("monitor.spot_poll_interval must be >= 500ms")
	}
	if c.Strategy.ExecutionSpacing < 2*time.Second {
		return fmt.Errorf("strategy.execution_spacing must be >= 2s")
	}
	if c.Strategy.QueueCapacity <= 0 {
		return fmt.Errorf("strategy.queue_capacity must be > 0")
	}
	if c.Strategy.MonitorBaseURL == "" {
		return fmt.Errorf("strategy.monitor_base_url is required")
	}
	if c.Strategy.WebhookBaseURL == "" {
		return fmt.Errorf("strategy.webhook_base_url is required")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	return nil
}
