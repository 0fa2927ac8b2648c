package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SURVEILLANCE_ENGINE_WORKERS.
const EnvPrefix = "SURVEILLANCE"

// DefaultPath is used when no --config flag is given.
const DefaultPath = "configs/surveillance.yaml"

// Load reads the document at path (YAML or JSON by extension), applies
// environment overrides and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints on a loaded document.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	for name := range cfg.Patterns {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("configuration validation failed: empty pattern name")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.workers", runtime.NumCPU())
	v.SetDefault("engine.queue_size", 65536)
	v.SetDefault("engine.pool_size", 0)
	v.SetDefault("engine.alert_queue_size", 4096)
	v.SetDefault("engine.lookback", "5m")
	v.SetDefault("engine.max_window_events", 1024)
	v.SetDefault("engine.clock_skew", "0s")
	v.SetDefault("engine.stats_interval", "30s")
	v.SetDefault("engine.sweep_interval", "1m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.trades_topic", "trades")
	v.SetDefault("kafka.group_id", "trade-surveillance")
	v.SetDefault("kafka.alerts_topic", "surveillance-alerts")
	v.SetDefault("kafka.min_bytes", 1)
	v.SetDefault("kafka.max_bytes", 10<<20)
	v.SetDefault("kafka.max_wait", "500ms")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.alert_ttl", "24h")
	v.SetDefault("redis.recent_alerts", 1000)
	v.SetDefault("redis.channel", "surveillance:alerts")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "data/alert-journal")
}
