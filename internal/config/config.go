// Package config loads the surveillance service configuration document.
package config

import "time"

// Config is the full service document. The engine section sizes the core;
// the remaining sections configure its collaborators.
type Config struct {
	Engine   EngineConfig             `mapstructure:"engine"`
	Patterns map[string]PatternConfig `mapstructure:"patterns" validate:"dive"`
	Logging  LoggingConfig            `mapstructure:"logging"`
	Server   ServerConfig             `mapstructure:"server"`
	Metrics  MetricsConfig            `mapstructure:"metrics"`
	Kafka    KafkaConfig              `mapstructure:"kafka"`
	Redis    RedisConfig              `mapstructure:"redis"`
	Database DatabaseConfig           `mapstructure:"database"`
	Journal  JournalConfig            `mapstructure:"journal"`
}

type EngineConfig struct {
	Workers         int           `mapstructure:"workers" validate:"gte=1,lte=1024"`
	QueueSize       int           `mapstructure:"queue_size" validate:"gte=1"`
	PoolSize        int           `mapstructure:"pool_size" validate:"gte=0"`
	AlertQueueSize  int           `mapstructure:"alert_queue_size" validate:"gte=1"`
	Lookback        time.Duration `mapstructure:"lookback" validate:"gt=0"`
	MaxWindowEvents int           `mapstructure:"max_window_events" validate:"gte=0"`
	ClockSkew       time.Duration `mapstructure:"clock_skew" validate:"gte=0"`
	StatsInterval   time.Duration `mapstructure:"stats_interval" validate:"gt=0"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

// PatternConfig overrides a detector's defaults. Unset fields keep the
// detector's own value.
type PatternConfig struct {
	Enabled     *bool              `mapstructure:"enabled"`
	Sensitivity *float64           `mapstructure:"sensitivity" validate:"omitempty,gt=0,lte=1"`
	Threshold   *float64           `mapstructure:"threshold" validate:"omitempty,gte=0,lte=100"`
	Window      *time.Duration     `mapstructure:"window" validate:"omitempty,gte=0"`
	MinTrades   *int               `mapstructure:"min_trades" validate:"omitempty,gte=0"`
	Params      map[string]float64 `mapstructure:"params"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type KafkaConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Brokers     []string      `mapstructure:"brokers" validate:"required_if=Enabled true"`
	TradesTopic string        `mapstructure:"trades_topic" validate:"required_if=Enabled true"`
	GroupID     string        `mapstructure:"group_id" validate:"required_if=Enabled true"`
	AlertsTopic string        `mapstructure:"alerts_topic"`
	MinBytes    int           `mapstructure:"min_bytes" validate:"gte=0"`
	MaxBytes    int           `mapstructure:"max_bytes" validate:"gte=0"`
	MaxWait     time.Duration `mapstructure:"max_wait" validate:"gte=0"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	AlertTTL     time.Duration `mapstructure:"alert_ttl" validate:"gte=0"`
	RecentAlerts int64         `mapstructure:"recent_alerts" validate:"gte=0"`
	Channel      string        `mapstructure:"channel"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}
