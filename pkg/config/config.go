// Package config loads and validates the bridge configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BridgeConfig is the complete configuration for the bridge process.
type BridgeConfig struct {
	System  SystemConfig  `yaml:"system"`
	Gateway GatewayConfig `yaml:"gateway"`
	Query   QueryConfig   `yaml:"query"`
	Session SessionConfig `yaml:"session"`
	Bridge  QueueConfig   `yaml:"bridge"`
	API     APIConfig     `yaml:"api"`
}

// SystemConfig contains system-level configuration
type SystemConfig struct {
	Mode    string `yaml:"mode"`     // live, simulation
	LogFile string `yaml:"log_file"` // optional log file path
}

// GatewayConfig contains the counter gateway connection settings.
type GatewayConfig struct {
	NATSAddr        string        `yaml:"nats_addr"`         // NATS服务器地址 (例如: nats://localhost:4222)
	UserID          string        `yaml:"user_id"`           // 投资者账号, usually from env
	BrokerID        string        `yaml:"broker_id"`         // 期货公司编号
	Password        string        `yaml:"-"`                 // never from yaml, env only
	RequestTimeout  time.Duration `yaml:"request_timeout"`   // per request/reply round trip
	ConnectRetries  int           `yaml:"connect_retries"`   // connect attempts before fatal
	ConnectInterval time.Duration `yaml:"connect_interval"`  // linear backoff base
	RequestRate     float64       `yaml:"request_rate"`      // outbound requests per second
	RequestBurst    int           `yaml:"request_burst"`
}

// QueryConfig controls the startup one-shot queries.
type QueryConfig struct {
	RetryTimes    int           `yaml:"retry_times"`    // attempts per query
	RetryInterval time.Duration `yaml:"retry_interval"` // linear backoff base
}

// SessionConfig contains trading session configuration
type SessionConfig struct {
	Timezone     string `yaml:"timezone"`      // e.g., "Asia/Shanghai"
	NightTrading bool   `yaml:"night_trading"` // 是否有夜盘
}

// QueueConfig controls the gateway -> execution hand-off queue.
type QueueConfig struct {
	QueueSize       int           `yaml:"queue_size"`       // hand-off channel capacity
	PollTimeout     time.Duration `yaml:"poll_timeout"`     // heartbeat interval when idle
	PersistInterval time.Duration `yaml:"persist_interval"` // DO_PERSIST cadence, 0 disables
}

// APIConfig contains HTTP status API configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*BridgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg BridgeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate fills defaults and rejects unusable values.
func (c *BridgeConfig) Validate() error {
	if c.System.Mode == "" {
		c.System.Mode = "simulation"
	}
	if c.System.Mode != "live" && c.System.Mode != "simulation" {
		return fmt.Errorf("system.mode must be 'live' or 'simulation'")
	}

	if c.Gateway.NATSAddr == "" {
		return fmt.Errorf("gateway.nats_addr is required")
	}
	if c.Gateway.RequestTimeout <= 0 {
		c.Gateway.RequestTimeout = 5 * time.Second
	}
	if c.Gateway.ConnectRetries <= 0 {
		c.Gateway.ConnectRetries = 5
	}
	if c.Gateway.ConnectInterval <= 0 {
		c.Gateway.ConnectInterval = time.Second
	}
	if c.Gateway.RequestRate <= 0 {
		c.Gateway.RequestRate = 10 // CTP front ends throttle around this
	}
	if c.Gateway.RequestBurst <= 0 {
		c.Gateway.RequestBurst = 1
	}

	if c.Query.RetryTimes <= 0 {
		c.Query.RetryTimes = 5
	}
	if c.Query.RetryInterval <= 0 {
		c.Query.RetryInterval = time.Second
	}

	if c.Session.Timezone == "" {
		c.Session.Timezone = "Asia/Shanghai"
	}

	if c.Bridge.QueueSize <= 0 {
		c.Bridge.QueueSize = 4096
	}
	if c.Bridge.PollTimeout <= 0 {
		c.Bridge.PollTimeout = time.Second
	}

	if c.API.Enabled {
		if c.API.Host == "" {
			c.API.Host = "localhost"
		}
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("api.port must be in (0, 65535], got %d", c.API.Port)
		}
	}

	return nil
}
