// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/absmach/mqttfactory/client"
	"github.com/absmach/mqttfactory/topics"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the MQTT client.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Broker    BrokerConfig    `yaml:"broker"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ClientConfig holds the MQTT client identity and behavior.
type ClientConfig struct {
	Role           string        `yaml:"role"`      // subscriber, publisher, pubsub
	ClientID       string        `yaml:"client_id"` // Generated when empty
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishRate    float64       `yaml:"publish_rate"` // Messages per second (0 = unlimited)
	PublishBurst   int           `yaml:"publish_burst"`
	Topics         []string      `yaml:"topics"` // Subscribed after connecting
	SubscribeQoS   byte          `yaml:"subscribe_qos"`
}

// BrokerConfig holds the remote endpoint.
type BrokerConfig struct {
	Network string `yaml:"network"` // tcp, tcp4, tcp6, unix
	Address string `yaml:"address"` // host:port
}

// ReconnectConfig holds the backoff policy.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Factor       float64       `yaml:"factor"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxRetries   int           `yaml:"max_retries"` // 0 = retry forever
}

// SessionConfig holds session registry settings.
type SessionConfig struct {
	// Maximum sessions kept (0 = unbounded)
	MaxSessions int `yaml:"max_sessions"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Buffer int    `yaml:"buffer"` // Records buffered before dropping (0 = synchronous)
}

// MetricsConfig holds OpenTelemetry settings.
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"otlp_endpoint"`
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	Interval       time.Duration `yaml:"interval"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Role:           "pubsub",
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 10 * time.Second,
			PublishBurst:   1,
			SubscribeQoS:   1,
		},
		Broker: BrokerConfig{
			Network: "tcp",
			Address: "localhost:1883",
		},
		Reconnect: ReconnectConfig{
			InitialDelay: client.DefaultReconnectInitial,
			Factor:       client.DefaultReconnectFactor,
			MaxDelay:     client.DefaultReconnectMax,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Buffer: 1024,
		},
		Metrics: MetricsConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			ServiceName:    "mqtt-client",
			ServiceVersion: client.Version,
			Interval:       10 * time.Second,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := client.ParseRole(c.Client.Role); err != nil {
		return fmt.Errorf("client.role must be one of: subscriber, publisher, pubsub: %w", err)
	}
	if c.Client.KeepAlive < 0 || c.Client.KeepAlive > 65535*time.Second {
		return fmt.Errorf("client.keep_alive must be between 0 and 65535 seconds")
	}
	if c.Client.ConnectTimeout < 0 {
		return fmt.Errorf("client.connect_timeout cannot be negative")
	}
	if c.Client.PublishRate < 0 {
		return fmt.Errorf("client.publish_rate cannot be negative")
	}
	if c.Client.PublishRate > 0 && c.Client.PublishBurst < 1 {
		return fmt.Errorf("client.publish_burst must be at least 1 when publish_rate is set")
	}
	for _, t := range c.Client.Topics {
		if err := topics.ValidateFilter(t); err != nil {
			return fmt.Errorf("client.topics: %q: %w", t, err)
		}
	}
	if c.Client.SubscribeQoS > 2 {
		return fmt.Errorf("client.subscribe_qos must be 0, 1 or 2")
	}

	if c.Broker.Address == "" {
		return fmt.Errorf("broker.address cannot be empty")
	}
	if _, err := client.ParseAddress(c.Broker.Network, c.Broker.Address); err != nil {
		return fmt.Errorf("broker.address: %w", err)
	}

	if c.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("reconnect.initial_delay must be positive")
	}
	if c.Reconnect.Factor < 1.0 {
		return fmt.Errorf("reconnect.factor must be at least 1.0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay cannot be less than reconnect.initial_delay")
	}
	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("reconnect.max_retries cannot be negative")
	}

	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("session.max_sessions cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}
	if c.Log.Buffer < 0 {
		return fmt.Errorf("log.buffer cannot be negative")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Endpoint == "" {
			return fmt.Errorf("metrics.otlp_endpoint cannot be empty when metrics enabled")
		}
		if c.Metrics.ServiceName == "" {
			return fmt.Errorf("metrics.service_name cannot be empty when metrics enabled")
		}
		if c.Metrics.Interval < time.Second {
			return fmt.Errorf("metrics.interval must be at least 1 second")
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ClientOptions converts the configuration into factory options.
func (c *Config) ClientOptions() (*client.Options, error) {
	role, err := client.ParseRole(c.Client.Role)
	if err != nil {
		return nil, err
	}

	return client.NewOptions().
		SetRole(role).
		SetReconnectBackoff(c.Reconnect.InitialDelay, c.Reconnect.Factor, c.Reconnect.MaxDelay).
		SetMaxRetries(c.Reconnect.MaxRetries).
		SetMaxSessions(c.Session.MaxSessions), nil
}

// BrokerAddress returns the parsed broker address.
func (c *Config) BrokerAddress() (client.Address, error) {
	return client.ParseAddress(c.Broker.Network, c.Broker.Address)
}
