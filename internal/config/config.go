package config

import (
	"fmt"
	"time"
)

// Config represents the main server configuration
type Config struct {
	// Server holds HTTP bind settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Session holds session lifecycle settings
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Stream holds server-push stream settings
	Stream StreamConfig `json:"stream" mapstructure:"stream"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	BindAddr string `json:"bind_addr" mapstructure:"bind_addr"`
	Port     int    `json:"port" mapstructure:"port"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindAddr, s.Port)
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// StreamConfig holds event stream configuration
type StreamConfig struct {
	QueueSize         int           `json:"queue_size" mapstructure:"queue_size"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" mapstructure:"heartbeat_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddr: "127.0.0.1",
			Port:     8000,
		},
		Session: SessionConfig{
			Timeout:       time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Stream: StreamConfig{
			QueueSize:         256,
			HeartbeatInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}
