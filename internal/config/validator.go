package config

import (
	"fmt"
)

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.BindAddr == "" {
		return fmt.Errorf("bind address is required")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.Stream.QueueSize <= 0 {
		return fmt.Errorf("stream queue size must be positive")
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}
