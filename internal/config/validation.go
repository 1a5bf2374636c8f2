package config

import "fmt"

func validate(cfg *Config) error {
	switch cfg.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be debug/info/warn/error, got %q", cfg.App.LogLevel)
	}
	switch cfg.Broker.Mode {
	case "paper":
	case "http":
		if cfg.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required when broker.mode is http")
		}
	default:
		return fmt.Errorf("broker.mode must be paper or http, got %q", cfg.Broker.Mode)
	}
	if cfg.Broker.RatePerMinute < 0 {
		return fmt.Errorf("broker.rate_per_minute cannot be negative")
	}
	if cfg.Server.Enabled && cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when server.enabled")
	}
	return nil
}
