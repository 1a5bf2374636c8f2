// Package config loads and validates the application configuration.
package config

import "time"

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Prices   PricesConfig   `mapstructure:"prices"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Process  ProcessConfig  `mapstructure:"process"`
	Agents   AgentsConfig   `mapstructure:"agents"`
	Backtest BacktestConfig `mapstructure:"backtest"`
}

type AppConfig struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	APIKey  string `mapstructure:"api_key"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type PricesConfig struct {
	// BarsPath is the SQLite file holding recorded daily bars; empty
	// disables the bar store and everything falls through to synthetic.
	BarsPath string `mapstructure:"bars_path"`
	// SyntheticSeed drives the deterministic fallback walk.
	SyntheticSeed uint64 `mapstructure:"synthetic_seed"`
}

type BrokerConfig struct {
	// Mode is "paper" or "http".
	Mode          string        `mapstructure:"mode"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Account       string        `mapstructure:"account"`
	DryRun        bool          `mapstructure:"dry_run"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
}

type MonitorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	MarketHoursOnly bool          `mapstructure:"market_hours_only"`
}

type ProcessConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type AgentsConfig struct {
	// Path points at the hot-reloaded agents YAML document.
	Path string `mapstructure:"path"`
}

type BacktestConfig struct {
	// ResultsDir holds the runs database and rendered reports.
	ResultsDir string `mapstructure:"results_dir"`
}
