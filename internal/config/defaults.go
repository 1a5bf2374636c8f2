package config

import "time"

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9985"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/hadoku.db"
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = "paper"
	}
	if c.Broker.Timeout <= 0 {
		c.Broker.Timeout = 2 * time.Minute
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = 5 * time.Minute
	}
	if c.Process.Interval <= 0 {
		c.Process.Interval = 15 * time.Minute
	}
	if c.Agents.Path == "" {
		c.Agents.Path = "configs/agents.yaml"
	}
	if c.Backtest.ResultsDir == "" {
		c.Backtest.ResultsDir = "data/backtests"
	}
}
