package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9985", cfg.Server.Addr)
	assert.Equal(t, "data/hadoku.db", cfg.Database.Path)
	assert.Equal(t, "paper", cfg.Broker.Mode)
	assert.Equal(t, 2*time.Minute, cfg.Broker.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, 15*time.Minute, cfg.Process.Interval)
	assert.Equal(t, "configs/agents.yaml", cfg.Agents.Path)
	assert.Equal(t, "data/backtests", cfg.Backtest.ResultsDir)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  log_level: debug
server:
  enabled: true
  addr: ":8080"
  api_key: sekrit
database:
  path: /tmp/hadoku-test.db
prices:
  bars_path: /tmp/bars.db
  synthetic_seed: 99
broker:
  mode: http
  base_url: http://worker:9000
  timeout: 45s
  rate_per_minute: 10
monitor:
  enabled: true
  interval: 2m
  market_hours_only: true
process:
  enabled: true
  interval: 10m
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, uint64(99), cfg.Prices.SyntheticSeed)
	assert.Equal(t, "http", cfg.Broker.Mode)
	assert.Equal(t, 45*time.Second, cfg.Broker.Timeout)
	assert.Equal(t, 10, cfg.Broker.RatePerMinute)
	assert.Equal(t, 2*time.Minute, cfg.Monitor.Interval)
	assert.True(t, cfg.Monitor.MarketHoursOnly)
	assert.Equal(t, 10*time.Minute, cfg.Process.Interval)
}

func TestLoadValidation(t *testing.T) {
	t.Run("bad log level", func(t *testing.T) {
		_, err := Load(writeConfig(t, "app:\n  log_level: verbose\n"))
		assert.ErrorContains(t, err, "log_level")
	})

	t.Run("unknown broker mode", func(t *testing.T) {
		_, err := Load(writeConfig(t, "broker:\n  mode: telepathy\n"))
		assert.ErrorContains(t, err, "broker.mode")
	})

	t.Run("http broker requires base url", func(t *testing.T) {
		_, err := Load(writeConfig(t, "broker:\n  mode: http\n"))
		assert.ErrorContains(t, err, "base_url")
	})

	t.Run("negative rate limit", func(t *testing.T) {
		_, err := Load(writeConfig(t, "broker:\n  rate_per_minute: -1\n"))
		assert.ErrorContains(t, err, "rate_per_minute")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := Load("")
		assert.Error(t, err)
	})
}
