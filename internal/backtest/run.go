// Package backtest replays recorded signals through the same decision logic
// the live engine uses, against an in-memory portfolio, and reports per-agent
// performance statistics.
package backtest

import (
	"time"

	"hadoku/internal/agentcfg"
	"hadoku/internal/domain"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// WinRateStat is a precomputed politician track record fed to the scorer
// during replay, so the simulation does not peek at its own outcomes.
type WinRateStat struct {
	Rate   float64 `json:"rate"`
	Trades int     `json:"trades"`
}

// Config describes one backtest run.
type Config struct {
	Start   time.Time              `json:"start"`
	End     time.Time              `json:"end"`
	Agents  []agentcfg.AgentConfig `json:"agents"`
	Signals []domain.Signal        `json:"signals"`
	// WinRates maps lowercased politician name to a precomputed record.
	WinRates map[string]WinRateStat `json:"win_rates,omitempty"`
	// Seed drives the synthetic price walk when no real bars are available.
	Seed uint64 `json:"seed"`
	// RiskFreeRate is the annual risk-free rate (fraction) that Sharpe and
	// Sortino subtract from daily returns. Zero when unset.
	RiskFreeRate float64 `json:"risk_free_rate,omitempty"`
}

// Run is a stored backtest run with its lifecycle status.
type Run struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Config      Config        `json:"config"`
	Results     []AgentResult `json:"results,omitempty"`
	Message     string        `json:"message,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// DailySnapshot is one equity curve point for one agent.
type DailySnapshot struct {
	Date        time.Time `json:"date"`
	Cash        float64   `json:"cash"`
	MarketVal   float64   `json:"market_value"`
	Equity      float64   `json:"equity"`
	Contributed float64   `json:"contributed"`
	OpenCount   int       `json:"open_count"`
}

// SimTrade is one simulated fill (entry, partial exit, or full exit).
type SimTrade struct {
	Date   time.Time          `json:"date"`
	Ticker string             `json:"ticker"`
	Action domain.TradeAction `json:"action"`
	Shares float64            `json:"shares"`
	Price  float64            `json:"price"`
	Reason string             `json:"reason"`
	Score  *float64           `json:"score,omitempty"`
}

// ClosedTrade pairs an entry with its final exit for trade-level stats.
type ClosedTrade struct {
	Ticker     string            `json:"ticker"`
	EntryDate  time.Time         `json:"entry_date"`
	ExitDate   time.Time         `json:"exit_date"`
	EntryPrice float64           `json:"entry_price"`
	ExitPrice  float64           `json:"exit_price"`
	Shares     float64           `json:"shares"`
	PnL        float64           `json:"pnl"`
	ReturnPct  float64           `json:"return_pct"`
	DaysHeld   int               `json:"days_held"`
	ExitReason domain.ExitReason `json:"exit_reason"`
}

// AgentResult is everything the simulator produces for one agent.
type AgentResult struct {
	AgentID   string          `json:"agent_id"`
	AgentName string          `json:"agent_name"`
	Metrics   Metrics         `json:"metrics"`
	Snapshots []DailySnapshot `json:"snapshots"`
	Trades    []SimTrade      `json:"trades"`
	Closed    []ClosedTrade   `json:"closed_trades"`
	// SyntheticPrices is true when any price came from the synthetic walk
	// rather than recorded bars; results are then not comparable to real
	// market performance.
	SyntheticPrices bool `json:"synthetic_prices"`
}
