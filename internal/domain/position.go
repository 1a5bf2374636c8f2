package domain

import "time"

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

type ExitReason string

const (
	ExitStopLoss          ExitReason = "stop_loss"
	ExitTakeProfit        ExitReason = "take_profit"
	ExitTakeProfitPartial ExitReason = "take_profit_partial"
	ExitTimeLimit         ExitReason = "time_exit"
	ExitSoftStop          ExitReason = "soft_stop"
	ExitSellSignal        ExitReason = "sell_signal"
)

// Position is one agent's holding created by an executed buy decision.
// HighestPrice is a monotone watermark: it only ever moves up.
type Position struct {
	ID           int64          `json:"id"`
	AgentID      string         `json:"agent_id"`
	SignalID     int64          `json:"signal_id"`
	Ticker       string         `json:"ticker"`
	AssetType    AssetType      `json:"asset_type"`
	Shares       float64        `json:"shares"`
	EntryPrice   float64        `json:"entry_price"`
	EntryDate    time.Time      `json:"entry_date"`
	CostBasis    float64        `json:"cost_basis"`
	HighestPrice float64        `json:"highest_price"`
	PartialSold  bool           `json:"partial_sold"`
	Status       PositionStatus `json:"status"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	ClosePrice   float64        `json:"close_price,omitempty"`
	CloseReason  ExitReason     `json:"close_reason,omitempty"`
}

// ReturnPct is the percent return at the given price relative to entry.
func (p Position) ReturnPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// DaysHeld counts calendar days since entry, never negative.
func (p Position) DaysHeld(now time.Time) int {
	return daysBetween(p.EntryDate, now)
}

// RaiseWatermark lifts HighestPrice if price exceeds it. Returns true when the
// watermark moved.
func (p *Position) RaiseWatermark(price float64) bool {
	if price > p.HighestPrice {
		p.HighestPrice = price
		return true
	}
	return false
}
