package domain

import "time"

type TradeStatus string

const (
	TradePending  TradeStatus = "pending"
	TradeExecuted TradeStatus = "executed"
	TradeFailed   TradeStatus = "failed"
	TradeSkipped  TradeStatus = "skipped"
)

type DecisionAction string

const (
	DecisionExecute     DecisionAction = "execute"
	DecisionExecuteHalf DecisionAction = "execute_half"
	DecisionSkip        DecisionAction = "skip"
	DecisionClose       DecisionAction = "close"
)

// Decision reasons recorded on trade audit rows.
const (
	ReasonFilterPolitician = "filter:politician"
	ReasonFilterTicker     = "filter:ticker"
	ReasonFilterAssetType  = "filter:asset_type"
	ReasonFilterAge        = "filter:age"
	ReasonFilterPriceMove  = "filter:price_move"
	ReasonPositionLimit    = "position_limit"
	ReasonTickerLimit      = "ticker_limit"
	ReasonSkipScore        = "skip_score"
	ReasonBelowMinSize     = "below_min_size"
	ReasonZeroShares       = "zero_shares"
	ReasonNoPosition       = "no_position"
	ReasonPositionTooYoung = "position_too_young"
	ReasonSellSignal       = "sell_signal"
	ReasonScoreExecute     = "score_execute"
	ReasonScoreHalf        = "score_half"
	ReasonPassFail         = "pass_fail"
)

// TradeRecord is the audit row written for every (agent, signal) decision,
// including skips. Written once, then updated once with the execution outcome.
type TradeRecord struct {
	ID         string             `json:"id"`
	AgentID    string             `json:"agent_id"`
	SignalID   int64              `json:"signal_id"`
	Ticker     string             `json:"ticker"`
	Action     DecisionAction     `json:"action"`
	Reason     string             `json:"reason"`
	Score      *float64           `json:"score,omitempty"`
	ScoreParts map[string]float64 `json:"score_parts,omitempty"`
	Quantity   float64            `json:"quantity"`
	Price      float64            `json:"price"`
	Total      float64            `json:"total"`
	Status     TradeStatus        `json:"status"`
	ErrorMsg   string             `json:"error_msg,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// FilterReason names the first hard gate a signal failed for an agent.
type FilterReason string

const (
	FilterPolitician FilterReason = "politician"
	FilterTicker     FilterReason = "ticker"
	FilterAssetType  FilterReason = "asset_type"
	FilterAge        FilterReason = "age"
	FilterPriceMove  FilterReason = "price_move"
)

// SkipReasonFor maps a filter failure to its audit reason string.
func SkipReasonFor(r FilterReason) string {
	switch r {
	case FilterPolitician:
		return ReasonFilterPolitician
	case FilterTicker:
		return ReasonFilterTicker
	case FilterAssetType:
		return ReasonFilterAssetType
	case FilterAge:
		return ReasonFilterAge
	case FilterPriceMove:
		return ReasonFilterPriceMove
	default:
		return "filter:" + string(r)
	}
}
