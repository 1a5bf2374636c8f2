package model

import (
	"time"

	"gorm.io/datatypes"
)

type SignalModel struct {
	ID              int64      `gorm:"column:id;primaryKey"`
	Source          string     `gorm:"column:source;uniqueIndex:idx_signal_source,priority:1"`
	SourceLocalID   string     `gorm:"column:source_local_id;uniqueIndex:idx_signal_source,priority:2"`
	TradeSignature  string     `gorm:"column:trade_signature;index"`
	PoliticianName  string     `gorm:"column:politician_name;index"`
	Chamber         string     `gorm:"column:chamber"`
	Party           string     `gorm:"column:party"`
	State           string     `gorm:"column:state"`
	Ticker          string     `gorm:"column:ticker;index"`
	Action          string     `gorm:"column:action"`
	AssetType       string     `gorm:"column:asset_type"`
	TradeDate       time.Time  `gorm:"column:trade_date"`
	TradePrice      float64    `gorm:"column:trade_price"`
	DisclosureDate  time.Time  `gorm:"column:disclosure_date;index"`
	DisclosurePrice float64    `gorm:"column:disclosure_price"`
	SizeMin         float64    `gorm:"column:size_min"`
	SizeMax         float64    `gorm:"column:size_max"`
	ScrapedAt       time.Time  `gorm:"column:scraped_at"`
	ProcessedAt     *time.Time `gorm:"column:processed_at;index"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
}

func (SignalModel) TableName() string { return "signals" }

type PositionModel struct {
	ID           int64      `gorm:"column:id;primaryKey"`
	AgentID      string     `gorm:"column:agent_id;index:idx_position_agent"`
	SignalID     int64      `gorm:"column:signal_id"`
	Ticker       string     `gorm:"column:ticker;index"`
	AssetType    string     `gorm:"column:asset_type"`
	Shares       float64    `gorm:"column:shares"`
	EntryPrice   float64    `gorm:"column:entry_price"`
	EntryDate    time.Time  `gorm:"column:entry_date"`
	CostBasis    float64    `gorm:"column:cost_basis"`
	HighestPrice float64    `gorm:"column:highest_price"`
	PartialSold  bool       `gorm:"column:partial_sold"`
	Status       string     `gorm:"column:status;index"`
	ClosedAt     *time.Time `gorm:"column:closed_at"`
	ClosePrice   float64    `gorm:"column:close_price"`
	CloseReason  string     `gorm:"column:close_reason"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

type TradeModel struct {
	ID         string         `gorm:"column:id;primaryKey"`
	AgentID    string         `gorm:"column:agent_id;uniqueIndex:idx_trade_agent_signal,priority:1"`
	SignalID   int64          `gorm:"column:signal_id;uniqueIndex:idx_trade_agent_signal,priority:2"`
	Ticker     string         `gorm:"column:ticker"`
	Action     string         `gorm:"column:action"`
	Reason     string         `gorm:"column:reason"`
	Score      *float64       `gorm:"column:score"`
	ScoreParts datatypes.JSON `gorm:"column:score_parts;type:TEXT"`
	Quantity   float64        `gorm:"column:quantity"`
	Price      float64        `gorm:"column:price"`
	Total      float64        `gorm:"column:total"`
	Status     string         `gorm:"column:status;index"`
	ErrorMsg   string         `gorm:"column:error_msg"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

func (TradeModel) TableName() string { return "trades" }

type BudgetModel struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	AgentID   string    `gorm:"column:agent_id;uniqueIndex:idx_budget_agent_month,priority:1"`
	Month     string    `gorm:"column:month;uniqueIndex:idx_budget_agent_month,priority:2"`
	Total     float64   `gorm:"column:total"`
	Spent     float64   `gorm:"column:spent"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (BudgetModel) TableName() string { return "agent_budgets" }
