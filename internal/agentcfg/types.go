// Package agentcfg defines per-strategy agent configuration and the registry
// that loads, validates and hot-reloads it from agents.yaml.
package agentcfg

import (
	"hadoku/internal/domain"
)

// AgentConfig is one strategy: filters, optional scoring, sizing and exits.
// A nil Scoring makes the agent pass/fail: it executes whenever filters and
// position limits pass, without computing a score.
type AgentConfig struct {
	ID            string  `mapstructure:"id" yaml:"id" json:"id"`
	Name          string  `mapstructure:"name" yaml:"name" json:"name"`
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MonthlyBudget float64 `mapstructure:"monthly_budget" yaml:"monthly_budget" json:"monthly_budget"`

	Filters FilterConfig   `mapstructure:"filters" yaml:"filters" json:"filters"`
	Scoring *ScoringConfig `mapstructure:"scoring" yaml:"scoring" json:"scoring,omitempty"`

	ExecuteThreshold  float64  `mapstructure:"execute_threshold" yaml:"execute_threshold" json:"execute_threshold"`
	HalfSizeThreshold *float64 `mapstructure:"half_size_threshold" yaml:"half_size_threshold" json:"half_size_threshold,omitempty"`

	Sizing SizingConfig `mapstructure:"sizing" yaml:"sizing" json:"sizing"`
	Exits  ExitConfig   `mapstructure:"exits" yaml:"exits" json:"exits"`

	// MinHoldDays gates mirror-sell closes: a position held fewer days is
	// left alone when a sell disclosure arrives.
	MinHoldDays int `mapstructure:"min_hold_days" yaml:"min_hold_days" json:"min_hold_days"`
}

// PassFail reports whether the agent trades without scoring.
func (a AgentConfig) PassFail() bool { return a.Scoring == nil }

// FilterConfig is the hard gate. Nil allow-lists admit everything.
type FilterConfig struct {
	Politicians      []string           `mapstructure:"politicians" yaml:"politicians" json:"politicians,omitempty"`
	Tickers          []string           `mapstructure:"tickers" yaml:"tickers" json:"tickers,omitempty"`
	AssetTypes       []domain.AssetType `mapstructure:"asset_types" yaml:"asset_types" json:"asset_types"`
	MaxSignalAgeDays int                `mapstructure:"max_signal_age_days" yaml:"max_signal_age_days" json:"max_signal_age_days"`
	MaxPriceMovePct  float64            `mapstructure:"max_price_move_pct" yaml:"max_price_move_pct" json:"max_price_move_pct"`
}

// ScoringConfig toggles up to seven weighted components. Only non-nil
// components contribute; weights are normalized by the sum of active weights.
type ScoringConfig struct {
	TimeDecay       *TimeDecayConfig       `mapstructure:"time_decay" yaml:"time_decay" json:"time_decay,omitempty"`
	PriceMove       *PriceMoveConfig       `mapstructure:"price_move" yaml:"price_move" json:"price_move,omitempty"`
	PositionSize    *PositionSizeConfig    `mapstructure:"position_size" yaml:"position_size" json:"position_size,omitempty"`
	PoliticianSkill *PoliticianSkillConfig `mapstructure:"politician_skill" yaml:"politician_skill" json:"politician_skill,omitempty"`
	SourceQuality   *SourceQualityConfig   `mapstructure:"source_quality" yaml:"source_quality" json:"source_quality,omitempty"`
	FilingSpeed     *FilingSpeedConfig     `mapstructure:"filing_speed" yaml:"filing_speed" json:"filing_speed,omitempty"`
	CrossConfirm    *CrossConfirmConfig    `mapstructure:"cross_confirm" yaml:"cross_confirm" json:"cross_confirm,omitempty"`
}

// NeedsWinRate reports whether scoring requires a politician-history lookup.
func (c *ScoringConfig) NeedsWinRate() bool {
	return c != nil && c.PoliticianSkill != nil
}

// NeedsConfirmations reports whether scoring requires a cross-source count.
func (c *ScoringConfig) NeedsConfirmations() bool {
	return c != nil && (c.SourceQuality != nil || c.CrossConfirm != nil)
}

type TimeDecayConfig struct {
	Weight                 float64 `mapstructure:"weight" yaml:"weight" json:"weight"`
	HalfLifeDays           float64 `mapstructure:"half_life_days" yaml:"half_life_days" json:"half_life_days"`
	DisclosureHalfLifeDays float64 `mapstructure:"disclosure_half_life_days" yaml:"disclosure_half_life_days" json:"disclosure_half_life_days,omitempty"`
}

// PriceMoveConfig calibrates the piecewise-linear drift score at the fixed
// points 0%, 5%, 15% and 25% absolute drift. Above 25% the score is 0.
type PriceMoveConfig struct {
	Weight float64    `mapstructure:"weight" yaml:"weight" json:"weight"`
	Scores [4]float64 `mapstructure:"scores" yaml:"scores" json:"scores"`
}

type SizeTier struct {
	MinDollars float64 `mapstructure:"min_dollars" yaml:"min_dollars" json:"min_dollars"`
	Score      float64 `mapstructure:"score" yaml:"score" json:"score"`
}

type PositionSizeConfig struct {
	Weight float64    `mapstructure:"weight" yaml:"weight" json:"weight"`
	Tiers  []SizeTier `mapstructure:"tiers" yaml:"tiers" json:"tiers"`
}

type PoliticianSkillConfig struct {
	Weight       float64 `mapstructure:"weight" yaml:"weight" json:"weight"`
	MinTrades    int     `mapstructure:"min_trades" yaml:"min_trades" json:"min_trades"`
	DefaultScore float64 `mapstructure:"default_score" yaml:"default_score" json:"default_score"`
}

type SourceQualityConfig struct {
	Weight            float64            `mapstructure:"weight" yaml:"weight" json:"weight"`
	BaseScores        map[string]float64 `mapstructure:"base_scores" yaml:"base_scores" json:"base_scores,omitempty"`
	DefaultBase       float64            `mapstructure:"default_base" yaml:"default_base" json:"default_base"`
	ConfirmationBonus float64            `mapstructure:"confirmation_bonus" yaml:"confirmation_bonus" json:"confirmation_bonus"`
	MaxBonus          float64            `mapstructure:"max_bonus" yaml:"max_bonus" json:"max_bonus"`
}

// FilingSpeedConfig applies a multiplicative adjustment to the aggregate
// score: bonus when disclosed within 7 days of the trade, penalty at 30 days
// or later, neutral in between.
type FilingSpeedConfig struct {
	FastBonus   float64 `mapstructure:"fast_bonus" yaml:"fast_bonus" json:"fast_bonus"`
	SlowPenalty float64 `mapstructure:"slow_penalty" yaml:"slow_penalty" json:"slow_penalty"`
}

type CrossConfirmConfig struct {
	Weight         float64 `mapstructure:"weight" yaml:"weight" json:"weight"`
	BonusPerSource float64 `mapstructure:"bonus_per_source" yaml:"bonus_per_source" json:"bonus_per_source"`
	MaxScore       float64 `mapstructure:"max_score" yaml:"max_score" json:"max_score"`
}

type SizingMode string

const (
	SizeScoreSquared SizingMode = "score_squared"
	SizeScoreLinear  SizingMode = "score_linear"
	SizeEqualSplit   SizingMode = "equal_split"
	SizeSmartBudget  SizingMode = "smart_budget"
)

// CapitolTier maps a disclosed congressional trade size to a sizing
// multiplier for smart_budget mode.
type CapitolTier struct {
	MinDisclosed float64 `mapstructure:"min_disclosed" yaml:"min_disclosed" json:"min_disclosed"`
	Multiplier   float64 `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`
}

type SizingConfig struct {
	Mode SizingMode `mapstructure:"mode" yaml:"mode" json:"mode"`

	BaseMultiplier float64 `mapstructure:"base_multiplier" yaml:"base_multiplier" json:"base_multiplier,omitempty"`
	BaseAmount     float64 `mapstructure:"base_amount" yaml:"base_amount" json:"base_amount,omitempty"`
	ReservePct     float64 `mapstructure:"reserve_pct" yaml:"reserve_pct" json:"reserve_pct,omitempty"`

	MinPositionAmount float64 `mapstructure:"min_position_amount" yaml:"min_position_amount" json:"min_position_amount"`
	MaxPositionAmount float64 `mapstructure:"max_position_amount" yaml:"max_position_amount" json:"max_position_amount,omitempty"`
	MaxPositionPct    float64 `mapstructure:"max_position_pct" yaml:"max_position_pct" json:"max_position_pct,omitempty"`

	MaxOpenPositions int `mapstructure:"max_open_positions" yaml:"max_open_positions" json:"max_open_positions"`
	MaxPerTicker     int `mapstructure:"max_per_ticker" yaml:"max_per_ticker" json:"max_per_ticker"`

	CapitolTiers []CapitolTier `mapstructure:"capitol_tiers" yaml:"capitol_tiers" json:"capitol_tiers,omitempty"`

	// Budget-deployment scale-downs for smart_budget: once deployment passes
	// the high (default 70%) or mid (default 50%) threshold, new positions are
	// scaled by the matching factor.
	HighDeployPct   float64 `mapstructure:"high_deploy_pct" yaml:"high_deploy_pct" json:"high_deploy_pct,omitempty"`
	HighDeployScale float64 `mapstructure:"high_deploy_scale" yaml:"high_deploy_scale" json:"high_deploy_scale,omitempty"`
	MidDeployPct    float64 `mapstructure:"mid_deploy_pct" yaml:"mid_deploy_pct" json:"mid_deploy_pct,omitempty"`
	MidDeployScale  float64 `mapstructure:"mid_deploy_scale" yaml:"mid_deploy_scale" json:"mid_deploy_scale,omitempty"`
}

type StopLossMode string

const (
	StopFixed    StopLossMode = "fixed"
	StopTrailing StopLossMode = "trailing"
)

type StopLossConfig struct {
	Mode         StopLossMode `mapstructure:"mode" yaml:"mode" json:"mode"`
	ThresholdPct float64      `mapstructure:"threshold_pct" yaml:"threshold_pct" json:"threshold_pct"`
}

// TakeProfitConfig is the tiered take-profit: the first tier fires once per
// position and sells FirstSellPct percent; the second tier closes fully.
type TakeProfitConfig struct {
	FirstTriggerPct  float64 `mapstructure:"first_trigger_pct" yaml:"first_trigger_pct" json:"first_trigger_pct"`
	FirstSellPct     float64 `mapstructure:"first_sell_pct" yaml:"first_sell_pct" json:"first_sell_pct"`
	SecondTriggerPct float64 `mapstructure:"second_trigger_pct" yaml:"second_trigger_pct" json:"second_trigger_pct"`
}

type ExitConfig struct {
	StopLoss    StopLossConfig    `mapstructure:"stop_loss" yaml:"stop_loss" json:"stop_loss"`
	TakeProfit  *TakeProfitConfig `mapstructure:"take_profit" yaml:"take_profit" json:"take_profit,omitempty"`
	MaxHoldDays int               `mapstructure:"max_hold_days" yaml:"max_hold_days" json:"max_hold_days,omitempty"`

	// SoftStop closes positions with no profit after the per-asset-type
	// number of days. Empty map disables the check.
	SoftStop map[domain.AssetType]int `mapstructure:"soft_stop" yaml:"soft_stop" json:"soft_stop,omitempty"`
}
