package agentcfg

import (
	"fmt"
	"strings"

	"hadoku/internal/domain"
)

// Validate applies the cross-field rules the schema cannot express. Malformed
// agent config is a startup failure, never silently defaulted.
func Validate(a AgentConfig) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("agent id is required")
	}
	if a.MonthlyBudget <= 0 {
		return fmt.Errorf("agent %s: monthly_budget must be positive", a.ID)
	}
	if a.Filters.MaxSignalAgeDays <= 0 {
		return fmt.Errorf("agent %s: filters.max_signal_age_days must be positive", a.ID)
	}
	if a.Filters.MaxPriceMovePct <= 0 {
		return fmt.Errorf("agent %s: filters.max_price_move_pct must be positive", a.ID)
	}
	if len(a.Filters.AssetTypes) == 0 {
		return fmt.Errorf("agent %s: filters.asset_types cannot be empty", a.ID)
	}
	if a.Scoring != nil {
		if err := validateScoring(a.ID, a.Scoring); err != nil {
			return err
		}
		if a.ExecuteThreshold < 0 || a.ExecuteThreshold > 1 {
			return fmt.Errorf("agent %s: execute_threshold must be in [0,1]", a.ID)
		}
		if a.HalfSizeThreshold != nil {
			h := *a.HalfSizeThreshold
			if h < 0 || h > 1 {
				return fmt.Errorf("agent %s: half_size_threshold must be in [0,1]", a.ID)
			}
			if h >= a.ExecuteThreshold {
				return fmt.Errorf("agent %s: half_size_threshold must be below execute_threshold", a.ID)
			}
		}
	}
	if err := validateSizing(a.ID, a.Sizing); err != nil {
		return err
	}
	if err := validateExits(a.ID, a.Exits); err != nil {
		return err
	}
	if a.MinHoldDays < 0 {
		return fmt.Errorf("agent %s: min_hold_days cannot be negative", a.ID)
	}
	return nil
}

func validateScoring(agentID string, c *ScoringConfig) error {
	active := 0
	if c.TimeDecay != nil {
		active++
		if c.TimeDecay.HalfLifeDays <= 0 {
			return fmt.Errorf("agent %s: time_decay.half_life_days must be positive", agentID)
		}
		if c.TimeDecay.Weight <= 0 {
			return fmt.Errorf("agent %s: time_decay.weight must be positive", agentID)
		}
	}
	if c.PriceMove != nil {
		active++
		if c.PriceMove.Weight <= 0 {
			return fmt.Errorf("agent %s: price_move.weight must be positive", agentID)
		}
		for i, s := range c.PriceMove.Scores {
			if s < 0 || s > 1 {
				return fmt.Errorf("agent %s: price_move.scores[%d] must be in [0,1]", agentID, i)
			}
		}
	}
	if c.PositionSize != nil {
		active++
		if c.PositionSize.Weight <= 0 {
			return fmt.Errorf("agent %s: position_size.weight must be positive", agentID)
		}
		if len(c.PositionSize.Tiers) == 0 {
			return fmt.Errorf("agent %s: position_size.tiers cannot be empty", agentID)
		}
		for i, tier := range c.PositionSize.Tiers {
			if tier.Score < 0 || tier.Score > 1 {
				return fmt.Errorf("agent %s: position_size.tiers[%d].score must be in [0,1]", agentID, i)
			}
		}
	}
	if c.PoliticianSkill != nil {
		active++
		if c.PoliticianSkill.Weight <= 0 {
			return fmt.Errorf("agent %s: politician_skill.weight must be positive", agentID)
		}
		if c.PoliticianSkill.DefaultScore < 0 || c.PoliticianSkill.DefaultScore > 1 {
			return fmt.Errorf("agent %s: politician_skill.default_score must be in [0,1]", agentID)
		}
	}
	if c.SourceQuality != nil {
		active++
		if c.SourceQuality.Weight <= 0 {
			return fmt.Errorf("agent %s: source_quality.weight must be positive", agentID)
		}
	}
	if c.CrossConfirm != nil {
		active++
		if c.CrossConfirm.Weight <= 0 {
			return fmt.Errorf("agent %s: cross_confirm.weight must be positive", agentID)
		}
		if c.CrossConfirm.MaxScore <= 0 || c.CrossConfirm.MaxScore > 1 {
			return fmt.Errorf("agent %s: cross_confirm.max_score must be in (0,1]", agentID)
		}
	}
	if active == 0 {
		return fmt.Errorf("agent %s: scoring is configured but no component is active", agentID)
	}
	if c.FilingSpeed != nil {
		if c.FilingSpeed.FastBonus < 0 || c.FilingSpeed.SlowPenalty < 0 || c.FilingSpeed.SlowPenalty > 1 {
			return fmt.Errorf("agent %s: filing_speed bonus/penalty out of range", agentID)
		}
	}
	return nil
}

func validateSizing(agentID string, c SizingConfig) error {
	switch c.Mode {
	case SizeScoreSquared:
		if c.BaseMultiplier <= 0 {
			return fmt.Errorf("agent %s: sizing.base_multiplier required for score_squared", agentID)
		}
	case SizeScoreLinear:
		if c.BaseAmount <= 0 {
			return fmt.Errorf("agent %s: sizing.base_amount required for score_linear", agentID)
		}
	case SizeEqualSplit:
		// no mode-specific fields
	case SizeSmartBudget:
		if c.BaseAmount <= 0 {
			return fmt.Errorf("agent %s: sizing.base_amount required for smart_budget", agentID)
		}
		if c.ReservePct < 0 || c.ReservePct >= 1 {
			return fmt.Errorf("agent %s: sizing.reserve_pct must be in [0,1)", agentID)
		}
		for i, tier := range c.CapitolTiers {
			if tier.Multiplier <= 0 || tier.Multiplier > 1.5 {
				return fmt.Errorf("agent %s: sizing.capitol_tiers[%d].multiplier must be in (0,1.5]", agentID, i)
			}
		}
	default:
		return fmt.Errorf("agent %s: unknown sizing mode %q", agentID, c.Mode)
	}
	if c.MinPositionAmount < 0 {
		return fmt.Errorf("agent %s: sizing.min_position_amount cannot be negative", agentID)
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("agent %s: sizing.max_open_positions must be positive", agentID)
	}
	if c.MaxPerTicker <= 0 {
		return fmt.Errorf("agent %s: sizing.max_per_ticker must be positive", agentID)
	}
	return nil
}

func validateExits(agentID string, c ExitConfig) error {
	switch c.StopLoss.Mode {
	case StopFixed, StopTrailing:
	default:
		return fmt.Errorf("agent %s: unknown stop_loss mode %q", agentID, c.StopLoss.Mode)
	}
	if c.StopLoss.ThresholdPct <= 0 {
		return fmt.Errorf("agent %s: stop_loss.threshold_pct must be positive", agentID)
	}
	if tp := c.TakeProfit; tp != nil {
		if tp.FirstTriggerPct <= 0 || tp.SecondTriggerPct <= tp.FirstTriggerPct {
			return fmt.Errorf("agent %s: take_profit tiers must satisfy 0 < first < second", agentID)
		}
		if tp.FirstSellPct <= 0 || tp.FirstSellPct >= 100 {
			return fmt.Errorf("agent %s: take_profit.first_sell_pct must be in (0,100)", agentID)
		}
	}
	if c.MaxHoldDays < 0 {
		return fmt.Errorf("agent %s: exits.max_hold_days cannot be negative", agentID)
	}
	for at, days := range c.SoftStop {
		if days <= 0 {
			return fmt.Errorf("agent %s: exits.soft_stop[%s] must be positive", agentID, at)
		}
	}
	return nil
}

// ValidAssetType reports whether the agent admits the given asset type.
func (f FilterConfig) ValidAssetType(at domain.AssetType) bool {
	for _, allowed := range f.AssetTypes {
		if allowed == at {
			return true
		}
	}
	return false
}
