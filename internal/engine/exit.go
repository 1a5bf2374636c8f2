package engine

import (
	"time"

	"hadoku/internal/agentcfg"
	"hadoku/internal/domain"
)

// ExitDecision says what to do with a position. SellPct is the fraction of
// current shares to sell in (0, 1]; Partial marks a first-tier take-profit
// that leaves the position open.
type ExitDecision struct {
	Reason  domain.ExitReason
	SellPct float64
	Partial bool
}

// exitRule is one prioritized exit condition. Rules run in slice order and
// the first match wins, so the priority contract lives in the exitRules
// declaration rather than in branch ordering.
type exitRule struct {
	name string
	eval func(cfg agentcfg.ExitConfig, pos domain.Position, price float64, now time.Time) *ExitDecision
}

var exitRules = []exitRule{
	{"stop_loss", evalStopLoss},
	{"take_profit", evalTakeProfit},
	{"time_exit", evalTimeExit},
	{"soft_stop", evalSoftStop},
}

// EvaluateExit runs the prioritized exit rules against a position at the
// given price. The caller must raise the watermark (RaiseWatermark) before
// calling; trailing stops measure from the already-updated peak.
func EvaluateExit(cfg agentcfg.ExitConfig, pos domain.Position, price float64, now time.Time) *ExitDecision {
	if pos.Status != domain.PositionOpen || price <= 0 {
		return nil
	}
	for _, rule := range exitRules {
		if d := rule.eval(cfg, pos, price, now); d != nil {
			return d
		}
	}
	return nil
}

func evalStopLoss(cfg agentcfg.ExitConfig, pos domain.Position, price float64, _ time.Time) *ExitDecision {
	sl := cfg.StopLoss
	if sl.ThresholdPct <= 0 {
		return nil
	}
	switch sl.Mode {
	case agentcfg.StopTrailing:
		if pos.HighestPrice <= 0 {
			return nil
		}
		drawdown := (pos.HighestPrice - price) / pos.HighestPrice * 100
		if drawdown >= sl.ThresholdPct {
			return &ExitDecision{Reason: domain.ExitStopLoss, SellPct: 1}
		}
	default:
		if pos.ReturnPct(price) <= -sl.ThresholdPct {
			return &ExitDecision{Reason: domain.ExitStopLoss, SellPct: 1}
		}
	}
	return nil
}

func evalTakeProfit(cfg agentcfg.ExitConfig, pos domain.Position, price float64, _ time.Time) *ExitDecision {
	tp := cfg.TakeProfit
	if tp == nil {
		return nil
	}
	ret := pos.ReturnPct(price)
	if tp.SecondTriggerPct > 0 && ret >= tp.SecondTriggerPct {
		return &ExitDecision{Reason: domain.ExitTakeProfit, SellPct: 1}
	}
	// The first tier fires once; partial_sold guards re-entry.
	if tp.FirstTriggerPct > 0 && ret >= tp.FirstTriggerPct && !pos.PartialSold {
		sellPct := tp.FirstSellPct / 100
		if sellPct <= 0 || sellPct >= 1 {
			return &ExitDecision{Reason: domain.ExitTakeProfit, SellPct: 1}
		}
		return &ExitDecision{Reason: domain.ExitTakeProfitPartial, SellPct: sellPct, Partial: true}
	}
	return nil
}

func evalTimeExit(cfg agentcfg.ExitConfig, pos domain.Position, _ float64, now time.Time) *ExitDecision {
	if cfg.MaxHoldDays <= 0 {
		return nil
	}
	if pos.DaysHeld(now) >= cfg.MaxHoldDays {
		return &ExitDecision{Reason: domain.ExitTimeLimit, SellPct: 1}
	}
	return nil
}

func evalSoftStop(cfg agentcfg.ExitConfig, pos domain.Position, price float64, now time.Time) *ExitDecision {
	days, ok := cfg.SoftStop[pos.AssetType]
	if !ok || days <= 0 {
		return nil
	}
	if pos.DaysHeld(now) >= days && pos.ReturnPct(price) <= 0 {
		return &ExitDecision{Reason: domain.ExitSoftStop, SellPct: 1}
	}
	return nil
}
