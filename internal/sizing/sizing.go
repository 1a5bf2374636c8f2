// Package sizing converts a score and live budget state into a dollar
// position size under one of four allocation modes.
package sizing

import "hadoku/internal/agentcfg"

// Budget deployment scale-down defaults for smart_budget, used when the
// agent config leaves the thresholds unset.
const (
	defaultHighDeployPct   = 0.70
	defaultHighDeployScale = 0.70
	defaultMidDeployPct    = 0.50
	defaultMidDeployScale  = 0.85
)

// Input is everything a sizing decision depends on. Score is nil for
// pass/fail agents. Remaining and Total describe the agent's current-month
// budget. AcceptedCount is the number of signals already accepted this cycle
// (equal_split divides by it). DisclosedMin is the lower bound of the
// disclosed congressional position size.
type Input struct {
	Score         *float64
	Remaining     float64
	Total         float64
	AcceptedCount int
	IsHalf        bool
	DisclosedMin  float64
}

// Compute returns the dollar size for the decision, or 0 meaning "do not
// execute". The caller must treat 0 as a skip, not as a zero-dollar order.
// Output is non-decreasing in score for a fixed mode and config.
func Compute(cfg agentcfg.SizingConfig, monthlyBudget float64, in Input) float64 {
	score := 1.0
	if in.Score != nil {
		score = *in.Score
	}

	var raw float64
	switch cfg.Mode {
	case agentcfg.SizeScoreSquared:
		raw = cfg.BaseMultiplier * score * score * monthlyBudget
	case agentcfg.SizeScoreLinear:
		raw = cfg.BaseAmount * score
	case agentcfg.SizeEqualSplit:
		// AcceptedCount counts prior acceptances; this signal makes n+1.
		raw = in.Remaining / float64(in.AcceptedCount+1)
	case agentcfg.SizeSmartBudget:
		raw = smartBudgetSize(cfg, monthlyBudget, score, in)
	default:
		return 0
	}

	if in.IsHalf {
		raw /= 2
	}

	raw = clampCommon(cfg, monthlyBudget, in, raw)
	if raw < cfg.MinPositionAmount {
		return 0
	}
	return raw
}

func smartBudgetSize(cfg agentcfg.SizingConfig, monthlyBudget, score float64, in Input) float64 {
	raw := cfg.BaseAmount * score * capitolMultiplier(cfg.CapitolTiers, in.DisclosedMin)

	// Scale down as the month's budget gets deployed.
	highPct, highScale := cfg.HighDeployPct, cfg.HighDeployScale
	midPct, midScale := cfg.MidDeployPct, cfg.MidDeployScale
	if highPct <= 0 {
		highPct, highScale = defaultHighDeployPct, defaultHighDeployScale
	}
	if midPct <= 0 {
		midPct, midScale = defaultMidDeployPct, defaultMidDeployScale
	}
	if in.Total > 0 {
		deployed := (in.Total - in.Remaining) / in.Total
		switch {
		case deployed >= highPct:
			raw *= highScale
		case deployed >= midPct:
			raw *= midScale
		}
	}
	return raw
}

// capitolMultiplier steps up with the disclosed trade size; larger disclosed
// buys earn a multiplier of up to 1.5.
func capitolMultiplier(tiers []agentcfg.CapitolTier, disclosedMin float64) float64 {
	mult := 1.0
	best := -1.0
	for _, tier := range tiers {
		if tier.MinDisclosed <= disclosedMin && tier.MinDisclosed > best {
			best = tier.MinDisclosed
			mult = tier.Multiplier
		}
	}
	if mult > 1.5 {
		mult = 1.5
	}
	return mult
}

func clampCommon(cfg agentcfg.SizingConfig, monthlyBudget float64, in Input, raw float64) float64 {
	if raw < 0 {
		return 0
	}
	limit := in.Remaining
	if cfg.Mode == agentcfg.SizeSmartBudget {
		afterReserve := in.Remaining - cfg.ReservePct*in.Total
		if afterReserve < limit {
			limit = afterReserve
		}
	}
	if cfg.MaxPositionAmount > 0 && cfg.MaxPositionAmount < limit {
		limit = cfg.MaxPositionAmount
	}
	if cfg.MaxPositionPct > 0 {
		pctCap := cfg.MaxPositionPct * monthlyBudget
		if pctCap < limit {
			limit = pctCap
		}
	}
	if limit < 0 {
		limit = 0
	}
	if raw > limit {
		return limit
	}
	return raw
}
