// Package scoring computes the [0,1] quality score for a signal under one
// agent's component configuration.
//
// The math lives entirely in Compute, which takes any historical inputs
// (politician win rate, cross-source confirmation count) as precomputed
// values. The live path (Engine.Score) fetches those inputs through a
// HistoryLookup and then calls Compute; the backtest simulator calls Compute
// directly. Both paths therefore score identically by construction.
package scoring

import (
	"context"
	"fmt"
	"math"

	"hadoku/internal/agentcfg"
	"hadoku/internal/domain"
)

// Inputs carries the historical values some components need. A nil WinRate
// means no history is available for the politician.
type Inputs struct {
	WinRate           *float64
	WinRateTrades     int
	ConfirmationCount int
}

// Result is the aggregate score plus the per-component breakdown recorded on
// trade audit rows.
type Result struct {
	Total      float64
	Components map[string]float64
}

// Component keys used in Result.Components.
const (
	CompTimeDecay       = "time_decay"
	CompPriceMove       = "price_move"
	CompPositionSize    = "position_size"
	CompPoliticianSkill = "politician_skill"
	CompSourceQuality   = "source_quality"
	CompCrossConfirm    = "cross_confirm"
	CompFilingSpeed     = "filing_speed"
)

// Win-rate clamp bounds: small noisy samples should not dominate the score.
const (
	winRateFloor = 0.4
	winRateCeil  = 0.7
)

// Filing-speed boundaries in days between trade and disclosure.
const (
	fastFilingDays = 7
	slowFilingDays = 30
)

// Compute scores sig under cfg with the given historical inputs. The result
// is the weighted mean of active components, adjusted by the filing-speed
// multiplier when configured, clamped to [0,1]. Pure and deterministic.
func Compute(cfg *agentcfg.ScoringConfig, sig domain.EnrichedSignal, in Inputs) Result {
	res := Result{Components: map[string]float64{}}
	if cfg == nil {
		return res
	}

	var weightSum, weighted float64
	add := func(key string, weight, score float64) {
		res.Components[key] = score
		weightSum += weight
		weighted += weight * score
	}

	if c := cfg.TimeDecay; c != nil {
		add(CompTimeDecay, c.Weight, timeDecayScore(c, sig))
	}
	if c := cfg.PriceMove; c != nil {
		add(CompPriceMove, c.Weight, priceMoveScore(c, sig))
	}
	if c := cfg.PositionSize; c != nil {
		add(CompPositionSize, c.Weight, positionSizeScore(c, sig))
	}
	if c := cfg.PoliticianSkill; c != nil {
		add(CompPoliticianSkill, c.Weight, politicianSkillScore(c, in))
	}
	if c := cfg.SourceQuality; c != nil {
		add(CompSourceQuality, c.Weight, sourceQualityScore(c, sig, in))
	}
	if c := cfg.CrossConfirm; c != nil {
		add(CompCrossConfirm, c.Weight, crossConfirmScore(c, in))
	}

	if weightSum <= 0 {
		return res
	}
	total := weighted / weightSum

	if c := cfg.FilingSpeed; c != nil {
		mult := filingSpeedMultiplier(c, sig)
		res.Components[CompFilingSpeed] = mult
		total *= mult
	}

	res.Total = clamp01(total)
	return res
}

// timeDecayScore halves with every half-life elapsed since the trade. When a
// disclosure half-life is configured the more pessimistic of the two decays
// wins.
func timeDecayScore(c *agentcfg.TimeDecayConfig, sig domain.EnrichedSignal) float64 {
	decay := math.Pow(0.5, float64(sig.DaysSinceTrade)/c.HalfLifeDays)
	if c.DisclosureHalfLifeDays > 0 {
		disclosure := math.Pow(0.5, float64(sig.DaysSinceDisclosure)/c.DisclosureHalfLifeDays)
		decay = math.Min(decay, disclosure)
	}
	return decay
}

// Calibration points for the price-move component, in absolute drift percent.
var priceMovePoints = [4]float64{0, 5, 15, 25}

func priceMoveScore(c *agentcfg.PriceMoveConfig, sig domain.EnrichedSignal) float64 {
	drift := math.Abs(sig.PriceChangePct)
	score := 0.0
	switch {
	case drift >= priceMovePoints[3]:
		score = 0
	default:
		for i := 1; i < len(priceMovePoints); i++ {
			if drift <= priceMovePoints[i] {
				span := priceMovePoints[i] - priceMovePoints[i-1]
				frac := (drift - priceMovePoints[i-1]) / span
				score = c.Scores[i-1] + frac*(c.Scores[i]-c.Scores[i-1])
				break
			}
		}
	}
	// Buy-the-dip bonus: a buy whose price has fallen since the trade is
	// more attractive, not less.
	if sig.Action == domain.ActionBuy && sig.PriceChangePct < 0 {
		score = math.Min(score*1.2, 1.2)
	}
	return score
}

func positionSizeScore(c *agentcfg.PositionSizeConfig, sig domain.EnrichedSignal) float64 {
	best := 0.0
	bestThreshold := math.Inf(-1)
	for _, tier := range c.Tiers {
		if tier.MinDollars <= sig.SizeMin && tier.MinDollars > bestThreshold {
			bestThreshold = tier.MinDollars
			best = tier.Score
		}
	}
	return best
}

func politicianSkillScore(c *agentcfg.PoliticianSkillConfig, in Inputs) float64 {
	if in.WinRate == nil || in.WinRateTrades < c.MinTrades {
		return c.DefaultScore
	}
	rate := *in.WinRate
	if rate < winRateFloor {
		return winRateFloor
	}
	if rate > winRateCeil {
		return winRateCeil
	}
	return rate
}

func sourceQualityScore(c *agentcfg.SourceQualityConfig, sig domain.EnrichedSignal, in Inputs) float64 {
	base, ok := c.BaseScores[sig.Source]
	if !ok {
		base = c.DefaultBase
	}
	bonus := 0.0
	if in.ConfirmationCount > 1 {
		bonus = c.ConfirmationBonus * float64(in.ConfirmationCount-1)
		if bonus > c.MaxBonus {
			bonus = c.MaxBonus
		}
	}
	return clamp01(base + bonus)
}

func crossConfirmScore(c *agentcfg.CrossConfirmConfig, in Inputs) float64 {
	if in.ConfirmationCount <= 1 {
		return 0
	}
	score := c.BonusPerSource * float64(in.ConfirmationCount-1)
	if score > c.MaxScore {
		score = c.MaxScore
	}
	return score
}

func filingSpeedMultiplier(c *agentcfg.FilingSpeedConfig, sig domain.EnrichedSignal) float64 {
	filingDays := sig.DaysSinceTrade - sig.DaysSinceDisclosure
	if filingDays < 0 {
		filingDays = 0
	}
	switch {
	case filingDays < fastFilingDays:
		return 1 + c.FastBonus
	case filingDays >= slowFilingDays:
		return 1 - c.SlowPenalty
	default:
		return 1
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// HistoryLookup provides the two historical values scoring may need in the
// live path. Implemented by the domain store.
type HistoryLookup interface {
	PoliticianWinRate(ctx context.Context, politician string) (rate float64, trades int, err error)
	ConfirmationCount(ctx context.Context, ticker string, action domain.TradeAction, tradeDate string) (int, error)
}

// Engine is the live-path call site: it fetches only the inputs the agent's
// components actually need, then delegates to Compute.
type Engine struct {
	lookup HistoryLookup
}

func NewEngine(lookup HistoryLookup) (*Engine, error) {
	if lookup == nil {
		return nil, fmt.Errorf("scoring engine requires a history lookup")
	}
	return &Engine{lookup: lookup}, nil
}

func (e *Engine) Score(ctx context.Context, cfg *agentcfg.ScoringConfig, sig domain.EnrichedSignal) (Result, error) {
	var in Inputs
	if cfg.NeedsWinRate() {
		rate, trades, err := e.lookup.PoliticianWinRate(ctx, sig.Politician.Name)
		if err != nil {
			return Result{}, fmt.Errorf("win rate lookup for %s: %w", sig.Politician.Name, err)
		}
		if trades > 0 {
			in.WinRate = &rate
			in.WinRateTrades = trades
		}
	}
	if cfg.NeedsConfirmations() {
		n, err := e.lookup.ConfirmationCount(ctx, sig.Ticker, sig.Action, sig.TradeDate.UTC().Format("2006-01-02"))
		if err != nil {
			return Result{}, fmt.Errorf("confirmation lookup for %s: %w", sig.Ticker, err)
		}
		in.ConfirmationCount = n
	}
	return Compute(cfg, sig, in), nil
}
