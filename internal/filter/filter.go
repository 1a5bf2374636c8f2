// Package filter implements the per-agent hard gate over enriched signals.
package filter

import (
	"math"
	"strings"

	"hadoku/internal/agentcfg"
	"hadoku/internal/domain"
)

type check struct {
	reason domain.FilterReason
	fails  func(agentcfg.FilterConfig, domain.EnrichedSignal) bool
}

// Checks run in this order and short-circuit on the first failure. The order
// is part of the contract: audit rows report the first gate that failed.
var checks = []check{
	{domain.FilterPolitician, failsPolitician},
	{domain.FilterTicker, failsTicker},
	{domain.FilterAssetType, failsAssetType},
	{domain.FilterAge, failsAge},
	{domain.FilterPriceMove, failsPriceMove},
}

// Evaluate returns (true, "") when the signal passes every gate, otherwise
// (false, reason) for the first gate it failed. Pure, no I/O.
func Evaluate(cfg agentcfg.FilterConfig, sig domain.EnrichedSignal) (bool, domain.FilterReason) {
	for _, c := range checks {
		if c.fails(cfg, sig) {
			return false, c.reason
		}
	}
	return true, ""
}

func failsPolitician(cfg agentcfg.FilterConfig, sig domain.EnrichedSignal) bool {
	if cfg.Politicians == nil {
		return false
	}
	return !containsFold(cfg.Politicians, sig.Politician.Name)
}

func failsTicker(cfg agentcfg.FilterConfig, sig domain.EnrichedSignal) bool {
	if cfg.Tickers == nil {
		return false
	}
	return !containsFold(cfg.Tickers, sig.Ticker)
}

func failsAssetType(cfg agentcfg.FilterConfig, sig domain.EnrichedSignal) bool {
	return !cfg.ValidAssetType(sig.AssetType)
}

func failsAge(cfg agentcfg.FilterConfig, sig domain.EnrichedSignal) bool {
	return sig.DaysSinceTrade > cfg.MaxSignalAgeDays
}

func failsPriceMove(cfg agentcfg.FilterConfig, sig domain.EnrichedSignal) bool {
	return math.Abs(sig.PriceChangePct) > cfg.MaxPriceMovePct
}

func containsFold(list []string, target string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(target)) {
			return true
		}
	}
	return false
}
