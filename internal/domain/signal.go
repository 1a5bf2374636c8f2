// Package domain holds the core data model shared by the live pipeline and
// the backtest simulator: disclosed trade signals, enriched signals, positions
// and decision audit records.
package domain

import (
	"fmt"
	"strings"
	"time"
)

type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

func ParseTradeAction(raw string) (TradeAction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "purchase":
		return ActionBuy, nil
	case "sell", "sale":
		return ActionSell, nil
	default:
		return "", fmt.Errorf("unknown trade action %q", raw)
	}
}

type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetETF    AssetType = "etf"
	AssetOption AssetType = "option"
	AssetCrypto AssetType = "crypto"
	AssetOther  AssetType = "other"
)

// Politician identifies the disclosing member.
type Politician struct {
	Name    string `json:"name"`
	Chamber string `json:"chamber"`
	Party   string `json:"party"`
	State   string `json:"state"`
}

// Signal is one disclosed trade as reported by a single data source.
// Immutable once stored; unique per (Source, SourceLocalID).
type Signal struct {
	ID              int64       `json:"id"`
	Source          string      `json:"source"`
	SourceLocalID   string      `json:"source_local_id"`
	Politician      Politician  `json:"politician"`
	Ticker          string      `json:"ticker"`
	Action          TradeAction `json:"action"`
	AssetType       AssetType   `json:"asset_type"`
	TradeDate       time.Time   `json:"trade_date"`
	TradePrice      float64     `json:"trade_price"`
	DisclosureDate  time.Time   `json:"disclosure_date"`
	DisclosurePrice float64     `json:"disclosure_price"`
	SizeMin         float64     `json:"size_min"`
	SizeMax         float64     `json:"size_max"`
	ScrapedAt       time.Time   `json:"scraped_at"`
}

// TradeSignature is the logical-duplicate key: two sources reporting the same
// underlying trade produce the same signature.
func (s Signal) TradeSignature() string {
	return fmt.Sprintf("%s|%s|%s|%s",
		strings.ToUpper(strings.TrimSpace(s.Ticker)),
		strings.ToLower(strings.TrimSpace(s.Politician.Name)),
		s.TradeDate.UTC().Format("2006-01-02"),
		s.Action)
}

// EnrichedSignal is a Signal plus fields derived from the current price and
// clock. Recomputed on every evaluation, never persisted.
type EnrichedSignal struct {
	Signal
	CurrentPrice        float64
	DaysSinceTrade      int
	DaysSinceDisclosure int
	PriceChangePct      float64
}

// Enrich derives age and drift fields for a signal at the given price and
// time. Pure; day counts are calendar-day differences at UTC midnight.
func Enrich(sig Signal, currentPrice float64, now time.Time) EnrichedSignal {
	enriched := EnrichedSignal{
		Signal:              sig,
		CurrentPrice:        currentPrice,
		DaysSinceTrade:      daysBetween(sig.TradeDate, now),
		DaysSinceDisclosure: daysBetween(sig.DisclosureDate, now),
	}
	if sig.TradePrice > 0 {
		enriched.PriceChangePct = (currentPrice - sig.TradePrice) / sig.TradePrice * 100
	}
	return enriched
}

func daysBetween(from, to time.Time) int {
	a := midnightUTC(from)
	b := midnightUTC(to)
	days := int(b.Sub(a).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
