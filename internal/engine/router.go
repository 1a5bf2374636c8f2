// Package engine routes disclosed signals through each agent's decision
// pipeline and runs the exit monitor over open positions.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"hadoku/internal/agentcfg"
	"hadoku/internal/broker"
	"hadoku/internal/budget"
	"hadoku/internal/domain"
	"hadoku/internal/filter"
	"hadoku/internal/logger"
	"hadoku/internal/prices"
	"hadoku/internal/scoring"
	"hadoku/internal/sizing"
)

// Store is the persistence surface the router depends on.
type Store interface {
	ListPendingSignals(ctx context.Context) ([]domain.Signal, error)
	MarkSignalProcessed(ctx context.Context, id int64, at time.Time) error

	HasTrade(ctx context.Context, agentID string, signalID int64) (bool, error)
	InsertTrade(ctx context.Context, rec *domain.TradeRecord) error
	UpdateTradeOutcome(ctx context.Context, id string, status domain.TradeStatus, quantity, price, total float64, errMsg string) error

	CreatePosition(ctx context.Context, pos *domain.Position) error
	OpenPositionsByTicker(ctx context.Context, agentID, ticker string) ([]domain.Position, error)
	CountOpenPositions(ctx context.Context, agentID string) (int, error)
	CountOpenByTicker(ctx context.Context, agentID, ticker string) (int, error)
	UpdateWatermark(ctx context.Context, id int64, price float64) error
	ReducePosition(ctx context.Context, id int64, remainingShares float64) error
	ClosePosition(ctx context.Context, id int64, price float64, reason domain.ExitReason, at time.Time) error
	AllOpenPositions(ctx context.Context) ([]domain.Position, error)
}

// Registry is the slice of the agent config registry the router uses.
type Registry interface {
	Snapshot() agentcfg.Snapshot
}

// Router turns pending signals into per-agent trade decisions.
type Router struct {
	store    Store
	registry Registry
	scorer   *scoring.Engine
	ledger   *budget.Ledger
	prices   prices.Provider
	executor broker.Executor
	nowFn    func() time.Time
}

func NewRouter(store Store, registry Registry, scorer *scoring.Engine, ledger *budget.Ledger, provider prices.Provider, executor broker.Executor) (*Router, error) {
	if store == nil || registry == nil || scorer == nil || ledger == nil || provider == nil || executor == nil {
		return nil, fmt.Errorf("engine: router requires store, registry, scorer, ledger, prices and executor")
	}
	return &Router{
		store:    store,
		registry: registry,
		scorer:   scorer,
		ledger:   ledger,
		prices:   provider,
		executor: executor,
		nowFn:    time.Now,
	}, nil
}

// SetNowFunc overrides the clock; used in tests.
func (r *Router) SetNowFunc(fn func() time.Time) { r.nowFn = fn }

// CycleStats summarizes one ProcessPending run.
type CycleStats struct {
	Signals   int `json:"signals"`
	Processed int `json:"processed"`
	Executed  int `json:"executed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
}

// ProcessPending routes every unprocessed signal through all active agents.
// Signals are handled oldest-first; within one signal the agents run
// concurrently but the signal is marked processed only after every agent has
// recorded its decision. A signal with no available price stays pending for
// the next cycle.
func (r *Router) ProcessPending(ctx context.Context) (CycleStats, error) {
	signals, err := r.store.ListPendingSignals(ctx)
	if err != nil {
		return CycleStats{}, err
	}
	agents := r.registry.Snapshot().Active()
	stats := CycleStats{Signals: len(signals)}
	if len(agents) == 0 {
		return stats, nil
	}

	counts := newAcceptCounts()
	now := r.nowFn()
	for _, sig := range signals {
		price, ok, err := r.prices.Price(ctx, sig.Ticker, now)
		if err != nil {
			return stats, fmt.Errorf("engine: price lookup %s: %w", sig.Ticker, err)
		}
		if !ok {
			logger.Warnf("engine: no price for %s, leaving signal %d pending", sig.Ticker, sig.ID)
			stats.Deferred++
			continue
		}
		enriched := domain.Enrich(sig, price, now)

		g, gctx := errgroup.WithContext(ctx)
		var mu sync.Mutex
		for _, agent := range agents {
			agent := agent
			g.Go(func() error {
				outcome, err := r.processForAgent(gctx, agent, enriched, counts)
				if err != nil {
					return err
				}
				mu.Lock()
				switch outcome {
				case outcomeExecuted:
					stats.Executed++
				case outcomeSkipped:
					stats.Skipped++
				case outcomeFailed:
					stats.Failed++
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}
		if err := r.store.MarkSignalProcessed(ctx, sig.ID, now); err != nil {
			return stats, err
		}
		stats.Processed++
	}
	return stats, nil
}

type agentOutcome int

const (
	outcomeNone agentOutcome = iota
	outcomeExecuted
	outcomeSkipped
	outcomeFailed
)

func (r *Router) processForAgent(ctx context.Context, agent agentcfg.AgentConfig, sig domain.EnrichedSignal, counts *acceptCounts) (agentOutcome, error) {
	seen, err := r.store.HasTrade(ctx, agent.ID, sig.ID)
	if err != nil {
		return outcomeNone, err
	}
	if seen {
		return outcomeNone, nil
	}
	if sig.Action == domain.ActionSell {
		return r.processSell(ctx, agent, sig)
	}
	return r.processBuy(ctx, agent, sig, counts)
}

func (r *Router) processBuy(ctx context.Context, agent agentcfg.AgentConfig, sig domain.EnrichedSignal, counts *acceptCounts) (agentOutcome, error) {
	if ok, reason := filter.Evaluate(agent.Filters, sig); !ok {
		return r.recordSkip(ctx, agent, sig, domain.SkipReasonFor(reason), nil, nil)
	}

	open, err := r.store.CountOpenPositions(ctx, agent.ID)
	if err != nil {
		return outcomeNone, err
	}
	if agent.Sizing.MaxOpenPositions > 0 && open >= agent.Sizing.MaxOpenPositions {
		return r.recordSkip(ctx, agent, sig, domain.ReasonPositionLimit, nil, nil)
	}
	inTicker, err := r.store.CountOpenByTicker(ctx, agent.ID, sig.Ticker)
	if err != nil {
		return outcomeNone, err
	}
	if agent.Sizing.MaxPerTicker > 0 && inTicker >= agent.Sizing.MaxPerTicker {
		return r.recordSkip(ctx, agent, sig, domain.ReasonTickerLimit, nil, nil)
	}

	action := domain.DecisionExecute
	reason := domain.ReasonPassFail
	var score *float64
	var parts map[string]float64
	if !agent.PassFail() {
		result, err := r.scorer.Score(ctx, agent.Scoring, sig)
		if err != nil {
			return outcomeNone, err
		}
		score = &result.Total
		parts = result.Components
		switch {
		case result.Total >= agent.ExecuteThreshold:
			reason = domain.ReasonScoreExecute
		case agent.HalfSizeThreshold != nil && result.Total >= *agent.HalfSizeThreshold:
			action = domain.DecisionExecuteHalf
			reason = domain.ReasonScoreHalf
		default:
			return r.recordSkip(ctx, agent, sig, domain.ReasonSkipScore, score, parts)
		}
	}

	state, err := r.ledger.Get(ctx, agent.ID)
	if err != nil {
		return outcomeNone, err
	}
	amount := sizing.Compute(agent.Sizing, agent.MonthlyBudget, sizing.Input{
		Score:         score,
		Remaining:     state.Remaining().InexactFloat64(),
		Total:         state.Total.InexactFloat64(),
		AcceptedCount: counts.get(agent.ID),
		IsHalf:        action == domain.DecisionExecuteHalf,
		DisclosedMin:  sig.SizeMin,
	})
	if amount <= 0 {
		return r.recordSkip(ctx, agent, sig, domain.ReasonBelowMinSize, score, parts)
	}
	shares := math.Floor(amount / sig.CurrentPrice)
	if shares < 1 {
		return r.recordSkip(ctx, agent, sig, domain.ReasonZeroShares, score, parts)
	}
	total := shares * sig.CurrentPrice

	rec := domain.TradeRecord{
		ID:         uuid.NewString(),
		AgentID:    agent.ID,
		SignalID:   sig.ID,
		Ticker:     sig.Ticker,
		Action:     action,
		Reason:     reason,
		Score:      score,
		ScoreParts: parts,
		Quantity:   shares,
		Price:      sig.CurrentPrice,
		Total:      total,
		Status:     domain.TradePending,
	}
	if err := r.store.InsertTrade(ctx, &rec); err != nil {
		return outcomeNone, err
	}
	counts.inc(agent.ID)

	result, err := r.executor.Execute(ctx, broker.Request{
		Ticker:   sig.Ticker,
		Action:   domain.ActionBuy,
		Quantity: shares,
	})
	if err != nil || !result.Success {
		msg := result.Message
		if err != nil {
			msg = err.Error()
		}
		logger.Errorf("engine: buy %s x%.0f for agent %s failed: %s", sig.Ticker, shares, agent.ID, msg)
		if uerr := r.store.UpdateTradeOutcome(ctx, rec.ID, domain.TradeFailed, shares, sig.CurrentPrice, 0, msg); uerr != nil {
			return outcomeNone, uerr
		}
		return outcomeFailed, nil
	}

	now := r.nowFn()
	pos := domain.Position{
		AgentID:      agent.ID,
		SignalID:     sig.ID,
		Ticker:       sig.Ticker,
		AssetType:    sig.AssetType,
		Shares:       shares,
		EntryPrice:   sig.CurrentPrice,
		EntryDate:    now,
		CostBasis:    total,
		HighestPrice: sig.CurrentPrice,
		Status:       domain.PositionOpen,
	}
	if err := r.store.CreatePosition(ctx, &pos); err != nil {
		return outcomeNone, err
	}
	if _, err := r.ledger.Charge(ctx, agent.ID, decimal.NewFromFloat(total)); err != nil {
		return outcomeNone, err
	}
	if err := r.store.UpdateTradeOutcome(ctx, rec.ID, domain.TradeExecuted, shares, sig.CurrentPrice, total, ""); err != nil {
		return outcomeNone, err
	}
	logger.Infof("engine: agent %s bought %s x%.0f @ %.2f (%s)", agent.ID, sig.Ticker, shares, sig.CurrentPrice, reason)
	return outcomeExecuted, nil
}

// processSell closes every eligible open position the agent holds in the
// signal's ticker. Positions younger than min_hold_days are kept.
func (r *Router) processSell(ctx context.Context, agent agentcfg.AgentConfig, sig domain.EnrichedSignal) (agentOutcome, error) {
	positions, err := r.store.OpenPositionsByTicker(ctx, agent.ID, sig.Ticker)
	if err != nil {
		return outcomeNone, err
	}
	if len(positions) == 0 {
		return r.recordSkip(ctx, agent, sig, domain.ReasonNoPosition, nil, nil)
	}
	now := r.nowFn()
	var eligible []domain.Position
	for _, pos := range positions {
		if agent.MinHoldDays > 0 && pos.DaysHeld(now) < agent.MinHoldDays {
			continue
		}
		eligible = append(eligible, pos)
	}
	if len(eligible) == 0 {
		return r.recordSkip(ctx, agent, sig, domain.ReasonPositionTooYoung, nil, nil)
	}

	var totalShares, totalProceeds float64
	for _, pos := range eligible {
		totalShares += pos.Shares
	}
	rec := domain.TradeRecord{
		ID:       uuid.NewString(),
		AgentID:  agent.ID,
		SignalID: sig.ID,
		Ticker:   sig.Ticker,
		Action:   domain.DecisionClose,
		Reason:   domain.ReasonSellSignal,
		Quantity: totalShares,
		Price:    sig.CurrentPrice,
		Status:   domain.TradePending,
	}
	if err := r.store.InsertTrade(ctx, &rec); err != nil {
		return outcomeNone, err
	}

	result, err := r.executor.Execute(ctx, broker.Request{
		Ticker:   sig.Ticker,
		Action:   domain.ActionSell,
		Quantity: totalShares,
	})
	if err != nil || !result.Success {
		msg := result.Message
		if err != nil {
			msg = err.Error()
		}
		logger.Errorf("engine: sell %s x%.0f for agent %s failed: %s", sig.Ticker, totalShares, agent.ID, msg)
		if uerr := r.store.UpdateTradeOutcome(ctx, rec.ID, domain.TradeFailed, totalShares, sig.CurrentPrice, 0, msg); uerr != nil {
			return outcomeNone, uerr
		}
		return outcomeFailed, nil
	}

	for _, pos := range eligible {
		if err := r.store.ClosePosition(ctx, pos.ID, sig.CurrentPrice, domain.ExitSellSignal, now); err != nil {
			return outcomeNone, err
		}
		proceeds := pos.Shares * sig.CurrentPrice
		totalProceeds += proceeds
		if _, err := r.ledger.Credit(ctx, agent.ID, decimal.NewFromFloat(proceeds)); err != nil {
			return outcomeNone, err
		}
	}
	if err := r.store.UpdateTradeOutcome(ctx, rec.ID, domain.TradeExecuted, totalShares, sig.CurrentPrice, totalProceeds, ""); err != nil {
		return outcomeNone, err
	}
	logger.Infof("engine: agent %s closed %d position(s) in %s on sell signal", agent.ID, len(eligible), sig.Ticker)
	return outcomeExecuted, nil
}

func (r *Router) recordSkip(ctx context.Context, agent agentcfg.AgentConfig, sig domain.EnrichedSignal, reason string, score *float64, parts map[string]float64) (agentOutcome, error) {
	rec := domain.TradeRecord{
		ID:         uuid.NewString(),
		AgentID:    agent.ID,
		SignalID:   sig.ID,
		Ticker:     sig.Ticker,
		Action:     domain.DecisionSkip,
		Reason:     reason,
		Score:      score,
		ScoreParts: parts,
		Price:      sig.CurrentPrice,
		Status:     domain.TradeSkipped,
	}
	if err := r.store.InsertTrade(ctx, &rec); err != nil {
		return outcomeNone, err
	}
	logger.Debugf("engine: agent %s skipped signal %d (%s): %s", agent.ID, sig.ID, sig.Ticker, reason)
	return outcomeSkipped, nil
}

// acceptCounts tracks how many buys each agent accepted this cycle. The
// equal_split sizing mode divides the remaining budget by this count.
type acceptCounts struct {
	mu sync.Mutex
	m  map[string]int
}

func newAcceptCounts() *acceptCounts {
	return &acceptCounts{m: make(map[string]int)}
}

func (c *acceptCounts) get(agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[agentID]
}

func (c *acceptCounts) inc(agentID string) {
	c.mu.Lock()
	c.m[agentID]++
	c.mu.Unlock()
}
