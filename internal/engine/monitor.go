package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"hadoku/internal/agentcfg"
	"hadoku/internal/broker"
	"hadoku/internal/budget"
	"hadoku/internal/domain"
	"hadoku/internal/logger"
	"hadoku/internal/marketcal"
	"hadoku/internal/prices"
)

// Monitor walks all open positions on a timer, raises watermarks and applies
// the prioritized exit rules.
type Monitor struct {
	store    Store
	registry Registry
	ledger   *budget.Ledger
	prices   prices.Provider
	executor broker.Executor
	interval time.Duration
	// marketHoursOnly skips ticks outside the regular session.
	marketHoursOnly bool
	running         atomic.Bool
	nowFn           func() time.Time
}

func NewMonitor(store Store, registry Registry, ledger *budget.Ledger, provider prices.Provider, executor broker.Executor, interval time.Duration, marketHoursOnly bool) (*Monitor, error) {
	if store == nil || registry == nil || ledger == nil || provider == nil || executor == nil {
		return nil, fmt.Errorf("engine: monitor requires store, registry, ledger, prices and executor")
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		store:           store,
		registry:        registry,
		ledger:          ledger,
		prices:          provider,
		executor:        executor,
		interval:        interval,
		marketHoursOnly: marketHoursOnly,
		nowFn:           time.Now,
	}, nil
}

func (m *Monitor) SetNowFunc(fn func() time.Time) { m.nowFn = fn }

// Run ticks until the context is canceled. A tick that is still in flight
// when the next one fires is not stacked; the new tick is dropped.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	logger.Infof("monitor: started, interval=%s", m.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("monitor: stopped")
			return ctx.Err()
		case <-ticker.C:
			if m.marketHoursOnly && !marketcal.InMarketHours(m.nowFn()) {
				continue
			}
			if !m.running.CompareAndSwap(false, true) {
				logger.Warnf("monitor: previous tick still running, skipping")
				continue
			}
			go func() {
				defer m.running.Store(false)
				if err := m.Tick(ctx); err != nil && ctx.Err() == nil {
					logger.Errorf("monitor: tick failed: %v", err)
				}
			}()
		}
	}
}

// Tick evaluates exits for every open position once.
func (m *Monitor) Tick(ctx context.Context) error {
	positions, err := m.store.AllOpenPositions(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}
	now := m.nowFn()
	snapshot := m.registry.Snapshot()
	for _, pos := range positions {
		agent, ok := snapshot.Agents[pos.AgentID]
		if !ok {
			logger.Warnf("monitor: position %d belongs to unknown agent %s", pos.ID, pos.AgentID)
			continue
		}
		price, found, err := m.prices.Price(ctx, pos.Ticker, now)
		if err != nil {
			return err
		}
		if !found || price <= 0 {
			continue
		}
		if err := m.evaluate(ctx, agent.Exits, pos, price, now); err != nil {
			logger.Errorf("monitor: position %d (%s): %v", pos.ID, pos.Ticker, err)
		}
	}
	return nil
}

func (m *Monitor) evaluate(ctx context.Context, cfg agentcfg.ExitConfig, pos domain.Position, price float64, now time.Time) error {
	// The watermark moves first, exit or not.
	if pos.RaiseWatermark(price) {
		if err := m.store.UpdateWatermark(ctx, pos.ID, price); err != nil {
			return err
		}
	}
	decision := EvaluateExit(cfg, pos, price, now)
	if decision == nil {
		return nil
	}

	sellShares := pos.Shares * decision.SellPct
	if decision.Partial {
		sellShares = float64(int64(sellShares))
		if sellShares < 1 {
			return nil
		}
	} else {
		sellShares = pos.Shares
	}

	result, err := m.executor.Execute(ctx, broker.Request{
		Ticker:   pos.Ticker,
		Action:   domain.ActionSell,
		Quantity: sellShares,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("broker rejected sell: %s", result.Message)
	}

	proceeds := sellShares * price
	if decision.Partial {
		remaining := pos.Shares - sellShares
		if err := m.store.ReducePosition(ctx, pos.ID, remaining); err != nil {
			return err
		}
		logger.Infof("monitor: agent %s partial exit %s x%.0f @ %.2f (%s), %.0f shares remain",
			pos.AgentID, pos.Ticker, sellShares, price, decision.Reason, remaining)
	} else {
		if err := m.store.ClosePosition(ctx, pos.ID, price, decision.Reason, now); err != nil {
			return err
		}
		logger.Infof("monitor: agent %s closed %s x%.0f @ %.2f (%s, return %.1f%%)",
			pos.AgentID, pos.Ticker, sellShares, price, decision.Reason, pos.ReturnPct(price))
	}
	_, err = m.ledger.Credit(ctx, pos.AgentID, decimal.NewFromFloat(proceeds))
	return err
}
