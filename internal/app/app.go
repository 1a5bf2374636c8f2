// Package app orchestrates startup: load config, wire dependencies, run the
// HTTP server, the processing scheduler and the exit monitor.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"hadoku/internal/agentcfg"
	"hadoku/internal/backtest"
	"hadoku/internal/budget"
	"hadoku/internal/config"
	"hadoku/internal/engine"
	"hadoku/internal/logger"
	"hadoku/internal/scheduler"
	"hadoku/internal/store/gormstore"
	httpapi "hadoku/internal/transport/http"
)

type App struct {
	cfg         *config.Config
	store       *gormstore.Store
	runStore    *backtest.RunStore
	registry    *agentcfg.Registry
	ledger      *budget.Ledger
	router      *engine.Router
	monitor     *engine.Monitor
	httpServer  *httpapi.Server
	backtestSvc *backtest.Service
}

// New builds the application from config without starting anything.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg)
}

// Router exposes the decision router; used by the one-shot process command.
func (a *App) Router() *engine.Router { return a.router }

// Ledger exposes the budget ledger; used by the resync command.
func (a *App) Ledger() *budget.Ledger { return a.ledger }

// Registry exposes the agent registry.
func (a *App) Registry() *agentcfg.Registry { return a.registry }

// Backtest exposes the backtest service.
func (a *App) Backtest() *backtest.Service { return a.backtestSvc }

// ResyncBudgets replays persisted budget rows for every configured agent,
// recovering ledger state after a crash or redeploy.
func (a *App) ResyncBudgets(ctx context.Context) error {
	agents := a.registry.Snapshot().Active()
	ids := make([]string, len(agents))
	for i, ag := range agents {
		ids[i] = ag.ID
	}
	return a.ledger.Resync(ctx, ids)
}

// Run starts the configured services and blocks until the context is
// canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.ResyncBudgets(ctx); err != nil {
		return fmt.Errorf("budget resync: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.httpServer != nil {
		group.Go(func() error {
			if err := a.httpServer.Start(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	if a.monitor != nil {
		group.Go(func() error {
			if err := a.monitor.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("monitor: %w", err)
			}
			return nil
		})
	}
	if a.cfg.Process.Enabled {
		sched := scheduler.NewAlignedScheduler(ctx, a.cfg.Process.Interval, 0)
		sched.RunImmediately = true
		group.Go(func() error {
			sched.Start(func() {
				stats, err := a.router.ProcessPending(ctx)
				if err != nil {
					if ctx.Err() == nil {
						logger.Errorf("process: %v", err)
					}
					return
				}
				if stats.Signals > 0 {
					logger.Infof("process: %d signal(s), %d processed, %d executed, %d skipped, %d failed, %d deferred",
						stats.Signals, stats.Processed, stats.Executed, stats.Skipped, stats.Failed, stats.Deferred)
				}
			})
			return nil
		})
	}

	err := group.Wait()
	a.Close()
	return err
}

// Close releases held resources.
func (a *App) Close() {
	if a.backtestSvc != nil {
		a.backtestSvc.Shutdown()
	}
	if a.runStore != nil {
		_ = a.runStore.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
