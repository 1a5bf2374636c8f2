package app

import (
	"fmt"

	"hadoku/internal/agentcfg"
	"hadoku/internal/backtest"
	"hadoku/internal/broker"
	"hadoku/internal/budget"
	"hadoku/internal/config"
	"hadoku/internal/engine"
	"hadoku/internal/logger"
	"hadoku/internal/prices"
	"hadoku/internal/scoring"
	"hadoku/internal/store/gormstore"
	httpapi "hadoku/internal/transport/http"
)

// build wires every component from the config. Construction order follows
// the dependency chain: store, registry, ledger, prices, broker, engine,
// transport.
func build(cfg *config.Config) (*App, error) {
	store, err := gormstore.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	registry, err := agentcfg.NewRegistry(cfg.Agents.Path)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading agents: %w", err)
	}

	ledger, err := budget.NewLedger(store, func(agentID string) (float64, bool) {
		agent, ok := registry.Agent(agentID)
		if !ok {
			return 0, false
		}
		return agent.MonthlyBudget, true
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	provider, err := buildPrices(cfg.Prices)
	if err != nil {
		store.Close()
		return nil, err
	}

	executor, err := buildBroker(cfg.Broker)
	if err != nil {
		store.Close()
		return nil, err
	}

	scorer, err := scoring.NewEngine(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	router, err := engine.NewRouter(store, registry, scorer, ledger, provider, executor)
	if err != nil {
		store.Close()
		return nil, err
	}

	var monitor *engine.Monitor
	if cfg.Monitor.Enabled {
		monitor, err = engine.NewMonitor(store, registry, ledger, provider, executor,
			cfg.Monitor.Interval, cfg.Monitor.MarketHoursOnly)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	runStore, err := backtest.NewRunStore(cfg.Backtest.ResultsDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	backtestSvc, err := backtest.NewService(runStore, barsOnly(cfg.Prices))
	if err != nil {
		store.Close()
		runStore.Close()
		return nil, err
	}

	var httpServer *httpapi.Server
	if cfg.Server.Enabled {
		httpServer, err = httpapi.NewServer(httpapi.ServerConfig{
			Addr:     cfg.Server.Addr,
			APIKey:   cfg.Server.APIKey,
			Store:    store,
			Router:   router,
			Registry: registry,
			Ledger:   ledger,
			Backtest: backtestSvc,
		})
		if err != nil {
			store.Close()
			runStore.Close()
			return nil, err
		}
	}

	return &App{
		cfg:         cfg,
		store:       store,
		runStore:    runStore,
		registry:    registry,
		ledger:      ledger,
		router:      router,
		monitor:     monitor,
		httpServer:  httpServer,
		backtestSvc: backtestSvc,
	}, nil
}

// buildPrices assembles the live price provider. With a bar store configured
// it is authoritative and missing prices defer signals; without one the
// seeded synthetic walk serves prices, which only makes sense for paper
// trading and demos.
func buildPrices(cfg config.PricesConfig) (prices.Provider, error) {
	if cfg.BarsPath != "" {
		return prices.NewBarStore(cfg.BarsPath)
	}
	logger.Warnf("prices: no bars_path configured, falling back to synthetic prices")
	return prices.NewSynthetic(cfg.SyntheticSeed), nil
}

// barsOnly returns the recorded-bar provider for backtests, or nil when none
// is configured (the simulator then runs fully synthetic).
func barsOnly(cfg config.PricesConfig) prices.Provider {
	if cfg.BarsPath == "" {
		return nil
	}
	bars, err := prices.NewBarStore(cfg.BarsPath)
	if err != nil {
		logger.Warnf("prices: opening bar store for backtests failed: %v", err)
		return nil
	}
	return bars
}

func buildBroker(cfg config.BrokerConfig) (broker.Executor, error) {
	if cfg.Mode == "paper" {
		return broker.NewPaper(), nil
	}
	return broker.NewClient(broker.ClientConfig{
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey,
		Account:       cfg.Account,
		DryRun:        cfg.DryRun,
		Timeout:       cfg.Timeout,
		RatePerMinute: cfg.RatePerMinute,
	})
}
