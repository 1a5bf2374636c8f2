package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"hadoku/internal/app"
	"hadoku/internal/backtest"
	"hadoku/internal/config"
	"hadoku/internal/domain"
	"hadoku/internal/logger"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "hadoku",
		Short:         "Mirrors disclosed politician equity trades through configurable agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", envOr("HADOKU_CONFIG", "configs/config.yaml"), "config file path")

	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newProcessCmd(&cfgPath))
	root.AddCommand(newBacktestCmd(&cfgPath))
	root.AddCommand(newResyncCmd(&cfgPath))
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadApp(cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return app.New(cfg)
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, signal processor and exit monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			logger.Infof("shutdown complete")
			return nil
		},
	}
}

func newProcessCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Route pending signals through all agents once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			stats, err := a.Router().ProcessPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("signals=%d processed=%d executed=%d skipped=%d failed=%d deferred=%d\n",
				stats.Signals, stats.Processed, stats.Executed, stats.Skipped, stats.Failed, stats.Deferred)
			return nil
		},
	}
}

func newResyncCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resync-budgets",
		Short: "Rebuild in-memory budget state from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.ResyncBudgets(cmd.Context())
		},
	}
}

func newBacktestCmd(cfgPath *string) *cobra.Command {
	var (
		signalsPath string
		startStr    string
		endStr      string
		seed        uint64
		riskFree    float64
		reportPath  string
		asPNG       bool
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay recorded signals through the configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			signals, err := readSignals(signalsPath)
			if err != nil {
				return err
			}
			start, err := time.Parse("2006-01-02", startStr)
			if err != nil {
				return fmt.Errorf("parsing --start: %w", err)
			}
			end, err := time.Parse("2006-01-02", endStr)
			if err != nil {
				return fmt.Errorf("parsing --end: %w", err)
			}

			run, err := a.Backtest().Run(cmd.Context(), backtest.Config{
				Start:        start,
				End:          end,
				Agents:       a.Registry().Snapshot().Active(),
				Signals:      signals,
				Seed:         seed,
				RiskFreeRate: riskFree,
			})
			if err != nil {
				return err
			}
			printResults(run)
			if reportPath != "" {
				if err := backtest.WriteReport(cmd.Context(), run, reportPath, asPNG); err != nil {
					return fmt.Errorf("writing report: %w", err)
				}
				fmt.Printf("report written to %s\n", reportPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&signalsPath, "signals", "", "JSON file with recorded signals")
	cmd.Flags().StringVar(&startStr, "start", "", "replay start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "replay end date (YYYY-MM-DD)")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "seed for the synthetic price walk")
	cmd.Flags().Float64Var(&riskFree, "risk-free-rate", 0, "annual risk-free rate for Sharpe/Sortino (fraction, e.g. 0.05)")
	cmd.Flags().StringVar(&reportPath, "report", "", "write an HTML report to this path")
	cmd.Flags().BoolVar(&asPNG, "png", false, "also render the report to PNG (requires headless Chrome)")
	cmd.MarkFlagRequired("signals")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

func readSignals(path string) ([]domain.Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signals: %w", err)
	}
	var signals []domain.Signal
	if err := json.Unmarshal(data, &signals); err != nil {
		return nil, fmt.Errorf("parsing signals: %w", err)
	}
	return signals, nil
}

func printResults(run backtest.Run) {
	fmt.Printf("run %s (%s)\n", run.ID, run.Status)
	for _, res := range run.Results {
		m := res.Metrics
		fmt.Printf("\n%s (%s)\n", res.AgentName, res.AgentID)
		fmt.Printf("  equity %.2f on %.2f contributed (%.1f%%), CAGR %.1f%%\n",
			m.FinalEquity, m.Contributed, m.TotalReturnPct, m.CAGR*100)
		fmt.Printf("  max drawdown %.1f%% (%d days), sharpe %.2f, sortino %.2f\n",
			m.MaxDrawdownPct, m.MaxDrawdownDays, m.Sharpe, m.Sortino)
		fmt.Printf("  trades %d, win rate %.0f%%, profit factor %.2f, avg hold %.1f days\n",
			m.TradeCount, m.WinRate*100, m.ProfitFactor, m.AvgHoldDays)
		if res.SyntheticPrices {
			fmt.Printf("  note: synthetic prices were used; results are not market-comparable\n")
		}
	}
}
