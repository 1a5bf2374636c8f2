package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"hadoku/internal/agentcfg"
	"hadoku/internal/budget"
	"hadoku/internal/domain"
	"hadoku/internal/engine"
	"hadoku/internal/filter"
	"hadoku/internal/logger"
	"hadoku/internal/marketcal"
	"hadoku/internal/prices"
	"hadoku/internal/scoring"
	"hadoku/internal/sizing"
)

// Simulator replays signals day by day against an in-memory portfolio. It is
// strictly sequential: agents are iterated in sorted-id order, signals in
// disclosure order, and prices come from a deterministic provider, so two
// runs with the same Config produce identical results.
type Simulator struct {
	cfg     Config
	layered *prices.Layered
	scorer  *scoring.Engine
	agents  []agentcfg.AgentConfig
	signals []domain.Signal
}

// NewSimulator validates the config and prepares the replay. bars may be nil;
// tickers without recorded bars fall back to the seeded synthetic walk.
func NewSimulator(cfg Config, bars prices.Provider) (*Simulator, error) {
	if cfg.Start.IsZero() || cfg.End.IsZero() || cfg.End.Before(cfg.Start) {
		return nil, errors.New("backtest: start/end range is invalid")
	}
	if len(cfg.Agents) == 0 {
		return nil, errors.New("backtest: at least one agent is required")
	}
	agents := make([]agentcfg.AgentConfig, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if err := agentcfg.Validate(a); err != nil {
			return nil, fmt.Errorf("backtest: agent %s: %w", a.ID, err)
		}
		if a.Enabled {
			agents = append(agents, a)
		}
	}
	if len(agents) == 0 {
		return nil, errors.New("backtest: no enabled agents")
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	signals := make([]domain.Signal, len(cfg.Signals))
	copy(signals, cfg.Signals)
	sort.SliceStable(signals, func(i, j int) bool {
		di, dj := dateOnly(signals[i].DisclosureDate), dateOnly(signals[j].DisclosureDate)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		si, sj := signals[i].TradeSignature(), signals[j].TradeSignature()
		if si != sj {
			return si < sj
		}
		return signals[i].Source < signals[j].Source
	})

	synthetic := prices.NewSynthetic(cfg.Seed)
	for _, sig := range signals {
		synthetic.SetAnchor(sig.Ticker, sig.TradeDate, sig.TradePrice)
	}
	var layered *prices.Layered
	if bars != nil {
		layered = prices.NewLayered(1, bars, synthetic)
	} else {
		layered = prices.NewLayered(0, synthetic)
	}

	lookup := newSimLookup(cfg.WinRates, signals)
	scorer, err := scoring.NewEngine(lookup)
	if err != nil {
		return nil, err
	}
	return &Simulator{
		cfg:     cfg,
		layered: layered,
		scorer:  scorer,
		agents:  agents,
		signals: signals,
	}, nil
}

// simPosition tracks one open holding during replay.
type simPosition struct {
	domain.Position
	score *float64
}

// agentState is one agent's in-memory portfolio.
type agentState struct {
	cfg         agentcfg.AgentConfig
	month       string
	cash        float64
	contributed float64
	spentMonth  float64
	nextPosID   int64
	positions   []*simPosition
	trades      []SimTrade
	closed      []ClosedTrade
	snapshots   []DailySnapshot
	accepted    int // buys accepted today, feeds equal_split
}

func (st *agentState) monthlyRemaining() float64 {
	rem := st.cfg.MonthlyBudget - st.spentMonth
	if rem < 0 {
		rem = 0
	}
	if rem > st.cash {
		rem = st.cash
	}
	return rem
}

// Run executes the replay and returns one result per agent.
func (s *Simulator) Run(ctx context.Context) ([]AgentResult, error) {
	states := make([]*agentState, len(s.agents))
	for i, a := range s.agents {
		states[i] = &agentState{cfg: a}
	}

	next := 0 // index of the first unprocessed signal
	for day := dateOnly(s.cfg.Start); !day.After(dateOnly(s.cfg.End)); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !marketcal.IsTradingDate(day) {
			continue
		}
		month := budget.MonthKey(day)
		for _, st := range states {
			if st.month != month {
				st.month = month
				st.cash += st.cfg.MonthlyBudget
				st.contributed += st.cfg.MonthlyBudget
				st.spentMonth = 0
			}
			st.accepted = 0
		}

		// Signals disclosed on or before this trading day, oldest first.
		for next < len(s.signals) && !dateOnly(s.signals[next].DisclosureDate).After(day) {
			sig := s.signals[next]
			next++
			price, _, err := s.layered.Price(ctx, sig.Ticker, day)
			if err != nil {
				return nil, err
			}
			if price <= 0 {
				continue
			}
			enriched := domain.Enrich(sig, price, day)
			for _, st := range states {
				if err := s.routeSignal(ctx, st, enriched, day); err != nil {
					return nil, err
				}
			}
		}

		if err := s.evaluateExits(ctx, states, day); err != nil {
			return nil, err
		}
		if err := s.snapshot(ctx, states, day); err != nil {
			return nil, err
		}
	}

	results := make([]AgentResult, len(states))
	for i, st := range states {
		results[i] = AgentResult{
			AgentID:         st.cfg.ID,
			AgentName:       st.cfg.Name,
			Metrics:         ComputeMetrics(st.snapshots, st.closed, st.contributed, s.cfg.RiskFreeRate),
			Snapshots:       st.snapshots,
			Trades:          st.trades,
			Closed:          st.closed,
			SyntheticPrices: s.layered.SyntheticUsed(),
		}
	}
	logger.Infof("backtest: replayed %d signals over %s..%s for %d agent(s)",
		len(s.signals), s.cfg.Start.Format("2006-01-02"), s.cfg.End.Format("2006-01-02"), len(states))
	return results, nil
}

func (s *Simulator) routeSignal(ctx context.Context, st *agentState, sig domain.EnrichedSignal, day time.Time) error {
	if sig.Action == domain.ActionSell {
		s.applySell(st, sig, day)
		return nil
	}
	if ok, _ := filter.Evaluate(st.cfg.Filters, sig); !ok {
		return nil
	}
	if st.cfg.Sizing.MaxOpenPositions > 0 && len(st.positions) >= st.cfg.Sizing.MaxOpenPositions {
		return nil
	}
	if st.cfg.Sizing.MaxPerTicker > 0 && st.countTicker(sig.Ticker) >= st.cfg.Sizing.MaxPerTicker {
		return nil
	}

	var score *float64
	isHalf := false
	if !st.cfg.PassFail() {
		result, err := s.scorer.Score(ctx, st.cfg.Scoring, sig)
		if err != nil {
			return err
		}
		switch {
		case result.Total >= st.cfg.ExecuteThreshold:
		case st.cfg.HalfSizeThreshold != nil && result.Total >= *st.cfg.HalfSizeThreshold:
			isHalf = true
		default:
			return nil
		}
		score = &result.Total
	}

	amount := sizing.Compute(st.cfg.Sizing, st.cfg.MonthlyBudget, sizing.Input{
		Score:         score,
		Remaining:     st.monthlyRemaining(),
		Total:         st.cfg.MonthlyBudget,
		AcceptedCount: st.accepted,
		IsHalf:        isHalf,
		DisclosedMin:  sig.SizeMin,
	})
	if amount <= 0 {
		return nil
	}
	shares := math.Floor(amount / sig.CurrentPrice)
	if shares < 1 {
		return nil
	}
	total := shares * sig.CurrentPrice
	if total > st.cash {
		return nil
	}

	st.cash -= total
	st.spentMonth += total
	st.accepted++
	st.nextPosID++
	st.positions = append(st.positions, &simPosition{
		Position: domain.Position{
			ID:           st.nextPosID,
			AgentID:      st.cfg.ID,
			SignalID:     sig.ID,
			Ticker:       strings.ToUpper(sig.Ticker),
			AssetType:    sig.AssetType,
			Shares:       shares,
			EntryPrice:   sig.CurrentPrice,
			EntryDate:    day,
			CostBasis:    total,
			HighestPrice: sig.CurrentPrice,
			Status:       domain.PositionOpen,
		},
		score: score,
	})
	st.trades = append(st.trades, SimTrade{
		Date: day, Ticker: sig.Ticker, Action: domain.ActionBuy,
		Shares: shares, Price: sig.CurrentPrice, Reason: "entry", Score: score,
	})
	return nil
}

func (s *Simulator) applySell(st *agentState, sig domain.EnrichedSignal, day time.Time) {
	kept := st.positions[:0]
	for _, pos := range st.positions {
		tooYoung := st.cfg.MinHoldDays > 0 && pos.DaysHeld(day) < st.cfg.MinHoldDays
		if !strings.EqualFold(pos.Ticker, sig.Ticker) || tooYoung {
			kept = append(kept, pos)
			continue
		}
		s.closePosition(st, pos, sig.CurrentPrice, domain.ExitSellSignal, day)
	}
	st.positions = kept
}

func (s *Simulator) evaluateExits(ctx context.Context, states []*agentState, day time.Time) error {
	for _, st := range states {
		kept := st.positions[:0]
		for _, pos := range st.positions {
			price, _, err := s.layered.Price(ctx, pos.Ticker, day)
			if err != nil {
				return err
			}
			if price <= 0 {
				kept = append(kept, pos)
				continue
			}
			pos.RaiseWatermark(price)
			decision := engine.EvaluateExit(st.cfg.Exits, pos.Position, price, day)
			if decision == nil {
				kept = append(kept, pos)
				continue
			}
			if decision.Partial {
				sell := math.Floor(pos.Shares * decision.SellPct)
				if sell >= 1 {
					proceeds := sell * price
					pos.Shares -= sell
					pos.PartialSold = true
					st.cash += proceeds
					st.creditMonth(proceeds)
					st.trades = append(st.trades, SimTrade{
						Date: day, Ticker: pos.Ticker, Action: domain.ActionSell,
						Shares: sell, Price: price, Reason: string(decision.Reason),
					})
				}
				kept = append(kept, pos)
				continue
			}
			s.closePosition(st, pos, price, decision.Reason, day)
		}
		st.positions = kept
	}
	return nil
}

func (s *Simulator) closePosition(st *agentState, pos *simPosition, price float64, reason domain.ExitReason, day time.Time) {
	proceeds := pos.Shares * price
	st.cash += proceeds
	st.creditMonth(proceeds)
	st.trades = append(st.trades, SimTrade{
		Date: day, Ticker: pos.Ticker, Action: domain.ActionSell,
		Shares: pos.Shares, Price: price, Reason: string(reason),
	})
	st.closed = append(st.closed, ClosedTrade{
		Ticker:     pos.Ticker,
		EntryDate:  pos.EntryDate,
		ExitDate:   day,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Shares:     pos.Shares,
		PnL:        (price - pos.EntryPrice) * pos.Shares,
		ReturnPct:  pos.ReturnPct(price),
		DaysHeld:   pos.DaysHeld(day),
		ExitReason: reason,
	})
}

// creditMonth mirrors the live ledger: proceeds free up budget for the
// current month, floored at zero spent.
func (st *agentState) creditMonth(proceeds float64) {
	st.spentMonth -= proceeds
	if st.spentMonth < 0 {
		st.spentMonth = 0
	}
}

func (s *Simulator) snapshot(ctx context.Context, states []*agentState, day time.Time) error {
	for _, st := range states {
		var marketVal float64
		for _, pos := range st.positions {
			price, _, err := s.layered.Price(ctx, pos.Ticker, day)
			if err != nil {
				return err
			}
			if price <= 0 {
				price = pos.EntryPrice
			}
			marketVal += pos.Shares * price
		}
		st.snapshots = append(st.snapshots, DailySnapshot{
			Date:        day,
			Cash:        st.cash,
			MarketVal:   marketVal,
			Equity:      st.cash + marketVal,
			Contributed: st.contributed,
			OpenCount:   len(st.positions),
		})
	}
	return nil
}

func (st *agentState) countTicker(ticker string) int {
	n := 0
	for _, pos := range st.positions {
		if strings.EqualFold(pos.Ticker, ticker) {
			n++
		}
	}
	return n
}

func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// simLookup serves the scorer's history queries from the run config and the
// replayed signal set itself.
type simLookup struct {
	winRates      map[string]WinRateStat
	confirmations map[string]int
}

func newSimLookup(winRates map[string]WinRateStat, signals []domain.Signal) *simLookup {
	sources := make(map[string]map[string]bool)
	for _, sig := range signals {
		key := confirmKey(sig.Ticker, sig.Action, sig.TradeDate.UTC().Format("2006-01-02"))
		if sources[key] == nil {
			sources[key] = make(map[string]bool)
		}
		sources[key][sig.Source] = true
	}
	confirmations := make(map[string]int, len(sources))
	for key, srcs := range sources {
		confirmations[key] = len(srcs)
	}
	normalized := make(map[string]WinRateStat, len(winRates))
	for name, stat := range winRates {
		normalized[strings.ToLower(name)] = stat
	}
	return &simLookup{winRates: normalized, confirmations: confirmations}
}

func confirmKey(ticker string, action domain.TradeAction, tradeDate string) string {
	return strings.ToUpper(ticker) + "|" + string(action) + "|" + tradeDate
}

func (l *simLookup) PoliticianWinRate(_ context.Context, politician string) (float64, int, error) {
	stat, ok := l.winRates[strings.ToLower(politician)]
	if !ok {
		return 0, 0, nil
	}
	return stat.Rate, stat.Trades, nil
}

func (l *simLookup) ConfirmationCount(_ context.Context, ticker string, action domain.TradeAction, tradeDate string) (int, error) {
	return l.confirmations[confirmKey(ticker, action, tradeDate)], nil
}
