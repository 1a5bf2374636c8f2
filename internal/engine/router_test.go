package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hadoku/internal/agentcfg"
	"hadoku/internal/broker"
	"hadoku/internal/budget"
	"hadoku/internal/domain"
	"hadoku/internal/prices"
	"hadoku/internal/scoring"
)

// fakeStore is an in-memory engine.Store for router tests.
type fakeStore struct {
	mu        sync.Mutex
	signals   []domain.Signal
	processed map[int64]time.Time
	trades    []domain.TradeRecord
	positions map[int64]*domain.Position
	nextPosID int64
}

func newEngineFakeStore() *fakeStore {
	return &fakeStore{
		processed: map[int64]time.Time{},
		positions: map[int64]*domain.Position{},
		nextPosID: 1,
	}
}

func (f *fakeStore) ListPendingSignals(_ context.Context) ([]domain.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Signal
	for _, s := range f.signals {
		if _, done := f.processed[s.ID]; !done {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkSignalProcessed(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = at
	return nil
}

func (f *fakeStore) HasTrade(_ context.Context, agentID string, signalID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.trades {
		if t.AgentID == agentID && t.SignalID == signalID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertTrade(_ context.Context, rec *domain.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.CreatedAt = time.Now()
	f.trades = append(f.trades, *rec)
	return nil
}

func (f *fakeStore) UpdateTradeOutcome(_ context.Context, id string, status domain.TradeStatus, quantity, price, total float64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.trades {
		if f.trades[i].ID == id {
			f.trades[i].Status = status
			f.trades[i].Quantity = quantity
			f.trades[i].Price = price
			f.trades[i].Total = total
			f.trades[i].ErrorMsg = errMsg
			return nil
		}
	}
	return fmt.Errorf("trade %s not found", id)
}

func (f *fakeStore) CreatePosition(_ context.Context, pos *domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos.ID = f.nextPosID
	f.nextPosID++
	cp := *pos
	f.positions[pos.ID] = &cp
	return nil
}

func (f *fakeStore) OpenPositionsByTicker(_ context.Context, agentID, ticker string) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for _, p := range f.positions {
		if p.Status == domain.PositionOpen && p.AgentID == agentID && p.Ticker == ticker {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) CountOpenPositions(_ context.Context, agentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.positions {
		if p.Status == domain.PositionOpen && p.AgentID == agentID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountOpenByTicker(_ context.Context, agentID, ticker string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.positions {
		if p.Status == domain.PositionOpen && p.AgentID == agentID && p.Ticker == ticker {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpdateWatermark(_ context.Context, id int64, price float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.positions[id]; ok && price > p.HighestPrice {
		p.HighestPrice = price
	}
	return nil
}

func (f *fakeStore) ReducePosition(_ context.Context, id int64, remainingShares float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok {
		return fmt.Errorf("position %d not found", id)
	}
	p.Shares = remainingShares
	p.PartialSold = true
	return nil
}

func (f *fakeStore) ClosePosition(_ context.Context, id int64, price float64, reason domain.ExitReason, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok || p.Status != domain.PositionOpen {
		return fmt.Errorf("position %d not open", id)
	}
	p.Status = domain.PositionClosed
	p.ClosePrice = price
	p.CloseReason = reason
	closedAt := at
	p.ClosedAt = &closedAt
	return nil
}

func (f *fakeStore) AllOpenPositions(_ context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for _, p := range f.positions {
		if p.Status == domain.PositionOpen {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) tradesFor(agentID string) []domain.TradeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TradeRecord
	for _, t := range f.trades {
		if t.AgentID == agentID {
			out = append(out, t)
		}
	}
	return out
}

// fakeBudgetStore backs the ledger in router tests.
type fakeBudgetStore struct {
	mu     sync.Mutex
	states map[string]budget.State
}

func newFakeBudgetStore() *fakeBudgetStore {
	return &fakeBudgetStore{states: map[string]budget.State{}}
}

func (f *fakeBudgetStore) GetBudget(_ context.Context, agentID, month string) (*budget.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[agentID+"|"+month]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (f *fakeBudgetStore) CreateBudget(_ context.Context, state budget.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[state.AgentID+"|"+state.Month] = state
	return nil
}

func (f *fakeBudgetStore) AddSpent(_ context.Context, agentID, month string, delta decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.states[agentID+"|"+month]
	s.Spent = s.Spent.Add(delta)
	f.states[agentID+"|"+month] = s
	return nil
}

type staticPrices struct {
	prices map[string]float64
}

func (s staticPrices) Price(_ context.Context, ticker string, _ time.Time) (float64, bool, error) {
	p, ok := s.prices[ticker]
	return p, ok, nil
}

func (s staticPrices) ClosingPrices(_ context.Context, tickers []string, _ time.Time) (map[string]float64, error) {
	out := map[string]float64{}
	for _, t := range tickers {
		if p, ok := s.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

var _ prices.Provider = staticPrices{}

type noHistory struct{}

func (noHistory) PoliticianWinRate(context.Context, string) (float64, int, error) { return 0, 0, nil }
func (noHistory) ConfirmationCount(context.Context, string, domain.TradeAction, string) (int, error) {
	return 1, nil
}

type failingBroker struct{}

func (failingBroker) Execute(context.Context, broker.Request) (broker.Result, error) {
	return broker.Result{Success: false, Message: "rejected"}, nil
}

func passFailAgent(id string, monthly float64) agentcfg.AgentConfig {
	return agentcfg.AgentConfig{
		ID:            id,
		Name:          id,
		Enabled:       true,
		MonthlyBudget: monthly,
		Filters: agentcfg.FilterConfig{
			AssetTypes:       []domain.AssetType{domain.AssetStock, domain.AssetETF},
			MaxSignalAgeDays: 30,
			MaxPriceMovePct:  25,
		},
		Sizing: agentcfg.SizingConfig{
			Mode:             agentcfg.SizeEqualSplit,
			MaxOpenPositions: 10,
			MaxPerTicker:     2,
		},
		Exits: agentcfg.ExitConfig{
			StopLoss: agentcfg.StopLossConfig{Mode: agentcfg.StopFixed, ThresholdPct: 18},
		},
	}
}

func buySignal(id int64, ticker string, now time.Time) domain.Signal {
	return domain.Signal{
		ID:             id,
		Source:         "capitoltrades",
		SourceLocalID:  fmt.Sprintf("ct-%d", id),
		Politician:     domain.Politician{Name: "Jane Doe", Chamber: "house"},
		Ticker:         ticker,
		Action:         domain.ActionBuy,
		AssetType:      domain.AssetStock,
		TradeDate:      now.AddDate(0, 0, -5),
		TradePrice:     100,
		DisclosureDate: now.AddDate(0, 0, -2),
		ScrapedAt:      now,
	}
}

func newTestRouter(t *testing.T, store *fakeStore, agents []agentcfg.AgentConfig, provider prices.Provider, exec broker.Executor, now time.Time) (*Router, *budget.Ledger) {
	t.Helper()
	registry, err := agentcfg.NewStaticRegistry(agents)
	require.NoError(t, err)
	byID := map[string]float64{}
	for _, a := range agents {
		byID[a.ID] = a.MonthlyBudget
	}
	ledger, err := budget.NewLedger(newFakeBudgetStore(), func(id string) (float64, bool) {
		b, ok := byID[id]
		return b, ok
	})
	require.NoError(t, err)
	ledger.SetNowFunc(func() time.Time { return now })
	scorer, err := scoring.NewEngine(noHistory{})
	require.NoError(t, err)
	router, err := NewRouter(store, registry, scorer, ledger, provider, exec)
	require.NoError(t, err)
	router.SetNowFunc(func() time.Time { return now })
	return router, ledger
}

func TestProcessPendingExecutesBuy(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store := newEngineFakeStore()
	store.signals = []domain.Signal{buySignal(1, "NVDA", now)}
	paper := broker.NewPaper()
	router, ledger := newTestRouter(t, store, []agentcfg.AgentConfig{passFailAgent("a", 1000)},
		staticPrices{prices: map[string]float64{"NVDA": 100}}, paper, now)

	stats, err := router.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Signals)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Executed)

	// Audit row marked executed with the filled total.
	trades := store.tradesFor("a")
	require.Len(t, trades, 1)
	assert.Equal(t, domain.DecisionExecute, trades[0].Action)
	assert.Equal(t, domain.ReasonPassFail, trades[0].Reason)
	assert.Equal(t, domain.TradeExecuted, trades[0].Status)
	assert.Equal(t, 10.0, trades[0].Quantity)
	assert.Equal(t, 1000.0, trades[0].Total)

	// Position opened and budget charged.
	open, err := store.AllOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 100.0, open[0].EntryPrice)
	assert.Equal(t, 100.0, open[0].HighestPrice)

	state, err := ledger.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, state.Spent.Equal(decimal.NewFromInt(1000)))

	require.Len(t, paper.Orders(), 1)
	assert.Equal(t, domain.ActionBuy, paper.Orders()[0].Action)
}

func TestProcessPendingIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store := newEngineFakeStore()
	store.signals = []domain.Signal{buySignal(1, "NVDA", now)}
	router, _ := newTestRouter(t, store, []agentcfg.AgentConfig{passFailAgent("a", 10000)},
		staticPrices{prices: map[string]float64{"NVDA": 100}}, broker.NewPaper(), now)

	_, err := router.ProcessPending(context.Background())
	require.NoError(t, err)
	// Force the signal pending again; the trade row must still dedupe it.
	store.mu.Lock()
	delete(store.processed, 1)
	store.mu.Unlock()

	stats, err := router.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Executed)
	assert.Len(t, store.tradesFor("a"), 1)
}

func TestProcessPendingBrokerFailure(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store := newEngineFakeStore()
	store.signals = []domain.Signal{buySignal(1, "NVDA", now)}
	router, ledger := newTestRouter(t, store, []agentcfg.AgentConfig{passFailAgent("a", 1000)},
		staticPrices{prices: map[string]float64{"NVDA": 100}}, failingBroker{}, now)

	stats, err := router.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	trades := store.tradesFor("a")
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeFailed, trades[0].Status)
	assert.Equal(t, "rejected", trades[0].ErrorMsg)

	// No position, no charge.
	open, err := store.AllOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
	state, err := ledger.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, state.Spent.IsZero())
}

func TestProcessPendingDefersWithoutPrice(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store := newEngineFakeStore()
	store.signals = []domain.Signal{buySignal(1, "NVDA", now)}
	router, _ := newTestRouter(t, store, []agentcfg.AgentConfig{passFailAgent("a", 1000)},
		staticPrices{prices: map[string]float64{}}, broker.NewPaper(), now)

	stats, err := router.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)
	assert.Equal(t, 0, stats.Processed)

	// Still pending next cycle.
	pending, err := store.ListPendingSignals(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestProcessPendingFilterSkip(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store := newEngineFakeStore()
	sig := buySignal(1, "NVDA", now)
	sig.AssetType = domain.AssetCrypto
	store.signals = []domain.Signal{sig}
	router, _ := newTestRouter(t, store, []agentcfg.AgentConfig{passFailAgent("a", 1000)},
		staticPrices{prices: map[string]float64{"NVDA": 100}}, broker.NewPaper(), now)

	stats, err := router.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)

	trades := store.tradesFor("a")
	require.Len(t, trades, 1)
	assert.Equal(t, domain.DecisionSkip, trades[0].Action)
	assert.Equal(t, domain.ReasonFilterAssetType, trades[0].Reason)
	assert.Equal(t, domain.TradeSkipped, trades[0].Status)
}

func TestProcessSellPaths(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	sell := buySignal(2, "NVDA", now)
	sell.Action = domain.ActionSell

	t.Run("no position records skip", func(t *testing.T) {
		store := newEngineFakeStore()
		store.signals = []domain.Signal{sell}
		router, _ := newTestRouter(t, store, []agentcfg.AgentConfig{passFailAgent("a", 1000)},
			staticPrices{prices: map[string]float64{"NVDA": 110}}, broker.NewPaper(), now)

		stats, err := router.ProcessPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Skipped)
		trades := store.tradesFor("a")
		require.Len(t, trades, 1)
		assert.Equal(t, domain.ReasonNoPosition, trades[0].Reason)
	})

	t.Run("young position is kept", func(t *testing.T) {
		store := newEngineFakeStore()
		store.signals = []domain.Signal{sell}
		agent := passFailAgent("a", 1000)
		agent.MinHoldDays = 7
		require.NoError(t, store.CreatePosition(context.Background(), &domain.Position{
			AgentID: "a", SignalID: 1, Ticker: "NVDA", AssetType: domain.AssetStock,
			Shares: 10, EntryPrice: 100, EntryDate: now.AddDate(0, 0, -3),
			CostBasis: 1000, HighestPrice: 100, Status: domain.PositionOpen,
		}))
		router, _ := newTestRouter(t, store, []agentcfg.AgentConfig{agent},
			staticPrices{prices: map[string]float64{"NVDA": 110}}, broker.NewPaper(), now)

		stats, err := router.ProcessPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Skipped)
		trades := store.tradesFor("a")
		require.Len(t, trades, 1)
		assert.Equal(t, domain.ReasonPositionTooYoung, trades[0].Reason)

		open, err := store.AllOpenPositions(context.Background())
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})

	t.Run("eligible positions close and credit", func(t *testing.T) {
		store := newEngineFakeStore()
		store.signals = []domain.Signal{sell}
		paper := broker.NewPaper()
		router, ledger := newTestRouter(t, store, []agentcfg.AgentConfig{passFailAgent("a", 2000)},
			staticPrices{prices: map[string]float64{"NVDA": 110}}, paper, now)

		_, err := ledger.Charge(context.Background(), "a", decimal.NewFromInt(1000))
		require.NoError(t, err)
		require.NoError(t, store.CreatePosition(context.Background(), &domain.Position{
			AgentID: "a", SignalID: 1, Ticker: "NVDA", AssetType: domain.AssetStock,
			Shares: 10, EntryPrice: 100, EntryDate: now.AddDate(0, 0, -30),
			CostBasis: 1000, HighestPrice: 100, Status: domain.PositionOpen,
		}))

		stats, err := router.ProcessPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Executed)

		open, err := store.AllOpenPositions(context.Background())
		require.NoError(t, err)
		assert.Empty(t, open)

		// One aggregate sell order for the full share count.
		require.Len(t, paper.Orders(), 1)
		assert.Equal(t, domain.ActionSell, paper.Orders()[0].Action)
		assert.Equal(t, 10.0, paper.Orders()[0].Quantity)

		// Proceeds exceed cost; spend floors at zero.
		state, err := ledger.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.True(t, state.Spent.IsZero())
	})
}
