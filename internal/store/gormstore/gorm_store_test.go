package gormstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hadoku/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSignal(source, localID, politician string) domain.Signal {
	return domain.Signal{
		Source:         source,
		SourceLocalID:  localID,
		Politician:     domain.Politician{Name: politician, Chamber: "house"},
		Ticker:         "NVDA",
		Action:         domain.ActionBuy,
		AssetType:      domain.AssetStock,
		TradeDate:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		TradePrice:     100,
		DisclosureDate: time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		ScrapedAt:      time.Now().UTC(),
	}
}

func TestInsertSignalDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, dup, err := store.InsertSignal(ctx, testSignal("capitoltrades", "ct-1", "Jane Doe"))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Positive(t, id)

	t.Run("same source id is a duplicate", func(t *testing.T) {
		_, dup, err := store.InsertSignal(ctx, testSignal("capitoltrades", "ct-1", "Jane Doe"))
		require.NoError(t, err)
		assert.True(t, dup)
	})

	t.Run("same trade from another source is a duplicate", func(t *testing.T) {
		_, dup, err := store.InsertSignal(ctx, testSignal("quiverquant", "qq-9", "Jane Doe"))
		require.NoError(t, err)
		assert.True(t, dup)
	})

	t.Run("different politician is a new signal", func(t *testing.T) {
		_, dup, err := store.InsertSignal(ctx, testSignal("capitoltrades", "ct-2", "John Roe"))
		require.NoError(t, err)
		assert.False(t, dup)
	})
}

func TestPendingSignalLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	early := testSignal("capitoltrades", "ct-1", "Jane Doe")
	early.DisclosureDate = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	late := testSignal("capitoltrades", "ct-2", "John Roe")
	late.DisclosureDate = time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)

	// Insert newest first; listing must come back oldest first.
	_, _, err := store.InsertSignal(ctx, late)
	require.NoError(t, err)
	earlyID, _, err := store.InsertSignal(ctx, early)
	require.NoError(t, err)

	pending, err := store.ListPendingSignals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, earlyID, pending[0].ID)

	require.NoError(t, store.MarkSignalProcessed(ctx, earlyID, time.Now().UTC()))
	pending, err = store.ListPendingSignals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotEqual(t, earlyID, pending[0].ID)
}

func TestPositionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pos := domain.Position{
		AgentID:      "a",
		SignalID:     1,
		Ticker:       "NVDA",
		AssetType:    domain.AssetStock,
		Shares:       10,
		EntryPrice:   100,
		EntryDate:    time.Now().UTC(),
		CostBasis:    1000,
		HighestPrice: 100,
		Status:       domain.PositionOpen,
	}
	require.NoError(t, store.CreatePosition(ctx, &pos))
	require.Positive(t, pos.ID)

	t.Run("watermark only rises", func(t *testing.T) {
		require.NoError(t, store.UpdateWatermark(ctx, pos.ID, 120))
		require.NoError(t, store.UpdateWatermark(ctx, pos.ID, 110))
		open, err := store.OpenPositions(ctx, "a")
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, 120.0, open[0].HighestPrice)
	})

	t.Run("partial close keeps the position open", func(t *testing.T) {
		require.NoError(t, store.ReducePosition(ctx, pos.ID, 5))
		open, err := store.OpenPositions(ctx, "a")
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, 5.0, open[0].Shares)
		assert.True(t, open[0].PartialSold)

		// Cannot reduce upward or to zero.
		assert.Error(t, store.ReducePosition(ctx, pos.ID, 5))
		assert.Error(t, store.ReducePosition(ctx, pos.ID, 0))
	})

	t.Run("close requires price and reason", func(t *testing.T) {
		assert.Error(t, store.ClosePosition(ctx, pos.ID, 0, domain.ExitStopLoss, time.Now().UTC()))
		assert.Error(t, store.ClosePosition(ctx, pos.ID, 90, "", time.Now().UTC()))
	})

	t.Run("close finalizes once", func(t *testing.T) {
		closedAt := time.Now().UTC()
		require.NoError(t, store.ClosePosition(ctx, pos.ID, 130, domain.ExitTakeProfit, closedAt))
		open, err := store.OpenPositions(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, open)

		// Already closed.
		assert.Error(t, store.ClosePosition(ctx, pos.ID, 130, domain.ExitTakeProfit, closedAt))
	})

	n, err := store.CountOpenPositions(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTradeAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	score := 0.72
	rec := domain.TradeRecord{
		ID:         uuid.NewString(),
		AgentID:    "a",
		SignalID:   1,
		Ticker:     "NVDA",
		Action:     domain.DecisionExecute,
		Reason:     domain.ReasonScoreExecute,
		Score:      &score,
		ScoreParts: map[string]float64{"time_decay": 0.8},
		Quantity:   10,
		Price:      100,
		Total:      1000,
		Status:     domain.TradePending,
	}
	require.NoError(t, store.InsertTrade(ctx, &rec))

	seen, err := store.HasTrade(ctx, "a", 1)
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = store.HasTrade(ctx, "a", 2)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.UpdateTradeOutcome(ctx, rec.ID, domain.TradeExecuted, 10, 100, 1000, ""))
	trades, err := store.ListTrades(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeExecuted, trades[0].Status)
	require.NotNil(t, trades[0].Score)
	assert.InDelta(t, 0.72, *trades[0].Score, 1e-9)
	assert.InDelta(t, 0.8, trades[0].ScoreParts["time_decay"], 1e-9)

	assert.Error(t, store.UpdateTradeOutcome(ctx, "missing", domain.TradeFailed, 0, 0, 0, "x"))
}

func TestBudgetStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state, err := store.GetBudget(ctx, "a", "2026-03")
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, store.CreateBudget(ctx, budgetState{
		AgentID: "a", Month: "2026-03",
		Total: decimal.NewFromInt(1000), Spent: decimal.Zero,
	}))
	require.NoError(t, store.AddSpent(ctx, "a", "2026-03", decimal.NewFromInt(250)))

	state, err = store.GetBudget(ctx, "a", "2026-03")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Spent.Equal(decimal.NewFromInt(250)))
	assert.True(t, state.Remaining().Equal(decimal.NewFromInt(750)))

	assert.Error(t, store.AddSpent(ctx, "ghost", "2026-03", decimal.NewFromInt(1)))
}

func TestHistoryLookups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sigID, _, err := store.InsertSignal(ctx, testSignal("capitoltrades", "ct-1", "Jane Doe"))
	require.NoError(t, err)

	t.Run("confirmation count spans sources", func(t *testing.T) {
		other := testSignal("quiverquant", "qq-1", "Jane Doe")
		// Logical duplicate: rejected by dedup, so only one source counts.
		_, dup, err := store.InsertSignal(ctx, other)
		require.NoError(t, err)
		require.True(t, dup)

		n, err := store.ConfirmationCount(ctx, "NVDA", domain.ActionBuy, "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		// A different politician's trade of the same triple from a second
		// source does confirm.
		_, dup, err = store.InsertSignal(ctx, testSignal("quiverquant", "qq-2", "John Roe"))
		require.NoError(t, err)
		require.False(t, dup)
		n, err = store.ConfirmationCount(ctx, "NVDA", domain.ActionBuy, "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("win rate from closed positions", func(t *testing.T) {
		rate, trades, err := store.PoliticianWinRate(ctx, "Jane Doe")
		require.NoError(t, err)
		assert.Equal(t, 0, trades)
		assert.Equal(t, 0.0, rate)

		win := domain.Position{
			AgentID: "a", SignalID: sigID, Ticker: "NVDA", AssetType: domain.AssetStock,
			Shares: 10, EntryPrice: 100, EntryDate: time.Now().UTC(),
			CostBasis: 1000, HighestPrice: 100, Status: domain.PositionOpen,
		}
		require.NoError(t, store.CreatePosition(ctx, &win))
		require.NoError(t, store.ClosePosition(ctx, win.ID, 130, domain.ExitTakeProfit, time.Now().UTC()))

		loss := win
		loss.ID = 0
		loss.Status = domain.PositionOpen
		require.NoError(t, store.CreatePosition(ctx, &loss))
		require.NoError(t, store.ClosePosition(ctx, loss.ID, 90, domain.ExitStopLoss, time.Now().UTC()))

		rate, trades, err = store.PoliticianWinRate(ctx, "jane doe")
		require.NoError(t, err)
		assert.Equal(t, 2, trades)
		assert.InDelta(t, 0.5, rate, 1e-9)
	})
}
