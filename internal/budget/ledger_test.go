package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	states  map[string]State
	creates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: map[string]State{}}
}

func key(agentID, month string) string { return agentID + "|" + month }

func (f *fakeStore) GetBudget(_ context.Context, agentID, month string) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[key(agentID, month)]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (f *fakeStore) CreateBudget(_ context.Context, state State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.states[key(state.AgentID, state.Month)] = state
	return nil
}

func (f *fakeStore) AddSpent(_ context.Context, agentID, month string, delta decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.states[key(agentID, month)]
	s.Spent = s.Spent.Add(delta)
	f.states[key(agentID, month)] = s
	return nil
}

func fixedAlloc(amount float64) AllocationFunc {
	return func(string) (float64, bool) { return amount, true }
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLedgerLazyCreate(t *testing.T) {
	store := newFakeStore()
	ledger, err := NewLedger(store, fixedAlloc(1000))
	require.NoError(t, err)
	ledger.SetNowFunc(fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))

	state, err := ledger.Get(context.Background(), "agent-a")
	require.NoError(t, err)
	assert.Equal(t, "2026-03", state.Month)
	assert.True(t, state.Total.Equal(decimal.NewFromInt(1000)))
	assert.True(t, state.Spent.IsZero())
	assert.True(t, state.Remaining().Equal(decimal.NewFromInt(1000)))

	// Second Get reuses the existing record.
	_, err = ledger.Get(context.Background(), "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 1, store.creates)
}

func TestLedgerUnknownAgent(t *testing.T) {
	ledger, err := NewLedger(newFakeStore(), func(string) (float64, bool) { return 0, false })
	require.NoError(t, err)

	_, err = ledger.Get(context.Background(), "ghost")
	assert.ErrorContains(t, err, "no budget allocation")
}

func TestLedgerChargeAndCredit(t *testing.T) {
	store := newFakeStore()
	ledger, err := NewLedger(store, fixedAlloc(500))
	require.NoError(t, err)
	ledger.SetNowFunc(fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))

	ctx := context.Background()
	state, err := ledger.Charge(ctx, "agent-a", decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.True(t, state.Spent.Equal(decimal.NewFromInt(200)))
	assert.True(t, state.Remaining().Equal(decimal.NewFromInt(300)))

	state, err = ledger.Credit(ctx, "agent-a", decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.True(t, state.Spent.Equal(decimal.NewFromInt(50)))
}

func TestLedgerCreditFloorsAtZero(t *testing.T) {
	store := newFakeStore()
	ledger, err := NewLedger(store, fixedAlloc(500))
	require.NoError(t, err)
	ledger.SetNowFunc(fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))

	ctx := context.Background()
	_, err = ledger.Charge(ctx, "agent-a", decimal.NewFromInt(100))
	require.NoError(t, err)

	// Profitable close credits back more than was charged.
	state, err := ledger.Credit(ctx, "agent-a", decimal.NewFromInt(140))
	require.NoError(t, err)
	assert.True(t, state.Spent.IsZero(), "spent must not go negative, got %s", state.Spent)
	assert.True(t, state.Remaining().Equal(decimal.NewFromInt(500)))
}

func TestLedgerNegativeCreditRejected(t *testing.T) {
	ledger, err := NewLedger(newFakeStore(), fixedAlloc(500))
	require.NoError(t, err)

	_, err = ledger.Credit(context.Background(), "agent-a", decimal.NewFromInt(-1))
	assert.Error(t, err)
}

func TestLedgerMonthRoll(t *testing.T) {
	store := newFakeStore()
	ledger, err := NewLedger(store, fixedAlloc(500))
	require.NoError(t, err)

	ctx := context.Background()
	ledger.SetNowFunc(fixedClock(time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)))
	_, err = ledger.Charge(ctx, "agent-a", decimal.NewFromInt(400))
	require.NoError(t, err)

	// New month starts fresh; unspent budget does not roll over.
	ledger.SetNowFunc(fixedClock(time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC)))
	state, err := ledger.Get(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, "2026-04", state.Month)
	assert.True(t, state.Spent.IsZero())
	assert.True(t, state.Remaining().Equal(decimal.NewFromInt(500)))
}

func TestLedgerResyncIdempotent(t *testing.T) {
	store := newFakeStore()
	ledger, err := NewLedger(store, fixedAlloc(500))
	require.NoError(t, err)
	ledger.SetNowFunc(fixedClock(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)))

	ctx := context.Background()
	require.NoError(t, ledger.Resync(ctx, []string{"a", "b"}))
	require.NoError(t, ledger.Resync(ctx, []string{"a", "b"}))
	assert.Equal(t, 2, store.creates)
}
