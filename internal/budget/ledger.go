// Package budget tracks per-agent monthly spend. Each (agent, month) pair is
// an independent record created lazily on first touch; unspent budget never
// rolls over. All spend changes flow through Charge so that a concurrent
// execute and exit-credit on the same agent cannot lose an update.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hadoku/internal/logger"

	"github.com/shopspring/decimal"
)

// State is one agent's budget for one calendar month.
type State struct {
	AgentID string
	Month   string // YYYY-MM, UTC
	Total   decimal.Decimal
	Spent   decimal.Decimal
}

// Remaining is always derived, never stored.
func (s State) Remaining() decimal.Decimal {
	return s.Total.Sub(s.Spent)
}

// Store is the persistence surface the ledger drives. AddSpent must be an
// atomic in-place increment (spent = spent + delta).
type Store interface {
	GetBudget(ctx context.Context, agentID, month string) (*State, error)
	CreateBudget(ctx context.Context, state State) error
	AddSpent(ctx context.Context, agentID, month string, delta decimal.Decimal) error
}

// AllocationFunc resolves an agent's configured monthly allocation.
type AllocationFunc func(agentID string) (float64, bool)

// Ledger serializes budget mutations per agent. The per-agent mutex plus the
// store's atomic increment make read-decide-charge safe across goroutines.
type Ledger struct {
	store Store
	alloc AllocationFunc
	nowFn func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(store Store, alloc AllocationFunc) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("budget ledger requires a store")
	}
	if alloc == nil {
		return nil, fmt.Errorf("budget ledger requires an allocation resolver")
	}
	return &Ledger{
		store: store,
		alloc: alloc,
		nowFn: time.Now,
		locks: map[string]*sync.Mutex{},
	}, nil
}

// SetNowFunc overrides the clock; used in tests.
func (l *Ledger) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		l.nowFn = fn
	}
}

// MonthKey formats t as the ledger's month key.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (l *Ledger) agentLock(agentID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[agentID]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[agentID] = lk
	}
	return lk
}

// Get returns the agent's current-month budget, creating a zero-spend record
// from the configured allocation if this month has not been touched yet.
func (l *Ledger) Get(ctx context.Context, agentID string) (State, error) {
	lk := l.agentLock(agentID)
	lk.Lock()
	defer lk.Unlock()
	return l.ensureLocked(ctx, agentID, MonthKey(l.nowFn()))
}

func (l *Ledger) ensureLocked(ctx context.Context, agentID, month string) (State, error) {
	existing, err := l.store.GetBudget(ctx, agentID, month)
	if err != nil {
		return State{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	total, ok := l.alloc(agentID)
	if !ok {
		return State{}, fmt.Errorf("no budget allocation configured for agent %s", agentID)
	}
	state := State{
		AgentID: agentID,
		Month:   month,
		Total:   decimal.NewFromFloat(total),
		Spent:   decimal.Zero,
	}
	if err := l.store.CreateBudget(ctx, state); err != nil {
		return State{}, err
	}
	logger.Infof("budget: opened %s for agent %s (total=%s)", month, agentID, state.Total)
	return state, nil
}

// Charge adds amount to the month's spend and returns the new state. A
// negative amount is a credit. Spend is floored at zero: crediting more than
// was spent (a profitable close) cannot drive the month negative.
func (l *Ledger) Charge(ctx context.Context, agentID string, amount decimal.Decimal) (State, error) {
	lk := l.agentLock(agentID)
	lk.Lock()
	defer lk.Unlock()

	month := MonthKey(l.nowFn())
	state, err := l.ensureLocked(ctx, agentID, month)
	if err != nil {
		return State{}, err
	}
	delta := amount
	if delta.IsNegative() {
		// Floor the credit so spent never goes below zero.
		if state.Spent.Add(delta).IsNegative() {
			delta = state.Spent.Neg()
		}
	}
	if err := l.store.AddSpent(ctx, agentID, month, delta); err != nil {
		return State{}, err
	}
	state.Spent = state.Spent.Add(delta)
	return state, nil
}

// Credit releases previously charged capital back to the month's budget.
func (l *Ledger) Credit(ctx context.Context, agentID string, amount decimal.Decimal) (State, error) {
	if amount.IsNegative() {
		return State{}, fmt.Errorf("credit amount cannot be negative: %s", amount)
	}
	return l.Charge(ctx, agentID, amount.Neg())
}

// Resync lazily creates any missing current-month records for the given
// agents. Safe to re-run; existing records are left untouched.
func (l *Ledger) Resync(ctx context.Context, agentIDs []string) error {
	for _, id := range agentIDs {
		if _, err := l.Get(ctx, id); err != nil {
			return fmt.Errorf("resync budget for %s: %w", id, err)
		}
	}
	return nil
}
