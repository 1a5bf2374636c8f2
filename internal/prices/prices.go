// Package prices resolves daily closing prices for tickers. The live engine
// and the simulator both consume the Provider interface; implementations
// include a SQLite bar store and a deterministic synthetic fallback.
package prices

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// Provider answers "what did ticker close at on date". The bool reports
// whether a price was available at all; an error is reserved for transport
// or storage failures.
type Provider interface {
	Price(ctx context.Context, ticker string, date time.Time) (float64, bool, error)
	ClosingPrices(ctx context.Context, tickers []string, date time.Time) (map[string]float64, error)
}

// Layered tries each provider in turn and answers from the first one that
// has the price. It remembers whether the synthetic fallback was ever used,
// so backtest results can be flagged as not using real market data.
type Layered struct {
	providers     []Provider
	syntheticIdx  int
	syntheticUsed atomic.Bool
}

// NewLayered builds a layered provider. syntheticIdx is the index of the
// synthetic fallback within providers, or -1 when none is present.
func NewLayered(syntheticIdx int, providers ...Provider) *Layered {
	return &Layered{providers: providers, syntheticIdx: syntheticIdx}
}

func (l *Layered) Price(ctx context.Context, ticker string, date time.Time) (float64, bool, error) {
	for i, p := range l.providers {
		price, ok, err := p.Price(ctx, ticker, date)
		if err != nil {
			return 0, false, err
		}
		if ok {
			if i == l.syntheticIdx {
				l.syntheticUsed.Store(true)
			}
			return price, true, nil
		}
	}
	return 0, false, nil
}

func (l *Layered) ClosingPrices(ctx context.Context, tickers []string, date time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		price, ok, err := l.Price(ctx, t, date)
		if err != nil {
			return nil, err
		}
		if ok {
			out[strings.ToUpper(t)] = price
		}
	}
	return out, nil
}

// SyntheticUsed reports whether any answered price came from the synthetic
// fallback.
func (l *Layered) SyntheticUsed() bool {
	return l.syntheticUsed.Load()
}
