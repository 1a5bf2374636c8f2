package prices

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"
)

// Synthetic generates deterministic daily prices so a backtest can run
// without real market data. Each ticker follows a bounded random walk seeded
// from the ticker symbol and the run seed; the walk is anchored at the
// signal's disclosed trade price, so every query is a pure function of
// (seed, ticker, anchor, date) and independent of query order.
type Synthetic struct {
	seed uint64

	mu      sync.RWMutex
	anchors map[string]anchor
}

type anchor struct {
	date  time.Time // UTC midnight
	price float64
}

const (
	syntheticDefaultPrice = 100.0
	syntheticDailyVolCap  = 0.03 // max |daily return|
)

func NewSynthetic(seed uint64) *Synthetic {
	return &Synthetic{seed: seed, anchors: make(map[string]anchor)}
}

// SetAnchor pins a ticker's price at a date. Later anchors for the same
// ticker are ignored so earlier signals stay stable.
func (s *Synthetic) SetAnchor(ticker string, date time.Time, price float64) {
	if price <= 0 {
		return
	}
	key := strings.ToUpper(ticker)
	day := midnight(date)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.anchors[key]; ok && !day.Before(existing.date) {
		return
	}
	s.anchors[key] = anchor{date: day, price: price}
}

func (s *Synthetic) Price(ctx context.Context, ticker string, date time.Time) (float64, bool, error) {
	key := strings.ToUpper(ticker)
	day := midnight(date)

	s.mu.RLock()
	a, ok := s.anchors[key]
	s.mu.RUnlock()
	if !ok {
		a = anchor{date: day, price: syntheticDefaultPrice}
	}

	// Walk from the anchor to the requested date, one calendar day at a
	// time. Returns are hash-derived, so the walk never depends on which
	// dates were queried before.
	days := int(day.Sub(a.date).Hours() / 24)
	price := a.price
	step := 1
	if days < 0 {
		days = -days
		step = -1
	}
	d := a.date
	for i := 0; i < days; i++ {
		d = d.AddDate(0, 0, step)
		r := s.dailyReturn(key, d)
		if step > 0 {
			price *= 1 + r
		} else {
			price /= 1 + r
		}
	}
	if price < 0.01 {
		price = 0.01
	}
	return round2(price), true, nil
}

func (s *Synthetic) ClosingPrices(ctx context.Context, tickers []string, date time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		price, _, err := s.Price(ctx, t, date)
		if err != nil {
			return nil, err
		}
		out[strings.ToUpper(t)] = price
	}
	return out, nil
}

// dailyReturn maps (seed, ticker, date) to a return in
// [-syntheticDailyVolCap, +syntheticDailyVolCap] with a slight upward drift.
func (s *Synthetic) dailyReturn(ticker string, date time.Time) float64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(s.seed >> (8 * i))
	}
	h.Write(buf[:])
	h.Write([]byte(ticker))
	h.Write([]byte(date.Format("2006-01-02")))
	u := h.Sum64()
	// Uniform in [0,1), then center and scale.
	frac := float64(u>>11) / float64(1<<53)
	return (frac-0.5)*2*syntheticDailyVolCap + 0.0003
}

func midnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
