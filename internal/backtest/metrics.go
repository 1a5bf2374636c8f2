package backtest

import "math"

const tradingDaysPerYear = 252

// Metrics is the per-agent performance summary of one run. Ratio fields are
// 0 when the run is too short or flat to compute them; ProfitFactor is +Inf
// when there were wins and no losses.
type Metrics struct {
	FinalEquity    float64 `json:"final_equity"`
	Contributed    float64 `json:"contributed"`
	TotalReturnPct float64 `json:"total_return_pct"`
	CAGR           float64 `json:"cagr"`

	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	MaxDrawdownDays  int     `json:"max_drawdown_days"`
	AnnualizedVolPct float64 `json:"annualized_vol_pct"`
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	Calmar           float64 `json:"calmar"`

	TradeCount   int     `json:"trade_count"`
	WinRate      float64 `json:"win_rate"`
	AvgWinPct    float64 `json:"avg_win_pct"`
	AvgLossPct   float64 `json:"avg_loss_pct"`
	ProfitFactor float64 `json:"profit_factor"`

	AvgHoldDays float64 `json:"avg_hold_days"`
	MinHoldDays int     `json:"min_hold_days"`
	MaxHoldDays int     `json:"max_hold_days"`

	ExitCounts map[string]int `json:"exit_counts,omitempty"`
}

// ComputeMetrics reduces an equity curve and the closed-trade list to the
// summary statistics. Returns are measured against contributed capital, not
// against the first snapshot, because capital arrives in monthly deposits.
// riskFree is the annual risk-free rate as a fraction; Sharpe and Sortino
// measure excess return over its per-day equivalent.
func ComputeMetrics(snapshots []DailySnapshot, closed []ClosedTrade, contributed, riskFree float64) Metrics {
	m := Metrics{Contributed: contributed, TradeCount: len(closed)}
	if len(snapshots) == 0 {
		return m
	}
	last := snapshots[len(snapshots)-1]
	m.FinalEquity = last.Equity
	if contributed > 0 {
		m.TotalReturnPct = (last.Equity - contributed) / contributed * 100
	}

	returns := dailyReturns(snapshots)
	m.CAGR = cagr(snapshots, contributed)
	m.MaxDrawdownPct, m.MaxDrawdownDays = maxDrawdown(snapshots)
	m.AnnualizedVolPct = stddev(returns) * math.Sqrt(tradingDaysPerYear) * 100

	excess := make([]float64, len(returns))
	dailyRF := riskFree / tradingDaysPerYear
	for i, r := range returns {
		excess[i] = r - dailyRF
	}
	if vol := stddev(excess); vol > 0 {
		m.Sharpe = mean(excess) / vol * math.Sqrt(tradingDaysPerYear)
	}
	if dvol := downsideDev(excess); dvol > 0 {
		m.Sortino = mean(excess) / dvol * math.Sqrt(tradingDaysPerYear)
	}
	if m.MaxDrawdownPct > 0 {
		m.Calmar = m.CAGR / (m.MaxDrawdownPct / 100)
	}

	m.ExitCounts = make(map[string]int)
	var wins, losses int
	var winSum, lossSum, grossWin, grossLoss float64
	var holdSum float64
	for i, t := range closed {
		m.ExitCounts[string(t.ExitReason)]++
		holdSum += float64(t.DaysHeld)
		if i == 0 || t.DaysHeld < m.MinHoldDays {
			m.MinHoldDays = t.DaysHeld
		}
		if t.DaysHeld > m.MaxHoldDays {
			m.MaxHoldDays = t.DaysHeld
		}
		if t.PnL > 0 {
			wins++
			winSum += t.ReturnPct
			grossWin += t.PnL
		} else if t.PnL < 0 {
			losses++
			lossSum += t.ReturnPct
			grossLoss += -t.PnL
		}
	}
	if len(closed) > 0 {
		m.WinRate = float64(wins) / float64(len(closed))
		m.AvgHoldDays = holdSum / float64(len(closed))
	}
	if wins > 0 {
		m.AvgWinPct = winSum / float64(wins)
	}
	if losses > 0 {
		m.AvgLossPct = lossSum / float64(losses)
	}
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		m.ProfitFactor = math.Inf(1)
	}
	return m
}

// dailyReturns derives deposit-adjusted day-over-day returns so a monthly
// cash infusion does not count as performance.
func dailyReturns(snapshots []DailySnapshot) []float64 {
	out := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		deposit := cur.Contributed - prev.Contributed
		base := prev.Equity + deposit
		if base <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (cur.Equity-base)/base)
	}
	return out
}

func cagr(snapshots []DailySnapshot, contributed float64) float64 {
	if len(snapshots) < 2 || contributed <= 0 {
		return 0
	}
	final := snapshots[len(snapshots)-1].Equity
	if final <= 0 {
		return -1
	}
	years := float64(len(snapshots)) / tradingDaysPerYear
	if years <= 0 {
		return 0
	}
	return math.Pow(final/contributed, 1/years) - 1
}

// maxDrawdown returns the deepest peak-to-trough drop in percent and the
// longest stretch of days spent below a prior peak.
func maxDrawdown(snapshots []DailySnapshot) (float64, int) {
	var peak, maxDD float64
	var ddStart, maxDays int
	for i, snap := range snapshots {
		if snap.Equity >= peak {
			peak = snap.Equity
			ddStart = i
			continue
		}
		if peak > 0 {
			dd := (peak - snap.Equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
		if days := i - ddStart; days > maxDays {
			maxDays = days
		}
	}
	return maxDD, maxDays
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mu := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

func downsideDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		if x < 0 {
			sum += x * x
		}
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
