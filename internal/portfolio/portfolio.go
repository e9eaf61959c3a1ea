// Package portfolio accumulates the performance of a backtest run: fills,
// closed positions, and the drawdown of the marked-to-market account value.
package portfolio

import (
	"math"
	"sync"

	"tradeflow/internal/exchange"
)

// Tracker implements exchange.Listener and observes account snapshots.
type Tracker struct {
	mu sync.RWMutex

	initial float64
	samples int
	buys    int
	sells   int

	closed      int
	wins        int
	losses      int
	grossProfit float64
	grossLoss   float64

	peak      float64
	maxDD     float64
	maxDDPct  float64
	last      exchange.Account
	lastValue float64
}

// NewTracker starts tracking an account funded with initialCash.
func NewTracker(initialCash float64) *Tracker {
	return &Tracker{initial: initialCash, peak: initialCash, lastValue: initialCash}
}

// OnTrade counts a fill.
func (t *Tracker) OnTrade(tr exchange.Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr.Side == exchange.Buy {
		t.buys++
	} else {
		t.sells++
	}
}

// OnPositionClosed books the realized result of a closed position.
func (t *Tracker) OnPositionClosed(p exchange.Position) {
	pnl := p.CounterDiff()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	switch {
	case pnl > 0:
		t.wins++
		t.grossProfit += pnl
	case pnl < 0:
		t.losses++
		t.grossLoss -= pnl
	}
}

// Value is the marked-to-market account value: cash plus the unrealized
// result of the open position.
func Value(a exchange.Account) float64 {
	return a.Cash + a.Unrealized
}

// ObserveAccount records one per-sample account snapshot.
func (t *Tracker) ObserveAccount(a exchange.Account) {
	v := Value(a)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples++
	t.last = a
	t.lastValue = v
	if v > t.peak {
		t.peak = v
	}
	if dd := t.peak - v; dd > t.maxDD {
		t.maxDD = dd
	}
	if t.peak > 0 {
		if pct := (t.peak - v) / t.peak * 100; pct > t.maxDDPct {
			t.maxDDPct = pct
		}
	}
}

// Summary is the run report.
type Summary struct {
	Samples         int     `json:"samples"`
	Trades          int     `json:"trades"`
	Buys            int     `json:"buys"`
	Sells           int     `json:"sells"`
	PositionsClosed int     `json:"positions_closed"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         float64 `json:"win_rate"`
	ProfitFactor    float64 `json:"profit_factor"`
	RealizedPnL     float64 `json:"realized_pnl"`
	InitialCash     float64 `json:"initial_cash"`
	FinalValue      float64 `json:"final_value"`
	FinalEquity     float64 `json:"final_equity"`
	ReturnPct       float64 `json:"return_pct"`
	PeakValue       float64 `json:"peak_value"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
}

// Summary returns the report so far. ProfitFactor is +Inf when there are
// wins and no losses, and 0 with no closed positions.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{
		Samples:         t.samples,
		Trades:          t.buys + t.sells,
		Buys:            t.buys,
		Sells:           t.sells,
		PositionsClosed: t.closed,
		Wins:            t.wins,
		Losses:          t.losses,
		RealizedPnL:     t.grossProfit - t.grossLoss,
		InitialCash:     t.initial,
		FinalValue:      t.lastValue,
		FinalEquity:     t.last.Equity,
		PeakValue:       t.peak,
		MaxDrawdown:     t.maxDD,
		MaxDrawdownPct:  t.maxDDPct,
	}
	if t.closed > 0 {
		s.WinRate = float64(t.wins) / float64(t.closed)
	}
	switch {
	case t.grossLoss > 0:
		s.ProfitFactor = t.grossProfit / t.grossLoss
	case t.grossProfit > 0:
		s.ProfitFactor = math.Inf(1)
	}
	if t.initial > 0 {
		s.ReturnPct = (t.lastValue - t.initial) / t.initial * 100
	}
	return s
}
