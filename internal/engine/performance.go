package engine

import (
	"math"
	"sync"

	"github.com/quantforge/risk-engine/pkg/types"
)

// Metrics are the aggregate trade statistics surfaced to collaborators
type Metrics struct {
	TotalTrades  int     `json:"total_trades"`
	WinningCount int     `json:"winning_count"`
	LosingCount  int     `json:"losing_count"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	WinLossRatio float64 `json:"win_loss_ratio"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
}

// TrackerState is the serializable counter set for persistence
type TrackerState struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"`
}

// Tracker accumulates realized trade outcomes into win rate, profit factor
// and win/loss ratio. Counters only ever move forward.
type Tracker struct {
	mu          sync.RWMutex
	totalTrades int
	wins        int
	losses      int
	grossProfit float64
	grossLoss   float64
}

// NewTracker creates an empty performance tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record folds one closed trade into the aggregates. Non-finite PnL values
// are ignored; they should have been rejected at the boundary.
func (t *Tracker) Record(trade types.TradeRecord) {
	if math.IsNaN(trade.PnLPercent) || math.IsInf(trade.PnLPercent, 0) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalTrades++
	if trade.PnLPercent > 0 {
		t.wins++
		t.grossProfit += trade.PnLPercent
	} else {
		t.losses++
		t.grossLoss += -trade.PnLPercent
	}
}

// Metrics returns the current aggregates
func (t *Tracker) Metrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := Metrics{
		TotalTrades:  t.totalTrades,
		WinningCount: t.wins,
		LosingCount:  t.losses,
	}
	if t.totalTrades > 0 {
		m.WinRate = float64(t.wins) / float64(t.totalTrades)
	}
	if t.grossLoss > 0 {
		m.ProfitFactor = t.grossProfit / t.grossLoss
	} else if t.grossProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}
	if t.wins > 0 {
		m.AvgWin = t.grossProfit / float64(t.wins)
	}
	if t.losses > 0 {
		m.AvgLoss = t.grossLoss / float64(t.losses)
	}
	if m.AvgLoss > 0 {
		m.WinLossRatio = m.AvgWin / m.AvgLoss
	}
	return m
}

// Snapshot captures the counters for persistence
func (t *Tracker) Snapshot() TrackerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TrackerState{
		TotalTrades: t.totalTrades,
		Wins:        t.wins,
		Losses:      t.losses,
		GrossProfit: t.grossProfit,
		GrossLoss:   t.grossLoss,
	}
}

// Restore replaces the counters from persisted state
func (t *Tracker) Restore(state TrackerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalTrades = state.TotalTrades
	t.wins = state.Wins
	t.losses = state.Losses
	t.grossProfit = state.GrossProfit
	t.grossLoss = state.GrossLoss
}
