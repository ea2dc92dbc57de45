package types

import "time"

// Side represents the direction of a trade or position
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Regime represents the market regime label supplied by the upstream classifier
type Regime string

const (
	RegimeBull     Regime = "BULL"
	RegimeBear     Regime = "BEAR"
	RegimeSideways Regime = "SIDEWAYS"
	RegimeVolatile Regime = "VOLATILE"
)

// TradeRecord represents a single closed trade. Records are immutable once created.
type TradeRecord struct {
	Symbol          string        `json:"symbol"`
	Side            Side          `json:"side"`
	EntryPrice      float64       `json:"entry_price"`
	ExitPrice       float64       `json:"exit_price"`
	Quantity        float64       `json:"quantity"`
	Confidence      float64       `json:"confidence"`
	Pattern         string        `json:"pattern"`
	Regime          Regime        `json:"regime"`
	VolatilityRatio float64       `json:"volatility_ratio"`
	VolumeRatio     float64       `json:"volume_ratio"`
	HoldingDuration time.Duration `json:"holding_duration"`
	PnLPercent      float64       `json:"pnl_percent"`
	ClosedAt        time.Time     `json:"closed_at"`
}

// IsWin reports whether the trade closed with a positive realized PnL
func (t TradeRecord) IsWin() bool {
	return t.PnLPercent > 0
}

// Signal represents a trading signal produced by the upstream signal generator
type Signal struct {
	Symbol         string  `json:"symbol"`
	Confidence     float64 `json:"confidence"`
	Direction      Side    `json:"direction"`
	Price          float64 `json:"price"`
	StopLoss       float64 `json:"stop_loss"`
	TakeProfit     float64 `json:"take_profit"`
	Strength       float64 `json:"strength"`
	AgreementScore float64 `json:"agreement_score"`
	Pattern        string  `json:"pattern"`
	Regime         Regime  `json:"regime"`
	ATR            float64 `json:"atr"`
}

// Position represents an open position tracked by the portfolio risk manager.
// Size is denominated in quote currency.
type Position struct {
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Size         float64   `json:"size"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	OpenedAt     time.Time `json:"opened_at"`
}

// PnLPercent returns the unrealized PnL of the position as a fraction of entry
func (p Position) PnLPercent() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	change := (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
	if p.Side == SideShort {
		return -change
	}
	return change
}

// Age returns how long the position has been open relative to now
func (p Position) Age(now time.Time) time.Duration {
	if p.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(p.OpenedAt)
}

// PortfolioSnapshot is the consistent view of the portfolio an evaluation cycle runs over.
// Callers build one snapshot per cycle; components never read live shared state.
type PortfolioSnapshot struct {
	TotalValue    float64            `json:"total_value"`
	Cash          float64            `json:"cash"`
	OpenPositions []Position         `json:"open_positions"`
	ClosedToday   []TradeRecord      `json:"closed_today"`
	CurrentPrices map[string]float64 `json:"current_prices"`
	Timestamp     time.Time          `json:"timestamp"`
}

// RealizedTodayPercent returns today's realized PnL as a fraction of total value
func (s PortfolioSnapshot) RealizedTodayPercent() float64 {
	if s.TotalValue <= 0 {
		return 0
	}
	total := 0.0
	for _, t := range s.ClosedToday {
		total += t.PnLPercent * t.EntryPrice * t.Quantity
	}
	return total / s.TotalValue
}

// PatternStats holds the historical performance statistics for one pattern tag,
// supplied by the external pattern tracker. WinRate, AvgWin and AvgLoss are fractions.
type PatternStats struct {
	WinRate    float64 `json:"win_rate"`
	AvgWin     float64 `json:"avg_win"`
	AvgLoss    float64 `json:"avg_loss"`
	SampleSize int     `json:"sample_size"`
}
