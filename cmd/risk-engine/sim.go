package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/quantforge/risk-engine/internal/amplifier"
	"github.com/quantforge/risk-engine/internal/engine"
	"github.com/quantforge/risk-engine/internal/portfolio"
	"github.com/quantforge/risk-engine/pkg/types"
)

// simulator drives the engine with a synthetic portfolio feed: random-walk
// prices, periodic entry signals and position lifecycles. It stands in for the
// live execution layer, which is out of scope for this engine. Every open,
// price tick and close is mirrored into the portfolio manager's arena so the
// exposure and correlation limits see the live book.
type simulator struct {
	rng       *rand.Rand
	now       time.Time
	cash      float64
	prices    map[string]float64
	positions map[string]types.Position
	closed    []types.TradeRecord
	patterns  []string
	book      *portfolio.Manager
}

var simSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT"}

func newSimulator(initialBalance float64, seed int64, book *portfolio.Manager) *simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &simulator{
		rng:       rand.New(rand.NewSource(seed)),
		now:       time.Now(),
		cash:      initialBalance,
		prices:    make(map[string]float64, len(simSymbols)),
		positions: make(map[string]types.Position),
		patterns:  []string{"BREAKOUT", "PULLBACK", "REVERSAL", "MOMENTUM"},
		book:      book,
	}
	base := 30000.0
	for _, sym := range simSymbols {
		s.prices[sym] = base
		base /= 12
	}
	return s
}

// step advances prices by one tick and returns the snapshot plus, on some
// cycles, a proposed entry signal.
func (s *simulator) step() (types.PortfolioSnapshot, *types.Signal) {
	s.now = s.now.Add(time.Minute)

	// Only trades closed in the last 24h count toward daily limits
	cutoff := s.now.Add(-24 * time.Hour)
	kept := s.closed[:0]
	for _, t := range s.closed {
		if t.ClosedAt.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.closed = kept

	for sym, price := range s.prices {
		move := (s.rng.Float64() - 0.5) * 0.02
		s.prices[sym] = price * (1 + move)
	}

	open := make([]types.Position, 0, len(s.positions))
	for sym, pos := range s.positions {
		pos.CurrentPrice = s.prices[sym]
		s.positions[sym] = pos
		s.book.UpdatePrice(sym, pos.CurrentPrice)
		open = append(open, pos)
	}

	total := s.cash
	for _, pos := range open {
		total += pos.Size * (1 + pos.PnLPercent())
	}

	snapshot := types.PortfolioSnapshot{
		TotalValue:    total,
		Cash:          s.cash,
		OpenPositions: open,
		ClosedToday:   s.closed,
		CurrentPrices: copyPrices(s.prices),
		Timestamp:     s.now,
	}

	var signal *types.Signal
	if s.rng.Float64() < 0.4 {
		sym := simSymbols[s.rng.Intn(len(simSymbols))]
		if _, held := s.positions[sym]; !held {
			price := s.prices[sym]
			direction := types.SideLong
			if s.rng.Float64() < 0.35 {
				direction = types.SideShort
			}
			signal = &types.Signal{
				Symbol:         sym,
				Confidence:     0.55 + s.rng.Float64()*0.4,
				Direction:      direction,
				Price:          price,
				Strength:       s.rng.Float64(),
				AgreementScore: s.rng.Float64(),
				Pattern:        s.patterns[s.rng.Intn(len(s.patterns))],
				Regime:         s.regime(),
				ATR:            price * (0.005 + s.rng.Float64()*0.02),
			}
		}
	}
	return snapshot, signal
}

// apply executes the engine's decision against the simulated book and returns
// any trades closed this cycle.
func (s *simulator) apply(decision engine.ExecutionDecision, signal *types.Signal) []types.TradeRecord {
	var closedNow []types.TradeRecord

	for _, directive := range decision.PositionActions {
		pos, ok := s.positions[directive.Symbol]
		if !ok {
			continue
		}
		switch directive.Action {
		case amplifier.ActionClose:
			closedNow = append(closedNow, s.close(pos))
		case amplifier.ActionReduce:
			half := pos
			half.Size = pos.Size / 2
			closedNow = append(closedNow, s.close(half))
			pos.Size -= half.Size
			s.positions[directive.Symbol] = pos
			s.book.ReducePosition(directive.Symbol, pos.Size)
		}
	}

	if signal != nil && decision.CanOpenNewPosition && decision.PositionSize > 0 {
		pos := types.Position{
			Symbol:       signal.Symbol,
			Side:         signal.Direction,
			Size:         decision.PositionSize,
			EntryPrice:   signal.Price,
			CurrentPrice: signal.Price,
			OpenedAt:     s.now,
		}
		if err := s.book.OpenPosition(pos); err == nil {
			s.positions[signal.Symbol] = pos
			s.cash -= decision.PositionSize
		}
	}

	s.closed = append(s.closed, closedNow...)
	return closedNow
}

func (s *simulator) close(pos types.Position) types.TradeRecord {
	pnl := pos.PnLPercent()
	s.cash += pos.Size * (1 + pnl)
	if full, ok := s.positions[pos.Symbol]; ok && full.Size <= pos.Size {
		delete(s.positions, pos.Symbol)
		s.book.ClosePosition(pos.Symbol)
	}
	return types.TradeRecord{
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       pos.CurrentPrice,
		Quantity:        pos.Size / pos.EntryPrice,
		Confidence:      0.6,
		Pattern:         s.patterns[s.rng.Intn(len(s.patterns))],
		Regime:          s.regime(),
		VolatilityRatio: 1.0,
		VolumeRatio:     1.0,
		HoldingDuration: s.now.Sub(pos.OpenedAt),
		PnLPercent:      pnl,
		ClosedAt:        s.now,
	}
}

func (s *simulator) regime() types.Regime {
	switch s.rng.Intn(4) {
	case 0:
		return types.RegimeBull
	case 1:
		return types.RegimeBear
	case 2:
		return types.RegimeVolatile
	default:
		return types.RegimeSideways
	}
}

func copyPrices(prices map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(prices))
	for k, v := range prices {
		out[k] = v
	}
	return out
}

func (s *simulator) String() string {
	return fmt.Sprintf("cash=%.2f open=%d closed=%d", s.cash, len(s.positions), len(s.closed))
}
