package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantforge/risk-engine/internal/amplifier"
	"github.com/quantforge/risk-engine/internal/engine"
	"github.com/quantforge/risk-engine/internal/portfolio"
	"github.com/quantforge/risk-engine/internal/risk"
	"github.com/quantforge/risk-engine/internal/sizing"
	"github.com/quantforge/risk-engine/pkg/config"
	"github.com/quantforge/risk-engine/pkg/types"
)

// flatAgent returns the neutral action so sizing stays deterministic
type flatAgent struct{}

func (flatAgent) SelectAction(types.RLState, bool) types.RLAction {
	return types.RLAction{SizeMultiplier: 1, StopLossMultiplier: 1, TakeProfitMultiplier: 1, RiskRewardRatio: 2}
}

func testBook() *portfolio.Manager {
	cfg := config.DefaultEngineConfig()
	sizer := sizing.NewSizer(cfg.Sizing, cfg.Defaults, flatAgent{}, nil)
	return portfolio.NewManager(config.NewLimitStore(cfg.Risk), sizer, risk.NewMonitor(nil), portfolio.NewMatrixAnalyzer(cfg.Correlation), nil)
}

// TestSimulator_MirrorsBookIntoArena tests that opens, price ticks, reductions
// and closes all land in the portfolio manager's arena, so the exposure and
// correlation limits see the live book.
func TestSimulator_MirrorsBookIntoArena(t *testing.T) {
	book := testBook()
	sim := newSimulator(10000, 42, book)

	signal := &types.Signal{
		Symbol:     "BTCUSDT",
		Confidence: 0.7,
		Direction:  types.SideLong,
		Price:      50000,
		ATR:        500,
	}
	open := engine.ExecutionDecision{CanOpenNewPosition: true, PositionSize: 400}
	sim.apply(open, signal)

	positions := book.Positions()
	assert.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, 400.0, positions[0].Size)

	// Price ticks flow through on every step
	sim.step()
	positions = book.Positions()
	assert.Len(t, positions, 1)
	assert.Equal(t, sim.prices["BTCUSDT"], positions[0].CurrentPrice)

	reduce := engine.ExecutionDecision{PositionActions: []engine.PositionDirective{
		{Symbol: "BTCUSDT", Action: amplifier.ActionReduce},
	}}
	sim.apply(reduce, nil)
	assert.InDelta(t, 200.0, book.TotalExposure(), 1e-9)

	closeAll := engine.ExecutionDecision{PositionActions: []engine.PositionDirective{
		{Symbol: "BTCUSDT", Action: amplifier.ActionClose},
	}}
	sim.apply(closeAll, nil)
	assert.Equal(t, 0.0, book.TotalExposure())
	assert.Empty(t, book.Positions())
}
