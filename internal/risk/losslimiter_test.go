package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantforge/risk-engine/pkg/config"
	"github.com/quantforge/risk-engine/pkg/types"
)

func testLimiter() *Limiter {
	return NewLimiter(config.DefaultEngineConfig().Loss, nil)
}

func lossTrade(pnl float64, closedAt time.Time) types.TradeRecord {
	return types.TradeRecord{
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		EntryPrice: 1000,
		Quantity:   1,
		PnLPercent: pnl,
		ClosedAt:   closedAt,
	}
}

// TestCheck_CleanSlateAllowsTrading tests that an empty day passes every gate
func TestCheck_CleanSlateAllowsTrading(t *testing.T) {
	limiter := testLimiter()

	assessment := limiter.Check(types.PortfolioSnapshot{
		TotalValue: 10000,
		Timestamp:  time.Now(),
	})

	assert.True(t, assessment.CanTrade)
	assert.Equal(t, 0.0, assessment.DailyLossPercent)
	assert.Equal(t, 0, assessment.ConsecutiveLosses)
	assert.Equal(t, -1.0, assessment.MinutesSinceLastLoss)
	assert.Empty(t, assessment.Reasons)
}

// TestCheck_DailyLossCapBlocks tests the daily realized loss circuit breaker
func TestCheck_DailyLossCapBlocks(t *testing.T) {
	limiter := testLimiter()
	now := time.Now()

	// One realized -4% of portfolio value breaches the 3% cap
	snapshot := types.PortfolioSnapshot{
		TotalValue: 10000,
		ClosedToday: []types.TradeRecord{
			{Symbol: "BTCUSDT", EntryPrice: 1000, Quantity: 4, PnLPercent: -0.10, ClosedAt: now.Add(-3 * time.Hour)},
			{Symbol: "ETHUSDT", EntryPrice: 1000, Quantity: 1, PnLPercent: 0.02, ClosedAt: now.Add(-2 * time.Hour)},
		},
		Timestamp: now,
	}

	assessment := limiter.Check(snapshot)
	assert.False(t, assessment.CanTrade)
	assert.InDelta(t, 0.038, assessment.DailyLossPercent, 1e-9)
	assert.NotEmpty(t, assessment.Reasons)
}

// TestCheck_ThreeConsecutiveLossesBlock tests the streak limit
func TestCheck_ThreeConsecutiveLossesBlock(t *testing.T) {
	limiter := testLimiter()
	now := time.Now()

	snapshot := types.PortfolioSnapshot{
		TotalValue: 1000000, // large book keeps the daily percent under the cap
		ClosedToday: []types.TradeRecord{
			lossTrade(0.01, now.Add(-8*time.Hour)),
			lossTrade(-0.01, now.Add(-6*time.Hour)),
			lossTrade(-0.01, now.Add(-4*time.Hour)),
			lossTrade(-0.01, now.Add(-3*time.Hour)),
		},
		Timestamp: now,
	}

	assessment := limiter.Check(snapshot)
	assert.False(t, assessment.CanTrade)
	assert.Equal(t, 3, assessment.ConsecutiveLosses)
}

// TestCheck_WinResetsStreak tests that a recent win breaks the loss streak
func TestCheck_WinResetsStreak(t *testing.T) {
	limiter := testLimiter()
	now := time.Now()

	snapshot := types.PortfolioSnapshot{
		TotalValue: 1000000,
		ClosedToday: []types.TradeRecord{
			lossTrade(-0.01, now.Add(-6*time.Hour)),
			lossTrade(-0.01, now.Add(-5*time.Hour)),
			lossTrade(0.02, now.Add(-4*time.Hour)),
		},
		Timestamp: now,
	}

	assessment := limiter.Check(snapshot)
	assert.True(t, assessment.CanTrade)
	assert.Equal(t, 0, assessment.ConsecutiveLosses)
}

// TestCheck_CooldownAfterLossStreak tests the cool-down window after two recent losses
func TestCheck_CooldownAfterLossStreak(t *testing.T) {
	limiter := testLimiter()
	now := time.Now()

	snapshot := types.PortfolioSnapshot{
		TotalValue: 1000000,
		ClosedToday: []types.TradeRecord{
			lossTrade(-0.01, now.Add(-90*time.Minute)),
			lossTrade(-0.01, now.Add(-10*time.Minute)),
		},
		Timestamp: now,
	}

	assessment := limiter.Check(snapshot)
	assert.False(t, assessment.CanTrade)
	assert.Equal(t, 2, assessment.ConsecutiveLosses)

	// The same streak outside the window trades again
	later := snapshot
	later.Timestamp = now.Add(2 * time.Hour)
	assessment = limiter.Check(later)
	assert.True(t, assessment.CanTrade)
}

// TestCheckPosition_StopThresholds tests hard and soft stop flags on unrealized loss
func TestCheckPosition_StopThresholds(t *testing.T) {
	limiter := testLimiter()

	// -6% unrealized: beyond the 5% hard stop
	hard := limiter.CheckPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.SideLong, EntryPrice: 100, CurrentPrice: 94,
	})
	assert.True(t, hard.ForceClose)
	assert.False(t, hard.SoftStop)

	// -4% unrealized: soft stop only
	soft := limiter.CheckPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.SideLong, EntryPrice: 100, CurrentPrice: 96,
	})
	assert.False(t, soft.ForceClose)
	assert.True(t, soft.SoftStop)

	// -1% unrealized: no flag
	fine := limiter.CheckPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.SideLong, EntryPrice: 100, CurrentPrice: 99,
	})
	assert.False(t, fine.ForceClose)
	assert.False(t, fine.SoftStop)
}

// TestCheckPosition_ShortSideSign tests that short positions lose when price rises
func TestCheckPosition_ShortSideSign(t *testing.T) {
	limiter := testLimiter()

	flag := limiter.CheckPosition(types.Position{
		Symbol: "ETHUSDT", Side: types.SideShort, EntryPrice: 100, CurrentPrice: 106,
	})
	assert.True(t, flag.ForceClose)
}

// TestPreemptiveClose_DefendsDailyCap tests the worst-loser close near the cap
func TestPreemptiveClose_DefendsDailyCap(t *testing.T) {
	limiter := testLimiter()
	now := time.Now()

	// Realized -2.2% of 10000: beyond 70% of the 3% cap
	snapshot := types.PortfolioSnapshot{
		TotalValue: 10000,
		ClosedToday: []types.TradeRecord{
			{Symbol: "BTCUSDT", EntryPrice: 1000, Quantity: 2.2, PnLPercent: -0.10, ClosedAt: now.Add(-2 * time.Hour)},
		},
		OpenPositions: []types.Position{
			{Symbol: "SOLUSDT", Side: types.SideLong, EntryPrice: 100, CurrentPrice: 99, Size: 500},
			{Symbol: "ADAUSDT", Side: types.SideLong, EntryPrice: 100, CurrentPrice: 97, Size: 500},
		},
		Timestamp: now,
	}

	worst, ok := limiter.PreemptiveClose(snapshot)
	assert.True(t, ok)
	assert.Equal(t, "ADAUSDT", worst.Symbol)
}

// TestPreemptiveClose_NotTriggeredBelowThreshold tests that a small loss leaves positions alone
func TestPreemptiveClose_NotTriggeredBelowThreshold(t *testing.T) {
	limiter := testLimiter()

	snapshot := types.PortfolioSnapshot{
		TotalValue: 10000,
		OpenPositions: []types.Position{
			{Symbol: "SOLUSDT", Side: types.SideLong, EntryPrice: 100, CurrentPrice: 95, Size: 500},
		},
		Timestamp: time.Now(),
	}

	_, ok := limiter.PreemptiveClose(snapshot)
	assert.False(t, ok)
}

// TestPreemptiveClose_OnlyWinnersOpen tests that profitable books are never force-closed
func TestPreemptiveClose_OnlyWinnersOpen(t *testing.T) {
	limiter := testLimiter()
	now := time.Now()

	snapshot := types.PortfolioSnapshot{
		TotalValue: 10000,
		ClosedToday: []types.TradeRecord{
			{Symbol: "BTCUSDT", EntryPrice: 1000, Quantity: 3, PnLPercent: -0.10, ClosedAt: now.Add(-time.Hour)},
		},
		OpenPositions: []types.Position{
			{Symbol: "SOLUSDT", Side: types.SideLong, EntryPrice: 100, CurrentPrice: 105, Size: 500},
		},
		Timestamp: now,
	}

	_, ok := limiter.PreemptiveClose(snapshot)
	assert.False(t, ok)
}
